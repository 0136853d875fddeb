// Package replay drives the signal engine from a recorded stream of page
// events. Each stream is JSON Lines: a "page" record describing the page and
// its elements, followed by event records. A later "page" record starts the
// next page load in the same tab.
package replay

import (
	"errors"
	"fmt"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
	"github.com/xkilldash9x/invisinsights/internal/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KindPage marks the record that starts a page load.
const KindPage = "page"

// Record is one line of a recorded stream.
type Record struct {
	Kind string `json:"kind"`
	// Ts is the monotonic timestamp in milliseconds.
	Ts int64 `json:"ts"`

	// Page records.
	URL            string          `json:"url,omitempty"`
	ViewportHeight float64         `json:"viewport_height,omitempty"`
	WallMs         int64           `json:"wall_ms,omitempty"`
	ProjectKey     string          `json:"project_key,omitempty"`
	Elements       []ElementRecord `json:"elements,omitempty"`

	// Event records.
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	ScrollY float64 `json:"scroll_y,omitempty"`
	Target  string  `json:"target,omitempty"`
}

// ElementRecord describes an element of the page. Parent refers to the id of
// another element of the same page record.
type ElementRecord struct {
	signal.Element
	ParentID string `json:"parent,omitempty"`
}

var (
	// ErrNoPage is returned for an event recorded before any page record.
	ErrNoPage = errors.New("replay: event before the first page record")
	// ErrMalformedRecord wraps decoding and validation failures.
	ErrMalformedRecord = errors.New("replay: malformed record")
)

// DecodeRecord parses one line of a stream.
func DecodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.Kind == "" {
		return rec, fmt.Errorf("%w: kind is required", ErrMalformedRecord)
	}
	if rec.Kind != KindPage && !knownEvent(signal.EventKind(rec.Kind)) {
		return rec, fmt.Errorf("%w: unknown kind %q", ErrMalformedRecord, rec.Kind)
	}
	return rec, nil
}

func knownEvent(k signal.EventKind) bool {
	switch k {
	case signal.KindPointerMove, signal.KindPointerPress, signal.KindHoverEnter, signal.KindHoverExit,
		signal.KindScroll, signal.KindKeyPress, signal.KindTouchStart, signal.KindElementRemoved,
		signal.KindBeforeUnload, signal.KindPageHide, signal.KindFlush:
		return true
	}
	return false
}

// location splits a recorded URL into the path and query the payload reports.
func location(raw string) signal.Location {
	u, err := url.Parse(raw)
	if err != nil {
		return signal.Location{Path: raw}
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return signal.Location{Path: p, Query: u.RawQuery}
}

// buildElements resolves parent references into element handles.
func buildElements(records []ElementRecord) (map[string]*signal.Element, []*signal.Element, error) {
	byID := make(map[string]*signal.Element, len(records))
	ordered := make([]*signal.Element, 0, len(records))
	for i := range records {
		el := records[i].Element
		el.Parent = nil
		if el.ID == "" {
			return nil, nil, fmt.Errorf("%w: element %d has no id", ErrMalformedRecord, i)
		}
		if _, dup := byID[el.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate element id %q", ErrMalformedRecord, el.ID)
		}
		handle := &el
		byID[el.ID] = handle
		ordered = append(ordered, handle)
	}
	for _, rec := range records {
		if rec.ParentID == "" {
			continue
		}
		parent, ok := byID[rec.ParentID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: element %q has unknown parent %q", ErrMalformedRecord, rec.ID, rec.ParentID)
		}
		byID[rec.ID].Parent = parent
	}
	for _, el := range ordered {
		if hasCycle(el) {
			return nil, nil, fmt.Errorf("%w: element %q is its own ancestor", ErrMalformedRecord, el.ID)
		}
	}
	return byID, ordered, nil
}

func hasCycle(el *signal.Element) bool {
	slow, fast := el, el
	for fast != nil && fast.Parent != nil {
		slow, fast = slow.Parent, fast.Parent.Parent
		if slow == fast {
			return true
		}
	}
	return false
}

func (r Record) event(target *signal.Element) signal.Event {
	return signal.Event{
		Kind:    signal.EventKind(r.Kind),
		Ts:      r.Ts,
		Pos:     geometry.Vector2D{X: r.X, Y: r.Y},
		ScrollY: r.ScrollY,
		Target:  target,
	}
}

package replay

import (
	"sync"
	"time"

	"github.com/xkilldash9x/invisinsights/internal/signal"
)

// DefaultViewportHeight is used for page records without a viewport height.
const DefaultViewportHeight = 800

// Host is a scripted page: its clock only moves when the player advances it
// to the timestamp of the next recorded event.
type Host struct {
	mu sync.Mutex

	now       int64
	startTs   int64
	wallStart time.Time

	location   signal.Location
	viewport   float64
	projectKey string
	storage    signal.Storage

	elements map[string]*signal.Element
	ordered  []*signal.Element
}

// NewHost builds the host for one page record. Storage is shared by all pages
// of the same tab.
func NewHost(page Record, storage signal.Storage) (*Host, error) {
	byID, ordered, err := buildElements(page.Elements)
	if err != nil {
		return nil, err
	}
	viewport := page.ViewportHeight
	if viewport <= 0 {
		viewport = DefaultViewportHeight
	}
	wall := time.UnixMilli(page.WallMs).UTC()
	if page.WallMs == 0 {
		wall = time.Now().UTC()
	}
	return &Host{
		now:        page.Ts,
		startTs:    page.Ts,
		wallStart:  wall,
		location:   location(page.URL),
		viewport:   viewport,
		projectKey: page.ProjectKey,
		storage:    storage,
		elements:   byID,
		ordered:    ordered,
	}, nil
}

// Advance moves the clock forward to ts. The clock never goes backwards.
func (h *Host) Advance(ts int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ts > h.now {
		h.now = ts
	}
}

// Element resolves an event target; unknown or empty ids resolve to nil.
func (h *Host) Element(id string) *signal.Element {
	if id == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.elements[id]
}

// Remove detaches the element from the page. Its handle stays valid for the
// event that reported the removal.
func (h *Host) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	el, ok := h.elements[id]
	if !ok {
		return
	}
	delete(h.elements, id)
	for i, o := range h.ordered {
		if o == el {
			h.ordered = append(h.ordered[:i], h.ordered[i+1:]...)
			break
		}
	}
}

func (h *Host) Now() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *Host) WallClock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wallStart.Add(time.Duration(h.now-h.startTs) * time.Millisecond)
}

func (h *Host) Location() signal.Location { return h.location }

func (h *Host) ViewportHeight() float64 { return h.viewport }

func (h *Host) Storage() signal.Storage { return h.storage }

func (h *Host) ProjectKey() string { return h.projectKey }

func (h *Host) CallsToAction() []*signal.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctas := make([]*signal.Element, 0, len(h.ordered))
	for _, el := range h.ordered {
		if signal.IsCTA(el) {
			ctas = append(ctas, el)
		}
	}
	return ctas
}

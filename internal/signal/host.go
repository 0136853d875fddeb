package signal

import "time"

// Session end reasons reported in the payload.
const (
	ReasonBeforeUnload = "beforeunload"
	ReasonPageHide     = "pagehide"
	ReasonManual       = "manual"
	ReasonUnknown      = "unknown"
)

// Location is the page address split the way the payload reports it.
type Location struct {
	Path  string
	Query string
}

// Host is the page environment the engine is installed into. Hosts must be
// comparable (typically a pointer); the install registry is keyed by them.
type Host interface {
	// Now returns a monotonic timestamp in milliseconds. Event timestamps
	// must come from the same clock.
	Now() int64
	// WallClock returns the current wall-clock time.
	WallClock() time.Time
	Location() Location
	// ViewportHeight is the visible page height in pixels at install time.
	ViewportHeight() float64
	// Storage is the tab-scoped key-value slot that outlives the page.
	Storage() Storage
	// CallsToAction returns the candidate call-to-action elements currently on
	// the page, with their bounding boxes. Non-CTA elements are ignored.
	CallsToAction() []*Element
}

// ProjectKeySource is implemented by hosts that carry the project key
// themselves, e.g. as an attribute on the embedding tag. An explicit key in
// the engine configuration takes precedence.
type ProjectKeySource interface {
	ProjectKey() string
}

package signal

import (
	"fmt"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

// EventKind names a normalized host event.
type EventKind string

// Event kinds accepted by Dispatch.
const (
	KindPointerMove    EventKind = "pointermove"
	KindPointerPress   EventKind = "click"
	KindHoverEnter     EventKind = "hoverenter"
	KindHoverExit      EventKind = "hoverexit"
	KindScroll         EventKind = "scroll"
	KindKeyPress       EventKind = "keydown"
	KindTouchStart     EventKind = "touchstart"
	KindElementRemoved EventKind = "elementremoved"
	KindBeforeUnload   EventKind = "beforeunload"
	KindPageHide       EventKind = "pagehide"
	KindFlush          EventKind = "flush"
)

// Event is one normalized host event. Which fields matter depends on Kind.
type Event struct {
	Kind    EventKind
	Ts      int64
	Pos     geometry.Vector2D
	ScrollY float64
	Target  *Element
}

// IsExit reports whether the event ends the visit.
func (k EventKind) IsExit() bool {
	return k == KindBeforeUnload || k == KindPageHide || k == KindFlush
}

// Dispatch routes an event to its collector. For exit events it reports
// whether the payload was sent by this call; for all others it reports false.
func (e *Engine) Dispatch(ev Event) (bool, error) {
	switch ev.Kind {
	case KindPointerMove:
		e.PointerMove(ev.Ts, ev.Pos)
	case KindPointerPress:
		e.PointerPress(ev.Ts, ev.Pos, ev.Target)
	case KindHoverEnter:
		e.HoverEnter(ev.Ts, ev.Target)
	case KindHoverExit:
		e.HoverExit(ev.Ts, ev.Target)
	case KindScroll:
		e.Scroll(ev.Ts, ev.ScrollY)
	case KindKeyPress:
		e.KeyPress(ev.Ts, ev.Target)
	case KindTouchStart:
		e.TouchStart(ev.Ts, ev.Pos, ev.Target)
	case KindElementRemoved:
		e.ElementRemoved(ev.Target)
	case KindBeforeUnload:
		return e.BeforeUnload(), nil
	case KindPageHide:
		return e.PageHide(), nil
	case KindFlush:
		return e.Flush(), nil
	default:
		return false, fmt.Errorf("signal: unknown event kind %q", ev.Kind)
	}
	return false, nil
}

package signal

import (
	"math"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

// clickRecord is one entry of the rage-click sliding window.
type clickRecord struct {
	pos geometry.Vector2D
	ts  int64
}

// SessionState holds every counter and timestamp of one page visit. It is
// owned by a single Engine and only mutated by the detectors under the
// engine lock. Counters never decrease.
type SessionState struct {
	SessionID string
	ProjectID string

	// Monotonic timestamps in milliseconds.
	PageStartTs  int64
	LastActiveTs int64
	// IdleStartTs is 0 while not idle.
	IdleStartTs   int64
	IdleDurations []int64

	ScrollReversalCount      int
	RereadCount              int
	HoverLongCount           int
	CTAHesitationCount       int
	RageClickCount           int
	DisabledClickCount       int
	NonInteractiveClickCount int
	MouseMoves               int
	JitterEvents             int
	NavLoopCount             int
	ConfidenceClickCount     int

	GoalCompleted bool
	GoalType      string
	NavLoopPath   string

	LastInteraction   *InteractionSummary
	LastInteractionTs int64

	SentFinal bool

	recentClicks []clickRecord
	lastRageTs   int64
	hasRage      bool

	// sectionVisits maps a vertical section index to its last visit.
	sectionVisits map[int]int64
	sectionSize   float64

	lastScrollY     float64
	hasScrollY      bool
	lastScrollDir   int
	lastScrollDirTs int64

	lastMousePos geometry.Vector2D
	hasMousePos  bool
	lastVector   geometry.Vector2D
	hasVector    bool
	lastMoveTs   int64
}

// newSessionState starts a visit at ts. viewportHeight is snapshotted once to
// size the re-read sections, so section indexes never drift with resizes.
func newSessionState(sessionID, projectID string, ts int64, viewportHeight, sectionRatio float64) *SessionState {
	return &SessionState{
		SessionID:     sessionID,
		ProjectID:     projectID,
		PageStartTs:   ts,
		LastActiveTs:  ts,
		IdleDurations: []int64{},
		sectionVisits: make(map[int]int64),
		sectionSize:   math.Max(viewportHeight*sectionRatio, 1),
	}
}

// Counters is a point-in-time copy of the session counters.
type Counters struct {
	IdlePeriods          int
	ScrollReversals      int
	Rereads              int
	LongHovers           int
	CTAHesitations       int
	RageClicks           int
	DisabledClicks       int
	NonInteractiveClicks int
	MouseMoves           int
	JitterEvents         int
	NavLoops             int
	ConfidenceClicks     int
}

func (s *SessionState) counters() Counters {
	return Counters{
		IdlePeriods:          len(s.IdleDurations),
		ScrollReversals:      s.ScrollReversalCount,
		Rereads:              s.RereadCount,
		LongHovers:           s.HoverLongCount,
		CTAHesitations:       s.CTAHesitationCount,
		RageClicks:           s.RageClickCount,
		DisabledClicks:       s.DisabledClickCount,
		NonInteractiveClicks: s.NonInteractiveClickCount,
		MouseMoves:           s.MouseMoves,
		JitterEvents:         s.JitterEvents,
		NavLoops:             s.NavLoopCount,
		ConfidenceClicks:     s.ConfidenceClickCount,
	}
}

// Dominates reports whether every counter in c is at least the one in prev.
func (c Counters) Dominates(prev Counters) bool {
	return c.IdlePeriods >= prev.IdlePeriods &&
		c.ScrollReversals >= prev.ScrollReversals &&
		c.Rereads >= prev.Rereads &&
		c.LongHovers >= prev.LongHovers &&
		c.CTAHesitations >= prev.CTAHesitations &&
		c.RageClicks >= prev.RageClicks &&
		c.DisabledClicks >= prev.DisabledClicks &&
		c.NonInteractiveClicks >= prev.NonInteractiveClicks &&
		c.MouseMoves >= prev.MouseMoves &&
		c.JitterEvents >= prev.JitterEvents &&
		c.NavLoops >= prev.NavLoops &&
		c.ConfidenceClicks >= prev.ConfidenceClicks
}

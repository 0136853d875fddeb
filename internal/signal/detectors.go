package signal

import (
	"math"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

// The detectors below each fold one event into the session state. Windows are
// measured against the event's own timestamp; only detectIdle is polled.

// markActivity closes an open idle interval and moves the activity clock.
func markActivity(s *SessionState, ts int64) {
	if s.IdleStartTs != 0 {
		s.IdleDurations = append(s.IdleDurations, max(ts-s.IdleStartTs, 0))
		s.IdleStartTs = 0
	}
	if ts > s.LastActiveTs {
		s.LastActiveTs = ts
	}
}

// noteInteraction records the element the user last acted on.
func noteInteraction(s *SessionState, el *Element, ts int64) {
	if el == nil {
		return
	}
	s.LastInteraction = Summarize(el)
	s.LastInteractionTs = ts
}

// detectIdle opens an idle interval once the page has been quiet for the
// threshold. Only one interval is open at a time.
func detectIdle(s *SessionState, cfg *config.EngineConfig, now int64) {
	if s.IdleStartTs == 0 && now-s.LastActiveTs >= cfg.IdleThresholdMs {
		s.IdleStartTs = now
	}
}

// detectScrollReversal counts a direction flip when the movement in the old
// direction happened within the reversal window. The first scroll only
// establishes a baseline.
func detectScrollReversal(s *SessionState, cfg *config.EngineConfig, ts int64, y float64) {
	if !s.hasScrollY {
		s.lastScrollY, s.hasScrollY = y, true
		return
	}
	dir := 0
	switch {
	case y > s.lastScrollY:
		dir = 1
	case y < s.lastScrollY:
		dir = -1
	}
	s.lastScrollY = y
	if dir == 0 {
		return
	}
	if s.lastScrollDir != 0 && dir != s.lastScrollDir && ts-s.lastScrollDirTs <= cfg.ScrollReversalWindowMs {
		s.ScrollReversalCount++
	}
	s.lastScrollDir = dir
	s.lastScrollDirTs = ts
}

// detectReread buckets the scroll offset into fixed sections and counts a
// re-read on every scroll that lands in a section last seen within the reread
// window.
func detectReread(s *SessionState, cfg *config.EngineConfig, ts int64, y float64) {
	section := int(math.Floor(math.Max(y, 0) / s.sectionSize))
	if last, seen := s.sectionVisits[section]; seen && ts-last <= cfg.RereadWindowMs {
		s.RereadCount++
	}
	s.sectionVisits[section] = ts
}

// detectJitter compares the direction of consecutive pointer displacements.
// A sharp turn between two samples close in time counts as jitter. A zero
// displacement has no heading, so the turn into or out of it is 0.
func detectJitter(s *SessionState, cfg *config.EngineConfig, ts int64, pos geometry.Vector2D) {
	s.MouseMoves++
	if s.hasMousePos {
		vec := pos.Sub(s.lastMousePos)
		if s.hasVector && ts-s.lastMoveTs <= cfg.JitterWindowMs &&
			geometry.AngleBetween(vec, s.lastVector) > cfg.JitterAngleRad {
			s.JitterEvents++
		}
		s.lastVector, s.hasVector = vec, true
	}
	s.lastMousePos, s.hasMousePos = pos, true
	s.lastMoveTs = ts
}

// detectRageClick keeps the click window pruned on every click and counts one
// rage event per burst of spatially clustered clicks.
func detectRageClick(s *SessionState, cfg *config.EngineConfig, ts int64, pos geometry.Vector2D) {
	s.recentClicks = append(s.recentClicks, clickRecord{pos: pos, ts: ts})

	kept := s.recentClicks[:0]
	for _, c := range s.recentClicks {
		if ts-c.ts <= cfg.RageClickWindowMs {
			kept = append(kept, c)
		}
	}
	// Clear the dropped tail so old records are not retained by the backing array.
	for i := len(kept); i < len(s.recentClicks); i++ {
		s.recentClicks[i] = clickRecord{}
	}
	s.recentClicks = kept

	neighbours := 0
	for _, c := range s.recentClicks {
		if pos.Within(c.pos, cfg.RageClickRadiusPx) {
			neighbours++
		}
	}
	if neighbours < cfg.RageClickMinClicks {
		return
	}
	if s.hasRage && ts-s.lastRageTs <= cfg.RageClickWindowMs {
		return
	}
	s.RageClickCount++
	s.lastRageTs, s.hasRage = ts, true
}

// classifyClick counts clicks on disabled and on non-interactive targets.
func classifyClick(s *SessionState, el *Element) {
	switch {
	case el == nil:
		s.NonInteractiveClickCount++
	case IsDisabled(el):
		s.DisabledClickCount++
	case !IsInteractive(el):
		s.NonInteractiveClickCount++
	}
}

// detectConfidentClick counts CTA clicks made promptly, with no idle interval
// open. It must run before the click itself marks activity.
func detectConfidentClick(s *SessionState, cfg *config.EngineConfig, ts int64, el *Element) {
	if IsCTA(el) && s.IdleStartTs == 0 && ts-s.LastActiveTs < cfg.ConfidenceClickWindowMs {
		s.ConfidenceClickCount++
	}
}

// detectGoal marks the visit's goal as completed when a goal element is clicked.
func detectGoal(s *SessionState, el *Element) {
	if el != nil && el.Goal != "" {
		s.GoalCompleted = true
		s.GoalType = el.Goal
	}
}

// hoverEnter stamps the element handle with the enter time.
func hoverEnter(el *Element, ts int64) {
	el.hovering = true
	el.hoverSince = ts
}

// hoverExit clears the element's hover stamp, whatever the dwell, and counts
// long hovers and hesitation over calls to action.
func hoverExit(s *SessionState, cfg *config.EngineConfig, el *Element, ts int64) {
	if !el.hovering {
		return
	}
	dwell := ts - el.hoverSince
	el.hovering, el.hoverSince = false, 0
	if dwell < cfg.HoverThresholdMs {
		return
	}
	s.HoverLongCount++
	if IsCTA(el) {
		s.CTAHesitationCount++
	}
}

// detectNavigationLoop runs once per page load: it marks a loop when the
// normalized path was already visited in this tab session, then records the visit.
func detectNavigationLoop(s *SessionState, ledger *Ledger, path string, ts int64, historyLimit int) {
	if ledger.Paths[path] > 0 {
		s.NavLoopCount = 1
		s.NavLoopPath = path
	}
	ledger.record(path, ts, historyLimit)
}

package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

// Payload is the single telemetry record sent at the end of a visit.
type Payload struct {
	ProjectID   string `json:"project_id"`
	SessionID   string `json:"session_id"`
	PagePath    string `json:"page_path"`
	PageQuery   string `json:"page_query"`
	TimestampMs int64  `json:"timestamp_ms"`

	TimeOnPageMs        int64 `json:"time_on_page_ms"`
	AvgHesitationTimeMs int64 `json:"avg_hesitation_time_ms"`
	IdleHesitationCount int   `json:"idle_hesitation_count"`

	RageClickCount           int `json:"rage_click_count"`
	ScrollReversalCount      int `json:"scroll_reversal_count"`
	RereadSectionCount       int `json:"reread_section_count"`
	LongHoverCount           int `json:"long_hover_count"`
	DisabledClickCount       int `json:"disabled_click_count"`
	NonInteractiveClickCount int `json:"noninteractive_click_count"`
	MouseJitterScore         int `json:"mouse_jitter_score"`
	NavigationLoopCount      int `json:"navigation_loop_count"`
	CTAHesitation            int `json:"cta_hesitation"`
	ConfidenceClickCount     int `json:"confidence_click_count"`

	GoalCompleted      bool    `json:"goal_completed"`
	GoalType           *string `json:"goal_type"`
	FastPathCompletion bool    `json:"fast_path_completion"`

	LastInteraction            *InteractionSummary `json:"last_interaction"`
	InferredAbandonmentContext AbandonmentContext  `json:"inferred_abandonment_context"`
	SessionEndReason           string              `json:"session_end_reason"`
}

// AbandonmentContext summarizes the state of the visit at the moment it ended.
type AbandonmentContext struct {
	LastInteractionTs    int64 `json:"last_interaction_ts"`
	NearCTABeforeExit    bool  `json:"near_cta_before_exit"`
	CTADistancePx        *int  `json:"cta_distance_px"`
	TimeOnPageMs         int64 `json:"time_on_page_ms"`
	IdlePeriods          int   `json:"idle_periods"`
	DisabledClicks       int   `json:"disabled_clicks"`
	NonInteractiveClicks int   `json:"noninteractive_clicks"`
	ScrollReversals      int   `json:"scroll_reversals"`
	RageClicks           int   `json:"rage_clicks"`
}

// ErrInvalidPayload is wrapped by Validate failures.
var ErrInvalidPayload = errors.New("invalid payload")

// Validate checks the invariants every consumer may rely on.
func (p *Payload) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalidPayload)
	}
	if p.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidPayload)
	}
	if p.MouseJitterScore < 0 || p.MouseJitterScore > 100 {
		return fmt.Errorf("%w: mouse_jitter_score %d outside [0,100]", ErrInvalidPayload, p.MouseJitterScore)
	}
	nonNegative := map[string]int64{
		"time_on_page_ms":            p.TimeOnPageMs,
		"avg_hesitation_time_ms":     p.AvgHesitationTimeMs,
		"idle_hesitation_count":      int64(p.IdleHesitationCount),
		"rage_click_count":           int64(p.RageClickCount),
		"scroll_reversal_count":      int64(p.ScrollReversalCount),
		"reread_section_count":       int64(p.RereadSectionCount),
		"long_hover_count":           int64(p.LongHoverCount),
		"disabled_click_count":       int64(p.DisabledClickCount),
		"noninteractive_click_count": int64(p.NonInteractiveClickCount),
		"navigation_loop_count":      int64(p.NavigationLoopCount),
		"cta_hesitation":             int64(p.CTAHesitation),
		"confidence_click_count":     int64(p.ConfidenceClickCount),
	}
	for field, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPayload, field)
		}
	}
	if d := p.InferredAbandonmentContext.CTADistancePx; d != nil && *d < 0 {
		return fmt.Errorf("%w: cta_distance_px must not be negative", ErrInvalidPayload)
	}
	return nil
}

// pageContext is what the builder needs from the host at the end of the visit.
type pageContext struct {
	location Location
	now      int64
	wallMs   int64
	ctas     []*Element
}

// jitterScore is round(100 * jitter / moves), clamped to [0,100]; 0 without moves.
func jitterScore(jitter, moves int) int {
	if moves <= 0 {
		return 0
	}
	score := int(math.Round(100 * float64(jitter) / float64(moves)))
	return max(0, min(100, score))
}

// averageMs is the rounded arithmetic mean, 0 for an empty sequence.
func averageMs(durations []int64) int64 {
	if len(durations) == 0 {
		return 0
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	return int64(math.Round(float64(sum) / float64(len(durations))))
}

// ctaDistance measures from the last pointer position to the nearest CTA box.
func ctaDistance(s *SessionState, ctas []*Element) (float64, bool) {
	if !s.hasMousePos {
		return 0, false
	}
	boxes := make([]geometry.Rect, 0, len(ctas))
	for _, el := range ctas {
		if IsCTA(el) {
			boxes = append(boxes, el.Box)
		}
	}
	return geometry.NearestDistance(s.lastMousePos, boxes)
}

// buildPayload reduces the session state into the final record. It only
// reads the state.
func buildPayload(s *SessionState, cfg *config.EngineConfig, page pageContext, reason string) Payload {
	timeOnPage := max(page.now-s.PageStartTs, 0)

	abandonment := AbandonmentContext{
		LastInteractionTs:    s.LastInteractionTs,
		TimeOnPageMs:         timeOnPage,
		IdlePeriods:          len(s.IdleDurations),
		DisabledClicks:       s.DisabledClickCount,
		NonInteractiveClicks: s.NonInteractiveClickCount,
		ScrollReversals:      s.ScrollReversalCount,
		RageClicks:           s.RageClickCount,
	}
	if dist, ok := ctaDistance(s, page.ctas); ok {
		// Off-page pointers can be arbitrarily far; keep the value representable.
		rounded := int(math.Min(math.Round(dist), math.MaxInt32))
		abandonment.CTADistancePx = &rounded
		abandonment.NearCTABeforeExit = dist <= cfg.CTAProximityPx
	}

	var goalType *string
	if s.GoalCompleted {
		goalType = optional(s.GoalType)
	}
	var lastInteraction *InteractionSummary
	if s.LastInteraction != nil {
		copied := *s.LastInteraction
		lastInteraction = &copied
	}

	if reason == "" {
		reason = ReasonUnknown
	}

	return Payload{
		ProjectID:   s.ProjectID,
		SessionID:   s.SessionID,
		PagePath:    page.location.Path,
		PageQuery:   page.location.Query,
		TimestampMs: page.wallMs,

		TimeOnPageMs:        timeOnPage,
		AvgHesitationTimeMs: averageMs(s.IdleDurations),
		IdleHesitationCount: len(s.IdleDurations),

		RageClickCount:           s.RageClickCount,
		ScrollReversalCount:      s.ScrollReversalCount,
		RereadSectionCount:       s.RereadCount,
		LongHoverCount:           s.HoverLongCount,
		DisabledClickCount:       s.DisabledClickCount,
		NonInteractiveClickCount: s.NonInteractiveClickCount,
		MouseJitterScore:         jitterScore(s.JitterEvents, s.MouseMoves),
		NavigationLoopCount:      s.NavLoopCount,
		CTAHesitation:            s.CTAHesitationCount,
		ConfidenceClickCount:     s.ConfidenceClickCount,

		GoalCompleted: s.GoalCompleted,
		GoalType:      goalType,
		FastPathCompletion: s.GoalCompleted &&
			timeOnPage < cfg.FastPathMaxMs &&
			len(s.IdleDurations) == 0 &&
			s.RereadCount == 0,

		LastInteraction:            lastInteraction,
		InferredAbandonmentContext: abandonment,
		SessionEndReason:           reason,
	}
}

package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

func TestPayload_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(p *Payload)
		wantErr string
	}{
		{name: "valid", mutate: func(*Payload) {}},
		{name: "missing project", mutate: func(p *Payload) { p.ProjectID = "" }, wantErr: "project_id"},
		{name: "missing session", mutate: func(p *Payload) { p.SessionID = "" }, wantErr: "session_id"},
		{name: "jitter above range", mutate: func(p *Payload) { p.MouseJitterScore = 101 }, wantErr: "mouse_jitter_score"},
		{name: "negative counter", mutate: func(p *Payload) { p.RageClickCount = -1 }, wantErr: "rage_click_count"},
		{name: "negative distance", mutate: func(p *Payload) { p.InferredAbandonmentContext.CTADistancePx = intPtr(-4) }, wantErr: "cta_distance_px"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := samplePayload()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidPayload)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBuildPayload(t *testing.T) {
	page := pageContext{location: Location{Path: "/"}, now: 5000, wallMs: 42}

	t.Run("empty reason becomes unknown", func(t *testing.T) {
		s, cfg := newTestState()
		p := buildPayload(s, cfg, page, "")
		assert.Equal(t, ReasonUnknown, p.SessionEndReason)
		assert.Equal(t, int64(4000), p.TimeOnPageMs)
		assert.Equal(t, int64(42), p.TimestampMs)
		assert.Nil(t, p.GoalType)
		assert.False(t, p.FastPathCompletion)
	})

	t.Run("clock skew never yields negative time on page", func(t *testing.T) {
		s, cfg := newTestState()
		p := buildPayload(s, cfg, pageContext{now: 500}, ReasonPageHide)
		assert.Equal(t, int64(0), p.TimeOnPageMs)
	})

	t.Run("proximity uses the unrounded distance", func(t *testing.T) {
		s, cfg := newTestState()
		cfg.CTAProximityPx = 10
		s.lastMousePos, s.hasMousePos = geometry.Vector2D{X: 0, Y: 10.4}, true
		ctas := []*Element{{Tag: "button", Box: geometry.Rect{Width: 10, Height: 0.1}}}
		p := buildPayload(s, cfg, pageContext{now: 2000, ctas: ctas}, ReasonPageHide)

		ac := p.InferredAbandonmentContext
		require.NotNil(t, ac.CTADistancePx)
		assert.Equal(t, 10, *ac.CTADistancePx)
		assert.False(t, ac.NearCTABeforeExit)
	})

	t.Run("does not mutate the state", func(t *testing.T) {
		s, cfg := newTestState()
		s.LastInteraction = Summarize(&Element{Tag: "button"})
		before := s.counters()
		p := buildPayload(s, cfg, page, ReasonManual)
		p.LastInteraction.Tag = "changed"
		assert.Equal(t, "button", s.LastInteraction.Tag)
		assert.Equal(t, before, s.counters())
	})

	t.Run("slow goal is not a fast path", func(t *testing.T) {
		s, cfg := newTestState()
		s.GoalCompleted, s.GoalType = true, "purchase"
		p := buildPayload(s, cfg, pageContext{now: 1000 + cfg.FastPathMaxMs}, ReasonPageHide)
		assert.True(t, p.GoalCompleted)
		assert.Equal(t, "purchase", *p.GoalType)
		assert.False(t, p.FastPathCompletion)
	})
}

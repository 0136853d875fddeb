package signal

import (
	"context"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

type fuzzEvent struct {
	Kind    uint8
	Delta   uint16
	X, Y    float64
	ScrollY float64
	Target  uint8
}

func FuzzEngine_EventStream(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var events []fuzzEvent
		if err := consumer.GenerateStruct(&events); err != nil {
			return
		}

		host := newFakeHost("/fuzz")
		host.ctas = []*Element{{Tag: "button", Box: geometry.Rect{X: 10, Y: 10, Width: 40, Height: 20}}}
		rt := &recordingTransport{}
		e, err := Install(host, testConfig(), WithLogger(zap.NewNop()), WithTransport(rt), WithManualIdlePolling())
		require.NoError(t, err)
		defer e.Teardown(context.Background())

		targets := []*Element{nil, {Tag: "div"}, {Tag: "button"}, {Tag: "a", Href: "/", Disabled: true}}
		kinds := []EventKind{KindPointerMove, KindPointerPress, KindHoverEnter, KindHoverExit, KindScroll, KindKeyPress, KindTouchStart, KindElementRemoved}

		prev := e.Counters()
		ts := host.Now()
		for _, fe := range events {
			ts += int64(fe.Delta)
			host.set(ts)
			e.CheckIdle()
			_, err := e.Dispatch(Event{
				Kind:    kinds[int(fe.Kind)%len(kinds)],
				Ts:      ts,
				Pos:     geometry.Vector2D{X: fe.X, Y: fe.Y},
				ScrollY: fe.ScrollY,
				Target:  targets[int(fe.Target)%len(targets)],
			})
			require.NoError(t, err)
			cur := e.Counters()
			require.True(t, cur.Dominates(prev))
			prev = cur
		}

		require.True(t, e.PageHide())
		require.NoError(t, e.dispatcher.Wait(context.Background()))
		sent := rt.sent()
		require.Len(t, sent, 1)
		require.NoError(t, sent[0].Validate())
	})
}

package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/storage"
)

const testProjectKey = "proj-test"

// fakeHost is a page with a manual clock.
type fakeHost struct {
	mu       sync.Mutex
	now      int64
	wall     time.Time
	loc      Location
	viewport float64
	storage  Storage
	ctas     []*Element
}

func newFakeHost(path string) *fakeHost {
	return &fakeHost{
		now:      10_000,
		wall:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		loc:      Location{Path: path},
		viewport: 1000,
		storage:  storage.NewMemory(),
	}
}

func (h *fakeHost) Now() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *fakeHost) WallClock() time.Time    { return h.wall }
func (h *fakeHost) Location() Location      { return h.loc }
func (h *fakeHost) ViewportHeight() float64 { return h.viewport }
func (h *fakeHost) Storage() Storage        { return h.storage }
func (h *fakeHost) CallsToAction() []*Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctas
}

// set moves the clock to ts and returns it.
func (h *fakeHost) set(ts int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = ts
	return ts
}

// keyedHost carries its own project key.
type keyedHost struct {
	*fakeHost
	key string
}

func (h *keyedHost) ProjectKey() string { return h.key }

// recordingTransport keeps every delivered payload.
type recordingTransport struct {
	mu       sync.Mutex
	payloads []Payload
}

func (r *recordingTransport) Send(_ context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingTransport) sent() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payload(nil), r.payloads...)
}

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.ProjectKey = testProjectKey
	return cfg
}

// installTest installs an engine with manual idle polling and a recording
// transport, and tears it down with the test.
func installTest(t *testing.T, host Host, cfg config.EngineConfig, opts ...Option) (*Engine, *recordingTransport) {
	t.Helper()
	rt := &recordingTransport{}
	all := append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithTransport(rt),
		WithManualIdlePolling(),
	}, opts...)
	e, err := Install(host, cfg, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Teardown(context.Background()) })
	return e, rt
}

// finish ends the visit and returns the single delivered payload.
func finish(t *testing.T, e *Engine, rt *recordingTransport) Payload {
	t.Helper()
	require.True(t, e.BeforeUnload())
	require.NoError(t, e.dispatcher.Wait(context.Background()))
	sent := rt.sent()
	require.Len(t, sent, 1)
	return sent[0]
}

func intPtr(i int) *int { return &i }

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

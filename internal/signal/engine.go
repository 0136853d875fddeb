package signal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/geometry"
	"github.com/xkilldash9x/invisinsights/internal/observability"
)

// SessionIDKey is the tab storage key holding the session id.
const SessionIDKey = "ifai_sid"

var (
	// ErrNilHost is returned by Install without a host.
	ErrNilHost = errors.New("signal: host is required")
	// ErrEngineClosed is returned by Teardown on an engine already torn down.
	ErrEngineClosed = errors.New("signal: engine already torn down")
)

var (
	registryMu sync.Mutex
	registry   = map[Host]*Engine{}
)

// Engine observes one page visit. All methods are safe for concurrent use and
// never panic into the caller.
type Engine struct {
	host       Host
	cfg        config.EngineConfig
	logger     *zap.Logger
	dispatcher *Dispatcher

	// inert engines have no project key and do nothing at all.
	inert bool

	mu    sync.Mutex
	state *SessionState

	pollStop   chan struct{}
	pollOnce   sync.Once
	pollWG     sync.WaitGroup
	manualPoll bool

	closeOnce sync.Once
}

type installOptions struct {
	logger      *zap.Logger
	transport   Transport
	ledgerStore LedgerStore
	idGenerator func() (string, error)
	manualPoll  bool
}

// Option customizes Install.
type Option func(*installOptions)

// WithLogger sets the engine logger. The default is the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *installOptions) { o.logger = l }
}

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(o *installOptions) { o.transport = t }
}

// WithLedgerStore replaces the default ledger store over the host storage.
func WithLedgerStore(s LedgerStore) Option {
	return func(o *installOptions) { o.ledgerStore = s }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(o *installOptions) { o.idGenerator = gen }
}

// WithManualIdlePolling disables the idle poll timer; the host calls CheckIdle
// itself, e.g. when replaying events on a simulated clock.
func WithManualIdlePolling() Option {
	return func(o *installOptions) { o.manualPoll = true }
}

// Install attaches an engine to the host. Installing twice on the same host
// returns the engine installed first, untouched.
func Install(host Host, cfg config.EngineConfig, opts ...Option) (e *Engine, err error) {
	if host == nil {
		return nil, ErrNilHost
	}
	defer func() {
		if r := recover(); r != nil {
			e, err = nil, fmt.Errorf("signal: install failed: %v", r)
		}
	}()

	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[host]; ok {
		return existing, nil
	}

	o := installOptions{idGenerator: newUUID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.GetLogger()
	}

	e = newEngine(host, cfg.WithDefaults(), o)
	registry[host] = e
	return e, nil
}

func newEngine(host Host, cfg config.EngineConfig, o installOptions) *Engine {
	e := &Engine{
		host:       host,
		cfg:        cfg,
		logger:     o.logger.Named("signal"),
		pollStop:   make(chan struct{}),
		manualPoll: o.manualPoll,
	}

	projectKey := cfg.ProjectKey
	if projectKey == "" {
		if src, ok := host.(ProjectKeySource); ok {
			projectKey = src.ProjectKey()
		}
	}
	if projectKey == "" {
		// No key: listeners stay installed as no-ops, nothing else happens.
		e.inert = true
		e.dispatcher = NewDispatcher(nil, cfg.DeliveryTimeout, e.logger)
		return e
	}
	e.cfg.ProjectKey = projectKey

	transport := o.transport
	if transport == nil {
		transport = NewHTTPTransport(e.cfg, nil)
	}
	e.dispatcher = NewDispatcher(transport, cfg.DeliveryTimeout, e.logger)

	storage := host.Storage()
	sessionID := e.sessionID(storage, o.idGenerator)
	now := host.Now()
	e.state = newSessionState(sessionID, projectKey, now, host.ViewportHeight(), cfg.RereadSectionRatio)

	ledgerStore := o.ledgerStore
	if ledgerStore == nil && storage != nil {
		ledgerStore = NewKVLedgerStore(storage)
	}
	e.trackNavigation(ledgerStore, now)

	if !e.manualPoll {
		e.pollWG.Add(1)
		go e.pollIdle()
	}
	return e
}

// sessionID reuses the tab's session id or creates and persists a new one.
func (e *Engine) sessionID(storage Storage, gen func() (string, error)) string {
	if storage != nil {
		if sid, ok := storage.GetItem(SessionIDKey); ok && sid != "" {
			return sid
		}
	}
	sid, err := gen()
	if err != nil || sid == "" {
		e.logger.Debug("Session id generator unavailable, using fallback", zap.Error(err))
		sid = fallbackID()
	}
	if storage != nil {
		if err := storage.SetItem(SessionIDKey, sid); err != nil {
			e.logger.Debug("Failed to persist session id", zap.Error(err))
		}
	}
	return sid
}

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// fallbackID is a lower quality identifier for hosts without a working
// random source for UUIDs.
func fallbackID() string {
	return "sess_" + strconv.FormatUint(rand.Uint64(), 36)
}

// trackNavigation runs the navigation loop detector once for this page load.
// A missing or unreadable ledger is treated as empty.
func (e *Engine) trackNavigation(store LedgerStore, now int64) {
	if store == nil {
		return
	}
	loc := e.host.Location()
	ledger, err := store.Get(e.state.SessionID)
	if err != nil {
		e.logger.Debug("Navigation ledger unreadable, starting empty", zap.Error(err))
		ledger = NewLedger()
	}
	detectNavigationLoop(e.state, &ledger, NormalizePath(loc.Path, loc.Query), now, e.cfg.NavigationHistoryLimit)
	if err := store.Put(e.state.SessionID, ledger); err != nil {
		e.logger.Debug("Failed to persist navigation ledger", zap.Error(err))
	}
}

func (e *Engine) pollIdle() {
	defer e.pollWG.Done()
	ticker := time.NewTicker(e.cfg.IdlePollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.pollStop:
			return
		case <-ticker.C:
			e.CheckIdle()
		}
	}
}

func (e *Engine) stopPolling() {
	e.pollOnce.Do(func() { close(e.pollStop) })
}

// guard recovers a panic at a public entry point so the host never sees it.
func (e *Engine) guard(op string) {
	if r := recover(); r != nil {
		e.logger.Debug("Recovered panic in signal engine", zap.String("op", op), zap.Any("panic", r))
	}
}

// observe runs fn on the live session state. It is a no-op for inert engines
// and once the payload has been sent.
func (e *Engine) observe(op string, fn func(s *SessionState)) {
	defer e.guard(op)
	if e.inert {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.SentFinal {
		return
	}
	fn(e.state)
}

// Inert reports whether the engine was installed without a project key.
func (e *Engine) Inert() bool { return e.inert }

// SessionID returns the tab session id, empty for inert engines.
func (e *Engine) SessionID() string {
	if e.inert {
		return ""
	}
	return e.state.SessionID
}

// CheckIdle is the idle poll: it opens an idle interval when the page has
// been quiet for the idle threshold.
func (e *Engine) CheckIdle() {
	e.observe("idle", func(s *SessionState) {
		detectIdle(s, &e.cfg, e.host.Now())
	})
}

// PointerMove handles a pointer sample.
func (e *Engine) PointerMove(ts int64, pos geometry.Vector2D) {
	e.observe("pointermove", func(s *SessionState) {
		detectJitter(s, &e.cfg, ts, pos)
		markActivity(s, ts)
	})
}

// PointerPress handles a click on target (nil when the host cannot resolve one).
func (e *Engine) PointerPress(ts int64, pos geometry.Vector2D, target *Element) {
	e.observe("click", func(s *SessionState) {
		classifyClick(s, target)
		detectRageClick(s, &e.cfg, ts, pos)
		detectConfidentClick(s, &e.cfg, ts, target)
		detectGoal(s, target)
		noteInteraction(s, target, ts)
		markActivity(s, ts)
	})
}

// HoverEnter handles the pointer entering target.
func (e *Engine) HoverEnter(ts int64, target *Element) {
	if target == nil {
		return
	}
	e.observe("hoverenter", func(_ *SessionState) {
		hoverEnter(target, ts)
	})
}

// HoverExit handles the pointer leaving target.
func (e *Engine) HoverExit(ts int64, target *Element) {
	if target == nil {
		return
	}
	e.observe("hoverexit", func(s *SessionState) {
		hoverExit(s, &e.cfg, target, ts)
	})
}

// ElementRemoved drops the per-element state of an element leaving the page.
func (e *Engine) ElementRemoved(target *Element) {
	if target == nil {
		return
	}
	e.observe("elementremoved", func(_ *SessionState) {
		target.hovering, target.hoverSince = false, 0
	})
}

// Scroll handles a change of the vertical scroll offset.
func (e *Engine) Scroll(ts int64, scrollY float64) {
	e.observe("scroll", func(s *SessionState) {
		detectScrollReversal(s, &e.cfg, ts, scrollY)
		detectReread(s, &e.cfg, ts, scrollY)
		markActivity(s, ts)
	})
}

// KeyPress handles a key press on target.
func (e *Engine) KeyPress(ts int64, target *Element) {
	e.observe("keypress", func(s *SessionState) {
		noteInteraction(s, target, ts)
		markActivity(s, ts)
	})
}

// TouchStart handles the start of a touch on target.
func (e *Engine) TouchStart(ts int64, pos geometry.Vector2D, target *Element) {
	e.observe("touchstart", func(s *SessionState) {
		// Touch devices have no hover; the touch point stands in for the pointer.
		s.lastMousePos, s.hasMousePos = pos, true
		noteInteraction(s, target, ts)
		markActivity(s, ts)
	})
}

// BeforeUnload is the early "about to hide" exit signal. It reports whether
// this call sent the payload.
func (e *Engine) BeforeUnload() bool { return e.end(ReasonBeforeUnload) }

// PageHide is the late "now hidden" exit signal. It reports whether this call
// sent the payload.
func (e *Engine) PageHide() bool { return e.end(ReasonPageHide) }

// Flush ends the visit on the host's request.
func (e *Engine) Flush() bool { return e.end(ReasonManual) }

// end attempts the armed→sent transition. The payload is built only by the
// winner, after the gate has closed.
func (e *Engine) end(reason string) (won bool) {
	defer e.guard(reason)
	if e.inert {
		return false
	}
	won = e.dispatcher.Fire(func() Payload {
		page := pageContext{
			location: e.host.Location(),
			now:      e.host.Now(),
			wallMs:   e.host.WallClock().UnixMilli(),
			ctas:     e.host.CallsToAction(),
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.state.SentFinal = true
		return buildPayload(e.state, &e.cfg, page, reason)
	})
	if won {
		e.stopPolling()
	}
	return won
}

// Sent reports whether the payload has been sent.
func (e *Engine) Sent() bool {
	return e.dispatcher.Sent()
}

// Counters returns a copy of the current counters.
func (e *Engine) Counters() Counters {
	if e.inert {
		return Counters{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.counters()
}

// Teardown stops the idle poll, waits for an in-flight delivery and removes
// the engine from the install registry. It does not send anything.
func (e *Engine) Teardown(ctx context.Context) error {
	err := ErrEngineClosed
	e.closeOnce.Do(func() {
		err = nil
		e.stopPolling()
		e.pollWG.Wait()

		registryMu.Lock()
		if registry[e.host] == e {
			delete(registry, e.host)
		}
		registryMu.Unlock()

		if waitErr := e.dispatcher.Wait(ctx); waitErr != nil {
			err = fmt.Errorf("signal: delivery still in flight: %w", waitErr)
		}
	})
	return err
}

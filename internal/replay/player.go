package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/signal"
)

// Visit is the outcome of one replayed page load.
type Visit struct {
	Location  signal.Location
	SessionID string
	Inert     bool
	// Events counts the event records dispatched to the engine.
	Events   int
	Counters signal.Counters
	// Payload is nil when the visit ended without an exit signal.
	Payload *signal.Payload
}

// Player feeds recorded streams through the signal engine, one engine per
// page record, all pages sharing the same tab storage.
type Player struct {
	cfg       config.EngineConfig
	storage   signal.Storage
	transport signal.Transport
	logger    *zap.Logger

	// FlushAtEnd ends visits that have no exit record, either because the
	// next page started or the stream ended, with a manual flush.
	FlushAtEnd bool
	// OnVisit, when set, is called as soon as each visit is finished.
	OnVisit func(Visit)
}

// NewPlayer returns a player. A nil transport keeps payloads local; they are
// still reported on the visits.
func NewPlayer(cfg config.EngineConfig, storage signal.Storage, transport signal.Transport, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{
		cfg:       cfg.WithDefaults(),
		storage:   storage,
		transport: transport,
		logger:    logger.Named("replay"),
	}
}

// captureTransport keeps the delivered payload and forwards it.
type captureTransport struct {
	next signal.Transport

	mu      sync.Mutex
	payload *signal.Payload
}

func (c *captureTransport) Send(ctx context.Context, p signal.Payload) error {
	c.mu.Lock()
	copied := p
	c.payload = &copied
	c.mu.Unlock()
	if c.next == nil {
		return nil
	}
	return c.next.Send(ctx, p)
}

func (c *captureTransport) captured() *signal.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

// visit is the page load currently being replayed.
type visit struct {
	host    *Host
	engine  *signal.Engine
	capture *captureTransport

	events   int
	lastTs   int64
	nextPoll int64
}

// Run replays src until it ends. Visits finished before an error are returned
// along with it; a cancelled context is reported as its error.
func (p *Player) Run(ctx context.Context, src Source) ([]Visit, error) {
	var (
		visits  []Visit
		current *visit
		// exited is set between an exit event and the next page record.
		exited bool
	)
	finish := func() error {
		if current == nil {
			return nil
		}
		v, err := p.finish(ctx, current)
		current = nil
		if err != nil {
			return err
		}
		visits = append(visits, v)
		if p.OnVisit != nil {
			p.OnVisit(v)
		}
		return nil
	}

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return visits, finish()
		}
		if err != nil {
			return visits, errors.Join(err, finish())
		}

		if rec.Kind == KindPage {
			if err := finish(); err != nil {
				return visits, err
			}
			current, err = p.start(rec)
			if err != nil {
				return visits, err
			}
			exited = false
			continue
		}
		if current == nil {
			if !exited {
				return visits, ErrNoPage
			}
			p.logger.Debug("Event after the visit ended, skipped", zap.String("kind", rec.Kind), zap.Int64("ts", rec.Ts))
			continue
		}
		if err := p.play(current, rec); err != nil {
			return visits, errors.Join(err, finish())
		}
		if signal.EventKind(rec.Kind).IsExit() {
			// The visit is over; report it without waiting for the next page.
			if err := finish(); err != nil {
				return visits, err
			}
			exited = true
		}
	}
}

func (p *Player) start(page Record) (*visit, error) {
	host, err := NewHost(page, p.storage)
	if err != nil {
		return nil, err
	}
	capture := &captureTransport{next: p.transport}
	engine, err := signal.Install(host, p.cfg,
		signal.WithLogger(p.logger),
		signal.WithTransport(capture),
		signal.WithManualIdlePolling(),
	)
	if err != nil {
		return nil, fmt.Errorf("replay: install engine: %w", err)
	}
	step := p.cfg.IdlePollIntervalMs
	p.logger.Debug("Page started",
		zap.String("path", host.Location().Path),
		zap.String("session_id", engine.SessionID()),
		zap.Bool("inert", engine.Inert()))
	return &visit{
		host:     host,
		engine:   engine,
		capture:  capture,
		lastTs:   page.Ts,
		nextPoll: page.Ts + step,
	}, nil
}

// pollUntil runs the idle polls the page timer would have fired up to ts.
func (p *Player) pollUntil(v *visit, ts int64) {
	step := p.cfg.IdlePollIntervalMs
	for v.nextPoll <= ts {
		v.host.Advance(v.nextPoll)
		v.engine.CheckIdle()
		if v.nextPoll-v.lastTs >= p.cfg.IdleThresholdMs {
			// The page is already idle; later polls before ts change nothing.
			v.nextPoll += ((ts-v.nextPoll)/step + 1) * step
			break
		}
		v.nextPoll += step
	}
}

func (p *Player) play(v *visit, rec Record) error {
	if rec.Ts < v.lastTs {
		p.logger.Debug("Out of order event", zap.String("kind", rec.Kind), zap.Int64("ts", rec.Ts), zap.Int64("last_ts", v.lastTs))
	}

	p.pollUntil(v, rec.Ts)
	v.host.Advance(rec.Ts)

	ev := rec.event(v.host.Element(rec.Target))
	if _, err := v.engine.Dispatch(ev); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	v.events++
	if rec.Ts > v.lastTs {
		v.lastTs = rec.Ts
	}
	if ev.Kind == signal.KindElementRemoved {
		v.host.Remove(rec.Target)
	}
	return nil
}

func (p *Player) finish(ctx context.Context, v *visit) (Visit, error) {
	if p.FlushAtEnd && !v.engine.Sent() {
		v.engine.Flush()
	}
	counters := v.engine.Counters()
	// Delivery of the last visit is awaited even when the replay was cancelled.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DeliveryTimeout)
	defer cancel()
	if err := v.engine.Teardown(waitCtx); err != nil {
		return Visit{}, fmt.Errorf("replay: teardown: %w", err)
	}
	return Visit{
		Location:  v.host.Location(),
		SessionID: v.engine.SessionID(),
		Inert:     v.engine.Inert(),
		Events:    v.events,
		Counters:  counters,
		Payload:   v.capture.captured(),
	}, nil
}

package signal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Dispatcher is the one-shot gate between the exit signals and the
// collection endpoint: armed until the first Fire, sent forever after.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger

	sent     atomic.Bool
	inflight sync.WaitGroup
}

// NewDispatcher returns an armed dispatcher. A nil transport discards payloads.
func NewDispatcher(transport Transport, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}
}

// Sent reports whether the gate has been taken.
func (d *Dispatcher) Sent() bool {
	return d.sent.Load()
}

// Fire takes the gate and, only if this call won it, builds the payload and
// starts delivery in the background. It reports whether this call won.
// Delivery is detached from the caller: page teardown neither blocks on it
// nor cancels it. Failures are logged at debug level and dropped.
func (d *Dispatcher) Fire(build func() Payload) bool {
	if !d.sent.CompareAndSwap(false, true) {
		return false
	}
	payload := build()
	if d.transport == nil {
		return true
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Debug("Payload delivery panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.transport.Send(ctx, payload); err != nil {
			d.logger.Debug("Payload delivery failed",
				zap.String("session_id", payload.SessionID),
				zap.String("reason", payload.SessionEndReason),
				zap.Error(err))
			return
		}
		d.logger.Debug("Payload delivered",
			zap.String("session_id", payload.SessionID),
			zap.String("reason", payload.SessionEndReason))
	}()
	return true
}

// Wait blocks until the in-flight delivery finishes or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

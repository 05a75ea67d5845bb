// Package workerpool bounds the number of pipeline executions running
// at once. Interpretation fans out to external registries, so an
// unbounded request burst would amplify into an outbound storm; the
// pool sheds load instead.
package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrBusy is returned when no slot becomes free within the wait
// budget. Callers translate it to a retryable 503.
var ErrBusy = errors.New("worker pool at capacity")

// Config holds pool configuration
type Config struct {
	// Slots is the maximum number of concurrent executions
	Slots int
	// AcquireTimeout bounds how long a caller waits for a free slot
	AcquireTimeout time.Duration
}

// DefaultConfig sizes the pool for one service instance.
func DefaultConfig() Config {
	return Config{
		Slots:          32,
		AcquireTimeout: 2 * time.Second,
	}
}

// Pool is a slot-based concurrency limiter.
type Pool struct {
	config Config
	slots  chan struct{}
	logger *zap.Logger

	started   int64
	completed int64
	rejected  int64
}

// New creates a pool with cfg.Slots capacity.
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultConfig().Slots
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	return &Pool{
		config: cfg,
		slots:  make(chan struct{}, cfg.Slots),
		logger: logger,
	}
}

// Do runs fn in the caller's goroutine once a slot is free. It
// returns ErrBusy if no slot frees up within the acquire timeout, or
// ctx.Err() if the caller gives up first.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		atomic.AddInt64(&p.rejected, 1)
		p.logger.Warn("execution rejected, pool at capacity",
			zap.Int("slots", p.config.Slots))
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}

	atomic.AddInt64(&p.started, 1)
	defer func() {
		<-p.slots
		atomic.AddInt64(&p.completed, 1)
	}()

	return fn(ctx)
}

// Stats holds pool counters.
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	InFlight  int   `json:"in_flight"`
	Slots     int   `json:"slots"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Started:   atomic.LoadInt64(&p.started),
		Completed: atomic.LoadInt64(&p.completed),
		Rejected:  atomic.LoadInt64(&p.rejected),
		InFlight:  len(p.slots),
		Slots:     p.config.Slots,
	}
}

// IsHealthy reports whether the pool still has headroom.
func (p *Pool) IsHealthy() bool {
	return len(p.slots) < cap(p.slots)
}

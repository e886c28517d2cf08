// Package metrics implements the batching, dimensioned metric recorder
// shared process-wide by every component (spec.md §4.8, §5).
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Datum is a single recorded measurement.
type Datum struct {
	Name       string
	Units      string
	Value      float64
	Dimensions map[string]string
	RecordedAt time.Time
}

// Backend delivers a batch of data to the external monitoring system.
// The concrete backend (CloudWatch, StatsD, Prometheus push gateway, …)
// is an opaque external collaborator per spec.md §1 — callers inject
// whatever Backend fits their deployment.
type Backend interface {
	Publish(ctx context.Context, batch []Datum) error
}

// NopBackend discards every batch. Used where no external monitoring
// collaborator (spec.md §1's "metric emission to external monitoring"
// non-goal) has been wired in yet, while still exercising the batching
// and eviction behavior of Sink.
type NopBackend struct{}

// Publish always succeeds without doing anything.
func (NopBackend) Publish(ctx context.Context, batch []Datum) error { return nil }

// Config configures queueing and flush behavior.
type Config struct {
	QueueCapacity int
	BatchSize     int
	QueueTimeout  time.Duration
	// Async delivers batches on a background goroutine instead of inline
	// with the triggering Record/Flush call.
	Async bool
	// ShutdownWait bounds how long Shutdown waits for in-flight async
	// deliveries to drain.
	ShutdownWait time.Duration
}

// Sink is a bounded, evicting, concurrency-safe metric recorder. Record
// is safe to call from any number of goroutines (spec.md §5); Flush is
// serialized by a single flush-in-progress flag — a concurrent non-forced
// Flush call while one is already running is a no-op, matching spec.md
// §4.8, and a forced one waits for the running flush to finish.
type Sink struct {
	cfg     Config
	backend Backend

	mu    sync.Mutex
	queue []Datum

	flushing atomic.Bool
	clock    func() time.Time

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// New constructs a Sink. Zero-value Config fields fall back to sensible
// defaults (capacity 1000, batch size 100, queue timeout 10s).
func New(cfg Config, backend Backend) *Sink {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 10 * time.Second
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = 5 * time.Second
	}
	return &Sink{
		cfg:     cfg,
		backend: backend,
		queue:   make([]Datum, 0, cfg.BatchSize),
		clock:   time.Now,
	}
}

// Record enqueues a datum. When the bounded queue is full, the oldest
// datum is dropped to make room (evicting queue, per spec.md §4.8/§5).
func (s *Sink) Record(name, units string, value float64, dimensions map[string]string) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueCapacity {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, Datum{
		Name:       name,
		Units:      units,
		Value:      value,
		Dimensions: dimensions,
		RecordedAt: s.clock(),
	})
	ready := len(s.queue) >= s.cfg.BatchSize || s.queueTooOldLocked()
	s.mu.Unlock()

	if ready {
		s.Flush(context.Background(), false)
	}
}

func (s *Sink) queueTooOldLocked() bool {
	if len(s.queue) == 0 {
		return false
	}
	return s.clock().Sub(s.queue[0].RecordedAt) >= s.cfg.QueueTimeout
}

// Flush delivers the current queue to the backend. If force is false and
// another flush is already in progress, Flush is a no-op — this is the
// single-holder flush lock of spec.md §4.8.
func (s *Sink) Flush(ctx context.Context, force bool) {
	if !s.flushing.CompareAndSwap(false, true) {
		if !force {
			return
		}
		// A caller explicitly requesting a forced flush still waits its
		// turn rather than racing the in-progress one.
		for !s.flushing.CompareAndSwap(false, true) {
			time.Sleep(time.Millisecond)
		}
	}

	s.mu.Lock()
	batch := s.queue
	s.queue = make([]Datum, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		s.flushing.Store(false)
		return
	}

	deliver := func() {
		defer s.flushing.Store(false)
		defer s.wg.Done()
		defer s.inflight.Add(-1)
		_ = s.backend.Publish(ctx, batch)
	}

	s.wg.Add(1)
	s.inflight.Add(1)
	if s.cfg.Async {
		go deliver()
	} else {
		deliver()
	}
}

// Shutdown force-flushes any remaining data and waits (bounded by
// ShutdownWait) for in-flight asynchronous deliveries to complete.
func (s *Sink) Shutdown(ctx context.Context) {
	s.Flush(ctx, true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownWait):
	}
}

// InFlight reports the number of batches currently being delivered to
// the backend. Exposed for tests and health diagnostics.
func (s *Sink) InFlight() int64 {
	return s.inflight.Load()
}

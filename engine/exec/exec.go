// Package exec implements the Execution Manager (spec §5): four sized
// worker pools, each with bounded concurrency and caller-runs overflow,
// carrying deadlines through every suspension point.
package exec

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when a task's deadline elapses before it runs or
// completes.
var ErrTimeout = errors.New("exec: deadline exceeded")

// ErrShutdown is returned when a task is submitted after Shutdown.
var ErrShutdown = errors.New("exec: manager is shut down")

// Class names one of the four logical worker pools (spec §5).
type Class int

const (
	// ClassVectorMath covers cosine scoring and ranking (CPU-bound).
	ClassVectorMath Class = iota
	// ClassEmbedding covers embed calls.
	ClassEmbedding
	// ClassMemoryManagement covers routing, classification, scoring.
	ClassMemoryManagement
	// ClassIO covers storage adapters and LLM calls.
	ClassIO
)

func (c Class) String() string {
	switch c {
	case ClassVectorMath:
		return "vector-math"
	case ClassEmbedding:
		return "embedding"
	case ClassMemoryManagement:
		return "memory-management"
	case ClassIO:
		return "io"
	default:
		return "unknown"
	}
}

// pool is a bounded-concurrency worker pool with caller-runs overflow.
type pool struct {
	sem chan struct{}
}

func newPool(capacity int) *pool {
	if capacity < 1 {
		capacity = 1
	}
	return &pool{sem: make(chan struct{}, capacity)}
}

// submit runs f with bounded concurrency. If the pool is saturated, f runs
// synchronously on the caller's goroutine (caller-runs back-pressure),
// rather than blocking or queuing unboundedly.
func (p *pool) submit(f func()) {
	select {
	case p.sem <- struct{}{}:
		go func() {
			defer func() { <-p.sem }()
			f()
		}()
	default:
		f()
	}
}

// Manager owns the four worker pools sized from the CPU count (spec §5).
// Each pool has its own admission rate.Limiter, capped generously above
// its steady-state throughput so Submit only blocks on it during a burst
// well beyond what the pool's concurrency can absorb.
type Manager struct {
	pools    [4]*pool
	limiters [4]*rate.Limiter

	mu       sync.RWMutex
	shutdown bool
}

// New sizes pools from runtime.NumCPU(): vector-math ~50%, embedding ~25%,
// memory-management ~25%, I/O 100% up to 2x cores capped at 32.
func New() *Manager {
	cores := runtime.NumCPU()

	vectorMath := cores / 2
	embedding := cores / 4
	memMgmt := cores / 4
	io := cores * 2
	if io > 32 {
		io = 32
	}

	return &Manager{
		pools: [4]*pool{
			ClassVectorMath:       newPool(vectorMath),
			ClassEmbedding:        newPool(embedding),
			ClassMemoryManagement: newPool(memMgmt),
			ClassIO:               newPool(io),
		},
		limiters: [4]*rate.Limiter{
			ClassVectorMath:       newAdmissionLimiter(vectorMath),
			ClassEmbedding:        newAdmissionLimiter(embedding),
			ClassMemoryManagement: newAdmissionLimiter(memMgmt),
			ClassIO:               newAdmissionLimiter(io),
		},
	}
}

// newAdmissionLimiter sizes a pool's admission limiter well above its raw
// concurrency, so it throttles runaway submission bursts without
// interfering with normal caller-runs back-pressure.
func newAdmissionLimiter(capacity int) *rate.Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return rate.NewLimiter(rate.Limit(capacity*100), capacity*200)
}

// Submit runs f on the named pool's class, respecting ctx's deadline. If
// ctx is cancelled or its deadline elapses before f completes, Submit
// returns ErrTimeout (or ctx.Err() if cancelled, not timed out) without
// waiting further for f — f's goroutine still runs to completion and
// releases its permit, but its result is discarded.
func (m *Manager) Submit(ctx context.Context, class Class, f func(context.Context) error) error {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return ErrShutdown
	}
	m.mu.RUnlock()

	if err := m.limiters[class].Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrTimeout
	}

	done := make(chan error, 1)
	m.pools[class].submit(func() {
		done <- f(ctx)
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// SubmitTimeout is a convenience wrapper deriving a deadline from d.
func (m *Manager) SubmitTimeout(ctx context.Context, class Class, d time.Duration, f func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return m.Submit(ctx, class, f)
}

// Shutdown marks the manager closed; subsequent Submit calls return
// ErrShutdown. In-flight tasks are not interrupted.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

// Package dispatch runs work on an owning execution context's task queue.
//
// A Loop is drained by exactly one goroutine. Code running elsewhere submits work with
// Post (fire and forget) or Call (wait for the result with a bounded timeout). A timed-out
// task is not cancelled; its result is discarded when it eventually completes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDispatchTimeout is returned by Call when the result did not arrive in time.
	ErrDispatchTimeout = errors.New("dispatch timed out")
	// ErrLoopUnavailable is returned when the owning loop is not running.
	ErrLoopUnavailable = errors.New("dispatch loop unavailable")
	// ErrTaskPanicked wraps a panic recovered from a dispatched task.
	ErrTaskPanicked = errors.New("dispatched task panicked")
)

const (
	// DefaultTimeout bounds how long Call waits for a dispatched result.
	DefaultTimeout = 10 * time.Second
	// DefaultQueueSize is the number of tasks that may wait for the loop.
	DefaultQueueSize = 256
)

// Task is a unit of work executed on the loop goroutine. ctx is the loop's context.
type Task func(ctx context.Context)

// Option configures a Loop.
type Option func(*Loop)

// WithTimeout sets the bounded wait used by Call.
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithQueueSize sets the task queue capacity.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// Stats is a point-in-time snapshot of loop counters.
type Stats struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
	TimedOut  uint64 `json:"timed_out"`
	Panicked  uint64 `json:"panicked"`
}

// Loop is a single-consumer task queue owned by one execution context.
type Loop struct {
	name      string
	logger    *slog.Logger
	timeout   time.Duration
	queueSize int
	tasks     chan Task

	mu      sync.RWMutex
	running bool
	done    chan struct{}

	processed atomic.Uint64
	timedOut  atomic.Uint64
	panicked  atomic.Uint64
}

// New creates a stopped Loop. Start it with Run.
func New(log *slog.Logger, name string, opts ...Option) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		name:      name,
		timeout:   DefaultTimeout,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.tasks = make(chan Task, l.queueSize)
	l.logger = log.With(slog.String("component", "dispatch"), slog.String("loop", name))
	close(l.done)
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Timeout returns the bounded wait used by Call.
func (l *Loop) Timeout() time.Duration { return l.timeout }

// Running reports whether the loop is draining its queue.
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Run drains the queue on the calling goroutine until ctx is done. It returns an error
// if the loop is already running.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop %s already running", l.name)
	}
	l.running = true
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	l.logger.Info("dispatch loop started")
	defer func() {
		l.mu.Lock()
		l.running = false
		close(done)
		l.mu.Unlock()
		l.logger.Info("dispatch loop stopped", slog.Int("dropped", len(l.tasks)))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-l.tasks:
			l.exec(ctx, task)
		}
	}
}

func (l *Loop) exec(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.logger.Error("dispatched task panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		l.processed.Add(1)
	}()
	task(ctx)
}

// Post enqueues task without waiting for it to run. It blocks while the queue is full,
// until ctx is done or the loop stops.
func (l *Loop) Post(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	l.mu.RLock()
	running, done := l.running, l.done
	l.mu.RUnlock()
	if !running {
		return ErrLoopUnavailable
	}
	select {
	case l.tasks <- task:
		return nil
	case <-done:
		return ErrLoopUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Name:      l.name,
		Running:   l.Running(),
		Queued:    len(l.tasks),
		Processed: l.processed.Load(),
		TimedOut:  l.timedOut.Load(),
		Panicked:  l.panicked.Load(),
	}
}

type result[T any] struct {
	value T
	err   error
}

// Call runs fn on the loop and waits up to the loop timeout for its result.
// A panic inside fn is returned as an error wrapping ErrTaskPanicked.
func Call[T any](ctx context.Context, l *Loop, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if l == nil {
		return zero, ErrLoopUnavailable
	}
	// buffered so a late task never blocks the loop after the caller gave up
	out := make(chan result[T], 1)
	task := func(loopCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.panicked.Add(1)
				l.logger.Error("dispatched call panicked", slog.Any("panic", r))
				out <- result[T]{err: fmt.Errorf("%w: %v", ErrTaskPanicked, r)}
			}
		}()
		v, err := fn(loopCtx)
		out <- result[T]{value: v, err: err}
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	l.mu.RLock()
	running, done := l.running, l.done
	l.mu.RUnlock()
	if !running {
		return zero, ErrLoopUnavailable
	}

	select {
	case l.tasks <- task:
	case <-done:
		return zero, ErrLoopUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		l.timedOut.Add(1)
		return zero, fmt.Errorf("%w: queue full after %s", ErrDispatchTimeout, l.timeout)
	}

	select {
	case res := <-out:
		return res.value, res.err
	case <-timer.C:
		l.timedOut.Add(1)
		l.logger.Warn("dispatched call timed out", slog.Duration("timeout", l.timeout))
		return zero, fmt.Errorf("%w after %s", ErrDispatchTimeout, l.timeout)
	case <-done:
		return zero, ErrLoopUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Call for work without a result value.
func Do(ctx context.Context, l *Loop, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feed_notifier/internal/metrics"
)

// Task is one cycle of periodic work.
type Task func(ctx context.Context) error

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateScheduled State = "scheduled"
	StateStopped   State = "stopped"
)

// Outcome describes the most recent completed cycle.
type Outcome struct {
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

type stoppingKey struct{}

// WithStopping attaches a channel that is closed when the caller wants a cycle
// to wind down at its next safe point.
func WithStopping(ctx context.Context, stopping <-chan struct{}) context.Context {
	return context.WithValue(ctx, stoppingKey{}, stopping)
}

// Stopping returns a channel that is closed once the runner driving ctx has
// been asked to stop. Outside a runner cycle it returns nil.
func Stopping(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(stoppingKey{}).(<-chan struct{})
	return ch
}

// Runner repeats a task with a fixed pause between the end of one cycle and
// the start of the next, so cycles never overlap.
type Runner struct {
	name         string
	task         Task
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	state State
	last  *Outcome
}

func NewRunner(name string, task Task, interval, cycleTimeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		name:         name,
		task:         task,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger.With("task", name),
		state:        StateIdle,
	}
}

// Start runs the first cycle immediately and keeps going until ctx is
// cancelled. A cycle in flight at cancellation keeps a live context, bounded
// by the cycle timeout, and can observe the cancellation through Stopping.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("runner started", "interval", r.interval, "cycle_timeout", r.cycleTimeout)
	defer func() {
		r.setState(StateStopped)
		r.logger.Info("runner stopped")
	}()

	for {
		r.runCycle(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.setState(StateScheduled)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastOutcome returns the result of the most recent cycle, or nil before the
// first cycle completes.
func (r *Runner) LastOutcome() *Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	out := *r.last
	return &out
}

func (r *Runner) runCycle(ctx context.Context) {
	r.setState(StateRunning)

	cycleCtx := WithStopping(context.WithoutCancel(ctx), ctx.Done())
	if r.cycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(cycleCtx, r.cycleTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.safeRun(cycleCtx)
	finished := time.Now()

	metrics.CycleDuration.WithLabelValues(r.name, metrics.Outcome(err)).Observe(finished.Sub(start).Seconds())

	if err != nil {
		r.logger.Error("cycle failed", "error", err, "duration", finished.Sub(start))
	}

	r.mu.Lock()
	r.last = &Outcome{Err: err, StartedAt: start, FinishedAt: finished}
	r.mu.Unlock()
}

func (r *Runner) safeRun(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.task(ctx)
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

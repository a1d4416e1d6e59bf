package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Task is one unit of Core A's cooperative loop: an input driver tick, a
// sink's Task, the player manager, the settings debounce, and so on. It
// must return promptly -- spec.md §5 budgets on the order of 100 µs.
type Task func() error

// Cooperative runs every registered Task once per tick, in registration
// order, with no preemption between them (spec.md §5 "Core A").
type Cooperative struct {
	logger *slog.Logger
	tasks  []namedTask
	period time.Duration
}

type namedTask struct {
	name string
	fn   Task
}

// NewCooperative constructs a Cooperative loop ticking at period.
func NewCooperative(period time.Duration, logger *slog.Logger) *Cooperative {
	return &Cooperative{period: period, logger: logger}
}

// Add registers a named Task, run in the order Add was called.
func (c *Cooperative) Add(name string, fn Task) {
	c.tasks = append(c.tasks, namedTask{name, fn})
}

// Run blocks, ticking every Task once per period until ctx is cancelled.
// A Task error is logged and does not stop the loop -- per spec.md §7,
// transient per-component errors are counted and dropped, never
// propagated above the driver/sink boundary.
func (c *Cooperative) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Cooperative) tick() {
	for _, t := range c.tasks {
		if err := t.fn(); err != nil && c.logger != nil {
			c.logger.Warn("cooperative task error", "task", t.name, "error", err)
		}
	}
}

// RealtimeWorker pins a single function onto its own goroutine, running it
// in a tight loop with no suspension points (spec.md §5 "Core B"). It is
// used by the Maple bus responder and any other hard-real-time output
// driver that cannot tolerate the cooperative loop's tick jitter.
type RealtimeWorker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewRealtimeWorker constructs a worker that repeatedly invokes fn until it
// returns a non-nil error or ctx is cancelled.
func NewRealtimeWorker(name string, fn func(ctx context.Context) error) *RealtimeWorker {
	return &RealtimeWorker{name: name, fn: fn}
}

// Run blocks running fn in a loop; a returned error (other than context
// cancellation) stops the worker and is wrapped with the worker's name.
func (w *RealtimeWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := w.fn(ctx); err != nil {
			return fmt.Errorf("sched: realtime worker %s: %w", w.name, err)
		}
	}
}

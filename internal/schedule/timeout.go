// Package schedule hosts the two background loops SPEC_FULL.md §4.10
// describes: TimeoutLoop, the concrete instance of spec.md §5's host loop,
// and Housekeeper, a cron-driven runner for periodic, non-time-critical
// maintenance work.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"hometopology/internal/logging"
)

// Engine is the subset of occupancy.Engine TimeoutLoop needs. Kept as a
// narrow interface so this package doesn't import internal/occupancy.
type Engine interface {
	GetNextExpiration(now time.Time) *time.Time
	CheckTimeouts(now time.Time)
}

// idleSleep is how long the timer sleeps when no Location has a pending
// expiration. Nudge wakes the loop early whenever that could have changed.
const idleSleep = time.Hour

// TimeoutLoop owns a single time.Timer reset after every mutation to
// engine.GetNextExpiration(now), calling engine.CheckTimeouts(now) when it
// fires. It contains no business logic of its own — every occupancy
// transition happens inside the Engine.
type TimeoutLoop struct {
	engine   Engine
	now      func() time.Time
	dispatch func(fn func())
	logger   *slog.Logger

	wake chan struct{}
}

// NewTimeoutLoop creates a TimeoutLoop driving engine. now defaults to
// time.Now. dispatch, if non-nil, is used to serialize CheckTimeouts calls
// onto the host's single dispatch goroutine (SPEC_FULL.md §5); if nil,
// CheckTimeouts runs directly on the loop's own goroutine.
func NewTimeoutLoop(engine Engine, now func() time.Time, dispatch func(fn func()), logger *slog.Logger) *TimeoutLoop {
	if now == nil {
		now = time.Now
	}
	return &TimeoutLoop{
		engine:   engine,
		now:      now,
		dispatch: dispatch,
		logger:   logging.Default(logger).With("component", "timeout-loop"),
		wake:     make(chan struct{}, 1),
	}
}

// Nudge wakes the loop to recompute its timer. Call this after every
// mutation that could change the next expiration (Trigger, Clear, Vacate,
// Lock/Unlock, config changes affecting timeouts).
func (l *TimeoutLoop) Nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled, firing CheckTimeouts whenever the
// engine's next expiration elapses.
func (l *TimeoutLoop) Run(ctx context.Context) {
	timer := time.NewTimer(idleSleep)
	defer timer.Stop()

	l.reset(timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
			l.reset(timer)
		case <-timer.C:
			l.checkTimeouts()
			l.reset(timer)
		}
	}
}

func (l *TimeoutLoop) checkTimeouts() {
	run := func() { l.engine.CheckTimeouts(l.now()) }
	if l.dispatch != nil {
		l.dispatch(run)
		return
	}
	run()
}

// reset stops the timer (draining a pending fire) and reschedules it for
// the engine's next expiration, or idleSleep if nothing is pending.
func (l *TimeoutLoop) reset(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	next := l.engine.GetNextExpiration(l.now())
	if next == nil {
		timer.Reset(idleSleep)
		return
	}

	d := next.Sub(l.now())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

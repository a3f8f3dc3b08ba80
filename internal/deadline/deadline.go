// Copyright (c) 2025 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package deadline derives one effective deadline per logical call and
// turns it into per-attempt cancellation signals. Every attempt of a
// retried or hedged call gets a fresh timer against the same absolute
// deadline, never a refreshed relative one.
package deadline

import (
	"context"
	"time"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/clock"
)

// _epsilon pads timer waits so a coarse timer that fires a little early
// reschedules against the wall clock instead of expiring the call
// prematurely.
const _epsilon = 5 * time.Millisecond

// Effective computes the effective absolute deadline for a call: the
// earlier of the caller-supplied deadline (zero means none) and the
// configured default timeout (non-positive means none), measured from now.
// The second return is false when neither bound applies.
func Effective(now time.Time, user time.Time, defaultTimeout time.Duration) (time.Time, bool) {
	var def time.Time
	if defaultTimeout > 0 {
		def = now.Add(defaultTimeout)
	}
	switch {
	case user.IsZero() && def.IsZero():
		return time.Time{}, false
	case user.IsZero():
		return def, true
	case def.IsZero():
		return user, true
	case def.Before(user):
		return def, true
	default:
		return user, true
	}
}

// Coordinator owns one call's absolute deadline and mints per-attempt
// contexts against it.
type Coordinator struct {
	clock    clock.Clock
	deadline time.Time
	epsilon  time.Duration
}

// NewCoordinator returns a coordinator for the given absolute deadline. A
// zero deadline means the call never expires on its own.
func NewCoordinator(clk clock.Clock, deadline time.Time) *Coordinator {
	return &Coordinator{
		clock:    clk,
		deadline: deadline,
		epsilon:  _epsilon,
	}
}

// Deadline returns the absolute deadline, if one is set.
func (c *Coordinator) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// Expired reports whether the deadline has already passed.
func (c *Coordinator) Expired() bool {
	if c.deadline.IsZero() {
		return false
	}
	return !c.clock.Now().Before(c.deadline)
}

// Attempt derives a per-attempt context combining the parent's
// cancellation with this coordinator's deadline. The returned context's
// cause is a DeadlineExceeded status when the timer expires it, and a
// Cancelled status when the returned cancel func (or the parent) ends it.
func (c *Coordinator) Attempt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	cancelled := func() {
		cancel(conduiterrors.CancelledErrorf("call cancelled"))
	}
	if c.deadline.IsZero() {
		return ctx, cancelled
	}

	wait, expired := c.check(c.clock.Now())
	if expired {
		cancel(conduiterrors.DeadlineExceededErrorf("deadline exceeded"))
		return ctx, cancelled
	}

	// The timer is armed before the watcher goroutine starts so an
	// immediate clock advance cannot slip past it.
	timer := c.clock.Timer(wait)
	go c.watch(ctx, cancel, timer)
	return ctx, cancelled
}

// watch expires the attempt when the absolute deadline passes. A timer
// that fires before the wall clock agrees is rescheduled for the remainder
// plus epsilon.
func (c *Coordinator) watch(ctx context.Context, cancel context.CancelCauseFunc, timer clock.Timer) {
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			wait, expired := c.check(c.clock.Now())
			if expired {
				cancel(conduiterrors.DeadlineExceededErrorf("deadline exceeded"))
				return
			}
			timer.Reset(wait)
		}
	}
}

// check returns how long to wait before looking at the clock again, or
// expired=true once the deadline has truly passed.
func (c *Coordinator) check(now time.Time) (wait time.Duration, expired bool) {
	remaining := c.deadline.Sub(now)
	if remaining <= 0 {
		return 0, true
	}
	return remaining + c.epsilon, false
}

// Status translates a finished attempt context into the call's terminal
// status: DeadlineExceeded when the deadline expired it, Cancelled for any
// other cancellation. It returns nil while the context is still live.
func Status(ctx context.Context) *conduiterrors.Status {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		if st := conduiterrors.FromError(cause); st.Code() == conduiterrors.CodeDeadlineExceeded {
			return st
		}
		if conduiterrors.IsStatus(cause) {
			return conduiterrors.FromError(cause)
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		return conduiterrors.FromError(conduiterrors.DeadlineExceededErrorf("deadline exceeded"))
	}
	return conduiterrors.FromError(conduiterrors.CancelledErrorf("call cancelled"))
}

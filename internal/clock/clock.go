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

// Package clock provides a time source that deadline timers and reconnect
// loops consume, so tests can substitute a fake that only moves forward
// programmatically.
package clock

import "time"

// Clock is the time source used by anything in the runtime that waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After produces a channel that will emit the time after a duration passes.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for the duration to elapse and then executes a
	// function. A Timer is returned that can be stopped.
	AfterFunc(d time.Duration, f func()) Timer

	// Timer produces a timer that will emit a time some duration after now.
	Timer(d time.Duration) Timer

	// Sleep pauses the goroutine for the given duration.
	Sleep(d time.Duration)
}

// Timer is a single scheduled event.
type Timer interface {
	// C returns the channel the timer fires on.
	C() <-chan time.Time

	// Reset reschedules the timer relative to now.
	Reset(d time.Duration) bool

	// Stop cancels the timer if it has not fired.
	Stop() bool
}

// RealClock implements Clock by wrapping the time package.
type RealClock struct{}

// NewReal returns an instance of a real clock.
func NewReal() RealClock {
	return RealClock{}
}

var _ Clock = (*RealClock)(nil)

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// After produces a channel that will emit the time after a duration passes.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AfterFunc waits for the duration to elapse and then executes a function.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

// Timer produces a timer that will emit a time some duration after now.
func (RealClock) Timer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

// Sleep pauses the goroutine for the given duration.
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.t.C }

func (t *realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }

func (t *realTimer) Stop() bool { return t.t.Stop() }

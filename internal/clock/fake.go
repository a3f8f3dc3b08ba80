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

package clock

// Forked from github.com/andres-erbsen/clock to isolate a missing nap.

import (
	"container/heap"
	"runtime"
	"sync"
	"time"
)

// FakeClock is a Clock that only moves forward when told to. It starts at
// the Unix epoch.
type FakeClock struct {
	sync.Mutex

	now    time.Time
	timers fakeTimers
}

var _ Clock = (*FakeClock)(nil)

// NewFake returns an instance of a fake clock.
func NewFake() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

// Add moves the current time of the fake clock forward by the duration,
// firing any timers scheduled within the window. This should only be called
// from a single goroutine at a time.
func (fc *FakeClock) Add(d time.Duration) {
	fc.Lock()
	end := fc.now.Add(d)
	fc.flush(end)

	if fc.now.Before(end) {
		fc.now = end
	}
	fc.Unlock()
	nap()
}

// flush runs all timers scheduled at or before the given end time.
func (fc *FakeClock) flush(end time.Time) {
	for len(fc.timers) > 0 && !fc.timers[0].time.After(end) {
		t := fc.timers[0]
		heap.Pop(&fc.timers)
		if fc.now.Before(t.time) {
			fc.now = t.time
		}
		fc.Unlock()
		t.tick()
		fc.Lock()
	}
}

// Now returns the current time on the fake clock.
func (fc *FakeClock) Now() time.Time {
	fc.Lock()
	defer fc.Unlock()
	return fc.now
}

// Timer produces a timer that will emit a time some duration after now.
func (fc *FakeClock) Timer(d time.Duration) Timer {
	fc.Lock()
	defer fc.Unlock()

	t := &fakeTimer{
		c:     make(chan time.Time, 1),
		clock: fc,
		time:  fc.now.Add(d),
	}
	heap.Push(&fc.timers, t)
	fc.flush(fc.now)
	return t
}

// After produces a channel that will emit the time after a duration passes.
func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	return fc.Timer(d).C()
}

// AfterFunc waits for the duration to elapse and then executes a function.
func (fc *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := fc.Timer(d)
	go func() {
		<-t.C()
		f()
	}()
	nap()
	return t
}

// Sleep pauses the goroutine for the given duration on the fake clock. The
// clock must be moved forward in a separate goroutine.
func (fc *FakeClock) Sleep(d time.Duration) {
	<-fc.After(d)
}

type fakeTimer struct {
	c     chan time.Time
	time  time.Time
	clock *FakeClock
	index int
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

// tick fires the timer without blocking on an unread channel.
func (t *fakeTimer) tick() {
	select {
	case t.c <- t.time:
	default:
	}
	nap()
}

// Reset reschedules the timer's firing time forward from now, unless it has
// already fired.
func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.Lock()
	defer t.clock.Unlock()
	t.time = t.clock.now.Add(d)

	select {
	case <-t.c:
	default:
	}

	if t.index >= 0 {
		heap.Fix(&t.clock.timers, t.index)
		return true
	}
	heap.Push(&t.clock.timers, t)
	return false
}

// Stop removes the timer from the schedule.
func (t *fakeTimer) Stop() bool {
	t.clock.Lock()
	defer t.clock.Unlock()
	if t.index < 0 {
		return false
	}

	select {
	case <-t.c:
	default:
	}

	heap.Remove(&t.clock.timers, t.index)
	return true
}

// fakeTimers is a min-heap of scheduled timers ordered by firing time.
type fakeTimers []*fakeTimer

func (ts fakeTimers) Len() int { return len(ts) }

func (ts fakeTimers) Swap(i, j int) {
	a, b := ts[i], ts[j]
	ts[i], ts[j] = b, a
	a.index, b.index = j, i
}

func (ts fakeTimers) Less(i, j int) bool {
	return ts[i].time.Before(ts[j].time)
}

func (ts *fakeTimers) Push(t interface{}) {
	ft := t.(*fakeTimer)
	ft.index = len(*ts)
	*ts = append(*ts, ft)
}

func (ts *fakeTimers) Pop() interface{} {
	t := (*ts)[len(*ts)-1]
	*ts = (*ts)[:len(*ts)-1]
	t.index = -1
	return t
}

func nap() {
	runtime.Gosched()
}

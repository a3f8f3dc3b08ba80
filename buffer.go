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

package conduit

import "sync"

// bufferBudget is the channel-wide cap on bytes held for possible
// replay. Reservations are all-or-nothing under one lock so concurrent
// calls cannot over-commit the budget.
type bufferBudget struct {
	mu    sync.Mutex
	used  int
	limit int
}

// newBufferBudget builds a budget. A non-positive limit means unlimited.
func newBufferBudget(limit int) *bufferBudget {
	return &bufferBudget{limit: limit}
}

func (b *bufferBudget) reserve(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

func (b *bufferBudget) release(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
}

// replayBuffer holds one call's framed request messages for replay on
// retry or hedging. Exceeding the per-call cap or the channel budget
// permanently disables replay for the call; the call proceeds
// non-retryable, which is not an error.
type replayBuffer struct {
	budget  *bufferBudget
	perCall int

	mu       sync.Mutex
	frames   [][]byte
	size     int
	disabled bool
}

// newReplayBuffer builds a buffer with the given per-call byte cap. A
// non-positive cap means unlimited.
func newReplayBuffer(budget *bufferBudget, perCall int) *replayBuffer {
	return &replayBuffer{budget: budget, perCall: perCall}
}

// append records one framed message. When the message pushes the call
// over either cap, the buffer drops everything it holds and disables
// itself.
func (r *replayBuffer) append(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return
	}
	if r.perCall > 0 && r.size+len(frame) > r.perCall {
		r.disableLocked()
		return
	}
	if !r.budget.reserve(len(frame)) {
		r.disableLocked()
		return
	}
	r.frames = append(r.frames, frame)
	r.size += len(frame)
}

// frames returns the buffered messages and whether the buffer is still
// valid for replay.
func (r *replayBuffer) snapshot() ([][]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return nil, false
	}
	return append([][]byte(nil), r.frames...), true
}

// valid reports whether replay is still possible.
func (r *replayBuffer) valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disabled
}

// free returns the buffer's bytes to the channel budget. Idempotent; the
// call runtime frees the buffer when the call commits or completes.
func (r *replayBuffer) free() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked()
}

func (r *replayBuffer) disableLocked() {
	if r.size > 0 {
		r.budget.release(r.size)
	}
	r.frames = nil
	r.size = 0
	r.disabled = true
}

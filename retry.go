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

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/backoff"
	"github.com/conduitrpc/conduit/internal/deadline"
	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/transport"
)

// retryOrchestrator runs attempts sequentially, replaying the buffered
// request messages on each retry. With a nil policy it degrades to a
// single attempt with no retries.
type retryOrchestrator struct {
	parent   context.Context
	channel  *Channel
	coord    *deadline.Coordinator
	info     *methodInfo
	buffer   *replayBuffer
	policy   *serviceconfig.RetryPolicy
	strategy *backoff.Exponential

	// cancelled closes once when cancel decides the call, waking a
	// backoff wait that would otherwise run out its timer.
	cancelled chan struct{}

	mu         sync.Mutex
	attempt    *callAttempt
	attempts   int
	retries    uint
	committed  bool
	sendClosed bool
	done       bool
	terminal   *conduiterrors.Status
	trailerMD  transport.Metadata
}

func newRetryOrchestrator(
	parent context.Context,
	c *Channel,
	coord *deadline.Coordinator,
	info *methodInfo,
	buffer *replayBuffer,
	policy *serviceconfig.RetryPolicy,
) (*retryOrchestrator, error) {
	o := &retryOrchestrator{
		parent:    parent,
		channel:   c,
		coord:     coord,
		info:      info,
		buffer:    buffer,
		policy:    policy,
		cancelled: make(chan struct{}),
	}
	if policy != nil {
		strategy, err := backoff.NewExponential(
			backoff.Initial(policy.InitialBackoff),
			backoff.Max(policy.MaxBackoff),
			backoff.Multiplier(policy.BackoffMultiplier),
		)
		if err != nil {
			return nil, err
		}
		o.strategy = strategy
	}
	return o, nil
}

func (o *retryOrchestrator) send(frame []byte) error {
	o.mu.Lock()
	if o.done {
		err := o.terminalOpErrLocked("send")
		o.mu.Unlock()
		return err
	}
	started := o.attempt != nil
	o.mu.Unlock()

	if !started {
		// The first attempt replays the buffer, which normally holds this
		// frame already. An oversized message disables the buffer, in
		// which case the frame goes out directly.
		att, err := o.ensureLive()
		if err != nil {
			return err
		}
		if o.buffer.valid() {
			return nil
		}
		werr := att.write(frame)
		if werr == nil {
			return nil
		}
		var cse *CallStateError
		if errors.As(werr, &cse) {
			return werr
		}
		// A disabled buffer rules out replay, so the failure is final.
		o.afterFailure(conduiterrors.FromError(werr))
		return o.finalErr()
	}

	for {
		att, err := o.ensureLive()
		if err != nil {
			return err
		}
		werr := att.write(frame)
		if werr == nil {
			return nil
		}
		var cse *CallStateError
		if errors.As(werr, &cse) {
			return werr
		}
		if !o.afterFailure(conduiterrors.FromError(werr)) {
			return o.finalErr()
		}
		// The replacement attempt replayed the buffer, frame included.
		if _, err := o.ensureLive(); err != nil {
			return err
		}
		return nil
	}
}

func (o *retryOrchestrator) closeSend() error {
	o.mu.Lock()
	o.sendClosed = true
	started := o.attempt != nil
	done := o.done
	o.mu.Unlock()

	if done {
		return nil
	}
	if !started {
		// The first attempt half-closes during replay.
		_, err := o.ensureLive()
		return err
	}

	for {
		att, err := o.ensureLive()
		if err != nil {
			return err
		}
		cerr := att.completeWrites()
		if cerr == nil {
			return nil
		}
		var cse *CallStateError
		if errors.As(cerr, &cse) {
			return cerr
		}
		if !o.afterFailure(conduiterrors.FromError(cerr)) {
			return o.finalErr()
		}
	}
}

func (o *retryOrchestrator) recv() ([]byte, error) {
	for {
		att, err := o.ensureLive()
		if err != nil {
			return nil, err
		}
		payload, rerr := att.recv()
		if rerr == nil {
			o.mu.Lock()
			o.committed = true
			o.mu.Unlock()
			return payload, nil
		}
		if errors.Is(rerr, io.EOF) {
			o.finishOK(att)
			return nil, io.EOF
		}
		var cse *CallStateError
		if errors.As(rerr, &cse) {
			return nil, rerr
		}
		if !o.afterFailure(conduiterrors.FromError(rerr)) {
			return nil, o.finalErr()
		}
	}
}

func (o *retryOrchestrator) trailers() transport.Metadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trailerMD
}

func (o *retryOrchestrator) status() (*conduiterrors.Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminal, o.done
}

func (o *retryOrchestrator) cancel(st *conduiterrors.Status) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.terminal = st
	att := o.attempt
	close(o.cancelled)
	o.mu.Unlock()

	if att != nil {
		att.abort(st)
	}
}

// ensureLive returns the live attempt, starting and replaying a fresh
// one when none exists. It returns the final status error once the call
// is decided.
func (o *retryOrchestrator) ensureLive() (*callAttempt, error) {
	for {
		o.mu.Lock()
		if o.done {
			o.mu.Unlock()
			return nil, o.finalErr()
		}
		if o.attempt != nil {
			att := o.attempt
			o.mu.Unlock()
			return att, nil
		}
		o.mu.Unlock()

		att, st := o.startAttempt()
		if st == nil {
			return att, nil
		}
		if !o.afterFailure(st) {
			return nil, o.finalErr()
		}
	}
}

// startAttempt opens a stream and replays the buffered request messages
// on it, half-closing when the caller already did.
func (o *retryOrchestrator) startAttempt() (*callAttempt, *conduiterrors.Status) {
	att, err := o.channel.newAttempt(o.parent, o.coord, o.info)
	if err != nil {
		return nil, conduiterrors.FromError(err)
	}

	o.mu.Lock()
	o.attempt = att
	o.attempts++
	sendClosed := o.sendClosed
	o.mu.Unlock()

	frames, _ := o.buffer.snapshot()
	for _, frame := range frames {
		if werr := att.write(frame); werr != nil {
			return nil, conduiterrors.FromError(werr)
		}
	}
	if sendClosed {
		if cerr := att.completeWrites(); cerr != nil {
			return nil, conduiterrors.FromError(cerr)
		}
	}
	return att, nil
}

// afterFailure applies the retry decision for one failed attempt: update
// the throttle, check the policy, wait out the backoff, and report
// whether another attempt should start. When it returns false the call
// is decided and finalErr carries the outcome.
func (o *retryOrchestrator) afterFailure(st *conduiterrors.Status) bool {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return false
	}
	if o.attempt != nil {
		o.trailerMD = o.attempt.currentTrailers()
	}
	o.attempt = nil

	retryable := o.policy != nil && o.policy.Retryable(st.Code())
	throttle := o.channel.throttle
	if retryable {
		throttle.onRetryableFailure()
	} else {
		throttle.onSuccess()
	}

	canRetry := retryable &&
		!o.committed &&
		o.buffer.valid() &&
		o.attempts < o.policy.MaxAttempts
	if canRetry && !throttle.allow() {
		o.channel.metrics.throttled.Inc(1)
		canRetry = false
	}
	if !canRetry {
		o.done = true
		o.terminal = st
		o.mu.Unlock()
		return false
	}
	retryIdx := o.retries
	o.retries++
	o.mu.Unlock()

	o.channel.metrics.retries.Inc(1)
	o.channel.logger.Debug("retrying call",
		zap.String("method", o.info.path),
		zap.Stringer("code", st.Code()),
		zap.Uint("retry", retryIdx+1))

	if !o.waitBackoff(retryIdx) {
		return false
	}
	if o.coord.Expired() {
		o.finalize(conduiterrors.FromError(
			conduiterrors.DeadlineExceededErrorf("deadline exceeded")))
		return false
	}
	return true
}

// waitBackoff sleeps for the jittered backoff. It returns false when the
// caller's context ended first, finalizing the call with the context's
// verdict.
func (o *retryOrchestrator) waitBackoff(retryIdx uint) bool {
	d := o.strategy.Duration(retryIdx)
	if d <= 0 {
		return true
	}
	timer := o.channel.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-o.cancelled:
		// cancel already finalized the call; finalErr carries its status.
		return false
	case <-o.parent.Done():
		st := deadline.Status(o.parent)
		if st == nil {
			st = conduiterrors.FromError(
				conduiterrors.CancelledErrorf("call cancelled"))
		}
		o.finalize(st)
		return false
	}
}

func (o *retryOrchestrator) finishOK(att *callAttempt) {
	o.mu.Lock()
	if !o.done {
		o.done = true
		o.terminal = nil
		o.trailerMD = att.currentTrailers()
	}
	o.mu.Unlock()
	o.channel.throttle.onSuccess()
}

func (o *retryOrchestrator) finalize(st *conduiterrors.Status) {
	o.mu.Lock()
	if !o.done {
		o.done = true
		o.terminal = st
	}
	o.mu.Unlock()
}

// terminalOpErrLocked builds the error for a send-side operation on a
// call that already completed. Callers hold o.mu.
func (o *retryOrchestrator) terminalOpErrLocked(op string) error {
	return terminalStateError(op, o.terminal)
}

// finalErr is the decided call's outcome as an error: io.EOF for OK,
// the terminal status otherwise.
func (o *retryOrchestrator) finalErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminal == nil {
		return io.EOF
	}
	return o.terminal
}

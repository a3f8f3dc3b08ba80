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
	"github.com/conduitrpc/conduit/internal/deadline"
	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/transport"
)

// hedgeOrchestrator fans a call out into parallel attempts launched at a
// fixed delay. Attempts race; the first one to produce data or a status
// outside the non-fatal set commits, and every sibling is cancelled.
// Once response data has reached the caller the commit is irrevocable.
type hedgeOrchestrator struct {
	parent  context.Context
	channel *Channel
	coord   *deadline.Coordinator
	info    *methodInfo
	buffer  *replayBuffer
	policy  *serviceconfig.HedgingPolicy

	outcomes chan *hedgeOutcome
	kick     chan struct{}
	commitCh chan struct{}

	mu            sync.Mutex
	started       bool
	frames        [][]byte
	live          []*hedgeAttempt
	launched      int
	failed        int
	sendClosed    bool
	stopLaunching bool
	decided       bool
	committed     *hedgeAttempt
	pending       []byte
	hasPending    bool
	done          bool
	terminal      *conduiterrors.Status
	lastFailure   *conduiterrors.Status
	trailerMD     transport.Metadata
}

// hedgeAttempt pairs an attempt with its replay cursor so concurrent
// sends and late launches never write a frame twice or out of order.
type hedgeAttempt struct {
	att *callAttempt

	mu         sync.Mutex
	written    int
	sendClosed bool
}

type hedgeOutcome struct {
	ha         *hedgeAttempt
	payload    []byte
	hasPayload bool
	eof        bool
	st         *conduiterrors.Status
}

func newHedgeOrchestrator(
	parent context.Context,
	c *Channel,
	coord *deadline.Coordinator,
	info *methodInfo,
	buffer *replayBuffer,
	policy *serviceconfig.HedgingPolicy,
) *hedgeOrchestrator {
	return &hedgeOrchestrator{
		parent:   parent,
		channel:  c,
		coord:    coord,
		info:     info,
		buffer:   buffer,
		policy:   policy,
		outcomes: make(chan *hedgeOutcome, policy.MaxAttempts),
		kick:     make(chan struct{}, 1),
		commitCh: make(chan struct{}),
	}
}

func (o *hedgeOrchestrator) send(frame []byte) error {
	o.mu.Lock()
	if o.done {
		err := terminalStateError("send", o.terminal)
		o.mu.Unlock()
		return err
	}
	o.frames = append(o.frames, frame)
	committed := o.committed
	decided := o.decided
	attempts := append([]*hedgeAttempt(nil), o.live...)
	o.mu.Unlock()

	if decided {
		if committed == nil {
			return o.finalErr()
		}
		return o.pump(committed)
	}

	o.start()
	// Late frames flow to every racing attempt; write failures surface
	// through the attempt's own outcome.
	for _, ha := range attempts {
		if err := o.pump(ha); err != nil {
			o.channel.logger.Debug("hedged attempt write failed",
				zap.String("method", o.info.path),
				zap.Error(err))
		}
	}
	return nil
}

func (o *hedgeOrchestrator) closeSend() error {
	o.mu.Lock()
	o.sendClosed = true
	committed := o.committed
	decided := o.decided
	attempts := append([]*hedgeAttempt(nil), o.live...)
	o.mu.Unlock()

	if decided {
		if committed == nil {
			return nil
		}
		return o.pump(committed)
	}

	o.start()
	for _, ha := range attempts {
		if err := o.pump(ha); err != nil {
			o.channel.logger.Debug("hedged attempt close-send failed",
				zap.String("method", o.info.path),
				zap.Error(err))
		}
	}
	return nil
}

func (o *hedgeOrchestrator) recv() ([]byte, error) {
	o.start()

	select {
	case <-o.commitCh:
	case <-o.parent.Done():
		st := deadline.Status(o.parent)
		if st == nil {
			st = conduiterrors.FromError(
				conduiterrors.CancelledErrorf("call cancelled"))
		}
		o.cancel(st)
		return nil, o.finalErr()
	}

	o.mu.Lock()
	if o.done && o.terminal != nil {
		st := o.terminal
		o.mu.Unlock()
		return nil, st
	}
	if o.hasPending {
		payload := o.pending
		o.pending = nil
		o.hasPending = false
		o.mu.Unlock()
		return payload, nil
	}
	if o.done {
		o.mu.Unlock()
		return nil, io.EOF
	}
	committed := o.committed
	o.mu.Unlock()

	payload, err := committed.att.recv()
	switch {
	case err == nil:
		return payload, nil
	case err == io.EOF:
		o.mu.Lock()
		if !o.done {
			o.done = true
			o.terminal = nil
			o.trailerMD = committed.att.currentTrailers()
		}
		o.mu.Unlock()
		return nil, io.EOF
	default:
		var cse *CallStateError
		if errors.As(err, &cse) {
			return nil, err
		}
		st := conduiterrors.FromError(err)
		o.mu.Lock()
		if !o.done {
			o.done = true
			o.terminal = st
			o.trailerMD = committed.att.currentTrailers()
		}
		o.mu.Unlock()
		return nil, st
	}
}

func (o *hedgeOrchestrator) trailers() transport.Metadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trailerMD
}

func (o *hedgeOrchestrator) status() (*conduiterrors.Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminal, o.done
}

func (o *hedgeOrchestrator) cancel(st *conduiterrors.Status) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.terminal = st
	alreadyDecided := o.decided
	o.decided = true
	attempts := append([]*hedgeAttempt(nil), o.live...)
	o.live = nil
	o.mu.Unlock()

	for _, ha := range attempts {
		ha.att.abort(st)
	}
	if !alreadyDecided {
		close(o.commitCh)
	}
}

// start launches the first attempt and the hedging scheduler, once.
func (o *hedgeOrchestrator) start() {
	o.mu.Lock()
	if o.started || o.decided {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	o.launch()
	go o.scheduler()
	go o.collect()
}

// scheduler launches one additional attempt per hedging delay until the
// call commits, the attempt budget runs out, or the throttle suppresses
// hedging. A non-fatal failure skips the remaining delay.
func (o *hedgeOrchestrator) scheduler() {
	for {
		o.mu.Lock()
		stop := o.decided || o.stopLaunching || o.launched >= o.policy.MaxAttempts
		o.mu.Unlock()
		if stop {
			return
		}

		if o.policy.HedgingDelay > 0 {
			timer := o.channel.clk.Timer(o.policy.HedgingDelay)
			select {
			case <-timer.C():
			case <-o.kick:
			case <-o.commitCh:
				timer.Stop()
				return
			case <-o.parent.Done():
				timer.Stop()
				return
			}
			timer.Stop()
		}
		o.launch()
	}
}

// launch starts one attempt, subject to the throttle for every attempt
// after the first.
func (o *hedgeOrchestrator) launch() {
	o.mu.Lock()
	if o.decided || o.launched >= o.policy.MaxAttempts {
		o.mu.Unlock()
		return
	}
	if o.launched > 0 && !o.buffer.valid() {
		o.stopLaunching = true
		o.maybeExhaustedLocked()
		o.mu.Unlock()
		return
	}
	if o.launched > 0 && !o.channel.throttle.allow() {
		o.channel.metrics.throttled.Inc(1)
		o.stopLaunching = true
		o.maybeExhaustedLocked()
		o.mu.Unlock()
		return
	}
	o.launched++
	n := o.launched
	o.mu.Unlock()

	if n > 1 {
		o.channel.metrics.hedges.Inc(1)
		o.channel.logger.Debug("launching hedged attempt",
			zap.String("method", o.info.path),
			zap.Int("attempt", n))
	}
	go o.runAttempt()
}

// runAttempt drives one attempt to its first observable outcome: the
// first response message, a clean end of stream, or a failure status.
func (o *hedgeOrchestrator) runAttempt() {
	att, err := o.channel.newAttempt(o.parent, o.coord, o.info)
	if err != nil {
		o.outcomes <- &hedgeOutcome{st: conduiterrors.FromError(err)}
		return
	}
	ha := &hedgeAttempt{att: att}

	o.mu.Lock()
	if o.decided {
		o.mu.Unlock()
		att.abort(_supersededStatus)
		return
	}
	o.live = append(o.live, ha)
	o.mu.Unlock()

	if err := o.pump(ha); err != nil {
		o.outcomes <- &hedgeOutcome{ha: ha, st: conduiterrors.FromError(err)}
		return
	}

	payload, rerr := att.recv()
	switch {
	case rerr == nil:
		o.outcomes <- &hedgeOutcome{ha: ha, payload: payload, hasPayload: true}
	case rerr == io.EOF:
		o.outcomes <- &hedgeOutcome{ha: ha, eof: true}
	default:
		o.outcomes <- &hedgeOutcome{ha: ha, st: conduiterrors.FromError(rerr)}
	}
}

// pump writes the frames the attempt has not seen yet, in order, and
// half-closes once the caller has.
func (o *hedgeOrchestrator) pump(ha *hedgeAttempt) error {
	ha.mu.Lock()
	defer ha.mu.Unlock()

	o.mu.Lock()
	frames := o.frames
	closed := o.sendClosed
	o.mu.Unlock()

	for ha.written < len(frames) {
		if err := ha.att.write(frames[ha.written]); err != nil {
			return err
		}
		ha.written++
	}
	if closed && !ha.sendClosed {
		ha.sendClosed = true
		if err := ha.att.completeWrites(); err != nil {
			return err
		}
	}
	return nil
}

// collect serializes the commit decision across racing attempts.
func (o *hedgeOrchestrator) collect() {
	for {
		select {
		case out := <-o.outcomes:
			if o.handle(out) {
				return
			}
		case <-o.commitCh:
			return
		}
	}
}

// handle applies one attempt outcome. It returns true once the call is
// decided.
func (o *hedgeOrchestrator) handle(out *hedgeOutcome) bool {
	o.mu.Lock()
	if o.decided {
		o.mu.Unlock()
		return true
	}

	if out.st != nil {
		o.failed++
		o.removeLocked(out.ha)
		if o.policy.NonFatal(out.st.Code()) {
			o.lastFailure = out.st
			o.channel.throttle.onRetryableFailure()
			decided := o.maybeExhaustedLocked()
			o.mu.Unlock()
			if !decided {
				// Skip the rest of the hedging delay.
				select {
				case o.kick <- struct{}{}:
				default:
				}
			}
			return decided
		}

		// A status outside the non-fatal set commits the failure.
		o.channel.throttle.onSuccess()
		o.decided = true
		o.done = true
		o.terminal = out.st
		if out.ha != nil {
			o.trailerMD = out.ha.att.currentTrailers()
		}
		siblings := append([]*hedgeAttempt(nil), o.live...)
		o.live = nil
		o.mu.Unlock()

		for _, ha := range siblings {
			ha.att.abort(_supersededStatus)
		}
		close(o.commitCh)
		return true
	}

	// Success commits this attempt; siblings never deliver their data.
	o.channel.throttle.onSuccess()
	o.decided = true
	o.committed = out.ha
	if out.hasPayload {
		o.pending = out.payload
		o.hasPending = true
	} else if out.eof {
		o.done = true
		o.terminal = nil
		o.trailerMD = out.ha.att.currentTrailers()
	}
	siblings := make([]*hedgeAttempt, 0, len(o.live))
	for _, ha := range o.live {
		if ha != out.ha {
			siblings = append(siblings, ha)
		}
	}
	o.live = nil
	o.mu.Unlock()

	for _, ha := range siblings {
		ha.att.abort(_supersededStatus)
	}
	close(o.commitCh)
	return true
}

// maybeExhaustedLocked finalizes with the last non-fatal failure once no
// attempt is live and none can launch. Callers hold o.mu.
func (o *hedgeOrchestrator) maybeExhaustedLocked() bool {
	exhausted := (o.stopLaunching || o.launched >= o.policy.MaxAttempts) &&
		o.failed >= o.launched
	if !exhausted {
		return false
	}
	st := o.lastFailure
	if st == nil {
		st = conduiterrors.FromError(
			conduiterrors.UnavailableErrorf("all hedged attempts failed"))
	}
	o.decided = true
	o.done = true
	o.terminal = st
	o.live = nil
	close(o.commitCh)
	return true
}

func (o *hedgeOrchestrator) removeLocked(ha *hedgeAttempt) {
	if ha == nil {
		return
	}
	for i, cur := range o.live {
		if cur == ha {
			o.live = append(o.live[:i], o.live[i+1:]...)
			return
		}
	}
}

// finalErr is the decided call's outcome as an error.
func (o *hedgeOrchestrator) finalErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminal == nil {
		return io.EOF
	}
	return o.terminal
}

var _supersededStatus = conduiterrors.FromError(
	conduiterrors.CancelledErrorf("hedged attempt superseded"))

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
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/deadline"
	"github.com/conduitrpc/conduit/transport"
	"github.com/conduitrpc/conduit/wire"
)

// orchestrator runs one or more attempts under a logical call and
// decides which attempt's result reaches the caller.
type orchestrator interface {
	send(frame []byte) error
	closeSend() error
	recv() ([]byte, error)
	trailers() transport.Metadata
	status() (*conduiterrors.Status, bool)
	cancel(st *conduiterrors.Status)
}

// Call is one logical RPC invocation, possibly backed by several
// attempts. Once the call reaches a terminal state its status is stable
// and repeatedly observable, and every further operation reports that
// same status.
type Call struct {
	channel *Channel
	desc    *MethodDescriptor
	info    *methodInfo
	coord   *deadline.Coordinator
	buffer  *replayBuffer
	orch    orchestrator

	sendMu     sync.Mutex
	sent       int
	sendClosed bool

	finishMu sync.Mutex
	finished bool
}

// NewCall creates a logical call for the method. The call's effective
// deadline is the earliest of the caller's context deadline, the
// method's configured timeout, and the channel default.
func (c *Channel) NewCall(ctx context.Context, desc *MethodDescriptor) (*Call, error) {
	info := c.methodConfig(desc)

	def := c.defaultTimeout
	if info.config != nil && info.config.Timeout > 0 && (def <= 0 || info.config.Timeout < def) {
		def = info.config.Timeout
	}
	var user time.Time
	if d, ok := ctx.Deadline(); ok {
		user = d
	}
	abs, _ := deadline.Effective(c.clk.Now(), user, def)
	coord := deadline.NewCoordinator(c.clk, abs)

	call := &Call{
		channel: c,
		desc:    desc,
		info:    info,
		coord:   coord,
		buffer:  newReplayBuffer(c.budget, c.perCallBuffer),
	}

	switch {
	case info.config != nil && info.config.Hedging != nil:
		call.orch = newHedgeOrchestrator(ctx, c, coord, info, call.buffer, info.config.Hedging)
	case info.config != nil && info.config.Retry != nil:
		orch, err := newRetryOrchestrator(ctx, c, coord, info, call.buffer, info.config.Retry)
		if err != nil {
			return nil, err
		}
		call.orch = orch
	default:
		orch, err := newRetryOrchestrator(ctx, c, coord, info, call.buffer, nil)
		if err != nil {
			return nil, err
		}
		call.orch = orch
	}

	if err := c.register(call); err != nil {
		return nil, err
	}
	return call, nil
}

// Send sends one request message. Unary and server-streaming methods
// accept exactly one message.
func (call *Call) Send(msg interface{}) error {
	// A decided call reports its terminal outcome ahead of any local
	// send-side bookkeeping.
	if st, done := call.orch.status(); done {
		return terminalStateError("send", st)
	}

	call.sendMu.Lock()
	if call.sendClosed {
		call.sendMu.Unlock()
		return &CallStateError{Op: "send", Reason: "send side already closed"}
	}
	if call.sent > 0 && !call.desc.Cardinality.ClientStreaming() {
		call.sendMu.Unlock()
		return &CallStateError{
			Op:     "send",
			Reason: "method is not client-streaming; only one request message is allowed",
		}
	}
	call.sendMu.Unlock()

	payload, err := call.desc.Marshal(msg)
	if err != nil {
		return conduiterrors.FromError(conduiterrors.InternalErrorf(
			"failed to marshal request message: %v", err))
	}

	var buf bytes.Buffer
	if err := call.channel.codec.Frame(&buf, payload, call.channel.encoding); err != nil {
		st := call.failSend(err)
		return st
	}
	frame := buf.Bytes()

	// The message counts against the unary limit only once it framed
	// successfully; a failed marshal does not consume the slot.
	call.sendMu.Lock()
	call.sent++
	call.sendMu.Unlock()

	call.buffer.append(frame)
	if err := call.orch.send(frame); err != nil {
		call.maybeFinish()
		return err
	}
	return nil
}

// failSend converts a framing failure on the send path into the call's
// terminal status and cancels the call with it.
func (call *Call) failSend(err error) error {
	st := call.channel.statusOfSendError(err)
	call.orch.cancel(st)
	call.maybeFinish()
	return st
}

// CloseSend signals that no more request messages follow. For unary and
// server-streaming methods the runtime calls it implicitly on the first
// Recv.
func (call *Call) CloseSend() error {
	call.sendMu.Lock()
	if call.sendClosed {
		call.sendMu.Unlock()
		return nil
	}
	call.sendClosed = true
	call.sendMu.Unlock()

	if err := call.orch.closeSend(); err != nil {
		call.maybeFinish()
		return err
	}
	return nil
}

// Recv returns the next response message. io.EOF signals a successful
// end of the response stream; any other error is the call's terminal
// status.
func (call *Call) Recv() (interface{}, error) {
	// A caller that is done sending implicitly half-closes when it starts
	// reading a non-duplex exchange.
	if !call.desc.Cardinality.ClientStreaming() {
		if err := call.CloseSend(); err != nil {
			return nil, err
		}
	}

	payload, err := call.orch.recv()
	if err != nil {
		call.maybeFinish()
		return nil, err
	}

	msg, uerr := call.desc.Unmarshal(payload)
	if uerr != nil {
		st := conduiterrors.FromError(conduiterrors.InternalErrorf(
			"failed to unmarshal response message: %v", uerr))
		call.orch.cancel(st)
		call.maybeFinish()
		return nil, st
	}
	return msg, nil
}

// Trailers returns the trailing metadata of the committed attempt, nil
// until the call completes.
func (call *Call) Trailers() transport.Metadata {
	return call.orch.trailers()
}

// Status returns the call's terminal status. The second return is false
// while the call is live; a nil status with true means the call
// completed successfully.
func (call *Call) Status() (*conduiterrors.Status, bool) {
	return call.orch.status()
}

// Cancel cancels the call and every live attempt under it. Cancelling a
// finished call is a no-op.
func (call *Call) Cancel() {
	call.orch.cancel(conduiterrors.FromError(
		conduiterrors.CancelledErrorf("call cancelled")))
	call.maybeFinish()
}

// maybeFinish releases the call's resources once its outcome is
// decided: the replay buffer returns its bytes to the channel budget and
// the call leaves the channel's active set.
func (call *Call) maybeFinish() {
	if _, done := call.orch.status(); !done {
		return
	}
	call.finishMu.Lock()
	if call.finished {
		call.finishMu.Unlock()
		return
	}
	call.finished = true
	call.finishMu.Unlock()

	call.buffer.free()
	call.channel.unregister(call)
}

// statusOfSendError maps send-path codec failures the same way an
// attempt maps receive-path ones.
func (c *Channel) statusOfSendError(err error) *conduiterrors.Status {
	return wire.StatusFromError(err)
}

// Invoke runs a unary exchange: send one request, receive one response,
// surface the terminal status as the error.
func (c *Channel) Invoke(ctx context.Context, desc *MethodDescriptor, req interface{}) (interface{}, error) {
	call, err := c.NewCall(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer call.maybeFinish()

	if err := call.Send(req); err != nil {
		call.Cancel()
		return nil, err
	}
	if err := call.CloseSend(); err != nil {
		call.Cancel()
		return nil, err
	}

	msg, err := call.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, conduiterrors.FromError(conduiterrors.InternalErrorf(
				"server closed the stream without a response message"))
		}
		return nil, err
	}

	// Drain the end-of-stream marker so the terminal status resolves.
	if _, err := call.Recv(); err != nil && err != io.EOF {
		return nil, err
	}
	return msg, nil
}

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
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/deadline"
	"github.com/conduitrpc/conduit/transport"
	"github.com/conduitrpc/conduit/wire"
)

// attemptState tracks one attempt through its lifecycle.
type attemptState int

const (
	attemptCreated attemptState = iota
	attemptHeadersSent
	attemptStreaming
	attemptCompleted
	attemptCancelled
	attemptFaulted
)

func (s attemptState) String() string {
	switch s {
	case attemptCreated:
		return "created"
	case attemptHeadersSent:
		return "headers-sent"
	case attemptStreaming:
		return "streaming"
	case attemptCompleted:
		return "completed"
	case attemptCancelled:
		return "cancelled"
	case attemptFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// callAttempt is one transport-level exchange under a logical call. The
// attempt enforces single-writer discipline on its send side, resolves
// the terminal status exactly once, and reports every post-terminal
// operation with that same status.
type callAttempt struct {
	channel *Channel
	ctx     context.Context
	cancel  context.CancelFunc
	stream  transport.Stream

	mu           sync.Mutex
	state        attemptState
	writing      bool
	done         bool
	terminal     *conduiterrors.Status // nil with done means OK
	headers      transport.Metadata
	headersSeen  bool
	trailers     transport.Metadata
	recvEncoding string
}

// newAttempt opens one transport stream for the call. The attempt's
// context combines the call's cancellation with a fresh timer against the
// call's absolute deadline.
func (c *Channel) newAttempt(parent context.Context, coord *deadline.Coordinator, info *methodInfo) (*callAttempt, error) {
	ctx, cancel := coord.Attempt(parent)

	md := transport.Metadata{}
	if names := c.registry.Names(); len(names) > 0 {
		md.Set(transport.AcceptEncodingKey, strings.Join(names, ","))
	}
	if c.encoding != "" {
		md.Set(transport.EncodingKey, c.encoding)
	}
	if dl, ok := coord.Deadline(); ok {
		md.Set(transport.TimeoutKey, encodeTimeout(dl.Sub(c.clk.Now())))
	}
	if c.credentials != nil {
		extra, err := c.credentials.RequestMetadata(ctx)
		if err != nil {
			cancel()
			return nil, conduiterrors.FromError(err)
		}
		for k, v := range extra {
			md.Set(k, v)
		}
	}

	target := c.target
	if c.picker != nil {
		addr, err := c.picker.Pick()
		if err != nil {
			cancel()
			return nil, conduiterrors.FromError(err)
		}
		target = addr
	}

	a := &callAttempt{
		channel: c,
		ctx:     ctx,
		cancel:  cancel,
		state:   attemptCreated,
	}
	stream, err := c.transport.NewStream(ctx, &transport.StreamRequest{
		Target:   target,
		Method:   info.path,
		Metadata: md,
	})
	if err != nil {
		st := a.statusOf(err)
		cancel()
		return nil, st
	}
	a.stream = stream
	a.state = attemptHeadersSent
	return a, nil
}

// write sends one framed request message. Writes are strictly
// sequential; a write while another is in flight is a programming error,
// and a write after the attempt completed reports the attempt's terminal
// status.
func (a *callAttempt) write(frame []byte) error {
	a.mu.Lock()
	if a.done {
		err := a.terminalError("write")
		a.mu.Unlock()
		return err
	}
	if a.writing {
		a.mu.Unlock()
		return &CallStateError{Op: "write", Reason: "previous write has not completed"}
	}
	a.writing = true
	a.mu.Unlock()

	_, err := a.stream.Write(frame)

	a.mu.Lock()
	a.writing = false
	a.mu.Unlock()

	if err != nil {
		return a.fail(err)
	}
	return nil
}

// completeWrites half-closes the send side.
func (a *callAttempt) completeWrites() error {
	a.mu.Lock()
	if a.done {
		err := a.terminalError("close-send")
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	if err := a.stream.CloseSend(); err != nil {
		return a.fail(err)
	}
	return nil
}

// waitHeaders blocks for the response's leading metadata.
func (a *callAttempt) waitHeaders() (transport.Metadata, error) {
	a.mu.Lock()
	if a.headersSeen {
		md := a.headers
		a.mu.Unlock()
		return md, nil
	}
	if a.done {
		st := a.terminal
		a.mu.Unlock()
		if st == nil {
			return nil, io.EOF
		}
		return nil, st
	}
	a.mu.Unlock()

	md, err := a.stream.Headers(a.ctx)
	if err != nil {
		return nil, a.fail(err)
	}

	a.mu.Lock()
	if !a.headersSeen {
		a.headers = md
		a.headersSeen = true
		a.recvEncoding = md.Get(transport.EncodingKey)
		if a.state == attemptHeadersSent {
			a.state = attemptStreaming
		}
	}
	md = a.headers
	a.mu.Unlock()
	return md, nil
}

// recv deframes one response message. io.EOF means the response ended
// with an OK status; a non-OK terminal outcome comes back as the status
// itself. Reads are strictly sequential.
func (a *callAttempt) recv() ([]byte, error) {
	a.mu.Lock()
	if a.done {
		st := a.terminal
		a.mu.Unlock()
		if st == nil {
			return nil, io.EOF
		}
		return nil, st
	}
	a.mu.Unlock()

	if _, err := a.waitHeaders(); err != nil {
		return nil, err
	}

	payload, err := a.channel.codec.Deframe(a.stream.Body(), a.recvEncoding)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, io.EOF):
		return nil, a.finish()
	default:
		return nil, a.fail(err)
	}
}

// finish resolves the terminal status once the response body has
// drained. Status comes from trailers folded over headers, which also
// covers trailers-only responses; a response with neither is a protocol
// violation.
func (a *callAttempt) finish() error {
	trailers := a.stream.Trailers()

	a.mu.Lock()
	if a.done {
		st := a.terminal
		a.mu.Unlock()
		if st == nil {
			return io.EOF
		}
		return st
	}

	a.trailers = trailers
	merged := a.headers.Merge(trailers)
	st, found := statusFromMetadata(merged)
	if !found {
		st = conduiterrors.FromError(conduiterrors.InternalErrorf("response carried no grpc-status"))
	}
	a.done = true
	a.terminal = st
	if st == nil {
		a.state = attemptCompleted
	} else {
		a.state = attemptFaulted
	}
	a.mu.Unlock()

	// Release the attempt context so the deadline watcher and its timer
	// stop with the attempt instead of running until the absolute deadline.
	a.cancel()

	if st == nil {
		return io.EOF
	}
	return st
}

// fail resolves the attempt's terminal status from an operation error.
// An attempt that is already terminal keeps its first status; a pending
// operation that lost a race to cancellation reports the call's outcome,
// never a new one.
func (a *callAttempt) fail(err error) error {
	a.mu.Lock()
	if a.done {
		st := a.terminal
		a.mu.Unlock()
		if st == nil {
			return io.EOF
		}
		return st
	}
	st := a.statusOf(err)
	a.done = true
	a.terminal = st
	switch st.Code() {
	case conduiterrors.CodeCancelled, conduiterrors.CodeDeadlineExceeded:
		a.state = attemptCancelled
	default:
		a.state = attemptFaulted
	}
	a.mu.Unlock()

	a.stream.Abort(st)
	a.cancel()
	return st
}

// abort cancels a live attempt with the given status. Hedging uses it to
// cancel the losing attempts, and call cancellation uses it for every
// live attempt.
func (a *callAttempt) abort(st *conduiterrors.Status) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.done = true
	a.terminal = st
	a.state = attemptCancelled
	a.mu.Unlock()

	if a.stream != nil {
		a.stream.Abort(st)
	}
	a.cancel()
}

// terminalStatus returns the resolved status and whether the attempt is
// terminal. A nil status with done=true is a successful completion.
func (a *callAttempt) terminalStatus() (*conduiterrors.Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminal, a.done
}

// currentTrailers returns the trailing metadata, nil before completion.
func (a *callAttempt) currentTrailers() transport.Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trailers
}

// terminalError builds the post-terminal CallStateError carrying the
// attempt's already-resolved status. Callers hold a.mu.
func (a *callAttempt) terminalError(op string) error {
	return terminalStateError(op, a.terminal)
}

// statusOf translates an operation error to a status: the deadline
// coordinator's verdict wins when the attempt context ended, codec
// errors carry their own mapping, and everything else goes through the
// transport code table.
func (a *callAttempt) statusOf(err error) *conduiterrors.Status {
	if st := deadline.Status(a.ctx); st != nil {
		return st
	}

	var framing *wire.FramingError
	var encoding *wire.UnsupportedEncodingError
	var size *wire.SizeExceededError
	if errors.As(err, &framing) || errors.As(err, &encoding) || errors.As(err, &size) {
		return wire.StatusFromError(err)
	}
	return a.channel.mapper.Status(err)
}

// statusFromMetadata reads the grpc-status entry. A nil status with
// found=true is OK.
func statusFromMetadata(md transport.Metadata) (st *conduiterrors.Status, found bool) {
	if !md.Has(transport.StatusKey) {
		return nil, false
	}
	code, err := conduiterrors.FromWire(md.Get(transport.StatusKey))
	if err != nil {
		return conduiterrors.FromError(conduiterrors.InternalErrorf(
			"malformed grpc-status %q", md.Get(transport.StatusKey))), true
	}
	if code == conduiterrors.CodeOK {
		return nil, true
	}
	return conduiterrors.Newf(code, "%s", md.Get(transport.MessageKey)), true
}

const _maxTimeoutDigits = 99999999

// encodeTimeout renders a deadline's remaining duration in the
// grpc-timeout format: up to eight digits and a unit letter, the
// smallest unit that fits.
func encodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "0n"
	}
	if n := d.Nanoseconds(); n <= _maxTimeoutDigits {
		return fmt.Sprintf("%dn", n)
	}
	if us := d.Microseconds(); us <= _maxTimeoutDigits {
		return fmt.Sprintf("%du", us)
	}
	if ms := d.Milliseconds(); ms <= _maxTimeoutDigits {
		return fmt.Sprintf("%dm", ms)
	}
	if s := int64(d.Seconds()); s <= _maxTimeoutDigits {
		return fmt.Sprintf("%dS", s)
	}
	if m := int64(d.Minutes()); m <= _maxTimeoutDigits {
		return fmt.Sprintf("%dM", m)
	}
	return fmt.Sprintf("%dH", int64(d.Hours()))
}

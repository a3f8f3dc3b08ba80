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

// Package transporttest provides a scriptable in-memory transport for
// exercising the call runtime without a network. Each stream the fake
// hands out follows a script: leading metadata, framed body bytes, and
// trailing metadata, with optional gates to hold a response open while a
// test arranges concurrent attempts.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/transport"
)

// StreamScript describes what one fake stream does.
type StreamScript struct {
	// DialErr, when set, makes NewStream fail outright instead of
	// returning a stream.
	DialErr error

	// HeadersGate, when non-nil, blocks Headers until the channel is
	// closed.
	HeadersGate chan struct{}

	// HeadersErr, when set, is returned from Headers after the gate
	// opens.
	HeadersErr error

	// Headers is the leading metadata.
	Headers transport.Metadata

	// Body is the framed response byte stream.
	Body []byte

	// BodyErr, when set, ends the body with this error instead of io.EOF.
	BodyErr error

	// Trailers is the trailing metadata.
	Trailers transport.Metadata
}

// OKScript returns a script for a successful exchange carrying the given
// framed body bytes.
func OKScript(body []byte) *StreamScript {
	return &StreamScript{
		Headers:  transport.NewMetadata("content-type", "application/grpc"),
		Body:     body,
		Trailers: transport.NewMetadata(transport.StatusKey, "0"),
	}
}

// StatusScript returns a trailers-only script carrying the given status.
func StatusScript(code conduiterrors.Code, message string) *StreamScript {
	md := transport.NewMetadata(transport.StatusKey, strconv.Itoa(int(code)))
	if message != "" {
		md.Set(transport.MessageKey, message)
	}
	return &StreamScript{Headers: md, Trailers: md}
}

// FakeTransportOption configures NewFakeTransport.
type FakeTransportOption func(*FakeTransport)

// Capabilities sets the capability descriptor the fake reports.
func Capabilities(c transport.Capabilities) FakeTransportOption {
	return func(t *FakeTransport) {
		t.capabilities = c
	}
}

// NewFakeTransport returns a fake transport that serves the given scripts
// in order, one per NewStream call.
func NewFakeTransport(scripts []*StreamScript, opts ...FakeTransportOption) *FakeTransport {
	t := &FakeTransport{
		scripts: scripts,
		capabilities: transport.Capabilities{
			ConnectivityTracking: true,
			MultiplexedStreams:   true,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FakeTransport is a scriptable transport.
type FakeTransport struct {
	capabilities transport.Capabilities

	mu       sync.Mutex
	scripts  []*StreamScript
	next     int
	requests []*transport.StreamRequest
	streams  []*FakeStream
	closed   bool
}

// NewStream serves the next script.
func (t *FakeTransport) NewStream(ctx context.Context, req *transport.StreamRequest) (transport.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("fake transport closed")
	}
	if t.next >= len(t.scripts) {
		return nil, fmt.Errorf("fake transport: no script for stream %d", t.next+1)
	}
	script := t.scripts[t.next]
	t.next++
	t.requests = append(t.requests, req)
	if script.DialErr != nil {
		return nil, script.DialErr
	}
	s := newFakeStream(ctx, script)
	t.streams = append(t.streams, s)
	return s, nil
}

// Capabilities reports the configured descriptor.
func (t *FakeTransport) Capabilities() transport.Capabilities {
	return t.capabilities
}

// Close marks the transport closed; subsequent NewStream calls fail.
func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Requests returns the stream requests seen so far, in order.
func (t *FakeTransport) Requests() []*transport.StreamRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*transport.StreamRequest(nil), t.requests...)
}

// Streams returns the streams handed out so far, in order. Streams whose
// script set DialErr never appear.
func (t *FakeTransport) Streams() []*FakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeStream(nil), t.streams...)
}

// FakeStream is one scripted exchange.
type FakeStream struct {
	script *StreamScript
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu         sync.Mutex
	written    bytes.Buffer
	sendClosed bool
	aborted    error
	body       *bytes.Reader
}

func newFakeStream(ctx context.Context, script *StreamScript) *FakeStream {
	sctx, cancel := context.WithCancelCause(ctx)
	return &FakeStream{
		script: script,
		ctx:    sctx,
		cancel: cancel,
		body:   bytes.NewReader(script.Body),
	}
}

// Context returns the stream's lifetime context.
func (s *FakeStream) Context() context.Context {
	return s.ctx
}

// Write records framed request bytes.
func (s *FakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted != nil {
		return 0, s.aborted
	}
	if s.sendClosed {
		return 0, errors.New("fake stream: write after CloseSend")
	}
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.written.Write(p)
}

// CloseSend half-closes the send direction.
func (s *FakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted != nil {
		return s.aborted
	}
	s.sendClosed = true
	return nil
}

// Headers waits for the gate, if any, then returns the scripted leading
// metadata.
func (s *FakeStream) Headers(ctx context.Context) (transport.Metadata, error) {
	if s.script.HeadersGate != nil {
		select {
		case <-s.script.HeadersGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, context.Cause(s.ctx)
		}
	}
	s.mu.Lock()
	aborted := s.aborted
	s.mu.Unlock()
	if aborted != nil {
		return nil, aborted
	}
	if s.script.HeadersErr != nil {
		return nil, s.script.HeadersErr
	}
	return s.script.Headers.Copy(), nil
}

// Body returns the scripted framed response bytes.
func (s *FakeStream) Body() io.Reader {
	return bodyReader{s}
}

// Trailers returns the scripted trailing metadata.
func (s *FakeStream) Trailers() transport.Metadata {
	return s.script.Trailers.Copy()
}

// Abort tears the stream down; pending and future operations fail with
// the reason.
func (s *FakeStream) Abort(reason error) {
	if reason == nil {
		reason = errors.New("stream aborted")
	}
	s.mu.Lock()
	if s.aborted == nil {
		s.aborted = reason
	}
	s.mu.Unlock()
	s.cancel(reason)
}

// Written returns everything the caller wrote to the stream.
func (s *FakeStream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

// SendClosed reports whether CloseSend was called.
func (s *FakeStream) SendClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendClosed
}

// AbortReason returns the abort reason, or nil.
func (s *FakeStream) AbortReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

type bodyReader struct {
	s *FakeStream
}

func (r bodyReader) Read(p []byte) (int, error) {
	r.s.mu.Lock()
	aborted := r.s.aborted
	r.s.mu.Unlock()
	if aborted != nil {
		return 0, aborted
	}
	n, err := r.s.body.Read(p)
	if err == io.EOF && r.s.script.BodyErr != nil {
		return n, r.s.script.BodyErr
	}
	return n, err
}

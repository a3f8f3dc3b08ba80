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

// Package transport defines the collaborator interface the call runtime
// requires from an underlying transport: open a bidirectional stream to an
// address, half-close the send side independently, surface leading metadata
// before body bytes and trailing metadata after, and abort mid-stream with
// a reason. The runtime itself stays transport-agnostic; concrete
// implementations live in subpackages.
package transport

import (
	"context"
	"io"
)

// Capabilities describes what a transport supports, resolved once at
// channel construction instead of inspected at call time.
type Capabilities struct {
	// ConnectivityTracking is true when the transport reports connection
	// state usable by a subchannel manager.
	ConnectivityTracking bool

	// MultiplexedStreams is true when many concurrent streams share one
	// connection.
	MultiplexedStreams bool
}

// StreamRequest carries everything needed to open one stream.
type StreamRequest struct {
	// Target is the authority (host:port) the stream is addressed to.
	Target string

	// Method is the full method path, "/package.Service/Method".
	Method string

	// Metadata holds the outbound leading metadata, including the
	// grpc-encoding and grpc-timeout entries the attempt computed.
	Metadata Metadata
}

// Transport opens streams. Implementations must be safe for concurrent
// use.
type Transport interface {
	// NewStream opens a stream. The context bounds the whole exchange:
	// when it ends, the stream is torn down and pending operations fail.
	NewStream(ctx context.Context, req *StreamRequest) (Stream, error)

	// Capabilities reports the transport's feature descriptor.
	Capabilities() Capabilities

	// Close releases the transport's resources. Only the owner may call
	// it.
	Close() error
}

// Stream is one bidirectional exchange.
//
// The send side is an io.Writer of already-framed bytes with an
// independent half-close. The receive side is two-phase: Headers blocks
// until leading metadata arrives, Body streams the framed response bytes,
// and Trailers is valid once Body has returned io.EOF.
type Stream interface {
	// Context is the stream's lifetime. It ends when the exchange
	// completes, is aborted, or the parent context expires.
	Context() context.Context

	// Write sends framed request bytes. Callers must serialize writes; a
	// Write after CloseSend or after the stream ended fails.
	Write(p []byte) (int, error)

	// CloseSend half-closes the send direction. The receive direction
	// stays usable.
	CloseSend() error

	// Headers blocks until the response's leading metadata arrives.
	Headers(ctx context.Context) (Metadata, error)

	// Body returns the framed response byte stream. Reading past the
	// final frame returns io.EOF.
	Body() io.Reader

	// Trailers returns the trailing metadata. It must only be consulted
	// after Body has returned io.EOF.
	Trailers() Metadata

	// Abort tears the stream down mid-flight with the given reason,
	// failing any pending operations.
	Abort(reason error)
}

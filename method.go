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

import "fmt"

// Cardinality is the streaming shape of a method. One call implementation
// serves all four shapes; the cardinality only gates whether multiple
// sends or receives are permitted.
type Cardinality int

const (
	// Unary is one request, one response.
	Unary Cardinality = iota

	// ClientStream is many requests, one response.
	ClientStream

	// ServerStream is one request, many responses.
	ServerStream

	// Duplex is many requests, many responses.
	Duplex
)

func (c Cardinality) String() string {
	switch c {
	case Unary:
		return "unary"
	case ClientStream:
		return "client-stream"
	case ServerStream:
		return "server-stream"
	case Duplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// ClientStreaming reports whether the caller may send more than one
// request message.
func (c Cardinality) ClientStreaming() bool {
	return c == ClientStream || c == Duplex
}

// ServerStreaming reports whether the server may send more than one
// response message.
func (c Cardinality) ServerStreaming() bool {
	return c == ServerStream || c == Duplex
}

// MethodDescriptor is the immutable identity of an RPC method. Build one
// per method and reuse it; the channel caches derived info keyed by
// service and method name.
type MethodDescriptor struct {
	// Service is the fully qualified service name, "package.Service".
	Service string

	// Method is the bare method name.
	Method string

	// Cardinality is the streaming shape.
	Cardinality Cardinality

	// Marshal serializes one request message.
	Marshal func(interface{}) ([]byte, error)

	// Unmarshal deserializes one response message.
	Unmarshal func([]byte) (interface{}, error)
}

// FullPath returns the wire path, "/package.Service/Method".
func (d *MethodDescriptor) FullPath() string {
	return fmt.Sprintf("/%s/%s", d.Service, d.Method)
}

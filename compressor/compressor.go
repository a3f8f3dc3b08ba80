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

// Package compressor defines the message compression strategy consumed by
// the wire codec, keyed by the grpc-encoding token carried per message.
package compressor

import "io"

// Compressor represents a compression strategy and supports creating new
// compression and decompression streams for that strategy.
//
// This interface is equivalent to the compressor API proposed by grpc-go.
// https://godoc.org/google.golang.org/grpc/encoding#Compressor
type Compressor interface {
	Name() string
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// Registry maps grpc-encoding tokens to compressors. A Registry is built
// once at channel construction and read-only afterwards, so lookups need no
// synchronization.
type Registry struct {
	byName map[string]Compressor
}

// NewRegistry builds a registry from the given compressors, keyed by name.
// Later duplicates win, matching the behavior of re-registering with
// grpc-go's encoding registry.
func NewRegistry(compressors ...Compressor) *Registry {
	byName := make(map[string]Compressor, len(compressors))
	for _, c := range compressors {
		byName[c.Name()] = c
	}
	return &Registry{byName: byName}
}

// Get returns the compressor registered under the given token, if any.
func (r *Registry) Get(name string) (Compressor, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byName[name]
	return c, ok
}

// Names returns the registered tokens, for grpc-accept-encoding
// advertisement.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

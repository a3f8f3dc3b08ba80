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

package transport

import "strings"

// Reserved metadata keys carried by the runtime itself.
const (
	StatusKey         = "grpc-status"
	MessageKey        = "grpc-message"
	EncodingKey       = "grpc-encoding"
	AcceptEncodingKey = "grpc-accept-encoding"
	TimeoutKey        = "grpc-timeout"
)

// Metadata is leading or trailing call metadata. Keys are lowercase;
// values preserve insertion order.
type Metadata map[string][]string

// NewMetadata builds metadata from alternating key/value pairs, for tests
// and simple call sites.
func NewMetadata(pairs ...string) Metadata {
	if len(pairs)%2 != 0 {
		panic("transport.NewMetadata: odd number of arguments")
	}
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		md.Append(pairs[i], pairs[i+1])
	}
	return md
}

// Get returns the first value for the key, or "".
func (md Metadata) Get(key string) string {
	vs := md[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Set replaces the values for the key.
func (md Metadata) Set(key, value string) {
	md[strings.ToLower(key)] = []string{value}
}

// Append adds a value for the key.
func (md Metadata) Append(key, value string) {
	key = strings.ToLower(key)
	md[key] = append(md[key], value)
}

// Has reports whether the key is present.
func (md Metadata) Has(key string) bool {
	_, ok := md[strings.ToLower(key)]
	return ok
}

// Copy returns a deep copy, or nil for nil metadata.
func (md Metadata) Copy() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, vs := range md {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Merge overlays other on top of md, replacing keys present in both. The
// attempt uses this to fold trailers over headers when resolving a
// trailers-only response.
func (md Metadata) Merge(other Metadata) Metadata {
	out := md.Copy()
	if out == nil {
		return other.Copy()
	}
	for k, vs := range other {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

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

package wire

import (
	"fmt"

	"github.com/conduitrpc/conduit/conduiterrors"
)

// FramingError reports a malformed or truncated frame: a stream that ended
// mid-header or mid-payload, an invalid compression flag, or a compressed
// flag without a message encoding.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing violation: %s", e.Reason)
}

// UnsupportedEncodingError reports a grpc-encoding token with no registered
// compressor.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported message encoding %q", e.Encoding)
}

// SizeExceededError reports a message over the configured limit, on either
// the send or the receive path.
type SizeExceededError struct {
	Size  int
	Limit int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

// StatusFromError translates a codec error into the status an attempt
// surfaces for it: framing violations are Internal, unknown encodings are
// Unimplemented, and over-limit messages are ResourceExhausted. Other
// errors pass through FromError.
func StatusFromError(err error) *conduiterrors.Status {
	switch e := err.(type) {
	case nil:
		return nil
	case *FramingError:
		return conduiterrors.Newf(conduiterrors.CodeInternal, "%s", e.Reason)
	case *UnsupportedEncodingError:
		return conduiterrors.Newf(conduiterrors.CodeUnimplemented, "unsupported message encoding %q", e.Encoding)
	case *SizeExceededError:
		return conduiterrors.Newf(conduiterrors.CodeResourceExhausted, "%s", e.Error())
	default:
		return conduiterrors.FromError(err)
	}
}

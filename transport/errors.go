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

import (
	"errors"
	"fmt"

	"github.com/conduitrpc/conduit/conduiterrors"
)

// ErrorKind classifies a transport failure independent of any particular
// protocol's error codes. Transports translate their native codes (HTTP/2
// RST_STREAM codes, connection errors) into a kind; the mapper turns the
// kind into a status.
type ErrorKind int

const (
	// KindUnknown is a transport failure with no usable classification.
	KindUnknown ErrorKind = iota

	// KindStreamReset is an abrupt per-stream termination, such as an
	// HTTP/2 RST_STREAM.
	KindStreamReset

	// KindConnection is a connection-level failure: refused, dropped, or
	// unreachable.
	KindConnection

	// KindProtocol is a protocol violation by the peer.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindStreamReset:
		return "stream-reset"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// NewError classifies a transport failure.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeMapper translates classified transport failures into statuses. New
// transport protocols bring new error codes, so the table is extensible
// rather than hard-coded: construct a mapper with overrides or additions
// per transport.
type CodeMapper struct {
	table map[ErrorKind]conduiterrors.Code
}

// NewCodeMapper returns a mapper with the standard table: stream resets
// map to Cancelled, connection failures to Unavailable, protocol
// violations to Internal, everything else to Unavailable. Overrides
// replace or extend individual entries.
func NewCodeMapper(overrides map[ErrorKind]conduiterrors.Code) *CodeMapper {
	table := map[ErrorKind]conduiterrors.Code{
		KindStreamReset: conduiterrors.CodeCancelled,
		KindConnection:  conduiterrors.CodeUnavailable,
		KindProtocol:    conduiterrors.CodeInternal,
		KindUnknown:     conduiterrors.CodeUnavailable,
	}
	for kind, code := range overrides {
		table[kind] = code
	}
	return &CodeMapper{table: table}
}

// Status resolves an error from a transport operation to a status. Errors
// that already carry a status pass through unchanged; classified transport
// errors go through the table; anything else maps as KindUnknown.
func (m *CodeMapper) Status(err error) *conduiterrors.Status {
	if err == nil {
		return nil
	}
	if conduiterrors.IsStatus(err) {
		return conduiterrors.FromError(err)
	}
	var terr *Error
	if errors.As(err, &terr) {
		return conduiterrors.Newf(m.table[terr.Kind], "transport %s error: %v", terr.Kind, terr.Cause)
	}
	return conduiterrors.Newf(m.table[KindUnknown], "transport error: %v", err)
}

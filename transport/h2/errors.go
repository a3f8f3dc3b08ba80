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

package h2

import (
	"errors"
	"io"
	"net"

	"golang.org/x/net/http2"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/transport"
)

// classify wraps an HTTP/2 failure in a transport error kind. Errors that
// already carry a classification or a status pass through untouched so the
// original cause survives the trip up to the attempt.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}
	if conduiterrors.IsStatus(err) {
		return err
	}

	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		return transport.NewError(transport.KindStreamReset, err)
	}
	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		return transport.NewError(transport.KindConnection, err)
	}
	var connErr http2.ConnectionError
	if errors.As(err, &connErr) {
		return transport.NewError(transport.KindConnection, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return transport.NewError(transport.KindConnection, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return transport.NewError(transport.KindConnection, err)
	}
	return transport.NewError(transport.KindUnknown, err)
}

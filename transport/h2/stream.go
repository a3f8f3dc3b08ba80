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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/conduitrpc/conduit/transport"
)

// NewStream opens an HTTP/2 stream. The request body is a pipe fed by
// Write, so the exchange is fully bidirectional: the response can start
// before the request finishes.
func (t *Transport) NewStream(ctx context.Context, req *transport.StreamRequest) (transport.Stream, error) {
	u := &url.URL{
		Scheme: t.scheme,
		Host:   req.Target,
		Path:   req.Method,
	}

	pr, pw := io.Pipe()
	sctx, cancel := context.WithCancelCause(ctx)
	hreq, err := http.NewRequestWithContext(sctx, http.MethodPost, u.String(), pr)
	if err != nil {
		cancel(err)
		return nil, transport.NewError(transport.KindProtocol, err)
	}
	hreq.Header = make(http.Header, len(req.Metadata)+1)
	for k, vs := range req.Metadata {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("content-type", _contentType)

	s := &stream{
		ctx:    sctx,
		cancel: cancel,
		w:      pw,
		respCh: make(chan struct{}),
	}
	go s.roundTrip(t.client, hreq)
	return s, nil
}

type stream struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	w      *io.PipeWriter

	respCh  chan struct{}
	resp    *http.Response
	respErr error

	wmu        sync.Mutex
	sendClosed bool
}

var _ transport.Stream = (*stream)(nil)

func (s *stream) roundTrip(client *http.Client, req *http.Request) {
	resp, err := client.Do(req)
	if err != nil {
		s.respErr = classify(err)
		close(s.respCh)
		s.cancel(s.respErr)
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		s.respErr = transport.NewError(transport.KindProtocol,
			fmt.Errorf("unexpected HTTP status %q", resp.Status))
		close(s.respCh)
		s.cancel(s.respErr)
		return
	}
	s.resp = resp
	close(s.respCh)
}

func (s *stream) Context() context.Context {
	return s.ctx
}

func (s *stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.sendClosed {
		return 0, transport.NewError(transport.KindStreamReset,
			fmt.Errorf("write after CloseSend"))
	}
	if err := s.ctx.Err(); err != nil {
		return 0, classify(context.Cause(s.ctx))
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

func (s *stream) CloseSend() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.w.Close()
}

func (s *stream) Headers(ctx context.Context) (transport.Metadata, error) {
	select {
	case <-s.respCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.respErr != nil {
		return nil, s.respErr
	}
	md := make(transport.Metadata, len(s.resp.Header))
	for k, vs := range s.resp.Header {
		for _, v := range vs {
			md.Append(k, v)
		}
	}
	return md, nil
}

// Body returns the response byte stream. Reads block until the response
// arrives; errors come back classified.
func (s *stream) Body() io.Reader {
	return bodyReader{s}
}

// Trailers converts the HTTP trailer block. net/http populates it once
// the body has been read through io.EOF.
func (s *stream) Trailers() transport.Metadata {
	select {
	case <-s.respCh:
	default:
		return nil
	}
	if s.resp == nil {
		return nil
	}
	md := make(transport.Metadata, len(s.resp.Trailer))
	for k, vs := range s.resp.Trailer {
		for _, v := range vs {
			md.Append(k, v)
		}
	}
	return md
}

func (s *stream) Abort(reason error) {
	if reason == nil {
		reason = fmt.Errorf("stream aborted")
	}
	s.cancel(reason)
	s.w.CloseWithError(reason)
	select {
	case <-s.respCh:
		if s.resp != nil {
			s.resp.Body.Close()
		}
	default:
	}
}

type bodyReader struct {
	s *stream
}

func (r bodyReader) Read(p []byte) (int, error) {
	select {
	case <-r.s.respCh:
	case <-r.s.ctx.Done():
		return 0, classify(context.Cause(r.s.ctx))
	}
	if r.s.respErr != nil {
		return 0, r.s.respErr
	}
	n, err := r.s.resp.Body.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(err)
	}
	return n, err
}

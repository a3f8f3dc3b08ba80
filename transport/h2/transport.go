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

// Package h2 implements the transport collaborator over HTTP/2. Request
// bodies stream through a pipe so the send side half-closes independently,
// and trailing metadata comes from the HTTP trailer block once the
// response body drains.
package h2

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/conduitrpc/conduit/transport"
)

const _contentType = "application/grpc"

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// TLSConfig enables TLS with the given configuration. Without it the
// transport speaks h2c (HTTP/2 over cleartext TCP).
func TLSConfig(cfg *tls.Config) TransportOption {
	return func(t *Transport) {
		t.tlsConfig = cfg
	}
}

// DialTimeout bounds the TCP dial for each new connection. Defaults to 30
// seconds.
func DialTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.dialTimeout = d
	}
}

// ReadIdleTimeout enables HTTP/2 health-check pings after the connection
// has been idle for the given duration.
func ReadIdleTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.readIdleTimeout = d
	}
}

// NewTransport builds an HTTP/2 transport.
func NewTransport(opts ...TransportOption) *Transport {
	t := &Transport{
		dialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}

	h2t := &http2.Transport{
		TLSClientConfig: t.tlsConfig,
		ReadIdleTimeout: t.readIdleTimeout,
	}
	t.scheme = "https"
	if t.tlsConfig == nil {
		// h2c: dial plain TCP and skip the TLS upgrade.
		h2t.AllowHTTP = true
		h2t.DialTLS = func(network, addr string, _ *tls.Config) (net.Conn, error) {
			return net.DialTimeout(network, addr, t.dialTimeout)
		}
		t.scheme = "http"
	}
	t.client = &http.Client{Transport: h2t}
	t.h2 = h2t
	return t
}

// Transport is an HTTP/2 client transport. It is safe for concurrent use;
// streams to the same authority share a connection.
type Transport struct {
	tlsConfig       *tls.Config
	dialTimeout     time.Duration
	readIdleTimeout time.Duration

	scheme string
	client *http.Client
	h2     *http2.Transport
}

var _ transport.Transport = (*Transport)(nil)

// Capabilities reports the transport's descriptor. net/http hides
// connection state, so connectivity tracking is unavailable.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		ConnectivityTracking: false,
		MultiplexedStreams:   true,
	}
}

// Close releases idle connections. In-flight streams are unaffected.
func (t *Transport) Close() error {
	t.h2.CloseIdleConnections()
	return nil
}

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

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/conduitrpc/conduit/compressor"
	"github.com/conduitrpc/conduit/internal/clock"
	"github.com/conduitrpc/conduit/peer"
	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/transport"
)

// Credentials attaches per-call authentication metadata. Credentials that
// require transport security refuse to run over an insecure target
// scheme; the mismatch fails at channel construction, not at call time.
type Credentials interface {
	// RequireTransportSecurity reports whether the credentials may only
	// travel over a secure transport.
	RequireTransportSecurity() bool

	// RequestMetadata returns metadata to attach to one call.
	RequestMetadata(ctx context.Context) (map[string]string, error)
}

// ChannelOption customizes a Channel.
type ChannelOption func(*channelOptions)

type channelOptions struct {
	logger         *zap.Logger
	scope          tally.Scope
	clock          clock.Clock
	config         *serviceconfig.Config
	compressors    []compressor.Compressor
	encoding       string
	maxSendSize    int
	maxRecvSize    int
	defaultTimeout time.Duration
	perCallBuffer  int
	totalBuffer    int
	codeMapper     *transport.CodeMapper
	credentials    Credentials
	picker         peer.Picker
	ownTransport   bool
}

// Logger sets the channel's logger. Defaults to a no-op logger.
func Logger(l *zap.Logger) ChannelOption {
	return func(o *channelOptions) {
		o.logger = l
	}
}

// Scope sets the channel's metrics scope. Defaults to a no-op scope.
func Scope(s tally.Scope) ChannelOption {
	return func(o *channelOptions) {
		o.scope = s
	}
}

// Clock sets the clock driving deadlines, backoff, and hedging delays.
func Clock(c clock.Clock) ChannelOption {
	return func(o *channelOptions) {
		o.clock = c
	}
}

// ServiceConfig supplies the parsed service configuration: per-method
// retry or hedging policy and the optional channel-wide retry throttle.
// The configuration is validated at channel construction.
func ServiceConfig(cfg *serviceconfig.Config) ChannelOption {
	return func(o *channelOptions) {
		o.config = cfg
	}
}

// Compressors registers message compressors. The first registered name
// becomes available for sending via SendEncoding.
func Compressors(cs ...compressor.Compressor) ChannelOption {
	return func(o *channelOptions) {
		o.compressors = append(o.compressors, cs...)
	}
}

// SendEncoding picks the compressor, by name, for outbound messages.
// Empty means identity.
func SendEncoding(name string) ChannelOption {
	return func(o *channelOptions) {
		o.encoding = name
	}
}

// MaxSendSize caps the uncompressed size of outbound messages.
func MaxSendSize(n int) ChannelOption {
	return func(o *channelOptions) {
		o.maxSendSize = n
	}
}

// MaxRecvSize caps the decompressed size of inbound messages.
func MaxRecvSize(n int) ChannelOption {
	return func(o *channelOptions) {
		o.maxRecvSize = n
	}
}

// DefaultTimeout bounds every call without a caller-supplied deadline.
// The effective deadline is always the earlier of the two.
func DefaultTimeout(d time.Duration) ChannelOption {
	return func(o *channelOptions) {
		o.defaultTimeout = d
	}
}

// RetryBufferLimits caps replay buffering: perCall bounds one call's
// buffered request bytes, total bounds the channel-wide sum. A call that
// exceeds either cap proceeds non-retryable.
func RetryBufferLimits(perCall, total int) ChannelOption {
	return func(o *channelOptions) {
		o.perCallBuffer = perCall
		o.totalBuffer = total
	}
}

// CodeMapper overrides the transport failure to status mapping.
func CodeMapper(m *transport.CodeMapper) ChannelOption {
	return func(o *channelOptions) {
		o.codeMapper = m
	}
}

// WithCredentials attaches call credentials to every call on the
// channel.
func WithCredentials(c Credentials) ChannelOption {
	return func(o *channelOptions) {
		o.credentials = c
	}
}

// WithPicker routes each attempt through a subchannel picker instead of
// the channel's static target address.
func WithPicker(p peer.Picker) ChannelOption {
	return func(o *channelOptions) {
		o.picker = p
	}
}

// OwnTransport marks the transport as channel-owned: Close releases it.
// Leave unset for an externally managed transport.
func OwnTransport() ChannelOption {
	return func(o *channelOptions) {
		o.ownTransport = true
	}
}

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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduitrpc/conduit/compressor"
	"github.com/conduitrpc/conduit/internal/clock"
	"github.com/conduitrpc/conduit/peer"
	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/transport"
	"github.com/conduitrpc/conduit/wire"
)

const (
	// Per-call and channel-wide replay buffer caps, overridable with
	// RetryBufferLimits.
	_defaultPerCallBuffer = 1 << 20
	_defaultTotalBuffer   = 16 << 20
)

var _secureSchemes = map[string]bool{
	"https": true,
	"grpcs": true,
}

var _insecureSchemes = map[string]bool{
	"http": true,
	"grpc": true,
}

// Channel is the configuration root and the factory for logical calls.
// It resolves per-method policy from service configuration, shares one
// retry throttle and one replay budget across its calls, and tracks
// in-flight calls for coordinated cancellation on Close.
type Channel struct {
	target         string
	transport      transport.Transport
	capabilities   transport.Capabilities
	codec          *wire.Codec
	registry       *compressor.Registry
	encoding       string
	provider       *serviceconfig.Provider
	throttle       *retryThrottle
	budget         *bufferBudget
	perCallBuffer  int
	defaultTimeout time.Duration
	logger         *zap.Logger
	clk            clock.Clock
	mapper         *transport.CodeMapper
	credentials    Credentials
	picker         peer.Picker
	ownTransport   bool

	metrics channelMetrics

	// methodInfos caches derived per-method info. Lazy and idempotent;
	// a racing first use computes it twice with identical results.
	methodInfos sync.Map

	mu     sync.Mutex
	calls  map[*Call]struct{}
	closed bool
}

type channelMetrics struct {
	retries   tally.Counter
	hedges    tally.Counter
	throttled tally.Counter
}

// methodInfo is the per-method derived state the channel caches.
type methodInfo struct {
	path   string
	config *serviceconfig.MethodConfig
}

// NewChannel builds a channel for the given target over the given
// transport. The target is "host:port", optionally prefixed with a
// scheme; credentials that require transport security reject insecure
// schemes here rather than at call time.
func NewChannel(target string, t transport.Transport, opts ...ChannelOption) (*Channel, error) {
	if t == nil {
		return nil, errors.New("a transport is required")
	}

	options := channelOptions{
		logger:        zap.NewNop(),
		scope:         tally.NoopScope,
		clock:         clock.NewReal(),
		perCallBuffer: _defaultPerCallBuffer,
		totalBuffer:   _defaultTotalBuffer,
	}
	for _, opt := range opts {
		opt(&options)
	}

	authority, secure, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	if options.credentials != nil && options.credentials.RequireTransportSecurity() && !secure {
		return nil, fmt.Errorf("credentials require transport security but target %q is insecure", target)
	}

	registry := compressor.NewRegistry(options.compressors...)
	if options.encoding != "" {
		if _, ok := registry.Get(options.encoding); !ok {
			return nil, fmt.Errorf("send encoding %q has no registered compressor", options.encoding)
		}
	}

	var provider *serviceconfig.Provider
	var throttle *retryThrottle
	if options.config != nil {
		if err := options.config.Validate(); err != nil {
			return nil, err
		}
		provider = serviceconfig.NewProvider(options.config)
		throttle = newRetryThrottle(options.config.RetryThrottling)
	}

	mapper := options.codeMapper
	if mapper == nil {
		mapper = transport.NewCodeMapper(nil)
	}

	var codecOpts []wire.CodecOption
	codecOpts = append(codecOpts, wire.Compressors(registry))
	if options.maxSendSize > 0 {
		codecOpts = append(codecOpts, wire.MaxSendSize(options.maxSendSize))
	}
	if options.maxRecvSize > 0 {
		codecOpts = append(codecOpts, wire.MaxRecvSize(options.maxRecvSize))
	}

	return &Channel{
		target:         authority,
		transport:      t,
		capabilities:   t.Capabilities(),
		codec:          wire.NewCodec(codecOpts...),
		registry:       registry,
		encoding:       options.encoding,
		provider:       provider,
		throttle:       throttle,
		budget:         newBufferBudget(options.totalBuffer),
		perCallBuffer:  options.perCallBuffer,
		defaultTimeout: options.defaultTimeout,
		logger:         options.logger,
		clk:            options.clock,
		mapper:         mapper,
		credentials:    options.credentials,
		picker:         options.picker,
		ownTransport:   options.ownTransport,
		metrics: channelMetrics{
			retries:   options.scope.Counter("call_retries"),
			hedges:    options.scope.Counter("call_hedges"),
			throttled: options.scope.Counter("call_attempts_throttled"),
		},
		calls: make(map[*Call]struct{}),
	}, nil
}

// parseTarget splits an optional scheme off the target and decides
// whether the scheme is secure. A bare "host:port" is insecure.
func parseTarget(target string) (authority string, secure bool, err error) {
	if target == "" {
		return "", false, errors.New("a target address is required")
	}
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok {
		return target, false, nil
	}
	if rest == "" {
		return "", false, fmt.Errorf("target %q has no address", target)
	}
	switch {
	case _secureSchemes[scheme]:
		return rest, true, nil
	case _insecureSchemes[scheme]:
		return rest, false, nil
	default:
		return "", false, fmt.Errorf("unsupported target scheme %q", scheme)
	}
}

// Target returns the channel's authority.
func (c *Channel) Target() string {
	return c.target
}

// Capabilities returns the transport's capability descriptor, resolved
// once at construction.
func (c *Channel) Capabilities() transport.Capabilities {
	return c.capabilities
}

// methodConfig resolves the method's policy and wire path, cached per
// method identity.
func (c *Channel) methodConfig(desc *MethodDescriptor) *methodInfo {
	key := desc.Service + "/" + desc.Method
	if cached, ok := c.methodInfos.Load(key); ok {
		return cached.(*methodInfo)
	}
	info := &methodInfo{path: desc.FullPath()}
	if c.provider != nil {
		info.config = c.provider.Resolve(desc.Service, desc.Method)
	}
	actual, _ := c.methodInfos.LoadOrStore(key, info)
	return actual.(*methodInfo)
}

// register adds a call to the active set. It fails once the channel is
// closed.
func (c *Channel) register(call *Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.calls[call] = struct{}{}
	return nil
}

func (c *Channel) unregister(call *Call) {
	c.mu.Lock()
	delete(c.calls, call)
	c.mu.Unlock()
}

// Close cancels every active call and, when the channel owns its
// transport, releases it. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	active := make([]*Call, 0, len(c.calls))
	for call := range c.calls {
		active = append(active, call)
	}
	c.mu.Unlock()

	for _, call := range active {
		call.Cancel()
	}

	var err error
	if c.ownTransport {
		err = multierr.Append(err, c.transport.Close())
	}
	return err
}

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

package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduitrpc/conduit/internal/backoff"
	"github.com/conduitrpc/conduit/internal/clock"
)

// ManagerOption customizes a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	dialer      Dialer
	clock       clock.Clock
	logger      *zap.Logger
	scope       tally.Scope
	backoffOpts []backoff.ExponentialOption
}

// WithDialer sets the connectivity prober. The default dials TCP and
// holds the connection open as a liveness probe.
func WithDialer(d Dialer) ManagerOption {
	return func(o *managerOptions) {
		o.dialer = d
	}
}

// WithClock sets the clock used for reconnect backoff timers.
func WithClock(c clock.Clock) ManagerOption {
	return func(o *managerOptions) {
		o.clock = c
	}
}

// WithLogger sets the logger for state transitions.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithScope sets the metrics scope.
func WithScope(s tally.Scope) ManagerOption {
	return func(o *managerOptions) {
		o.scope = s
	}
}

// WithBackoff sets the reconnect backoff parameters.
func WithBackoff(opts ...backoff.ExponentialOption) ManagerOption {
	return func(o *managerOptions) {
		o.backoffOpts = opts
	}
}

// Manager tracks subchannels for a set of addresses and aggregates their
// connectivity into one channel-level state.
type Manager struct {
	logger      *zap.Logger
	transitions tally.Counter
	cancel      context.CancelFunc

	mu       sync.Mutex
	order    []string
	states   map[string]State
	subs     map[string]*Subchannel
	changed  chan struct{}
	started  bool
	shutdown bool
}

// NewManager builds a manager for the given addresses. Call Start to
// begin connecting.
func NewManager(addrs []string, opts ...ManagerOption) (*Manager, error) {
	if len(addrs) == 0 {
		return nil, errNoAddresses
	}

	options := managerOptions{
		clock:  clock.NewReal(),
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.dialer == nil {
		options.dialer = tcpDialer{}
	}

	strategy, err := backoff.NewExponential(options.backoffOpts...)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:      options.logger,
		transitions: options.scope.Counter("subchannel_transitions"),
		states:      make(map[string]State, len(addrs)),
		subs:        make(map[string]*Subchannel, len(addrs)),
		changed:     make(chan struct{}),
	}
	var dup error
	for _, addr := range addrs {
		if _, ok := m.subs[addr]; ok {
			dup = multierr.Append(dup, errDuplicateAddress(addr))
			continue
		}
		m.order = append(m.order, addr)
		m.states[addr] = Idle
		m.subs[addr] = &Subchannel{
			addr:    addr,
			manager: m,
			dialer:  options.dialer,
			clock:   options.clock,
			backoff: strategy,
			logger:  options.logger,
		}
	}
	if dup != nil {
		return nil, dup
	}
	return m, nil
}

// Start launches the subchannel reconnect loops. It is a no-op after the
// first call.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.shutdown {
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	for _, addr := range m.order {
		go m.subs[addr].run(ctx)
	}
}

// Shutdown moves every subchannel to the terminal Shutdown state and
// stops the reconnect loops. It is idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	for addr := range m.states {
		m.states[addr] = Shutdown
	}
	cancel := m.cancel
	m.broadcastLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the aggregate connectivity state: the best state across
// all subchannels.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregateLocked()
}

// Subchannels returns the subchannels in address order.
func (m *Manager) Subchannels() []*Subchannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]*Subchannel, 0, len(m.order))
	for _, addr := range m.order {
		subs = append(subs, m.subs[addr])
	}
	return subs
}

// WaitForStateChanged blocks until the aggregate state differs from
// lastObserved, then returns the new state. Every waiter is released on
// each transition.
func (m *Manager) WaitForStateChanged(ctx context.Context, lastObserved State) (State, error) {
	for {
		m.mu.Lock()
		current := m.aggregateLocked()
		changed := m.changed
		m.mu.Unlock()

		if current != lastObserved {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

// ReadyAddrs returns the addresses currently Ready, in address order.
func (m *Manager) ReadyAddrs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []string
	for _, addr := range m.order {
		if m.states[addr] == Ready {
			ready = append(ready, addr)
		}
	}
	return ready
}

func (m *Manager) subchannelState(addr string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[addr]
}

func (m *Manager) setSubchannelState(addr string, next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	prev := m.states[addr]
	if prev == next {
		return
	}
	m.states[addr] = next
	m.transitions.Inc(1)
	m.logger.Debug("subchannel state change",
		zap.String("addr", addr),
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	m.broadcastLocked()
}

func (m *Manager) aggregateLocked() State {
	if m.shutdown {
		return Shutdown
	}
	states := make([]State, 0, len(m.order))
	for _, addr := range m.order {
		states = append(states, m.states[addr])
	}
	return bestState(states)
}

// broadcastLocked releases every WaitForStateChanged waiter.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// tcpDialer probes with a plain TCP connect and watches the connection
// for closure.
type tcpDialer struct{}

func (tcpDialer) Dial(ctx context.Context, addr string) (<-chan struct{}, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	lost := make(chan struct{})
	go func() {
		defer close(lost)
		defer conn.Close()
		buf := make([]byte, 1)
		for {
			conn.SetReadDeadline(time.Time{})
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return lost, nil
}

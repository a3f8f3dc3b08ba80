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
	"time"

	"go.uber.org/zap"

	"github.com/conduitrpc/conduit/internal/backoff"
	"github.com/conduitrpc/conduit/internal/clock"
)

// Dialer probes connectivity to one address. A successful dial stays
// Ready until the returned channel closes, which signals connection loss.
type Dialer interface {
	Dial(ctx context.Context, addr string) (lost <-chan struct{}, err error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string) (<-chan struct{}, error)

// Dial calls the function.
func (f DialerFunc) Dial(ctx context.Context, addr string) (<-chan struct{}, error) {
	return f(ctx, addr)
}

// Subchannel runs the reconnect loop for one address.
type Subchannel struct {
	addr    string
	manager *Manager
	dialer  Dialer
	clock   clock.Clock
	backoff *backoff.Exponential
	logger  *zap.Logger
}

// Addr returns the subchannel's address.
func (s *Subchannel) Addr() string {
	return s.addr
}

// State returns the subchannel's current state.
func (s *Subchannel) State() State {
	return s.manager.subchannelState(s.addr)
}

// run drives the Idle, Connecting, Ready, TransientFailure loop until the
// context ends. Reconnect backoff counts consecutive failures and resets
// on every Ready.
func (s *Subchannel) run(ctx context.Context) {
	var failures uint
	for {
		if ctx.Err() != nil {
			return
		}
		s.manager.setSubchannelState(s.addr, Connecting)

		lost, err := s.dialer.Dial(ctx, s.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("subchannel connect failed",
				zap.String("addr", s.addr),
				zap.Error(err))
			s.manager.setSubchannelState(s.addr, TransientFailure)
			if !s.sleep(ctx, s.backoff.Duration(failures)) {
				return
			}
			failures++
			s.manager.setSubchannelState(s.addr, Idle)
			continue
		}

		failures = 0
		s.manager.setSubchannelState(s.addr, Ready)

		select {
		case <-ctx.Done():
			return
		case <-lost:
		}
		s.logger.Debug("subchannel connection lost", zap.String("addr", s.addr))
		s.manager.setSubchannelState(s.addr, Idle)
	}
}

// sleep waits for the backoff duration on the connection-scoped timer. It
// returns false when the context ended first.
func (s *Subchannel) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

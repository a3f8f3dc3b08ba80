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
	"go.uber.org/atomic"

	"github.com/conduitrpc/conduit/conduiterrors"
)

// Picker chooses an address for one call attempt.
type Picker interface {
	Pick() (string, error)
}

// PickFirst returns a picker that always uses the manager's first
// address, the policy for a single resolved address.
func PickFirst(m *Manager) Picker {
	return pickFirst{m}
}

type pickFirst struct {
	m *Manager
}

func (p pickFirst) Pick() (string, error) {
	if p.m.State() == Shutdown {
		return "", conduiterrors.UnavailableErrorf("channel is shut down")
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.m.order[0], nil
}

// RoundRobin returns a picker that cycles through the addresses that are
// currently Ready.
func RoundRobin(m *Manager) Picker {
	return &roundRobin{m: m}
}

type roundRobin struct {
	m    *Manager
	next atomic.Uint64
}

func (p *roundRobin) Pick() (string, error) {
	if p.m.State() == Shutdown {
		return "", conduiterrors.UnavailableErrorf("channel is shut down")
	}
	ready := p.m.ReadyAddrs()
	if len(ready) == 0 {
		return "", conduiterrors.UnavailableErrorf("no ready address")
	}
	i := p.next.Inc() - 1
	return ready[i%uint64(len(ready))], nil
}

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

// Package peer tracks connectivity to a set of backend addresses. Each
// address gets a subchannel running an Idle, Connecting, Ready,
// TransientFailure reconnect loop; the manager aggregates subchannel
// states into one channel-level connectivity state and picks an address
// per call.
package peer

// State is the connectivity state of a subchannel or of the channel as a
// whole.
type State int

const (
	// Idle means no connection attempt is in progress or planned.
	Idle State = iota

	// Connecting means a connection attempt is in flight.
	Connecting

	// Ready means the address is connected and usable.
	Ready

	// TransientFailure means the last attempt failed; a reconnect is
	// scheduled after backoff.
	TransientFailure

	// Shutdown is terminal. No further transitions happen.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case TransientFailure:
		return "transient-failure"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// _rank orders states for aggregation, best first.
var _rank = map[State]int{
	Ready:            0,
	Connecting:       1,
	TransientFailure: 2,
	Idle:             3,
	Shutdown:         4,
}

// bestState returns the best state across subchannels. An empty set is
// Idle.
func bestState(states []State) State {
	if len(states) == 0 {
		return Idle
	}
	best := states[0]
	for _, s := range states[1:] {
		if _rank[s] < _rank[best] {
			best = s
		}
	}
	return best
}

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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/backoff"
)

// scriptDialer serves per-address scripts: each Dial pops the next step.
type scriptDialer struct {
	mu    sync.Mutex
	steps map[string][]dialStep
	calls map[string]int
}

type dialStep struct {
	err  error
	lost chan struct{}
}

func (d *scriptDialer) Dial(ctx context.Context, addr string) (<-chan struct{}, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[addr]++
	steps := d.steps[addr]
	if len(steps) == 0 {
		d.mu.Unlock()
		// Out of script: hold the connection open forever.
		return make(chan struct{}), nil
	}
	step := steps[0]
	d.steps[addr] = steps[1:]
	d.mu.Unlock()
	if step.err != nil {
		return nil, step.err
	}
	return step.lost, nil
}

func (d *scriptDialer) dials(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[addr]
}

// blockingDialer never completes a dial, pinning subchannels in
// Connecting.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, addr string) (<-chan struct{}, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never held")
}

func fastBackoff() ManagerOption {
	return WithBackoff(
		backoff.Initial(time.Millisecond),
		backoff.Max(time.Millisecond),
	)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, errNoAddresses)

	_, err = NewManager([]string{"a:1", "a:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate address "a:1"`)
}

func TestManagerBecomesReady(t *testing.T) {
	m, err := NewManager([]string{"a:1"}, WithDialer(&scriptDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	assert.Equal(t, Idle, m.State())
	m.Start()
	waitUntil(t, func() bool { return m.State() == Ready })
	assert.Equal(t, []string{"a:1"}, m.ReadyAddrs())
	assert.Equal(t, Ready, m.Subchannels()[0].State())
}

func TestAggregateIsBestState(t *testing.T) {
	dialer := &scriptDialer{steps: map[string][]dialStep{
		"bad:1": {
			{err: errors.New("refused")},
			{err: errors.New("refused")},
			{err: errors.New("refused")},
		},
	}}
	m, err := NewManager([]string{"good:1", "bad:1"}, WithDialer(dialer), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	m.Start()
	waitUntil(t, func() bool { return m.State() == Ready })
	waitUntil(t, func() bool {
		return len(m.ReadyAddrs()) >= 1 && m.ReadyAddrs()[0] == "good:1"
	})
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	lost := make(chan struct{})
	dialer := &scriptDialer{steps: map[string][]dialStep{
		"a:1": {
			{err: errors.New("refused")},
			{lost: lost},
		},
	}}
	m, err := NewManager([]string{"a:1"}, WithDialer(dialer), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	m.Start()
	waitUntil(t, func() bool { return m.State() == Ready })

	require.Equal(t, 2, dialer.dials("a:1"))

	// Drop the connection; the loop redials via the dialer's
	// out-of-script default and becomes Ready again.
	close(lost)
	waitUntil(t, func() bool { return dialer.dials("a:1") >= 3 && m.State() == Ready })
}

func TestWaitForStateChangedReleasesAllWaiters(t *testing.T) {
	m, err := NewManager([]string{"a:1"}, WithDialer(blockingDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const waiters = 3
	results := make(chan State, waiters)
	var started sync.WaitGroup
	started.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			started.Done()
			state, err := m.WaitForStateChanged(ctx, Idle)
			if err == nil {
				results <- state
			}
		}()
	}
	started.Wait()

	m.Start()
	for i := 0; i < waiters; i++ {
		select {
		case state := <-results:
			assert.Equal(t, Connecting, state)
		case <-ctx.Done():
			t.Fatal("waiter never released")
		}
	}
}

func TestWaitForStateChangedObservesStaleState(t *testing.T) {
	m, err := NewManager([]string{"a:1"}, WithDialer(blockingDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The caller's last observation is already stale, so the wait returns
	// immediately.
	state, err := m.WaitForStateChanged(ctx, Ready)
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
}

func TestShutdownIsTerminalAndIdempotent(t *testing.T) {
	m, err := NewManager([]string{"a:1"}, WithDialer(&scriptDialer{}), fastBackoff())
	require.NoError(t, err)

	m.Start()
	waitUntil(t, func() bool { return m.State() == Ready })

	m.Shutdown()
	m.Shutdown()
	assert.Equal(t, Shutdown, m.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := m.WaitForStateChanged(ctx, Ready)
	require.NoError(t, err)
	assert.Equal(t, Shutdown, state)
}

func TestPickFirst(t *testing.T) {
	m, err := NewManager([]string{"a:1", "b:2"}, WithDialer(blockingDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	picker := PickFirst(m)
	addr, err := picker.Pick()
	require.NoError(t, err)
	assert.Equal(t, "a:1", addr)

	m.Shutdown()
	_, err = picker.Pick()
	assert.Equal(t, conduiterrors.CodeUnavailable, conduiterrors.ErrorCode(err))
}

func TestRoundRobinCyclesReadyAddrs(t *testing.T) {
	m, err := NewManager([]string{"a:1", "b:2", "c:3"}, WithDialer(&scriptDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	m.Start()
	waitUntil(t, func() bool { return len(m.ReadyAddrs()) == 3 })

	picker := RoundRobin(m)
	var picks []string
	for i := 0; i < 4; i++ {
		addr, err := picker.Pick()
		require.NoError(t, err)
		picks = append(picks, addr)
	}
	assert.Equal(t, []string{"a:1", "b:2", "c:3", "a:1"}, picks)
}

func TestRoundRobinNoReadyAddrs(t *testing.T) {
	m, err := NewManager([]string{"a:1"}, WithDialer(blockingDialer{}), fastBackoff())
	require.NoError(t, err)
	defer m.Shutdown()

	_, err = RoundRobin(m).Pick()
	assert.Equal(t, conduiterrors.CodeUnavailable, conduiterrors.ErrorCode(err))
}

func TestBestState(t *testing.T) {
	assert.Equal(t, Idle, bestState(nil))
	assert.Equal(t, Ready, bestState([]State{TransientFailure, Ready, Idle}))
	assert.Equal(t, Connecting, bestState([]State{TransientFailure, Connecting}))
	assert.Equal(t, TransientFailure, bestState([]State{Idle, TransientFailure}))
	assert.Equal(t, Shutdown, bestState([]State{Shutdown}))
}

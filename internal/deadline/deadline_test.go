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

package deadline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/internal/clock"
)

func TestEffective(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		desc     string
		user     time.Time
		def      time.Duration
		want     time.Time
		wantNone bool
	}{
		{
			desc: "tighter user deadline wins",
			user: now.Add(2 * time.Second),
			def:  5 * time.Second,
			want: now.Add(2 * time.Second),
		},
		{
			desc: "tighter channel default wins",
			user: now.Add(5 * time.Second),
			def:  2 * time.Second,
			want: now.Add(2 * time.Second),
		},
		{
			desc: "only user deadline",
			user: now.Add(time.Second),
			want: now.Add(time.Second),
		},
		{
			desc: "only channel default",
			def:  3 * time.Second,
			want: now.Add(3 * time.Second),
		},
		{
			desc:     "neither",
			wantNone: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, ok := Effective(now, tt.user, tt.def)
			if tt.wantNone {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttemptExpiresWithDeadlineStatus(t *testing.T) {
	fc := clock.NewFake()
	coord := NewCoordinator(fc, fc.Now().Add(time.Second))

	ctx, cancel := coord.Attempt(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("attempt expired before the deadline")
	default:
	}

	fc.Add(2 * time.Second)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("attempt did not expire")
	}

	st := Status(ctx)
	require.NotNil(t, st)
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, st.Code())
}

func TestAttemptCancelledStatus(t *testing.T) {
	fc := clock.NewFake()
	coord := NewCoordinator(fc, fc.Now().Add(time.Minute))

	ctx, cancel := coord.Attempt(context.Background())
	cancel()

	<-ctx.Done()
	st := Status(ctx)
	require.NotNil(t, st)
	assert.Equal(t, conduiterrors.CodeCancelled, st.Code())
}

func TestAttemptWithoutDeadline(t *testing.T) {
	fc := clock.NewFake()
	coord := NewCoordinator(fc, time.Time{})

	ctx, cancel := coord.Attempt(context.Background())
	fc.Add(time.Hour)
	select {
	case <-ctx.Done():
		t.Fatal("deadline-less attempt expired")
	default:
	}
	cancel()
	<-ctx.Done()
	assert.Equal(t, conduiterrors.CodeCancelled, Status(ctx).Code())
}

func TestFreshTimerSameAbsoluteDeadline(t *testing.T) {
	fc := clock.NewFake()
	coord := NewCoordinator(fc, fc.Now().Add(2*time.Second))

	// First attempt burns half the budget, then a second attempt starts.
	// Its timer is measured against the same absolute deadline, so it
	// expires after the remaining second, not a fresh two seconds.
	ctx1, cancel1 := coord.Attempt(context.Background())
	fc.Add(time.Second)
	cancel1()
	<-ctx1.Done()

	ctx2, cancel2 := coord.Attempt(context.Background())
	defer cancel2()

	fc.Add(time.Second + 10*time.Millisecond)
	select {
	case <-ctx2.Done():
	case <-time.After(time.Second):
		t.Fatal("second attempt outlived the absolute deadline")
	}
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, Status(ctx2).Code())
}

func TestCheckReschedulesEarlyFire(t *testing.T) {
	fc := clock.NewFake()
	deadline := fc.Now().Add(time.Second)
	coord := NewCoordinator(fc, deadline)

	// A fire 100ms before the wall-clock deadline reschedules for the
	// remainder plus epsilon rather than expiring.
	wait, expired := coord.check(deadline.Add(-100 * time.Millisecond))
	assert.False(t, expired)
	assert.Equal(t, 100*time.Millisecond+coord.epsilon, wait)

	_, expired = coord.check(deadline)
	assert.True(t, expired)
}

func TestExpired(t *testing.T) {
	fc := clock.NewFake()
	coord := NewCoordinator(fc, fc.Now().Add(time.Second))
	assert.False(t, coord.Expired())
	fc.Add(time.Second)
	assert.True(t, coord.Expired())

	assert.False(t, NewCoordinator(fc, time.Time{}).Expired())
}

func TestStatusLiveContext(t *testing.T) {
	assert.Nil(t, Status(context.Background()))
}

func TestStatusPlainContextDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	<-ctx.Done()
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, Status(ctx).Code())
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/transport/transporttest"
)

func TestHedgeFirstAttemptSucceeds(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "pong")),
	})
	// A long delay keeps the second attempt from ever launching.
	ch, err := NewChannel("host:443", ft,
		ServiceConfig(hedgeConfig(3, time.Hour, "UNAVAILABLE")))
	require.NoError(t, err)

	got, err := ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
	assert.Len(t, ft.Requests(), 1)
}

func TestHedgeContinuesPastNonFatalFailures(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeUnavailable, "one"),
		transporttest.StatusScript(conduiterrors.CodeUnavailable, "two"),
		transporttest.OKScript(frameMsg(t, "X")),
	})
	scope := tally.NewTestScope("", nil)
	ch, err := NewChannel("host:443", ft,
		ServiceConfig(hedgeConfig(3, time.Hour, "UNAVAILABLE")),
		Scope(scope),
	)
	require.NoError(t, err)

	got, err := ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.NoError(t, err)
	assert.Equal(t, "X", got)
	assert.Len(t, ft.Requests(), 3, "each non-fatal failure triggers the next hedge")
	assert.EqualValues(t, 2, counterValue(scope, "call_hedges"))

	for _, s := range ft.Streams() {
		assert.Equal(t, frameMsg(t, "ping"), s.Written())
	}
}

func TestHedgeFatalStatusCommits(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeInvalidArgument, "bad request"),
		transporttest.OKScript(frameMsg(t, "never")),
	})
	ch, err := NewChannel("host:443", ft,
		ServiceConfig(hedgeConfig(3, time.Hour, "UNAVAILABLE")))
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeInvalidArgument, conduiterrors.ErrorCode(err))
	assert.Len(t, ft.Requests(), 1, "a fatal status stops hedging")
}

func TestHedgeExhaustionReportsLastFailure(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeUnavailable, "first"),
		transporttest.StatusScript(conduiterrors.CodeUnavailable, "last"),
	})
	ch, err := NewChannel("host:443", ft,
		ServiceConfig(hedgeConfig(2, time.Hour, "UNAVAILABLE")))
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeUnavailable, conduiterrors.ErrorCode(err))
	assert.Contains(t, err.Error(), "last")
	assert.Len(t, ft.Requests(), 2)
}

func TestHedgeZeroDelayRacesAttempts(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{HeadersGate: gate},
		transporttest.OKScript(frameMsg(t, "fast")),
	})
	ch, err := NewChannel("host:443", ft,
		ServiceConfig(hedgeConfig(2, 0, "UNAVAILABLE")))
	require.NoError(t, err)

	got, err := ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.NoError(t, err)
	assert.Equal(t, "fast", got)
	assert.Len(t, ft.Requests(), 2, "zero delay launches both attempts")

	// The losing attempt gets cancelled when the winner commits.
	var aborted int
	for _, s := range ft.Streams() {
		if s.AbortReason() != nil {
			aborted++
		}
	}
	assert.Equal(t, 1, aborted)
}

func TestHedgeThrottleStopsExtraAttempts(t *testing.T) {
	cfg := hedgeConfig(3, time.Hour, "UNAVAILABLE")
	cfg.RetryThrottling = &serviceconfig.ThrottlingPolicy{
		MaxTokens:  2,
		TokenRatio: 1,
	}
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeUnavailable, "one"),
		transporttest.OKScript(frameMsg(t, "never")),
	})
	scope := tally.NewTestScope("", nil)
	ch, err := NewChannel("host:443", ft, ServiceConfig(cfg), Scope(scope))
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeUnavailable, conduiterrors.ErrorCode(err))
	assert.Len(t, ft.Requests(), 1, "the throttle blocks the second hedge")
	assert.EqualValues(t, 1, counterValue(scope, "call_attempts_throttled"))
}

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
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitrpc/conduit/conduiterrors"
	"github.com/conduitrpc/conduit/transport"
	"github.com/conduitrpc/conduit/transport/transporttest"
)

func TestInvokeSuccess(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "pong")),
	})
	ch, err := NewChannel("127.0.0.1:8000", ft)
	require.NoError(t, err)

	got, err := ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	reqs := ft.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/echo.Echo/Call", reqs[0].Method)
	assert.Equal(t, "127.0.0.1:8000", reqs[0].Target)

	streams := ft.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, frameMsg(t, "ping"), streams[0].Written())
	assert.True(t, streams[0].SendClosed())
}

func TestInvokeTrailersOnlyFailure(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeNotFound, "no such thing"),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeNotFound, conduiterrors.ErrorCode(err))
	assert.Contains(t, err.Error(), "no such thing")
}

func TestInvokeMissingStatusIsInternal(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{
			Headers:  transport.NewMetadata("content-type", "application/grpc"),
			Trailers: transport.Metadata{},
		},
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeInternal, conduiterrors.ErrorCode(err))
	assert.Contains(t, err.Error(), "no grpc-status")
}

func TestInvokeWithoutResponseMessageIsInternal(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeOK, ""),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeInternal, conduiterrors.ErrorCode(err))
	assert.Contains(t, err.Error(), "without a response message")
}

func TestUnaryRejectsSecondSend(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "pong")),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(Unary))
	require.NoError(t, err)
	defer call.Cancel()

	require.NoError(t, call.Send("one"))

	err = call.Send("two")
	var cse *CallStateError
	require.ErrorAs(t, err, &cse)
	assert.False(t, cse.Terminal)
	assert.Equal(t, "send", cse.Op)
}

func TestFailedMarshalDoesNotConsumeUnarySend(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "pong")),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	desc := echoDesc(Unary)
	desc.Marshal = func(msg interface{}) ([]byte, error) {
		s, ok := msg.(string)
		if !ok {
			return nil, errors.New("message is not a string")
		}
		return []byte(s), nil
	}

	call, err := ch.NewCall(context.Background(), desc)
	require.NoError(t, err)
	defer call.Cancel()

	err = call.Send(42)
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeInternal, conduiterrors.ErrorCode(err))

	// The failed marshal left the single request slot unused.
	require.NoError(t, call.Send("ping"))
}

func TestRecvImpliesCloseSendForServerStreaming(t *testing.T) {
	body := append(frameMsg(t, "a"), frameMsg(t, "b")...)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(body),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(ServerStream))
	require.NoError(t, err)
	require.NoError(t, call.Send("req"))

	first, err := call.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", first)
	assert.True(t, ft.Streams()[0].SendClosed(), "first Recv half-closes the send side")

	second, err := call.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", second)

	_, err = call.Recv()
	assert.Equal(t, io.EOF, err)

	st, done := call.Status()
	require.True(t, done)
	assert.Nil(t, st, "nil status with done means OK")

	trailers := call.Trailers()
	require.NotNil(t, trailers)
	assert.Equal(t, "0", trailers.Get(transport.StatusKey))
}

func TestSendAfterFailureReportsSameStatus(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.StatusScript(conduiterrors.CodeInternal, "boom"),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(Duplex))
	require.NoError(t, err)

	_, err = call.Recv()
	require.Error(t, err)
	require.Equal(t, conduiterrors.CodeInternal, conduiterrors.ErrorCode(err))

	serr := call.Send("late")
	var cse *CallStateError
	require.ErrorAs(t, serr, &cse)
	assert.True(t, cse.Terminal)
	assert.Equal(t, conduiterrors.CodeInternal, cse.Code)
	require.NotNil(t, cse.Status)
	assert.Equal(t, conduiterrors.CodeInternal, cse.Status.Code())
}

func TestSendAfterSuccessReportsOKTerminal(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "a")),
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(Duplex))
	require.NoError(t, err)
	require.NoError(t, call.Send("req"))
	require.NoError(t, call.CloseSend())

	_, err = call.Recv()
	require.NoError(t, err)
	_, err = call.Recv()
	require.Equal(t, io.EOF, err)

	serr := call.Send("late")
	var cse *CallStateError
	require.ErrorAs(t, serr, &cse)
	assert.True(t, cse.Terminal)
	assert.Equal(t, conduiterrors.CodeOK, cse.Code)
	assert.Nil(t, cse.Status)
}

func TestSendAfterDeadlineReportsDeadlineExceeded(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{HeadersGate: gate},
	})
	ch, err := NewChannel("host:443", ft, DefaultTimeout(30*time.Millisecond))
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(Duplex))
	require.NoError(t, err)
	require.NoError(t, call.Send("ping"))

	_, err = call.Recv()
	require.Error(t, err)
	require.Equal(t, conduiterrors.CodeDeadlineExceeded, conduiterrors.ErrorCode(err))

	serr := call.Send("late")
	var cse *CallStateError
	require.ErrorAs(t, serr, &cse)
	assert.True(t, cse.Terminal)
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, cse.Code)
	require.NotNil(t, cse.Status)
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, cse.Status.Code())
}

func TestCompletedCallReleasesAttemptContext(t *testing.T) {
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		transporttest.OKScript(frameMsg(t, "pong")),
	})
	ch, err := NewChannel("host:443", ft, DefaultTimeout(time.Hour))
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.NoError(t, err)

	// The attempt context ends with the call, which also stops the
	// deadline watcher, rather than idling until the hour-long deadline.
	stream := ft.Streams()[0]
	assert.Error(t, stream.Context().Err())
}

func TestDefaultTimeoutExpiresCall(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{HeadersGate: gate},
	})
	ch, err := NewChannel("host:443", ft, DefaultTimeout(30*time.Millisecond))
	require.NoError(t, err)

	_, err = ch.Invoke(context.Background(), echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, conduiterrors.ErrorCode(err))
}

func TestCallerDeadlineWinsWhenEarlier(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{HeadersGate: gate},
	})
	ch, err := NewChannel("host:443", ft, DefaultTimeout(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = ch.Invoke(ctx, echoDesc(Unary), "ping")
	require.Error(t, err)
	assert.Equal(t, conduiterrors.CodeDeadlineExceeded, conduiterrors.ErrorCode(err))
	assert.Less(t, time.Since(start), time.Minute, "the caller's deadline bounds the call")
}

func TestCancelAbortsStream(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ft := transporttest.NewFakeTransport([]*transporttest.StreamScript{
		{HeadersGate: gate},
	})
	ch, err := NewChannel("host:443", ft)
	require.NoError(t, err)

	call, err := ch.NewCall(context.Background(), echoDesc(Duplex))
	require.NoError(t, err)
	require.NoError(t, call.Send("ping"))
	require.Eventually(t, func() bool {
		return len(ft.Streams()) == 1
	}, 5*time.Second, time.Millisecond)

	call.Cancel()

	st, done := call.Status()
	require.True(t, done)
	assert.Equal(t, conduiterrors.CodeCancelled, st.Code())
	assert.Error(t, ft.Streams()[0].AbortReason())

	// Later operations keep reporting the same terminal outcome.
	serr := call.Send("late")
	var cse *CallStateError
	require.ErrorAs(t, serr, &cse)
	assert.True(t, cse.Terminal)
	assert.Equal(t, conduiterrors.CodeCancelled, cse.Code)
}

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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conduitrpc/conduit/serviceconfig"
	"github.com/conduitrpc/conduit/wire"
)

// frameMsg frames one message the way the channel's codec does, so
// scripted response bodies round-trip through Deframe.
func frameMsg(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.NewCodec().Frame(&buf, []byte(payload), ""))
	return buf.Bytes()
}

// echoDesc describes a string-in string-out method.
func echoDesc(card Cardinality) *MethodDescriptor {
	return &MethodDescriptor{
		Service:     "echo.Echo",
		Method:      "Call",
		Cardinality: card,
		Marshal: func(msg interface{}) ([]byte, error) {
			return []byte(msg.(string)), nil
		},
		Unmarshal: func(b []byte) (interface{}, error) {
			return string(b), nil
		},
	}
}

// retryConfig builds a service config retrying the given codes on
// /echo.Echo/Call with a near-zero backoff.
func retryConfig(maxAttempts int, codes ...string) *serviceconfig.Config {
	return &serviceconfig.Config{
		MethodConfigs: []serviceconfig.MethodConfig{{
			Names: []serviceconfig.Name{{Service: "echo.Echo", Method: "Call"}},
			Retry: &serviceconfig.RetryPolicy{
				MaxAttempts:          maxAttempts,
				InitialBackoff:       time.Millisecond,
				MaxBackoff:           2 * time.Millisecond,
				BackoffMultiplier:    2,
				RetryableStatusCodes: codes,
			},
		}},
	}
}

// hedgeConfig builds a service config hedging /echo.Echo/Call.
func hedgeConfig(maxAttempts int, delay time.Duration, nonFatal ...string) *serviceconfig.Config {
	return &serviceconfig.Config{
		MethodConfigs: []serviceconfig.MethodConfig{{
			Names: []serviceconfig.Name{{Service: "echo.Echo", Method: "Call"}},
			Hedging: &serviceconfig.HedgingPolicy{
				MaxAttempts:         maxAttempts,
				HedgingDelay:        delay,
				NonFatalStatusCodes: nonFatal,
			},
		}},
	}
}

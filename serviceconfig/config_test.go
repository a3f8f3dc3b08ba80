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

package serviceconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitrpc/conduit/conduiterrors"
)

func TestDecodeRetryConfig(t *testing.T) {
	cfg, err := Decode(map[string]interface{}{
		"methodConfig": []interface{}{
			map[string]interface{}{
				"name": []interface{}{
					map[string]interface{}{"service": "echo.Echo", "method": "Ping"},
				},
				"timeout": "5s",
				"retryPolicy": map[string]interface{}{
					"maxAttempts":          3,
					"initialBackoff":       "100ms",
					"maxBackoff":           "1s",
					"backoffMultiplier":    2.0,
					"retryableStatusCodes": []interface{}{"UNAVAILABLE", "DEADLINE_EXCEEDED"},
				},
			},
		},
		"retryThrottling": map[string]interface{}{
			"maxTokens":  10,
			"tokenRatio": 0.5,
		},
	})
	require.NoError(t, err)
	require.Len(t, cfg.MethodConfigs, 1)

	mc := cfg.MethodConfigs[0]
	assert.Equal(t, 5*time.Second, mc.Timeout)
	require.NotNil(t, mc.Retry)
	assert.Equal(t, 3, mc.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, mc.Retry.InitialBackoff)
	assert.True(t, mc.Retry.Retryable(conduiterrors.CodeUnavailable))
	assert.True(t, mc.Retry.Retryable(conduiterrors.CodeDeadlineExceeded))
	assert.False(t, mc.Retry.Retryable(conduiterrors.CodeInternal))

	require.NotNil(t, cfg.RetryThrottling)
	assert.Equal(t, 10.0, cfg.RetryThrottling.MaxTokens)
	assert.Equal(t, 0.5, cfg.RetryThrottling.TokenRatio)
}

func TestDecodeHedgingConfig(t *testing.T) {
	cfg, err := Decode(map[string]interface{}{
		"methodConfig": []interface{}{
			map[string]interface{}{
				"name": []interface{}{
					map[string]interface{}{"service": "echo.Echo"},
				},
				"hedgingPolicy": map[string]interface{}{
					"maxAttempts":         3,
					"hedgingDelay":        "10ms",
					"nonFatalStatusCodes": []interface{}{"UNAVAILABLE"},
				},
			},
		},
	})
	require.NoError(t, err)

	hp := cfg.MethodConfigs[0].Hedging
	require.NotNil(t, hp)
	assert.Equal(t, 3, hp.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, hp.HedgingDelay)
	assert.True(t, hp.NonFatal(conduiterrors.CodeUnavailable))
	assert.False(t, hp.NonFatal(conduiterrors.CodeInternal))
}

func TestValidationFailures(t *testing.T) {
	valid := func() *Config {
		return &Config{
			MethodConfigs: []MethodConfig{{
				Names: []Name{{Service: "s", Method: "m"}},
				Retry: &RetryPolicy{
					MaxAttempts:          2,
					InitialBackoff:       time.Second,
					MaxBackoff:           time.Second,
					BackoffMultiplier:    1,
					RetryableStatusCodes: []string{"UNAVAILABLE"},
				},
			}},
		}
	}

	tests := []struct {
		desc   string
		mutate func(*Config)
	}{
		{desc: "no names", mutate: func(c *Config) { c.MethodConfigs[0].Names = nil }},
		{desc: "method without service", mutate: func(c *Config) {
			c.MethodConfigs[0].Names = []Name{{Method: "m"}}
		}},
		{desc: "duplicate names", mutate: func(c *Config) {
			c.MethodConfigs = append(c.MethodConfigs, MethodConfig{
				Names: []Name{{Service: "s", Method: "m"}},
			})
		}},
		{desc: "retry and hedging together", mutate: func(c *Config) {
			c.MethodConfigs[0].Hedging = &HedgingPolicy{MaxAttempts: 2}
		}},
		{desc: "one attempt", mutate: func(c *Config) { c.MethodConfigs[0].Retry.MaxAttempts = 1 }},
		{desc: "zero initial backoff", mutate: func(c *Config) { c.MethodConfigs[0].Retry.InitialBackoff = 0 }},
		{desc: "zero max backoff", mutate: func(c *Config) { c.MethodConfigs[0].Retry.MaxBackoff = 0 }},
		{desc: "zero multiplier", mutate: func(c *Config) { c.MethodConfigs[0].Retry.BackoffMultiplier = 0 }},
		{desc: "no retryable codes", mutate: func(c *Config) { c.MethodConfigs[0].Retry.RetryableStatusCodes = nil }},
		{desc: "unknown code name", mutate: func(c *Config) {
			c.MethodConfigs[0].Retry.RetryableStatusCodes = []string{"NOT_A_CODE"}
		}},
		{desc: "negative timeout", mutate: func(c *Config) { c.MethodConfigs[0].Timeout = -time.Second }},
		{desc: "zero max tokens", mutate: func(c *Config) {
			c.RetryThrottling = &ThrottlingPolicy{MaxTokens: 0, TokenRatio: 0.5}
		}},
		{desc: "zero token ratio", mutate: func(c *Config) {
			c.RetryThrottling = &ThrottlingPolicy{MaxTokens: 10, TokenRatio: 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, valid().Validate())
}

func TestTokenRatioTruncation(t *testing.T) {
	cfg := &Config{
		RetryThrottling: &ThrottlingPolicy{MaxTokens: 10, TokenRatio: 0.1239},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.123, cfg.RetryThrottling.TokenRatio)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(map[string]interface{}{
		"methodConfig": "not a list",
	})
	require.Error(t, err)
}

func TestProviderPrecedence(t *testing.T) {
	cfg := &Config{
		MethodConfigs: []MethodConfig{
			{
				Names:   []Name{{Service: "ServiceA", Method: "MethodX"}},
				Timeout: 1 * time.Second,
			},
			{
				Names:   []Name{{Service: "ServiceA"}},
				Timeout: 2 * time.Second,
			},
			{
				Names:   []Name{{}},
				Timeout: 3 * time.Second,
			},
		},
	}
	require.NoError(t, cfg.Validate())
	provider := NewProvider(cfg)

	assert.Equal(t, 1*time.Second, provider.Resolve("ServiceA", "MethodX").Timeout)
	assert.Equal(t, 2*time.Second, provider.Resolve("ServiceA", "MethodY").Timeout)
	assert.Equal(t, 3*time.Second, provider.Resolve("ServiceB", "MethodZ").Timeout)
}

func TestProviderNoMatch(t *testing.T) {
	provider := NewProvider(&Config{
		MethodConfigs: []MethodConfig{
			{Names: []Name{{Service: "ServiceA"}}},
		},
	})
	assert.Nil(t, provider.Resolve("ServiceB", "Whatever"))
	assert.Nil(t, NewProvider(nil).Resolve("ServiceA", "MethodX"))
}

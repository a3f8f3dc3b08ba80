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
	"sync"

	"github.com/conduitrpc/conduit/serviceconfig"
)

// retryThrottle is the channel-wide token counter gating extra attempts.
// Tokens start at maxTokens; a retryable failure costs tokenRatio, a
// success or non-retryable outcome refunds one token, and extra attempts
// are suppressed while tokens sit at or below half of maxTokens. All
// calls on a channel share one instance.
type retryThrottle struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	tokenRatio float64
}

// newRetryThrottle builds a throttle from the channel's throttling
// policy. A nil policy disables throttling; every method on a nil
// throttle is a safe no-op that always admits.
func newRetryThrottle(policy *serviceconfig.ThrottlingPolicy) *retryThrottle {
	if policy == nil {
		return nil
	}
	return &retryThrottle{
		tokens:     policy.MaxTokens,
		maxTokens:  policy.MaxTokens,
		tokenRatio: policy.TokenRatio,
	}
}

// allow reports whether an extra attempt may start.
func (t *retryThrottle) allow() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens > t.maxTokens/2
}

// onSuccess refunds one token for a success or non-retryable outcome.
func (t *retryThrottle) onSuccess() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += 1
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
}

// onRetryableFailure charges tokenRatio for a retryable failure.
func (t *retryThrottle) onRetryableFailure() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens -= t.tokenRatio
	if t.tokens < 0 {
		t.tokens = 0
	}
}

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

package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeilingSequence(t *testing.T) {
	strategy, err := NewExponential(
		Initial(time.Second),
		Max(8*time.Second),
		Multiplier(2),
	)
	require.NoError(t, err)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, ceiling := range want {
		assert.Equal(t, ceiling, strategy.Ceiling(uint(attempt)), "attempt %d", attempt)
	}
}

func TestDurationWithinCeiling(t *testing.T) {
	strategy, err := NewExponential(
		Initial(time.Second),
		Max(8*time.Second),
		Multiplier(2),
		RandSource(rand.New(rand.NewSource(42))),
	)
	require.NoError(t, err)

	for attempt := uint(0); attempt < 6; attempt++ {
		ceiling := strategy.Ceiling(attempt)
		for i := 0; i < 100; i++ {
			d := strategy.Duration(attempt)
			assert.True(t, d >= 0, "negative backoff")
			assert.True(t, d <= ceiling, "backoff %v above ceiling %v", d, ceiling)
		}
	}
}

func TestCeilingOverflowClampsToMax(t *testing.T) {
	strategy, err := NewExponential(
		Initial(time.Second),
		Max(time.Hour),
		Multiplier(10),
	)
	require.NoError(t, err)

	// Far past the point where the float math would overflow.
	assert.Equal(t, time.Hour, strategy.Ceiling(500))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		desc string
		opts []ExponentialOption
	}{
		{desc: "zero initial", opts: []ExponentialOption{Initial(0)}},
		{desc: "negative max", opts: []ExponentialOption{Max(-time.Second)}},
		{desc: "zero multiplier", opts: []ExponentialOption{Multiplier(0)}},
		{desc: "max below initial", opts: []ExponentialOption{Initial(time.Minute), Max(time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := NewExponential(tt.opts...)
			require.Error(t, err)
		})
	}
}

func TestDefaults(t *testing.T) {
	strategy, err := NewExponential()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, strategy.Ceiling(0))
}

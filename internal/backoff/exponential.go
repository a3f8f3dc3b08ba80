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

// Package backoff implements the full-jitter exponential backoff shared by
// the retry orchestrator and subchannel reconnect loops. The chosen delay
// for attempt n is uniform in [0, ceiling(n)] where ceiling(n) is the
// initial backoff grown by the multiplier and clamped to the max.
package backoff

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ExponentialOption configures an exponential backoff strategy.
type ExponentialOption func(*exponentialOptions)

type exponentialOptions struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	rand       *rand.Rand
}

func (e exponentialOptions) validate() (err error) {
	if e.initial <= 0 {
		err = multierr.Append(err, errors.New("initial backoff must be greater than zero"))
	}
	if e.max <= 0 {
		err = multierr.Append(err, errors.New("max backoff must be greater than zero"))
	}
	if e.max < e.initial {
		err = multierr.Append(err, errors.New("max backoff must not be less than the initial backoff"))
	}
	if e.multiplier <= 0 {
		err = multierr.Append(err, errors.New("backoff multiplier must be greater than zero"))
	}
	return err
}

var defaultExponentialOpts = exponentialOptions{
	initial:    100 * time.Millisecond,
	max:        time.Minute,
	multiplier: 1.6,
}

// Initial sets the first attempt's backoff ceiling.
func Initial(d time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.initial = d
	}
}

// Max sets the absolute cap on the backoff ceiling.
func Max(d time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.max = d
	}
}

// Multiplier sets the per-attempt growth factor for the ceiling.
func Multiplier(m float64) ExponentialOption {
	return func(options *exponentialOptions) {
		options.multiplier = m
	}
}

// RandSource seeds the jitter with a caller-owned random source. A shared
// source must not be handed to multiple strategies.
func RandSource(r *rand.Rand) ExponentialOption {
	return func(options *exponentialOptions) {
		options.rand = r
	}
}

// Exponential is a full-jitter exponential backoff strategy. It is safe to
// use concurrently.
type Exponential struct {
	opts   exponentialOptions
	randMu sync.Mutex
}

// NewExponential returns a new exponential backoff strategy.
func NewExponential(opts ...ExponentialOption) (*Exponential, error) {
	options := defaultExponentialOpts
	for _, opt := range opts {
		opt(&options)
	}

	if err := options.validate(); err != nil {
		return nil, err
	}
	if options.rand == nil {
		options.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Exponential{opts: options}, nil
}

// Ceiling returns the maximum delay Duration may choose for the given
// zero-based attempt number: initial*multiplier^attempt, clamped to max.
func (e *Exponential) Ceiling(attempt uint) time.Duration {
	ceiling := float64(e.opts.initial)
	maxf := float64(e.opts.max)
	for i := uint(0); i < attempt; i++ {
		ceiling *= e.opts.multiplier
		if ceiling >= maxf {
			return e.opts.max
		}
	}
	if ceiling >= maxf {
		return e.opts.max
	}
	return time.Duration(ceiling)
}

// Duration returns the delay to wait before the given zero-based attempt
// number, chosen uniformly in [0, Ceiling(attempt)].
func (e *Exponential) Duration(attempt uint) time.Duration {
	ceiling := e.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	e.randMu.Lock()
	d := time.Duration(e.opts.rand.Int63n(int64(ceiling) + 1))
	e.randMu.Unlock()
	return d
}

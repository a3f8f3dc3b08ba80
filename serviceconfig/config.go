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

// Package serviceconfig holds the per-method policy model a channel
// consumes: retry or hedging parameters keyed by method-name patterns, plus
// an optional channel-wide retry throttling policy. The channel consumes
// the parsed result; reading config files is the caller's concern.
//
// Validation is eager. A channel constructed with an invalid config fails
// at construction, never at call time.
package serviceconfig

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/uber-go/mapdecode"
	"go.uber.org/multierr"

	"github.com/conduitrpc/conduit/conduiterrors"
)

const _tagName = "config"

// Config is a parsed service configuration document.
type Config struct {
	// MethodConfigs are the per-method-pattern policies. Later entries do
	// not override earlier ones; duplicate names are a validation error.
	MethodConfigs []MethodConfig `config:"methodConfig"`

	// RetryThrottling is the optional channel-wide retry throttle.
	RetryThrottling *ThrottlingPolicy `config:"retryThrottling"`
}

// Name selects the methods a MethodConfig applies to. An empty Method
// matches every method of the Service; an empty Service (with an empty
// Method) is the channel-wide default.
type Name struct {
	Service string `config:"service"`
	Method  string `config:"method"`
}

func (n Name) String() string {
	return fmt.Sprintf("/%s/%s", n.Service, n.Method)
}

// MethodConfig is the resolved policy for a set of method names. At most
// one of Retry and Hedging may be set.
type MethodConfig struct {
	Names []Name `config:"name"`

	// Timeout is the default per-call deadline applied when the caller
	// supplies none, or the tighter bound when the caller's is looser.
	Timeout time.Duration `config:"timeout"`

	Retry   *RetryPolicy   `config:"retryPolicy"`
	Hedging *HedgingPolicy `config:"hedgingPolicy"`
}

// RetryPolicy configures sequential reattempts with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts caps the total number of attempts including the
	// original. Must be at least 2.
	MaxAttempts int `config:"maxAttempts"`

	// InitialBackoff is the first retry's backoff ceiling; must be
	// positive.
	InitialBackoff time.Duration `config:"initialBackoff"`

	// MaxBackoff clamps the backoff ceiling; must be positive.
	MaxBackoff time.Duration `config:"maxBackoff"`

	// BackoffMultiplier grows the ceiling per retry; must be positive.
	BackoffMultiplier float64 `config:"backoffMultiplier"`

	// RetryableStatusCodes lists the codes that qualify for retry, spelled
	// the way gRPC service configs spell them ("UNAVAILABLE").
	RetryableStatusCodes []string `config:"retryableStatusCodes"`

	codes map[conduiterrors.Code]struct{}
}

// Retryable reports whether the code qualifies for a retry.
func (p *RetryPolicy) Retryable(code conduiterrors.Code) bool {
	_, ok := p.codes[code]
	return ok
}

// HedgingPolicy configures parallel attempts launched at a fixed delay.
type HedgingPolicy struct {
	// MaxAttempts caps the number of concurrent attempts including the
	// original. Must be at least 2.
	MaxAttempts int `config:"maxAttempts"`

	// HedgingDelay separates successive attempt launches; zero launches
	// them all at once.
	HedgingDelay time.Duration `config:"hedgingDelay"`

	// NonFatalStatusCodes lists codes that do not commit the call: an
	// attempt failing with one of these lets its siblings keep running.
	NonFatalStatusCodes []string `config:"nonFatalStatusCodes"`

	codes map[conduiterrors.Code]struct{}
}

// NonFatal reports whether an attempt outcome with this code leaves the
// remaining hedged attempts running.
func (p *HedgingPolicy) NonFatal(code conduiterrors.Code) bool {
	_, ok := p.codes[code]
	return ok
}

// ThrottlingPolicy configures the channel-wide retry throttle.
type ThrottlingPolicy struct {
	// MaxTokens is the bucket capacity; must be positive.
	MaxTokens float64 `config:"maxTokens"`

	// TokenRatio is the per-failure decrement; must be positive, with at
	// most three decimal places honored.
	TokenRatio float64 `config:"tokenRatio"`
}

// Decode binds a parsed configuration document (typically the result of
// JSON or YAML unmarshalling) into a validated Config.
func Decode(src interface{}) (*Config, error) {
	var cfg Config
	if err := mapdecode.Decode(&cfg, src, mapdecode.TagName(_tagName)); err != nil {
		return nil, fmt.Errorf("malformed service config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every policy eagerly and resolves status-code name sets.
// It must be called before the config is handed to a channel; Decode does
// so automatically.
func (c *Config) Validate() error {
	var errs error
	seen := make(map[Name]struct{})
	for i := range c.MethodConfigs {
		mc := &c.MethodConfigs[i]
		if len(mc.Names) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d]: at least one name is required", i))
		}
		for _, name := range mc.Names {
			if name.Service == "" && name.Method != "" {
				errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d]: name %v has a method but no service", i, name))
			}
			if _, dup := seen[name]; dup {
				errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d]: duplicate name %v", i, name))
			}
			seen[name] = struct{}{}
		}
		if mc.Timeout < 0 {
			errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d]: timeout must not be negative", i))
		}
		if mc.Retry != nil && mc.Hedging != nil {
			errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d]: retryPolicy and hedgingPolicy are mutually exclusive", i))
		}
		if mc.Retry != nil {
			errs = multierr.Append(errs, mc.Retry.validate(i))
		}
		if mc.Hedging != nil {
			errs = multierr.Append(errs, mc.Hedging.validate(i))
		}
	}
	if c.RetryThrottling != nil {
		errs = multierr.Append(errs, c.RetryThrottling.validate())
	}
	return errs
}

func (p *RetryPolicy) validate(i int) error {
	var errs error
	if p.MaxAttempts < 2 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: maxAttempts must be at least 2", i))
	}
	if p.InitialBackoff <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: initialBackoff must be positive", i))
	}
	if p.MaxBackoff <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: maxBackoff must be positive", i))
	}
	if p.BackoffMultiplier <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: backoffMultiplier must be positive", i))
	}
	if len(p.RetryableStatusCodes) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: retryableStatusCodes must not be empty", i))
	}
	codes, err := parseCodes(p.RetryableStatusCodes)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].retryPolicy: %v", i, err))
	}
	p.codes = codes
	return errs
}

func (p *HedgingPolicy) validate(i int) error {
	var errs error
	if p.MaxAttempts < 2 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].hedgingPolicy: maxAttempts must be at least 2", i))
	}
	if p.HedgingDelay < 0 {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].hedgingPolicy: hedgingDelay must not be negative", i))
	}
	codes, err := parseCodes(p.NonFatalStatusCodes)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("methodConfig[%d].hedgingPolicy: %v", i, err))
	}
	p.codes = codes
	return errs
}

func (p *ThrottlingPolicy) validate() error {
	var errs error
	if p.MaxTokens <= 0 {
		errs = multierr.Append(errs, errors.New("retryThrottling: maxTokens must be positive"))
	}
	if p.TokenRatio <= 0 {
		errs = multierr.Append(errs, errors.New("retryThrottling: tokenRatio must be positive"))
	}
	// Only three decimal places of the ratio are honored.
	p.TokenRatio = math.Floor(p.TokenRatio*1000) / 1000
	if p.TokenRatio == 0 {
		errs = multierr.Append(errs, errors.New("retryThrottling: tokenRatio must be at least 0.001"))
	}
	return errs
}

func parseCodes(names []string) (map[conduiterrors.Code]struct{}, error) {
	codes := make(map[conduiterrors.Code]struct{}, len(names))
	var errs error
	for _, name := range names {
		var code conduiterrors.Code
		if err := code.UnmarshalText([]byte(name)); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		codes[code] = struct{}{}
	}
	return codes, errs
}

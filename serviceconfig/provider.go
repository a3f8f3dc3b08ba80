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

// Provider resolves the MethodConfig for a method with ordered precedence:
//
//  1. an exact (service, method) match,
//  2. a (service, "") service-wide match,
//  3. the ("", "") channel-wide default, if any.
//
// A Provider is built once at channel construction and read-only
// afterwards.
type Provider struct {
	byName map[Name]*MethodConfig
}

// NewProvider indexes a validated Config for resolution.
func NewProvider(cfg *Config) *Provider {
	byName := make(map[Name]*MethodConfig)
	if cfg != nil {
		for i := range cfg.MethodConfigs {
			mc := &cfg.MethodConfigs[i]
			for _, name := range mc.Names {
				byName[name] = mc
			}
		}
	}
	return &Provider{byName: byName}
}

// Resolve returns the most specific MethodConfig for the method, or nil if
// no pattern matches.
func (p *Provider) Resolve(service, method string) *MethodConfig {
	if mc, ok := p.byName[Name{Service: service, Method: method}]; ok {
		return mc
	}
	if mc, ok := p.byName[Name{Service: service}]; ok {
		return mc
	}
	return p.byName[Name{}]
}

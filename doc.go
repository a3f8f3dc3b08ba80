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

// Package conduit is a managed gRPC client runtime: a channel abstraction
// that multiplexes RPCs over HTTP/2-style transports, a per-call state
// machine handling framing, compression, deadlines and cancellation, and
// a retry/hedging layer driven by declarative service configuration.
//
// A Channel owns the transport configuration, resolves per-method policy
// from service configuration, and is the factory for logical calls. Each
// logical call runs one or more attempts; the retry or hedging
// orchestrator decides how many attempts to run and which attempt's
// result reaches the caller. Statuses travel in trailing metadata the way
// gRPC carries them, and transport-level failures are synthesized into
// statuses through a configurable mapping so retry policies can act on
// them.
package conduit

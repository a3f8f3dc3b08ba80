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
	"errors"
	"fmt"

	"github.com/conduitrpc/conduit/conduiterrors"
)

// ErrChannelClosed is returned when a call is created on a closed
// channel.
var ErrChannelClosed = errors.New("channel is closed")

// CallStateError reports an operation attempted against a call or
// attempt whose state forbids it. When the call already reached a
// terminal state, Code and Status carry that same terminal outcome so
// callers can tell "your RPC failed with X" apart from "you misused the
// API".
type CallStateError struct {
	// Op is the operation that was attempted.
	Op string

	// Reason describes why the operation is invalid.
	Reason string

	// Terminal is true when the call already completed; Code then holds
	// the terminal code.
	Terminal bool

	// Code is the call's terminal code. CodeOK for a call that completed
	// successfully.
	Code conduiterrors.Code

	// Status is the terminal status, nil for CodeOK.
	Status *conduiterrors.Status
}

// terminalStateError builds the CallStateError for an operation on a
// call or attempt whose terminal status is already resolved. A nil
// status means the call completed successfully.
func terminalStateError(op string, st *conduiterrors.Status) *CallStateError {
	return &CallStateError{
		Op:       op,
		Reason:   "call already completed",
		Terminal: true,
		Code:     st.Code(),
		Status:   st,
	}
}

func (e *CallStateError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("%s after call completed with code %v: %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Op, e.Reason)
}

// Unwrap exposes the terminal status for errors.Is/As chains.
func (e *CallStateError) Unwrap() error {
	if e.Status == nil {
		return nil
	}
	return e.Status
}

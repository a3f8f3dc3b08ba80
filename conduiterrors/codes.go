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

package conduiterrors

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// CodeOK means no error; the call completed successfully.
	CodeOK Code = 0

	// CodeCancelled means the call was cancelled, typically by the caller.
	CodeCancelled Code = 1

	// CodeUnknown is used for errors that carry no usable code, for example
	// errors raised by collaborators outside this runtime.
	CodeUnknown Code = 2

	// CodeInvalidArgument means the caller specified an invalid argument,
	// regardless of the state of the system.
	CodeInvalidArgument Code = 3

	// CodeDeadlineExceeded means the effective deadline expired before the
	// call could complete. The operation may still have completed on the
	// remote side.
	CodeDeadlineExceeded Code = 4

	// CodeNotFound means a requested entity was not found.
	CodeNotFound Code = 5

	// CodeAlreadyExists means the entity a caller attempted to create
	// already exists.
	CodeAlreadyExists Code = 6

	// CodePermissionDenied means the caller does not have permission to
	// execute the specified operation.
	CodePermissionDenied Code = 7

	// CodeResourceExhausted means some resource has been exhausted, such as
	// a quota or a configured message-size limit.
	CodeResourceExhausted Code = 8

	// CodeFailedPrecondition means the system is not in a state required
	// for the operation's execution.
	CodeFailedPrecondition Code = 9

	// CodeAborted means the operation was aborted, typically due to a
	// concurrency issue such as a transaction abort.
	CodeAborted Code = 10

	// CodeOutOfRange means the operation was attempted past the valid
	// range.
	CodeOutOfRange Code = 11

	// CodeUnimplemented means the operation is not implemented or enabled,
	// including unknown compression encodings.
	CodeUnimplemented Code = 12

	// CodeInternal means an invariant expected by the underlying system was
	// broken, including wire protocol violations.
	CodeInternal Code = 13

	// CodeUnavailable means the service is currently unavailable. This is
	// most likely transient and the usual candidate for retry policies.
	CodeUnavailable Code = 14

	// CodeDataLoss means unrecoverable data loss or corruption.
	CodeDataLoss Code = 15

	// CodeUnauthenticated means the request does not have valid
	// authentication credentials.
	CodeUnauthenticated Code = 16
)

var (
	_codeToString = map[Code]string{
		CodeOK:                 "ok",
		CodeCancelled:          "cancelled",
		CodeUnknown:            "unknown",
		CodeInvalidArgument:    "invalid-argument",
		CodeDeadlineExceeded:   "deadline-exceeded",
		CodeNotFound:           "not-found",
		CodeAlreadyExists:      "already-exists",
		CodePermissionDenied:   "permission-denied",
		CodeResourceExhausted:  "resource-exhausted",
		CodeFailedPrecondition: "failed-precondition",
		CodeAborted:            "aborted",
		CodeOutOfRange:         "out-of-range",
		CodeUnimplemented:      "unimplemented",
		CodeInternal:           "internal",
		CodeUnavailable:        "unavailable",
		CodeDataLoss:           "data-loss",
		CodeUnauthenticated:    "unauthenticated",
	}
	_stringToCode = map[string]Code{
		"ok":                  CodeOK,
		"cancelled":           CodeCancelled,
		"unknown":             CodeUnknown,
		"invalid-argument":    CodeInvalidArgument,
		"deadline-exceeded":   CodeDeadlineExceeded,
		"not-found":           CodeNotFound,
		"already-exists":      CodeAlreadyExists,
		"permission-denied":   CodePermissionDenied,
		"resource-exhausted":  CodeResourceExhausted,
		"failed-precondition": CodeFailedPrecondition,
		"aborted":             CodeAborted,
		"out-of-range":        CodeOutOfRange,
		"unimplemented":       CodeUnimplemented,
		"internal":            CodeInternal,
		"unavailable":         CodeUnavailable,
		"data-loss":           CodeDataLoss,
		"unauthenticated":     CodeUnauthenticated,
	}
)

// Code is the terminal status code of an RPC, matching gRPC's standard
// 17-code taxonomy.
//
// On the wire the code travels as its decimal value in the grpc-status
// trailer; use ToWire and FromWire for that representation.
type Code int

// String returns the string representation of the Code.
func (c Code) String() string {
	s, ok := _codeToString[c]
	if ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// ToWire returns the decimal representation of the Code used in the
// grpc-status trailer.
func (c Code) ToWire() string {
	return strconv.Itoa(int(c))
}

// FromWire parses a decimal grpc-status trailer value. Values outside the
// known taxonomy decode to CodeUnknown, per the gRPC spec.
func FromWire(value string) (Code, error) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return CodeUnknown, fmt.Errorf("malformed status code %q: %v", value, err)
	}
	c := Code(i)
	if _, ok := _codeToString[c]; !ok {
		return CodeUnknown, nil
	}
	return c, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	s, ok := _codeToString[c]
	if ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unknown code: %d", int(c))
}

// UnmarshalText implements encoding.TextUnmarshaler.
//
// Both the dashed string form ("deadline-exceeded") and the SCREAMING form
// used by gRPC service configs ("DEADLINE_EXCEEDED") are accepted.
func (c *Code) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	s = strings.ReplaceAll(s, "_", "-")
	i, ok := _stringToCode[s]
	if !ok {
		return fmt.Errorf("unknown code string: %s", string(text))
	}
	*c = i
	return nil
}

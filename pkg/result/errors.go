// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package result

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies an invocation failure. The code decides whether the
// client retries the call and how the failure is reported to the caller.
type ErrorCode string

const (
	// CodeConnectionExhausted means every endpoint/transport candidate was
	// tried and none produced a usable connection.
	CodeConnectionExhausted ErrorCode = "connection_exhausted"

	// CodeTimeout means the overall invocation deadline elapsed.
	CodeTimeout ErrorCode = "timeout"

	// CodeProtocolMismatch means the remote endpoint answered, but not in
	// the protocol shape this client speaks.
	CodeProtocolMismatch ErrorCode = "protocol_mismatch"

	// CodeTaskFailed means the agent accepted the operation and reported
	// failure as its outcome.
	CodeTaskFailed ErrorCode = "task_failed"

	// CodeTransientNetwork covers connection resets, refusals and other
	// network-level faults that may succeed on retry.
	CodeTransientNetwork ErrorCode = "transient_network"

	// CodeAuthRejected means the endpoint rejected our credentials.
	// Never retried.
	CodeAuthRejected ErrorCode = "auth_rejected"

	// CodeSessionLost means an established protocol session became invalid.
	// The session is re-established at most once per invocation.
	CodeSessionLost ErrorCode = "session_lost"

	// CodeParseError means a response arrived but could not be decoded.
	CodeParseError ErrorCode = "parse_error"

	// CodeBadRequest means the endpoint rejected the request as malformed.
	CodeBadRequest ErrorCode = "bad_request"

	// CodeCanceled means the task was canceled before reaching a terminal
	// outcome.
	CodeCanceled ErrorCode = "canceled"

	// CodeInvalidConfig means the agent configuration itself is unusable.
	CodeInvalidConfig ErrorCode = "invalid_config"

	// CodeNotFound and CodeUnsupportedMedia classify endpoint probes during
	// transport resolution. They steer candidate fallback and are folded
	// into connection_exhausted when no candidate remains.
	CodeNotFound         ErrorCode = "not_found"
	CodeUnsupportedMedia ErrorCode = "unsupported_media"
)

// Error is the error type produced by adapters and the client. It carries a
// classification code so callers can branch with CodeOf instead of matching
// message text.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the classification, message and wrapped cause, since
// error interface values do not encode on their own.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Cause   string    `json:"cause,omitempty"`
	}{Code: e.Code, Message: e.Message}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// Retryable reports whether the failure class may succeed if the same call
// is attempted again. Auth rejections are permanent by definition.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTransientNetwork, CodeSessionLost:
		return true
	default:
		return false
	}
}

// NewError creates a classified error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a classified error wrapping an underlying cause.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the classification code from err. Unclassified errors
// report as transient_network so a stray net error stays retryable.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransientNetwork
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

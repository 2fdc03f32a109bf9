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

// Package result defines the uniform outcome type returned by every agent
// invocation, regardless of which protocol served it, plus the error
// taxonomy the adapters classify failures into.
package result

import "encoding/json"

// TaskState represents the lifecycle state of a conversational task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Terminal reports whether the state ends the task lifecycle.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// TaskResult is the single outcome type for an operation invocation.
// Exactly one of the data payload or the error is populated; the fields
// are unexported so the only way to build one is through Success, Failure,
// FailureFromError or Suspended, which cannot produce a mixed state.
type TaskResult struct {
	ok       bool
	state    TaskState
	taskID   string
	data     map[string]any
	err      *Error
	metadata map[string]any
}

// State returns the final lifecycle state observed. Single-call protocols
// report completed or failed directly.
func (r TaskResult) State() TaskState { return r.state }

// TaskID identifies the remote task when the protocol assigns one.
func (r TaskResult) TaskID() string { return r.taskID }

// Data returns the structured payload of a success outcome, nil otherwise.
func (r TaskResult) Data() map[string]any { return r.data }

// Err returns the failure description, nil for successes.
func (r TaskResult) Err() *Error { return r.err }

// Metadata carries protocol extras: context ids, prompts for suspended
// tasks, raw text alongside structured payloads.
func (r TaskResult) Metadata() map[string]any { return r.metadata }

// Metadata keys used by the conversational adapter.
const (
	MetaContextID = "context_id"
	MetaPrompt    = "prompt"
	MetaText      = "text"
)

// Success creates a completed success result.
func Success(data map[string]any, taskID string, meta map[string]any) TaskResult {
	return TaskResult{
		ok:       true,
		state:    TaskStateCompleted,
		taskID:   taskID,
		data:     data,
		metadata: meta,
	}
}

// Failure creates a failure result with a fresh classified error.
func Failure(code ErrorCode, message, taskID string) TaskResult {
	return TaskResult{
		state:  TaskStateFailed,
		taskID: taskID,
		err:    &Error{Code: code, Message: message},
	}
}

// FailureFromError creates a failure result from an already classified
// error. Unclassified errors are wrapped as transient_network.
func FailureFromError(err error, taskID string) TaskResult {
	e, ok := err.(*Error)
	if !ok {
		e = WrapError(CodeOf(err), err, "invocation failed")
	}
	return TaskResult{
		state:  TaskStateFailed,
		taskID: taskID,
		err:    e,
	}
}

// Suspended creates a result for a task paused awaiting caller input. It is
// a success variant: the task is alive and resumable via its TaskID.
func Suspended(taskID, contextID, prompt string) TaskResult {
	meta := map[string]any{}
	if contextID != "" {
		meta[MetaContextID] = contextID
	}
	if prompt != "" {
		meta[MetaPrompt] = prompt
	}
	return TaskResult{
		ok:       true,
		state:    TaskStateInputRequired,
		taskID:   taskID,
		metadata: meta,
	}
}

// IsSuccess reports whether the result is a success outcome.
func (r TaskResult) IsSuccess() bool {
	return r.ok
}

// IsSuspended reports whether the task is paused awaiting input.
func (r TaskResult) IsSuspended() bool {
	return r.ok && r.state == TaskStateInputRequired
}

// ErrorCode returns the failure classification, or "" for successes.
func (r TaskResult) ErrorCode() ErrorCode {
	if r.err == nil {
		return ""
	}
	return r.err.Code
}

// MarshalJSON renders the result for display and logging. Unexported
// fields would otherwise produce an empty object.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OK       bool           `json:"ok"`
		State    TaskState      `json:"state"`
		TaskID   string         `json:"task_id,omitempty"`
		Data     map[string]any `json:"data,omitempty"`
		Err      *Error         `json:"error,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{r.ok, r.state, r.taskID, r.data, r.err, r.metadata})
}

// Normalize converts a raw structured payload into a TaskResult. The only
// discriminator is the presence of a non-empty "errors" array in the
// payload: present means failure, absent or empty means success. An empty
// payload is still a success; partial outcomes ride in success metadata.
func Normalize(payload map[string]any, taskID string, meta map[string]any) TaskResult {
	if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
		code := CodeTaskFailed
		message := "agent reported errors"
		if first, ok := errs[0].(map[string]any); ok {
			if m, ok := first["message"].(string); ok && m != "" {
				message = m
			}
			if c, ok := first["code"].(string); ok && c != "" {
				message = c + ": " + message
			}
		} else if s, ok := errs[0].(string); ok && s != "" {
			message = s
		}
		return Failure(code, message, taskID)
	}
	return Success(payload, taskID, meta)
}

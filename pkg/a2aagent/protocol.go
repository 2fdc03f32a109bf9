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

package a2aagent

import (
	"encoding/json"

	"github.com/kadirpekel/agentdial/pkg/result"
)

// Wire types for the conversational protocol, HTTP+JSON framing.
// Objects are kind-discriminated: "message", "task", and within parts
// "text" and "data".

const (
	KindMessage = "message"
	KindTask    = "task"

	PartKindText = "text"
	PartKindData = "data"
)

// Part is one unit of message or artifact content.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// DataPart builds a structured data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Message is a conversational turn.
type Message struct {
	Kind      string `json:"kind,omitempty"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Artifact is one output produced by a task.
type Artifact struct {
	ArtifactID string `json:"artifactId,omitempty"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// TaskStatus is the lifecycle position of a task, optionally with an
// agent message attached (prompts for input-required, reasons for failed).
type TaskStatus struct {
	State   result.TaskState `json:"state"`
	Message *Message         `json:"message,omitempty"`
}

// Task is the unit of work tracked across polls.
type Task struct {
	Kind      string     `json:"kind,omitempty"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId,omitempty"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// MessageSendParams is the request body for message/send.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// sendResponse decodes a message/send reply, which is either a task or a
// direct message depending on how the agent chose to answer.
type sendResponse struct {
	Kind string `json:"kind"`
	raw  json.RawMessage
}

func (r *sendResponse) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind string `json:"kind"`
		// Task responses always carry a status object; message responses
		// never do. Used when kind is omitted.
		Status *json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	r.Kind = probe.Kind
	if r.Kind == "" {
		if probe.Status != nil {
			r.Kind = KindTask
		} else {
			r.Kind = KindMessage
		}
	}
	r.raw = append(r.raw[:0], data...)
	return nil
}

func (r *sendResponse) Task() (*Task, error) {
	var t Task
	if err := json.Unmarshal(r.raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *sendResponse) Message() (*Message, error) {
	var m Message
	if err := json.Unmarshal(r.raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// JSON-RPC envelope for the jsonrpc transport.

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC method names.
const (
	methodMessageSend = "message/send"
	methodTasksGet    = "tasks/get"
	methodTasksCancel = "tasks/cancel"
)

// Standard JSON-RPC error codes used for classification.
const (
	rpcMethodNotFound = -32601
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcInvalidParams  = -32602
)

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

// Package a2aagent adapts conversational task-lifecycle agents to the
// uniform invocation contract. Operations become user messages, task
// lifecycles are driven by polling, and the final artifact payload is
// normalized into a TaskResult.
package a2aagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/google/uuid"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/httpclient"
	"github.com/kadirpekel/agentdial/pkg/result"
	"github.com/kadirpekel/agentdial/pkg/transport"
)

// Adapter invokes operations on one conversational agent. Safe for
// concurrent use; the capability card cache is the only shared state.
type Adapter struct {
	agent config.Agent
	hc    *httpclient.Client

	mu   sync.Mutex
	card *a2a.AgentCard
}

// New creates an adapter for the given agent config.
func New(agent config.Agent, hc *httpclient.Client) *Adapter {
	if hc == nil {
		hc = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: agent.Timeout}),
		)
	}
	return &Adapter{agent: agent, hc: hc}
}

// authTransport injects the agent credential into every outgoing request,
// including capability card fetches.
type authTransport struct {
	auth *config.Auth
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth != nil && t.auth.Token != "" {
		req = req.Clone(req.Context())
		t.auth.Apply(req.Header)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Card returns the agent's capability card, fetching it on first use and
// serving the cached copy afterwards. Never fetched implicitly per call.
func (a *Adapter) Card(ctx context.Context) (*a2a.AgentCard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.card != nil {
		return a.card, nil
	}
	return a.fetchCardLocked(ctx)
}

// RefreshCard discards the cached card and fetches a fresh one.
func (a *Adapter) RefreshCard(ctx context.Context) (*a2a.AgentCard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.card = nil
	return a.fetchCardLocked(ctx)
}

func (a *Adapter) fetchCardLocked(ctx context.Context) (*a2a.AgentCard, error) {
	resolver := agentcard.NewResolver(&http.Client{
		Timeout:   a.agent.Timeout,
		Transport: &authTransport{auth: a.agent.Auth},
	})
	card, err := resolver.Resolve(ctx, a.agent.URL)
	if err != nil {
		return nil, result.WrapError(classifyErr(err), err, "failed to resolve agent card")
	}
	a.card = card
	slog.Debug("resolved agent card", "agent", a.agent.ID, "name", card.Name, "skills", len(card.Skills))
	return card, nil
}

// Operations lists the operation names the agent advertises.
func (a *Adapter) Operations(ctx context.Context) ([]string, error) {
	card, err := a.Card(ctx)
	if err != nil {
		return nil, err
	}
	ops := make([]string, 0, len(card.Skills))
	for _, s := range card.Skills {
		ops = append(ops, s.Name)
	}
	return ops, nil
}

// Invoke sends the operation as a user message and drives the task to a
// terminal or suspended state. The returned error is a classified probe or
// protocol failure; agent-reported failures come back as TaskResults.
func (a *Adapter) Invoke(ctx context.Context, cand transport.Candidate, operation string, params map[string]any) (result.TaskResult, error) {
	msg := Message{
		Kind:      KindMessage,
		Role:      "user",
		MessageID: uuid.NewString(),
		ContextID: uuid.NewString(),
		Parts: []Part{
			TextPart("Execute operation: " + operation),
			DataPart(map[string]any{
				"operation":  operation,
				"parameters": params,
			}),
		},
	}
	return a.send(ctx, cand, msg)
}

// Resume continues a task suspended awaiting input. It attaches the input
// to the existing task rather than submitting a new one.
func (a *Adapter) Resume(ctx context.Context, cand transport.Candidate, taskID string, input map[string]any) (result.TaskResult, error) {
	msg := Message{
		Kind:      KindMessage,
		Role:      "user",
		MessageID: uuid.NewString(),
		TaskID:    taskID,
		Parts: []Part{
			DataPart(input),
		},
	}
	return a.send(ctx, cand, msg)
}

func (a *Adapter) send(ctx context.Context, cand transport.Candidate, msg Message) (result.TaskResult, error) {
	resp, err := a.sendMessage(ctx, cand, msg)
	if err != nil {
		return result.TaskResult{}, err
	}

	if resp.Kind == KindMessage {
		reply, perr := resp.Message()
		if perr != nil {
			return result.TaskResult{}, result.WrapError(result.CodeParseError, perr, "undecodable message reply")
		}
		return resultFromMessage(reply), nil
	}

	task, perr := resp.Task()
	if perr != nil {
		return result.TaskResult{}, result.WrapError(result.CodeParseError, perr, "undecodable task reply")
	}
	return a.track(ctx, cand, task)
}

// Cancel requests cancellation of an in-flight task.
func (a *Adapter) Cancel(ctx context.Context, cand transport.Candidate, taskID string) error {
	switch cand.Transport {
	case config.TransportJSONRPC:
		_, err := a.rpcCall(ctx, cand.URL, methodTasksCancel, map[string]any{"id": taskID})
		return err
	default:
		_, err := a.restCall(ctx, http.MethodPost, fmt.Sprintf("%s/tasks/%s/cancel", cand.URL, taskID), nil)
		return err
	}
}

// Close releases adapter resources. The adapter holds no persistent
// connections, so there is nothing to tear down beyond the card cache.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.card = nil
	a.mu.Unlock()
	return nil
}

// track polls the task until it leaves the active states, honoring the
// configured backoff schedule and the context deadline.
func (a *Adapter) track(ctx context.Context, cand transport.Candidate, task *Task) (result.TaskResult, error) {
	poll := 0
	for {
		switch task.Status.State {
		case result.TaskStateCompleted:
			payload, meta := extractPayload(task)
			return result.Normalize(payload, task.ID, meta), nil
		case result.TaskStateFailed:
			return result.Failure(result.CodeTaskFailed, failureReason(task), task.ID), nil
		case result.TaskStateCanceled:
			return result.Failure(result.CodeCanceled, "task was canceled", task.ID), nil
		case result.TaskStateInputRequired:
			return result.Suspended(task.ID, task.ContextID, promptText(task)), nil
		case result.TaskStateSubmitted, result.TaskStateWorking:
		default:
			return result.TaskResult{}, result.NewError(result.CodeProtocolMismatch, "unknown task state %q", task.Status.State)
		}

		delay := a.agent.Poll.Delay(poll)
		poll++
		select {
		case <-ctx.Done():
			return result.TaskResult{}, result.WrapError(result.CodeTimeout, ctx.Err(), "task %s did not settle in time", task.ID)
		case <-time.After(delay):
		}

		next, err := a.getTask(ctx, cand, task.ID)
		if err != nil {
			return result.TaskResult{}, err
		}
		task = next
	}
}

func (a *Adapter) sendMessage(ctx context.Context, cand transport.Candidate, msg Message) (*sendResponse, error) {
	params := MessageSendParams{Message: msg}

	var raw json.RawMessage
	var err error
	switch cand.Transport {
	case config.TransportJSONRPC:
		raw, err = a.rpcCall(ctx, cand.URL, methodMessageSend, params)
	default:
		raw, err = a.restCall(ctx, http.MethodPost, cand.URL+"/message/send", params)
	}
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	if uerr := json.Unmarshal(raw, &resp); uerr != nil {
		return nil, result.WrapError(result.CodeProtocolMismatch, uerr, "unexpected message/send reply")
	}
	return &resp, nil
}

func (a *Adapter) getTask(ctx context.Context, cand transport.Candidate, taskID string) (*Task, error) {
	var raw json.RawMessage
	var err error
	switch cand.Transport {
	case config.TransportJSONRPC:
		raw, err = a.rpcCall(ctx, cand.URL, methodTasksGet, map[string]any{"id": taskID})
	default:
		raw, err = a.restCall(ctx, http.MethodGet, fmt.Sprintf("%s/tasks/%s", cand.URL, taskID), nil)
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if uerr := json.Unmarshal(raw, &task); uerr != nil {
		return nil, result.WrapError(result.CodeParseError, uerr, "undecodable task %s", taskID)
	}
	return &task, nil
}

// rpcCall issues one JSON-RPC request and returns the result payload.
func (a *Adapter) rpcCall(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, result.WrapError(result.CodeBadRequest, err, "failed to encode %s request", method)
	}

	data, aerr := a.doHTTP(ctx, http.MethodPost, url, body)
	if aerr != nil {
		return nil, aerr
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, result.WrapError(result.CodeProtocolMismatch, err, "non-JSON-RPC reply from %s", url)
	}
	if resp.Error != nil {
		return nil, classifyRPCError(resp.Error, method)
	}
	return resp.Result, nil
}

// restCall issues one plain HTTP+JSON request and returns the body.
func (a *Adapter) restCall(ctx context.Context, httpMethod, url string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, result.WrapError(result.CodeBadRequest, err, "failed to encode request")
		}
	}
	return a.doHTTP(ctx, httpMethod, url, body)
}

func (a *Adapter) doHTTP(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, result.WrapError(result.CodeBadRequest, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	a.agent.Auth.Apply(req.Header)

	resp, err := a.hc.Do(req)
	if resp == nil && err != nil {
		return nil, result.WrapError(classifyErr(err), err, "request to %s failed", url)
	}
	defer resp.Body.Close()

	data, rerr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, string(data))
	}
	if rerr != nil {
		return nil, result.WrapError(result.CodeTransientNetwork, rerr, "failed to read response from %s", url)
	}
	return data, nil
}

// classifyStatus maps an HTTP status to a failure class. 404 and 415
// specifically steer candidate fallback during transport resolution.
func classifyStatus(status int, body string) *result.Error {
	if len(body) > 200 {
		body = body[:200]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return result.NewError(result.CodeAuthRejected, "endpoint rejected credentials (HTTP %d)", status)
	case status == http.StatusNotFound:
		return result.NewError(result.CodeNotFound, "no agent endpoint at this path (HTTP 404)")
	case status == http.StatusUnsupportedMediaType:
		return result.NewError(result.CodeUnsupportedMedia, "endpoint rejected transport framing (HTTP 415)")
	case status == http.StatusRequestTimeout:
		return result.NewError(result.CodeTimeout, "endpoint timed out (HTTP 408)")
	case status >= 400 && status < 500:
		return result.NewError(result.CodeBadRequest, "endpoint rejected request (HTTP %d): %s", status, body)
	default:
		return result.NewError(result.CodeTransientNetwork, "endpoint error (HTTP %d)", status)
	}
}

func classifyRPCError(e *jsonRPCError, method string) *result.Error {
	switch e.Code {
	case rpcMethodNotFound:
		return result.NewError(result.CodeNotFound, "endpoint does not serve %s: %s", method, e.Message)
	case rpcParseError, rpcInvalidRequest, rpcInvalidParams:
		return result.NewError(result.CodeBadRequest, "endpoint rejected %s: %s", method, e.Message)
	default:
		return result.NewError(result.CodeTaskFailed, "%s failed (%d): %s", method, e.Code, e.Message)
	}
}

// classifyErr maps network-level and wrapped errors to a failure class.
func classifyErr(err error) result.ErrorCode {
	var re *result.Error
	if errors.As(err, &re) {
		return re.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return result.CodeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden"):
		return result.CodeAuthRejected
	case containsAny(msg, "timeout", "deadline exceeded"):
		return result.CodeTimeout
	case containsAny(msg, "404", "not found"):
		return result.CodeNotFound
	case containsAny(msg, "415", "unsupported media"):
		return result.CodeUnsupportedMedia
	default:
		return result.CodeTransientNetwork
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

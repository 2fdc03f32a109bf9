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

// Package mcpagent adapts tool-invocation agents to the uniform invocation
// contract. Operations map to tool calls over a lazily established,
// mutex-guarded session.
//
// Transport support:
//   - streamable-http, sse: JSON-RPC over HTTP with retry/backoff and
//     session header tracking
//   - stdio: subprocess communication via the mcp-go client
package mcpagent

import (
	"bufio"
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

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/httpclient"
	"github.com/kadirpekel/agentdial/pkg/result"
	"github.com/kadirpekel/agentdial/pkg/transport"
)

const (
	protocolVersion = "2024-11-05"

	// DefaultSSEResponseTimeout bounds reading one SSE-framed response.
	DefaultSSEResponseTimeout = 5 * time.Minute
)

// Adapter invokes tools on one MCP agent. It owns at most one session at a
// time, established lazily on first use and guarded by a mutex.
type Adapter struct {
	agent      config.Agent
	hc         *httpclient.Client
	sseTimeout time.Duration

	mu      sync.Mutex
	session *session
}

// session is the protocol session state for the current candidate.
type session struct {
	cand      transport.Candidate
	sessionID string         // mcp-session-id header, HTTP transports
	stdio     *client.Client // stdio transport only
}

// New creates an adapter for the given agent config.
func New(agent config.Agent, hc *httpclient.Client) *Adapter {
	if hc == nil {
		hc = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: agent.Timeout}),
		)
	}
	return &Adapter{agent: agent, hc: hc, sseTimeout: DefaultSSEResponseTimeout}
}

// Invoke calls the named tool. The session is established on first use;
// once established, transport faults surface as session_lost so the caller
// may re-establish exactly once within its retry budget.
func (a *Adapter) Invoke(ctx context.Context, cand transport.Candidate, operation string, params map[string]any) (result.TaskResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensureSessionLocked(ctx, cand)
	if err != nil {
		return result.TaskResult{}, err
	}

	payload, meta, err := a.callTool(ctx, sess, operation, params)
	if err != nil {
		var re *result.Error
		if errors.As(err, &re) && re.Code == result.CodeTransientNetwork {
			// The established session is gone. Drop it so the next attempt
			// reconnects, and reclassify so retry policy treats it as a
			// single recoverable session loss.
			a.dropSessionLocked()
			return result.TaskResult{}, result.WrapError(result.CodeSessionLost, err, "session to %s lost", cand.URL)
		}
		return result.TaskResult{}, err
	}

	return result.Normalize(payload, "", meta), nil
}

// ListTools returns the tools the agent exposes.
func (a *Adapter) ListTools(ctx context.Context, cand transport.Candidate) ([]mcp.Tool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.ensureSessionLocked(ctx, cand)
	if err != nil {
		return nil, err
	}

	if sess.stdio != nil {
		resp, err := sess.stdio.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, result.WrapError(classifyErr(err), err, "tools/list failed")
		}
		return resp.Tools, nil
	}

	raw, err := a.rpcCall(ctx, sess, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if uerr := json.Unmarshal(raw, &parsed); uerr != nil {
		return nil, result.WrapError(result.CodeParseError, uerr, "undecodable tools/list reply")
	}
	return parsed.Tools, nil
}

// Operations lists tool names.
func (a *Adapter) Operations(ctx context.Context, cand transport.Candidate) ([]string, error) {
	tools, err := a.ListTools(ctx, cand)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// Close tears down the session. Safe to call repeatedly.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropSessionLocked()
	return nil
}

func (a *Adapter) dropSessionLocked() {
	if a.session == nil {
		return
	}
	if a.session.stdio != nil {
		_ = a.session.stdio.Close()
	}
	a.session = nil
}

// ensureSessionLocked returns the live session, establishing one against
// cand if none exists. An established session is reused as-is even when the
// caller is walking a different candidate: the session already went through
// transport negotiation once, and only dropSessionLocked (session loss or
// Close) invalidates it.
func (a *Adapter) ensureSessionLocked(ctx context.Context, cand transport.Candidate) (*session, error) {
	if a.session != nil {
		return a.session, nil
	}

	var sess *session
	var err error
	if cand.Transport == config.TransportStdio {
		sess, err = a.connectStdio(ctx)
	} else {
		sess, err = a.connectHTTP(ctx, cand)
	}
	if err != nil {
		return nil, err
	}
	a.session = sess
	return sess, nil
}

func (a *Adapter) connectStdio(ctx context.Context) (*session, error) {
	env := make([]string, 0, len(a.agent.Env))
	for k, v := range a.agent.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(a.agent.Command, env, a.agent.Args...)
	if err != nil {
		return nil, result.WrapError(result.CodeTransientNetwork, err, "failed to spawn %s", a.agent.Command)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, result.WrapError(classifyErr(err), err, "failed to start subprocess session")
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "agentdial",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, result.WrapError(classifyErr(err), err, "handshake with %s failed", a.agent.Command)
	}

	slog.Debug("established stdio session", "agent", a.agent.ID, "command", a.agent.Command)
	return &session{
		cand:  transport.Candidate{URL: a.agent.Command, Transport: config.TransportStdio},
		stdio: mcpClient,
	}, nil
}

func (a *Adapter) connectHTTP(ctx context.Context, cand transport.Candidate) (*session, error) {
	sess := &session{cand: cand}

	resp, err := a.rpcCallRaw(ctx, sess, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "agentdial",
			"version": "0.1.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, result.NewError(result.CodeProtocolMismatch, "handshake rejected (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	slog.Debug("established session", "agent", a.agent.ID, "url", cand.URL, "transport", cand.Transport)
	return sess, nil
}

// callTool invokes one tool and returns the structured payload plus text
// metadata.
func (a *Adapter) callTool(ctx context.Context, sess *session, name string, args map[string]any) (map[string]any, map[string]any, error) {
	if sess.stdio != nil {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args

		resp, err := sess.stdio.CallTool(ctx, req)
		if err != nil {
			return nil, nil, result.WrapError(classifyErr(err), err, "tools/call %s failed", name)
		}
		return parseTypedResult(resp, name)
	}

	raw, err := a.rpcCall(ctx, sess, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, nil, err
	}
	return parseRawResult(raw, name)
}

// parseTypedResult handles mcp-go typed results from the stdio client.
func parseTypedResult(resp *mcp.CallToolResult, name string) (map[string]any, map[string]any, error) {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	if resp.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, nil, result.NewError(result.CodeTaskFailed, "tool %s: %s", name, msg)
	}

	return payloadFromTexts(texts, name)
}

// parseRawResult handles JSON-RPC tool results from the HTTP transports.
func parseRawResult(raw json.RawMessage, name string) (map[string]any, map[string]any, error) {
	var parsed struct {
		IsError           bool           `json:"isError"`
		StructuredContent map[string]any `json:"structuredContent"`
		Content           []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, result.WrapError(result.CodeParseError, err, "undecodable tools/call reply")
	}

	var texts []string
	for _, c := range parsed.Content {
		if c.Type == "text" && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}

	if parsed.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, nil, result.NewError(result.CodeTaskFailed, "tool %s: %s", name, msg)
	}

	if parsed.StructuredContent != nil {
		meta := map[string]any{}
		if len(texts) > 0 {
			meta[result.MetaText] = strings.Join(texts, "\n")
		}
		return parsed.StructuredContent, meta, nil
	}

	return payloadFromTexts(texts, name)
}

// payloadFromTexts recovers the structured payload from text content.
// Agents without structured output encode JSON in the text block; text
// that does not parse as an object is a protocol mismatch.
func payloadFromTexts(texts []string, name string) (map[string]any, map[string]any, error) {
	if len(texts) == 0 {
		return map[string]any{}, nil, nil
	}

	joined := strings.Join(texts, "\n")
	for _, text := range texts {
		var payload map[string]any
		if err := json.Unmarshal([]byte(text), &payload); err == nil {
			return payload, map[string]any{result.MetaText: joined}, nil
		}
	}

	return nil, nil, result.NewError(result.CodeProtocolMismatch,
		"tool %s returned text that is not a JSON object", name)
}

// rpcCall issues a JSON-RPC request and unwraps the result.
func (a *Adapter) rpcCall(ctx context.Context, sess *session, method string, params any) (json.RawMessage, error) {
	resp, err := a.rpcCallRaw(ctx, sess, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, classifyRPCError(resp.Error, method)
	}
	return resp.Result, nil
}

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

// rpcCallRaw sends one JSON-RPC request over HTTP. The endpoint URL is
// used exactly as resolved; no query parameters are ever appended.
func (a *Adapter) rpcCallRaw(ctx context.Context, sess *session, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, result.WrapError(result.CodeBadRequest, err, "failed to encode %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.cand.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, result.WrapError(result.CodeBadRequest, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sess.sessionID != "" {
		req.Header.Set("mcp-session-id", sess.sessionID)
	}
	a.agent.Auth.Apply(req.Header)

	resp, err := a.hc.Do(req)
	if resp == nil && err != nil {
		return nil, result.WrapError(classifyErr(err), err, "request to %s failed", sess.cand.URL)
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("mcp-session-id"); id != "" {
		sess.sessionID = id
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(data))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return a.readSSEResponse(resp)
	}

	data, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		return nil, result.WrapError(result.CodeTransientNetwork, rerr, "failed to read response")
	}

	var rpcResp jsonRPCResponse
	if uerr := json.Unmarshal(data, &rpcResp); uerr != nil {
		return nil, result.WrapError(result.CodeProtocolMismatch, uerr, "non-JSON-RPC reply from %s", sess.cand.URL)
	}
	return &rpcResp, nil
}

// readSSEResponse reads the first complete JSON-RPC response from an SSE
// framed body.
func (a *Adapter) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type res struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan res, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		flush := func() *jsonRPCResponse {
			if currentData.Len() == 0 {
				return nil
			}
			var resp jsonRPCResponse
			if err := json.Unmarshal([]byte(currentData.String()), &resp); err == nil {
				return &resp
			}
			currentData.Reset()
			return nil
		}

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			lineStr := strings.TrimSpace(string(line))

			if lineStr == "" {
				if resp := flush(); resp != nil {
					resultChan <- res{response: resp}
					return
				}
				continue
			}

			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if resp := flush(); resp != nil {
			resultChan <- res{response: resp}
			return
		}
		resultChan <- res{err: result.NewError(result.CodeProtocolMismatch, "event stream ended without a complete response")}
	}()

	select {
	case r := <-resultChan:
		return r.response, r.err
	case <-time.After(a.sseTimeout):
		return nil, result.NewError(result.CodeTimeout, "timed out reading event stream after %v", a.sseTimeout)
	}
}

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
	case status >= 400 && status < 500:
		return result.NewError(result.CodeBadRequest, "endpoint rejected request (HTTP %d): %s", status, body)
	default:
		return result.NewError(result.CodeTransientNetwork, "endpoint error (HTTP %d)", status)
	}
}

func classifyRPCError(e *jsonRPCError, method string) *result.Error {
	switch e.Code {
	case -32601:
		return result.NewError(result.CodeNotFound, "endpoint does not serve %s: %s", method, e.Message)
	case -32700, -32600, -32602:
		return result.NewError(result.CodeBadRequest, "endpoint rejected %s: %s", method, e.Message)
	default:
		return result.NewError(result.CodeTaskFailed, "%s failed (%d): %s", method, e.Code, e.Message)
	}
}

// classifyErr maps opaque connect and call errors to a failure class by
// message inspection, since the underlying libraries do not expose typed
// status errors.
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
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return result.CodeAuthRejected
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return result.CodeTimeout
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return result.CodeNotFound
	case strings.Contains(msg, "415") || strings.Contains(msg, "unsupported media"):
		return result.CodeUnsupportedMedia
	default:
		return result.CodeTransientNetwork
	}
}

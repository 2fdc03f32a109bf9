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

// Package client is the caller-facing surface: a Client invokes operations
// on one agent behind a uniform contract, and a Group fans an operation
// out across many agents with failure isolation.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/agentdial/pkg/a2aagent"
	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/httpclient"
	"github.com/kadirpekel/agentdial/pkg/mcpagent"
	"github.com/kadirpekel/agentdial/pkg/result"
	"github.com/kadirpekel/agentdial/pkg/transport"
)

// adapter is the per-protocol invocation surface the client drives.
type adapter interface {
	Invoke(ctx context.Context, cand transport.Candidate, operation string, params map[string]any) (result.TaskResult, error)
	Close() error
}

// Client invokes operations on a single agent. Construction validates the
// config and selects the protocol adapter once; everything afterwards is
// reported through TaskResults, never raised. Safe for concurrent use.
type Client struct {
	agent config.Agent
	log   *slog.Logger

	conv *a2aagent.Adapter
	tool *mcpagent.Adapter

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	hc  *httpclient.Client
	log *slog.Logger
}

// WithHTTPClient supplies a shared retrying HTTP client.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(o *options) { o.hc = hc }
}

// WithLogger supplies the logger; defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New creates a client for one agent. Misconfiguration is the only error
// returned here.
func New(agent config.Agent, opts ...Option) (*Client, error) {
	agent.SetDefaults()
	if err := agent.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	c := &Client{agent: agent, log: o.log.With("agent", agent.ID)}
	switch agent.Protocol {
	case config.ProtocolA2A:
		c.conv = a2aagent.New(agent, o.hc)
	case config.ProtocolMCP:
		c.tool = mcpagent.New(agent, o.hc)
	}
	return c, nil
}

// ID returns the agent id this client serves.
func (c *Client) ID() string {
	return c.agent.ID
}

// Open warms caches that would otherwise populate lazily: the capability
// card for conversational agents. Optional; Invoke works without it.
func (c *Client) Open(ctx context.Context) error {
	if c.conv == nil {
		return nil
	}
	_, err := c.conv.Card(ctx)
	return err
}

// Invoke runs one operation against the agent. All failure modes come back
// as Failure results carrying a classified error; Invoke never panics and
// never returns a Go error. One overall deadline spans candidate walking,
// retries and task polling.
func (c *Client) Invoke(ctx context.Context, operation string, params map[string]any) result.TaskResult {
	return c.run(ctx, func(ctx context.Context, cand transport.Candidate) (result.TaskResult, error) {
		return c.pick().Invoke(ctx, cand, operation, params)
	})
}

// Resume continues a task suspended awaiting input. Only conversational
// agents suspend; for tool agents this is a usage error.
func (c *Client) Resume(ctx context.Context, taskID string, input map[string]any) result.TaskResult {
	if c.conv == nil {
		return result.Failure(result.CodeBadRequest, "agent protocol has no resumable tasks", taskID)
	}
	return c.run(ctx, func(ctx context.Context, cand transport.Candidate) (result.TaskResult, error) {
		return c.conv.Resume(ctx, cand, taskID, input)
	})
}

// Cancel requests cancellation of an in-flight conversational task.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	if c.conv == nil {
		return result.NewError(result.CodeBadRequest, "agent protocol has no cancelable tasks")
	}
	if c.closed.Load() {
		return result.NewError(result.CodeBadRequest, "client is closed")
	}
	cands, err := transport.Resolve(c.agent)
	if err != nil {
		return err
	}
	return c.conv.Cancel(ctx, cands[0], taskID)
}

// Operations lists the operations the agent advertises.
func (c *Client) Operations(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, result.NewError(result.CodeBadRequest, "client is closed")
	}
	if c.conv != nil {
		return c.conv.Operations(ctx)
	}
	cands, err := transport.Resolve(c.agent)
	if err != nil {
		return nil, err
	}
	var lastErr error
	i := 0
	for i < len(cands) {
		ops, err := c.tool.Operations(ctx, cands[i])
		if err == nil {
			return ops, nil
		}
		lastErr = err
		i = transport.NextIndex(cands, i, result.CodeOf(err))
	}
	return nil, lastErr
}

// RefreshCapabilities re-fetches the conversational capability card.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	if c.conv == nil {
		return nil
	}
	_, err := c.conv.RefreshCard(ctx)
	return err
}

// Close releases the client's session and caches. Idempotent: only the
// first call tears anything down, later calls are no-ops.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.pick().Close()
	})
	return err
}

func (c *Client) pick() adapter {
	if c.conv != nil {
		return c.conv
	}
	return c.tool
}

// run executes one invocation: deadline, candidate walk, centralized retry.
func (c *Client) run(ctx context.Context, invoke func(context.Context, transport.Candidate) (result.TaskResult, error)) result.TaskResult {
	if c.closed.Load() {
		return result.Failure(result.CodeBadRequest, "client is closed", "")
	}

	ctx, cancel := context.WithTimeout(ctx, c.agent.Timeout)
	defer cancel()

	sessionRetries := 0
	for attempt := 0; ; attempt++ {
		res, err := c.walk(ctx, invoke)
		if err == nil {
			return res
		}

		code := result.CodeOf(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return result.FailureFromError(result.WrapError(result.CodeTimeout, err, "invocation deadline exceeded"), "")
		}
		// A definitive classification stands even when the deadline ran
		// out behind it: an auth rejection is not a timeout.
		if !result.IsRetryable(err) || attempt >= c.agent.MaxRetries {
			return result.FailureFromError(err, "")
		}
		if ctx.Err() != nil {
			return result.FailureFromError(result.WrapError(result.CodeTimeout, err, "invocation deadline exceeded"), "")
		}
		if code == result.CodeSessionLost {
			// A lost session is re-established at most once per invocation.
			if sessionRetries >= 1 {
				return result.FailureFromError(err, "")
			}
			sessionRetries++
		}

		delay := c.agent.Poll.Delay(attempt)
		c.log.Debug("retrying invocation", "code", code, "attempt", attempt+1, "max", c.agent.MaxRetries, "delay", delay)
		select {
		case <-ctx.Done():
			return result.FailureFromError(result.WrapError(result.CodeTimeout, ctx.Err(), "invocation deadline exceeded"), "")
		case <-time.After(delay):
		}
	}
}

// walk tries candidates in resolver order. Endpoint-shape probes (404,
// unsupported media) advance to the next viable candidate; every other
// failure class stops the walk and is handled by retry policy above.
func (c *Client) walk(ctx context.Context, invoke func(context.Context, transport.Candidate) (result.TaskResult, error)) (result.TaskResult, error) {
	cands, err := transport.Resolve(c.agent)
	if err != nil {
		return result.TaskResult{}, err
	}

	var attempts []transport.Attempt
	i := 0
	for i < len(cands) {
		cand := cands[i]
		res, err := invoke(ctx, cand)
		if err == nil {
			return res, nil
		}

		code := result.CodeOf(err)
		switch code {
		case result.CodeNotFound, result.CodeUnsupportedMedia:
			c.log.Debug("candidate rejected, advancing", "url", cand.URL, "transport", cand.Transport, "code", code)
			attempts = append(attempts, transport.Attempt{URL: cand.URL, Transport: cand.Transport, Err: err})
			i = transport.NextIndex(cands, i, code)
		default:
			return result.TaskResult{}, err
		}
	}

	exhausted := &transport.ExhaustedError{AgentID: c.agent.ID, Attempts: attempts}
	return result.TaskResult{}, result.WrapError(result.CodeConnectionExhausted, exhausted,
		"no endpoint candidate accepted the connection")
}

// Exhausted extracts the attempt history from a connection_exhausted
// failure, if present.
func Exhausted(res result.TaskResult) (*transport.ExhaustedError, bool) {
	if res.Err() == nil {
		return nil, false
	}
	var ex *transport.ExhaustedError
	if errors.As(res.Err(), &ex) {
		return ex, true
	}
	return nil, false
}

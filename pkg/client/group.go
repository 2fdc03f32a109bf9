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

package client

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/result"
)

// DefaultGroupConcurrency bounds how many agents a group queries at once.
const DefaultGroupConcurrency = 8

// Group fans one operation out across a fixed roster of agents. The roster
// is set at construction; each agent gets its own Client and the results
// come back as a complete per-agent map. One agent's failure never cancels
// or degrades its siblings.
type Group struct {
	clients map[string]*Client
	order   []string
	limit   int
}

// GroupOption customizes a Group.
type GroupOption func(*groupOptions)

type groupOptions struct {
	limit      int
	clientOpts []Option
}

// WithConcurrency bounds parallel fan-out.
func WithConcurrency(n int) GroupOption {
	return func(o *groupOptions) { o.limit = n }
}

// WithClientOptions forwards options to every member Client.
func WithClientOptions(opts ...Option) GroupOption {
	return func(o *groupOptions) { o.clientOpts = opts }
}

// NewGroup builds a group from agent configs. Any misconfigured agent
// fails construction; partial groups are never created.
func NewGroup(agents []config.Agent, opts ...GroupOption) (*Group, error) {
	o := groupOptions{limit: DefaultGroupConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Group{
		clients: make(map[string]*Client, len(agents)),
		order:   make([]string, 0, len(agents)),
		limit:   o.limit,
	}
	for _, agent := range agents {
		if _, dup := g.clients[agent.ID]; dup {
			g.closeAll()
			return nil, errors.New("duplicate agent id " + agent.ID)
		}
		c, err := New(agent, o.clientOpts...)
		if err != nil {
			g.closeAll()
			return nil, err
		}
		g.clients[agent.ID] = c
		g.order = append(g.order, agent.ID)
	}
	return g, nil
}

// IDs returns the roster in construction order.
func (g *Group) IDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Client returns the member client for an agent id.
func (g *Group) Client(id string) (*Client, bool) {
	c, ok := g.clients[id]
	return c, ok
}

// InvokeAll runs the operation on the targeted agents concurrently and
// returns one entry per requested agent, always. Nil or empty ids targets
// the whole roster. Unknown ids get an invalid_config failure entry.
// Cancellation of ctx propagates to in-flight calls, but one agent
// failing never cancels the others.
func (g *Group) InvokeAll(ctx context.Context, ids []string, operation string, params map[string]any) map[string]result.TaskResult {
	if len(ids) == 0 {
		ids = g.order
	}

	results := make(map[string]result.TaskResult, len(ids))
	var mu sync.Mutex

	eg := &errgroup.Group{}
	eg.SetLimit(g.limit)

	for _, id := range ids {
		mu.Lock()
		if _, dup := results[id]; dup {
			mu.Unlock()
			continue
		}
		results[id] = result.TaskResult{}
		mu.Unlock()

		c, ok := g.clients[id]
		if !ok {
			mu.Lock()
			results[id] = result.Failure(result.CodeInvalidConfig, "unknown agent id", "")
			mu.Unlock()
			continue
		}

		eg.Go(func() error {
			res := c.Invoke(ctx, operation, params)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			// Failures land in the map; returning nil keeps siblings alive.
			return nil
		})
	}

	_ = eg.Wait()
	return results
}

// Close closes every member client. Errors are joined, and closing twice
// is safe because member Close is idempotent.
func (g *Group) Close() error {
	return g.closeAll()
}

func (g *Group) closeAll() error {
	var errs []error
	for _, id := range g.order {
		if c := g.clients[id]; c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

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

// Command agentdial invokes operations on remote agents from the terminal.
//
// Usage:
//
//	agentdial agents add sales https://sales.example.com --protocol a2a --token $TOKEN
//	agentdial tools inventory
//	agentdial call sales get_products --param brief="running shoes"
//	agentdial call inventory sync --json '{"warehouse":"east"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentdial"
	"github.com/kadirpekel/agentdial/pkg/client"
	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/logger"
	"github.com/kadirpekel/agentdial/pkg/result"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Agents  AgentsCmd  `cmd:"" help:"Manage the saved agent roster."`
	Tools   ToolsCmd   `cmd:"" help:"List the operations an agent exposes."`
	Call    CallCmd    `cmd:"" help:"Invoke an operation on one or more agents."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a task that is waiting for input."`
	Cancel  CancelCmd  `cmd:"" help:"Cancel an in-flight task."`
	Info    InfoCmd    `cmd:"" help:"Show an agent's configuration and capabilities."`

	Config    string `short:"c" help:"Path to agents config file (default: ~/.agentdial/agents.yaml)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"warn"`
	LogFormat string `help:"Log format (simple, json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agentdial.GetVersion())
	return nil
}

// AgentsCmd manages the saved roster.
type AgentsCmd struct {
	Add    AgentsAddCmd    `cmd:"" help:"Add or update an agent."`
	List   AgentsListCmd   `cmd:"" help:"List saved agents."`
	Remove AgentsRemoveCmd `cmd:"" help:"Remove an agent."`
}

// AgentsAddCmd adds or replaces one roster entry.
type AgentsAddCmd struct {
	ID  string `arg:"" help:"Agent id."`
	URL string `arg:"" optional:"" help:"Agent endpoint URL."`

	Protocol   string        `help:"Protocol (a2a, mcp)." required:""`
	Transport  string        `help:"Pin a transport instead of auto negotiation."`
	Token      string        `help:"Auth token (use env references in config files instead of literals)."`
	AuthScheme string        `name:"auth-scheme" help:"Auth scheme (bearer, header)." default:"bearer"`
	AuthHeader string        `name:"auth-header" help:"Header name for the header auth scheme."`
	Timeout    time.Duration `help:"Per-invocation deadline."`
	Command    string        `help:"Subprocess command for stdio agents."`
}

func (c *AgentsAddCmd) Run(cli *CLI) error {
	cfg, path, err := loadRoster(cli.Config)
	if err != nil {
		return err
	}

	agent := config.Agent{
		ID:        c.ID,
		URL:       c.URL,
		Protocol:  config.Protocol(c.Protocol),
		Transport: config.Transport(c.Transport),
		Timeout:   c.Timeout,
		Command:   c.Command,
	}
	if c.Token != "" {
		agent.Auth = &config.Auth{
			Scheme: config.AuthScheme(c.AuthScheme),
			Header: c.AuthHeader,
			Token:  c.Token,
		}
	}
	agent.SetDefaults()
	if err := agent.Validate(); err != nil {
		return err
	}

	replaced := false
	for i := range cfg.Agents {
		if cfg.Agents[i].ID == agent.ID {
			cfg.Agents[i] = agent
			replaced = true
			break
		}
	}
	if !replaced {
		cfg.Agents = append(cfg.Agents, agent)
	}

	if err := saveRoster(cfg, path); err != nil {
		return err
	}
	if replaced {
		fmt.Printf("updated agent %q\n", agent.ID)
	} else {
		fmt.Printf("added agent %q\n", agent.ID)
	}
	return nil
}

// AgentsListCmd prints the roster.
type AgentsListCmd struct{}

func (c *AgentsListCmd) Run(cli *CLI) error {
	cfg, _, err := loadRoster(cli.Config)
	if err != nil {
		return err
	}
	if len(cfg.Agents) == 0 {
		fmt.Println("no agents configured")
		return nil
	}
	for _, a := range cfg.Agents {
		endpoint := a.URL
		if a.Command != "" {
			endpoint = a.Command
		}
		fmt.Printf("%-20s %-5s %-16s %s\n", a.ID, a.Protocol, orAuto(string(a.Transport)), endpoint)
	}
	return nil
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}

// AgentsRemoveCmd removes one roster entry.
type AgentsRemoveCmd struct {
	ID string `arg:"" help:"Agent id."`
}

func (c *AgentsRemoveCmd) Run(cli *CLI) error {
	cfg, path, err := loadRoster(cli.Config)
	if err != nil {
		return err
	}
	kept := cfg.Agents[:0]
	found := false
	for _, a := range cfg.Agents {
		if a.ID == c.ID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return fmt.Errorf("no agent %q in roster", c.ID)
	}
	cfg.Agents = kept
	if err := saveRoster(cfg, path); err != nil {
		return err
	}
	fmt.Printf("removed agent %q\n", c.ID)
	return nil
}

// ToolsCmd lists an agent's advertised operations.
type ToolsCmd struct {
	Agent string `arg:"" help:"Agent id."`
}

func (c *ToolsCmd) Run(cli *CLI) error {
	cl, ctx, cancel, err := dial(cli, c.Agent)
	if err != nil {
		return err
	}
	defer cancel()
	defer cl.Close()

	ops, err := cl.Operations(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("agent advertises no operations")
		return nil
	}
	for _, op := range ops {
		fmt.Println(op)
	}
	return nil
}

// CallCmd invokes one operation, on one agent or fanned out over several.
type CallCmd struct {
	Agents    string `arg:"" help:"Agent id, or several comma separated."`
	Operation string `arg:"" help:"Operation name."`

	Param []string `short:"p" help:"Operation parameter as key=value. Values parse as JSON when possible." placeholder:"KEY=VALUE"`
	JSON  string   `help:"Operation parameters as a JSON object (overrides --param)."`
}

func (c *CallCmd) Run(cli *CLI) error {
	params, err := c.params()
	if err != nil {
		return err
	}

	cfg, _, err := loadRoster(cli.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ids := strings.Split(c.Agents, ",")
	if len(ids) == 1 {
		agent, ok := cfg.Agent(ids[0])
		if !ok {
			return fmt.Errorf("no agent %q in roster", ids[0])
		}
		cl, err := client.New(agent)
		if err != nil {
			return err
		}
		defer cl.Close()
		return printResult(cl.Invoke(ctx, c.Operation, params))
	}

	group, err := client.NewGroup(cfg.Agents)
	if err != nil {
		return err
	}
	defer group.Close()

	results := group.InvokeAll(ctx, ids, c.Operation, params)
	return printResults(results)
}

func (c *CallCmd) params() (map[string]any, error) {
	if c.JSON != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(c.JSON), &params); err != nil {
			return nil, fmt.Errorf("--json is not a JSON object: %w", err)
		}
		return params, nil
	}

	params := make(map[string]any, len(c.Param))
	for _, kv := range c.Param {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--param %q is not key=value", kv)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		params[key] = parsed
	}
	return params, nil
}

// ResumeCmd continues a suspended task.
type ResumeCmd struct {
	Agent  string `arg:"" help:"Agent id."`
	TaskID string `arg:"" name:"task-id" help:"Task id from the suspended result."`

	Param []string `short:"p" help:"Input as key=value pairs." placeholder:"KEY=VALUE"`
	JSON  string   `help:"Input as a JSON object (overrides --param)."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	call := CallCmd{Param: c.Param, JSON: c.JSON}
	input, err := call.params()
	if err != nil {
		return err
	}

	cl, ctx, cancel, err := dial(cli, c.Agent)
	if err != nil {
		return err
	}
	defer cancel()
	defer cl.Close()

	return printResult(cl.Resume(ctx, c.TaskID, input))
}

// CancelCmd cancels an in-flight task.
type CancelCmd struct {
	Agent  string `arg:"" help:"Agent id."`
	TaskID string `arg:"" name:"task-id" help:"Task id to cancel."`
}

func (c *CancelCmd) Run(cli *CLI) error {
	cl, ctx, cancel, err := dial(cli, c.Agent)
	if err != nil {
		return err
	}
	defer cancel()
	defer cl.Close()

	if err := cl.Cancel(ctx, c.TaskID); err != nil {
		return err
	}
	fmt.Printf("requested cancellation of task %s\n", c.TaskID)
	return nil
}

// InfoCmd shows one agent's configuration and advertised capabilities.
type InfoCmd struct {
	Agent string `arg:"" help:"Agent id."`
}

func (c *InfoCmd) Run(cli *CLI) error {
	cfg, _, err := loadRoster(cli.Config)
	if err != nil {
		return err
	}
	agent, ok := cfg.Agent(c.Agent)
	if !ok {
		return fmt.Errorf("no agent %q in roster", c.Agent)
	}

	endpoint := agent.URL
	if agent.Command != "" {
		endpoint = agent.Command
	}
	fmt.Printf("id:        %s\n", agent.ID)
	fmt.Printf("protocol:  %s\n", agent.Protocol)
	fmt.Printf("transport: %s\n", orAuto(string(agent.Transport)))
	fmt.Printf("endpoint:  %s\n", endpoint)
	fmt.Printf("auth:      %s\n", agent.Auth.String())
	fmt.Printf("timeout:   %s\n", agent.Timeout)

	cl, err := client.New(agent)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ops, err := cl.Operations(ctx)
	if err != nil {
		fmt.Printf("operations: unavailable (%v)\n", err)
		return nil
	}
	fmt.Printf("operations: %s\n", strings.Join(ops, ", "))
	return nil
}

// dial loads the roster, builds a client for one agent and prepares a
// signal-aware context.
func dial(cli *CLI, id string) (*client.Client, context.Context, context.CancelFunc, error) {
	cfg, _, err := loadRoster(cli.Config)
	if err != nil {
		return nil, nil, nil, err
	}
	agent, ok := cfg.Agent(id)
	if !ok {
		return nil, nil, nil, fmt.Errorf("no agent %q in roster", id)
	}
	cl, err := client.New(agent)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signalContext()
	return cl, ctx, cancel, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printResult(res result.TaskResult) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !res.IsSuccess() {
		return fmt.Errorf("operation failed: %s", res.Err().Message)
	}
	return nil
}

func printResults(results map[string]result.TaskResult) error {
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	for _, res := range results {
		if !res.IsSuccess() {
			return fmt.Errorf("one or more agents failed")
		}
	}
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentdial"),
		kong.Description("Invoke operations on remote agents over their native protocols."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

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

// Package config defines the declarative description of remote agents:
// which protocol they speak, where they live, how to authenticate, and the
// timing knobs for retries and lifecycle polling.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol identifies the invocation protocol an agent speaks.
type Protocol string

const (
	// ProtocolA2A is the conversational task-lifecycle protocol.
	ProtocolA2A Protocol = "a2a"
	// ProtocolMCP is the single-call tool-invocation protocol.
	ProtocolMCP Protocol = "mcp"
)

// Transport is a transport preference for an agent. Empty or "auto" lets
// the resolver try each transport the protocol supports.
type Transport string

const (
	TransportAuto Transport = "auto"

	// A2A transports.
	TransportJSONRPC Transport = "jsonrpc"
	TransportREST    Transport = "rest"

	// MCP transports.
	TransportStreamableHTTP Transport = "streamable-http"
	TransportSSE            Transport = "sse"
	TransportStdio          Transport = "stdio"
)

// AuthScheme selects how the credential is placed on the wire.
type AuthScheme string

const (
	// AuthBearer sends "Authorization: Bearer <token>".
	AuthBearer AuthScheme = "bearer"
	// AuthHeader sends the raw token in Header verbatim.
	AuthHeader AuthScheme = "header"
)

// Auth holds the credential for one agent. The token value is a secret:
// String and log output never include it.
type Auth struct {
	Scheme AuthScheme `yaml:"scheme,omitempty"`
	Header string     `yaml:"header,omitempty"`
	Token  string     `yaml:"token,omitempty"`
}

// String renders the auth config with the token redacted.
func (a *Auth) String() string {
	if a == nil {
		return "none"
	}
	return fmt.Sprintf("%s via %s (token redacted)", a.Scheme, a.HeaderName())
}

// HeaderName returns the header the credential is sent in.
func (a *Auth) HeaderName() string {
	if a.Header != "" {
		return a.Header
	}
	return "Authorization"
}

// Apply sets the credential header on the given header map.
func (a *Auth) Apply(h map[string][]string) {
	if a == nil || a.Token == "" {
		return
	}
	value := a.Token
	if a.Scheme == "" || a.Scheme == AuthBearer {
		value = "Bearer " + a.Token
	}
	h[a.HeaderName()] = []string{value}
}

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial    time.Duration `yaml:"initial,omitempty"`
	Multiplier float64       `yaml:"multiplier,omitempty"`
	Max        time.Duration `yaml:"max,omitempty"`
}

// Delay returns the delay before the given zero-based attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Agent describes one remote agent endpoint.
type Agent struct {
	// ID is the caller-facing name of the agent. Unique within a Config.
	ID string `yaml:"id"`

	// URL is the configured endpoint. The resolver may derive additional
	// candidate URLs from it, but always tries this one first.
	URL string `yaml:"url"`

	// Protocol selects the adapter. Required.
	Protocol Protocol `yaml:"protocol"`

	// Transport pins a single transport. Empty or "auto" enables fallback
	// across the protocol's transports.
	Transport Transport `yaml:"transport,omitempty"`

	// Auth is optional; absent means unauthenticated requests.
	Auth *Auth `yaml:"auth,omitempty"`

	// Timeout bounds one Invoke end to end, retries and polling included.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries is the retry budget for retryable failures within one
	// Invoke. Zero uses the default; use -1 to disable retries.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Poll schedules lifecycle polling for conversational tasks.
	Poll Backoff `yaml:"poll,omitempty"`

	// Command, Args and Env configure a subprocess endpoint for the
	// stdio transport. URL is ignored when Command is set.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Defaults applied by SetDefaults.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 2
)

// DefaultPoll is the default lifecycle polling schedule.
var DefaultPoll = Backoff{
	Initial:    500 * time.Millisecond,
	Multiplier: 2.0,
	Max:        5 * time.Second,
}

// SetDefaults fills zero-valued timing fields.
func (a *Agent) SetDefaults() {
	if a.Timeout == 0 {
		a.Timeout = DefaultTimeout
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = DefaultMaxRetries
	}
	if a.MaxRetries < 0 {
		a.MaxRetries = 0
	}
	if a.Poll.Initial == 0 {
		a.Poll.Initial = DefaultPoll.Initial
	}
	if a.Poll.Multiplier == 0 {
		a.Poll.Multiplier = DefaultPoll.Multiplier
	}
	if a.Poll.Max == 0 {
		a.Poll.Max = DefaultPoll.Max
	}
	if a.Command != "" && a.Transport == "" {
		a.Transport = TransportStdio
	}
	if a.Auth != nil {
		if a.Auth.Scheme == "" {
			a.Auth.Scheme = AuthBearer
		}
		if a.Auth.Scheme == AuthHeader && a.Auth.Header == "" && a.Protocol == ProtocolMCP {
			a.Auth.Header = "x-agent-auth"
		}
	}
}

// Validate checks the agent description. Misconfiguration is the only
// failure reported at construction time; everything later is a TaskResult.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	switch a.Protocol {
	case ProtocolA2A, ProtocolMCP:
	default:
		return fmt.Errorf("agent %q: unknown protocol %q", a.ID, a.Protocol)
	}
	if a.Transport == TransportStdio {
		if a.Protocol != ProtocolMCP {
			return fmt.Errorf("agent %q: stdio transport requires mcp protocol", a.ID)
		}
		if a.Command == "" {
			return fmt.Errorf("agent %q: stdio transport requires command", a.ID)
		}
	} else {
		if a.URL == "" {
			return fmt.Errorf("agent %q: url is required", a.ID)
		}
		u, err := url.Parse(a.URL)
		if err != nil {
			return fmt.Errorf("agent %q: invalid url: %w", a.ID, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("agent %q: url scheme must be http or https, got %q", a.ID, u.Scheme)
		}
	}
	if err := a.validateTransport(); err != nil {
		return err
	}
	if a.Auth != nil {
		switch a.Auth.Scheme {
		case "", AuthBearer, AuthHeader:
		default:
			return fmt.Errorf("agent %q: unknown auth scheme %q", a.ID, a.Auth.Scheme)
		}
	}
	if a.Timeout < 0 {
		return fmt.Errorf("agent %q: negative timeout", a.ID)
	}
	return nil
}

func (a *Agent) validateTransport() error {
	if a.Transport == "" || a.Transport == TransportAuto {
		return nil
	}
	valid := map[Protocol][]Transport{
		ProtocolA2A: {TransportJSONRPC, TransportREST},
		ProtocolMCP: {TransportStreamableHTTP, TransportSSE, TransportStdio},
	}
	for _, t := range valid[a.Protocol] {
		if a.Transport == t {
			return nil
		}
	}
	return fmt.Errorf("agent %q: transport %q not valid for protocol %q", a.ID, a.Transport, a.Protocol)
}

// Config is the top-level agent roster.
type Config struct {
	Agents []Agent `yaml:"agents"`
}

// SetDefaults fills defaults on every agent.
func (c *Config) SetDefaults() {
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}
}

// Validate checks every agent and rejects duplicate ids.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		a := &c.Agents[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Agent returns the agent with the given id.
func (c *Config) Agent(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// Load reads a YAML config file, expands environment variable references
// and applies defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes with env expansion.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

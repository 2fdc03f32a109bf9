package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidConfig(t *testing.T) {
	yaml := `
agents:
  - id: sales
    url: https://sales.example.com
    protocol: a2a
    auth:
      token: secret
  - id: inventory
    url: https://inv.example.com/mcp
    protocol: mcp
    transport: sse
    timeout: 30s
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)

	sales, ok := cfg.Agent("sales")
	require.True(t, ok)
	assert.Equal(t, ProtocolA2A, sales.Protocol)
	assert.Equal(t, AuthBearer, sales.Auth.Scheme)
	assert.Equal(t, DefaultTimeout, sales.Timeout)
	assert.Equal(t, DefaultMaxRetries, sales.MaxRetries)
	assert.Equal(t, DefaultPoll.Initial, sales.Poll.Initial)

	inv, ok := cfg.Agent("inventory")
	require.True(t, ok)
	assert.Equal(t, TransportSSE, inv.Transport)
	assert.Equal(t, 30*time.Second, inv.Timeout)
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("AGENT_TOKEN", "tok-123")
	t.Setenv("AGENT_HOST", "agents.example.com")

	yaml := `
agents:
  - id: sales
    url: https://${AGENT_HOST}/api
    protocol: a2a
    auth:
      token: ${AGENT_TOKEN}
  - id: backup
    url: ${BACKUP_URL:-https://backup.example.com}
    protocol: mcp
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	sales, _ := cfg.Agent("sales")
	assert.Equal(t, "https://agents.example.com/api", sales.URL)
	assert.Equal(t, "tok-123", sales.Auth.Token)

	backup, _ := cfg.Agent("backup")
	assert.Equal(t, "https://backup.example.com", backup.URL)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		agent   Agent
		wantErr string
	}{
		{
			name:    "missing id",
			agent:   Agent{URL: "https://x", Protocol: ProtocolA2A},
			wantErr: "id is required",
		},
		{
			name:    "unknown protocol",
			agent:   Agent{ID: "a", URL: "https://x", Protocol: "grpc"},
			wantErr: "unknown protocol",
		},
		{
			name:    "missing url",
			agent:   Agent{ID: "a", Protocol: ProtocolMCP},
			wantErr: "url is required",
		},
		{
			name:    "bad scheme",
			agent:   Agent{ID: "a", URL: "ftp://x", Protocol: ProtocolA2A},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "transport protocol mismatch",
			agent:   Agent{ID: "a", URL: "https://x", Protocol: ProtocolA2A, Transport: TransportSSE},
			wantErr: "not valid for protocol",
		},
		{
			name:    "stdio without command",
			agent:   Agent{ID: "a", Protocol: ProtocolMCP, Transport: TransportStdio},
			wantErr: "requires command",
		},
		{
			name:    "unknown auth scheme",
			agent:   Agent{ID: "a", URL: "https://x", Protocol: ProtocolA2A, Auth: &Auth{Scheme: "oauth", Token: "t"}},
			wantErr: "unknown auth scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.agent.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuplicateIDs(t *testing.T) {
	cfg := Config{Agents: []Agent{
		{ID: "a", URL: "https://x", Protocol: ProtocolA2A},
		{ID: "a", URL: "https://y", Protocol: ProtocolMCP},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent id")
}

func TestAuthApply(t *testing.T) {
	h := map[string][]string{}
	auth := &Auth{Scheme: AuthBearer, Token: "tok"}
	auth.Apply(h)
	assert.Equal(t, []string{"Bearer tok"}, h["Authorization"])

	h = map[string][]string{}
	auth = &Auth{Scheme: AuthHeader, Header: "x-agent-auth", Token: "raw"}
	auth.Apply(h)
	assert.Equal(t, []string{"raw"}, h["x-agent-auth"])

	h = map[string][]string{}
	(&Auth{}).Apply(h)
	assert.Empty(t, h)
}

func TestAuthStringRedactsToken(t *testing.T) {
	auth := &Auth{Scheme: AuthBearer, Token: "super-secret"}
	assert.NotContains(t, auth.String(), "super-secret")
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 500 * time.Millisecond, Multiplier: 2.0, Max: 5 * time.Second}

	assert.Equal(t, 500*time.Millisecond, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}

func TestStdioDefaultsFromCommand(t *testing.T) {
	a := Agent{ID: "local", Protocol: ProtocolMCP, Command: "mcp-server"}
	a.SetDefaults()
	assert.Equal(t, TransportStdio, a.Transport)
	require.NoError(t, a.Validate())
}

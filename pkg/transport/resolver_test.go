package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/result"
)

func TestResolveAutoMCP(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP}

	cands, err := Resolve(agent)
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{URL: "https://inv.example.com", Transport: config.TransportStreamableHTTP},
		{URL: "https://inv.example.com/mcp", Transport: config.TransportStreamableHTTP},
		{URL: "https://inv.example.com", Transport: config.TransportSSE},
		{URL: "https://inv.example.com/mcp", Transport: config.TransportSSE},
	}, cands)
}

func TestResolveAutoA2A(t *testing.T) {
	agent := config.Agent{ID: "sales", URL: "https://sales.example.com/api", Protocol: config.ProtocolA2A}

	cands, err := Resolve(agent)
	require.NoError(t, err)

	require.Len(t, cands, 4)
	assert.Equal(t, Candidate{URL: "https://sales.example.com/api", Transport: config.TransportJSONRPC}, cands[0])
	assert.Equal(t, Candidate{URL: "https://sales.example.com/api/a2a", Transport: config.TransportJSONRPC}, cands[1])
	assert.Equal(t, config.TransportREST, cands[2].Transport)
}

func TestResolveAlreadySuffixed(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com/mcp", Protocol: config.ProtocolMCP}

	cands, err := Resolve(agent)
	require.NoError(t, err)

	// Suffix is not doubled up, so only one URL form per transport.
	assert.Equal(t, []Candidate{
		{URL: "https://inv.example.com/mcp", Transport: config.TransportStreamableHTTP},
		{URL: "https://inv.example.com/mcp", Transport: config.TransportSSE},
	}, cands)
}

func TestResolvePinnedTransport(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP, Transport: config.TransportSSE}

	cands, err := Resolve(agent)
	require.NoError(t, err)

	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.Equal(t, config.TransportSSE, c.Transport)
	}
}

func TestResolveFirstCandidateIsConfiguredURL(t *testing.T) {
	agent := config.Agent{ID: "x", URL: "https://host.example.com/base/", Protocol: config.ProtocolA2A}

	cands, err := Resolve(agent)
	require.NoError(t, err)
	assert.Equal(t, "https://host.example.com/base/", cands[0].URL)
}

func TestResolveStdio(t *testing.T) {
	agent := config.Agent{ID: "local", Protocol: config.ProtocolMCP, Transport: config.TransportStdio, Command: "mcp-server"}

	cands, err := Resolve(agent)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, config.TransportStdio, cands[0].Transport)
}

func TestNextIndexNotFoundAdvancesSameTransport(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP}
	cands, _ := Resolve(agent)

	next := NextIndex(cands, 0, result.CodeNotFound)
	assert.Equal(t, 1, next)
	assert.Equal(t, cands[0].Transport, cands[next].Transport)

	// Both URL forms 404ed under the first transport: move on to the next.
	next = NextIndex(cands, 1, result.CodeNotFound)
	assert.Equal(t, 2, next)
}

func TestNextIndexUnsupportedMediaJumpsTransport(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP}
	cands, _ := Resolve(agent)

	next := NextIndex(cands, 0, result.CodeUnsupportedMedia)
	require.Equal(t, 2, next)
	assert.Equal(t, cands[0].URL, cands[next].URL)
	assert.NotEqual(t, cands[0].Transport, cands[next].Transport)
}

func TestNextIndexFatalStopsWalk(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP}
	cands, _ := Resolve(agent)

	assert.Equal(t, len(cands), NextIndex(cands, 0, result.CodeAuthRejected))
	assert.Equal(t, len(cands), NextIndex(cands, 0, result.CodeTimeout))
}

func TestNextIndexUnsupportedMediaPinnedTransportExhausts(t *testing.T) {
	agent := config.Agent{ID: "inv", URL: "https://inv.example.com", Protocol: config.ProtocolMCP, Transport: config.TransportSSE}
	cands, _ := Resolve(agent)

	assert.Equal(t, len(cands), NextIndex(cands, 0, result.CodeUnsupportedMedia))
}

func TestExhaustedErrorMessage(t *testing.T) {
	err := &ExhaustedError{
		AgentID: "inv",
		Attempts: []Attempt{
			{URL: "https://a", Transport: config.TransportStreamableHTTP, Err: result.NewError(result.CodeNotFound, "404")},
			{URL: "https://a/mcp", Transport: config.TransportStreamableHTTP, Err: result.NewError(result.CodeNotFound, "404")},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "all 2 connection candidates failed")
	assert.Contains(t, msg, "https://a/mcp")
}

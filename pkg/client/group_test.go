package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/result"
)

func okServer(t *testing.T, data map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRPCTask(w, completedTask("t", data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeAllCompleteMap(t *testing.T) {
	good := okServer(t, map[string]any{"who": "good"})
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(bad.Close)

	g, err := NewGroup([]config.Agent{
		fastAgent("good", good.URL, config.ProtocolA2A),
		fastAgent("bad", bad.URL, config.ProtocolA2A),
	})
	require.NoError(t, err)
	defer g.Close()

	results := g.InvokeAll(t.Context(), nil, "sync", nil)

	require.Len(t, results, 2)
	assert.True(t, results["good"].IsSuccess())
	require.False(t, results["bad"].IsSuccess())
	assert.Equal(t, result.CodeAuthRejected, results["bad"].ErrorCode())
}

func TestInvokeAllFailureDoesNotCancelSiblings(t *testing.T) {
	// The failing agent answers instantly; the slow agent still completes.
	var slowDone int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&slowDone, 1)
		writeRPCTask(w, completedTask("t", map[string]any{"who": "slow"}))
	}))
	t.Cleanup(slow.Close)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(failing.Close)

	g, err := NewGroup([]config.Agent{
		fastAgent("slow", slow.URL, config.ProtocolA2A),
		fastAgent("failing", failing.URL, config.ProtocolA2A),
	})
	require.NoError(t, err)
	defer g.Close()

	results := g.InvokeAll(t.Context(), nil, "sync", nil)

	assert.True(t, results["slow"].IsSuccess())
	assert.False(t, results["failing"].IsSuccess())
	assert.Equal(t, int32(1), atomic.LoadInt32(&slowDone))
}

func TestInvokeAllSubsetAndUnknown(t *testing.T) {
	good := okServer(t, map[string]any{"ok": true})

	g, err := NewGroup([]config.Agent{
		fastAgent("a", good.URL, config.ProtocolA2A),
		fastAgent("b", good.URL, config.ProtocolA2A),
	})
	require.NoError(t, err)
	defer g.Close()

	results := g.InvokeAll(t.Context(), []string{"a", "ghost"}, "sync", nil)

	require.Len(t, results, 2)
	assert.True(t, results["a"].IsSuccess())
	require.False(t, results["ghost"].IsSuccess())
	assert.Equal(t, result.CodeInvalidConfig, results["ghost"].ErrorCode())

	_, present := results["b"]
	assert.False(t, present)
}

func TestInvokeAllContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		writeRPCTask(w, completedTask("t", nil))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGroup([]config.Agent{fastAgent("a", srv.URL, config.ProtocolA2A)})
	require.NoError(t, err)
	defer g.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := g.InvokeAll(ctx, nil, "sync", nil)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	require.False(t, results["a"].IsSuccess())
	assert.Equal(t, result.CodeTimeout, results["a"].ErrorCode())
}

func TestNewGroupRejectsBadAgent(t *testing.T) {
	_, err := NewGroup([]config.Agent{
		fastAgent("a", "https://ok.example.com", config.ProtocolA2A),
		{ID: "broken", Protocol: "nope"},
	})
	require.Error(t, err)
}

func TestNewGroupRejectsDuplicateIDs(t *testing.T) {
	_, err := NewGroup([]config.Agent{
		fastAgent("a", "https://x.example.com", config.ProtocolA2A),
		fastAgent("a", "https://y.example.com", config.ProtocolA2A),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent id")
}

func TestGroupIDs(t *testing.T) {
	g, err := NewGroup([]config.Agent{
		fastAgent("one", "https://x.example.com", config.ProtocolA2A),
		fastAgent("two", "https://y.example.com", config.ProtocolA2A),
	})
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, []string{"one", "two"}, g.IDs())

	c, ok := g.Client("one")
	require.True(t, ok)
	assert.Equal(t, "one", c.ID())
}

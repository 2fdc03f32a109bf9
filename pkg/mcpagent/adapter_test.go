package mcpagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/result"
	"github.com/kadirpekel/agentdial/pkg/transport"
)

func testAgent(url string) config.Agent {
	return config.Agent{
		ID:       "inv",
		URL:      url,
		Protocol: config.ProtocolMCP,
		Timeout:  5 * time.Second,
	}
}

func httpCandidate(url string) transport.Candidate {
	return transport.Candidate{URL: url, Transport: config.TransportStreamableHTTP}
}

// mcpServer is a minimal JSON-RPC tool server for tests.
type mcpServer struct {
	t           *testing.T
	initCount   int32
	callCount   int32
	callHandler func(args map[string]any) any
}

func (s *mcpServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "initialize":
			atomic.AddInt32(&s.initCount, 1)
			w.Header().Set("mcp-session-id", "sess-1")
			writeRPC(w, req.ID, map[string]any{"protocolVersion": protocolVersion}, nil)
		case "tools/call":
			atomic.AddInt32(&s.callCount, 1)
			assert.Equal(s.t, "sess-1", r.Header.Get("mcp-session-id"))
			params := req.Params.(map[string]any)
			args, _ := params["arguments"].(map[string]any)
			writeRPC(w, req.ID, s.callHandler(args), nil)
		case "tools/list":
			writeRPC(w, req.ID, map[string]any{
				"tools": []any{
					map[string]any{"name": "get_products", "description": "lists products", "inputSchema": map[string]any{"type": "object"}},
					map[string]any{"name": "create_order", "description": "", "inputSchema": map[string]any{"type": "object"}},
				},
			}, nil)
		default:
			writeRPC(w, req.ID, nil, &jsonRPCError{Code: -32601, Message: "unknown method"})
		}
	}
}

func writeRPC(w http.ResponseWriter, id int, res any, rpcErr *jsonRPCError) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = res
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestInvokeStructuredContent(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(args map[string]any) any {
		assert.Equal(t, "all", args["brief"])
		return map[string]any{
			"structuredContent": map[string]any{"products": []any{"a", "b"}},
			"content":           []any{map[string]any{"type": "text", "text": "2 products"}},
		}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	res, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "get_products", map[string]any{"brief": "all"})
	require.NoError(t, err)

	assert.True(t, res.IsSuccess())
	assert.Equal(t, []any{"a", "b"}, res.Data()["products"])
	assert.Equal(t, "2 products", res.Metadata()[result.MetaText])
}

func TestInvokeTextJSONFallback(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{
			"content": []any{map[string]any{"type": "text", "text": `{"orders": 3}`}},
		}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	res, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "list_orders", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), res.Data()["orders"])
}

func TestInvokeUnparsableTextIsProtocolMismatch(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "plain prose, not JSON"}},
		}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	_, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "list_orders", nil)
	require.Error(t, err)
	assert.Equal(t, result.CodeProtocolMismatch, result.CodeOf(err))
}

func TestInvokeToolError(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{
			"isError": true,
			"content": []any{map[string]any{"type": "text", "text": "no such product"}},
		}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	_, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "get_product", nil)
	require.Error(t, err)
	assert.Equal(t, result.CodeTaskFailed, result.CodeOf(err))
	assert.Contains(t, err.Error(), "no such product")
}

func TestInvokeErrorsFieldNormalization(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{
			"structuredContent": map[string]any{
				"errors": []any{map[string]any{"code": "sold_out", "message": "nothing left"}},
			},
		}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	res, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "buy", nil)
	require.NoError(t, err)
	require.False(t, res.IsSuccess())
	assert.Equal(t, result.CodeTaskFailed, res.ErrorCode())
	assert.Contains(t, res.Err().Message, "sold_out")
}

func TestSessionEstablishedOnce(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{"structuredContent": map[string]any{"ok": true}}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	cand := httpCandidate(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := adapter.Invoke(t.Context(), cand, "ping", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&ms.initCount))
	assert.Equal(t, int32(3), atomic.LoadInt32(&ms.callCount))
}

func TestSessionPersistsAcrossCandidates(t *testing.T) {
	ms := &mcpServer{t: t, callHandler: func(map[string]any) any {
		return map[string]any{"structuredContent": map[string]any{"ok": true}}
	}}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	// The first call lands on the streaming variant; a later call arrives
	// through a different resolved candidate. The handshake already
	// succeeded, so the live session is reused rather than rebuilt.
	_, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "ping", nil)
	require.NoError(t, err)

	alt := transport.Candidate{URL: srv.URL, Transport: config.TransportSSE}
	_, err = adapter.Invoke(t.Context(), alt, "ping", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&ms.initCount))
	assert.Equal(t, int32(2), atomic.LoadInt32(&ms.callCount))
}

func TestHandshakeStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   result.ErrorCode
	}{
		{http.StatusNotFound, result.CodeNotFound},
		{http.StatusUnsupportedMediaType, result.CodeUnsupportedMedia},
		{http.StatusUnauthorized, result.CodeAuthRejected},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		adapter := New(testAgent(srv.URL), nil)
		_, err := adapter.Invoke(t.Context(), httpCandidate(srv.URL), "x", nil)
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.want, result.CodeOf(err), "status %d", tt.status)

		adapter.Close()
		srv.Close()
	}
}

func TestEstablishedSessionFaultIsSessionLost(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Method == "initialize" {
			writeRPC(w, req.ID, map[string]any{}, nil)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			// Kill the connection mid-call after the handshake succeeded.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		writeRPC(w, req.ID, map[string]any{"structuredContent": map[string]any{"ok": true}}, nil)
	}))
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()
	cand := httpCandidate(srv.URL)

	_, err := adapter.Invoke(t.Context(), cand, "x", nil)
	require.Error(t, err)
	assert.Equal(t, result.CodeSessionLost, result.CodeOf(err))
	assert.True(t, result.IsRetryable(err))

	// The dropped session re-establishes lazily on the next call.
	res, err := adapter.Invoke(t.Context(), cand, "x", nil)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
}

func TestSSEFramedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Method == "initialize" {
			writeRPC(w, req.ID, map[string]any{}, nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		resp, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"result": map[string]any{"structuredContent": map[string]any{"via": "sse"}},
		})
		_, _ = w.Write([]byte("event: message\ndata: " + string(resp) + "\n\n"))
	}))
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	cand := transport.Candidate{URL: srv.URL, Transport: config.TransportSSE}
	res, err := adapter.Invoke(t.Context(), cand, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "sse", res.Data()["via"])
}

func TestListTools(t *testing.T) {
	ms := &mcpServer{t: t}
	srv := httptest.NewServer(ms.handler())
	defer srv.Close()

	adapter := New(testAgent(srv.URL), nil)
	defer adapter.Close()

	names, err := adapter.Operations(t.Context(), httpCandidate(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"get_products", "create_order"}, names)
}

func TestCloseIsIdempotent(t *testing.T) {
	adapter := New(testAgent("http://unused.example.com"), nil)
	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/embedder/mock"
	"github.com/becomeliminal/mcp-memory/memory/store/chromem"
	"github.com/becomeliminal/mcp-memory/tools"
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func newTestHandler(t *testing.T, readOnly bool) *Handler {
	t.Helper()
	store, err := chromem.New()
	require.NoError(t, err)
	conn, err := memory.NewConnector(memory.ConnectorConfig{CollectionName: "notes"}, mock.New(), store)
	require.NoError(t, err)
	dispatcher := tools.NewMemoryDispatcher(conn, tools.Options{
		StoreDescription: "store",
		FindDescription:  "find",
		ReadOnly:         readOnly,
	})
	return NewHandler(dispatcher, Info{Name: "test-server", Version: "1.0.0", Instructions: "Remember things."})
}

func handle(t *testing.T, h *Handler, msg string) rpcResponse {
	t.Helper()
	raw := h.Handle(context.Background(), []byte(msg))
	require.NotNil(t, raw, "expected a response to %s", msg)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestHandleInitialize(t *testing.T) {
	h := newTestHandler(t, false)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test","version":"0"}}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", string(resp.ID))

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools struct {
				ListChanged bool `json:"listChanged"`
			} `json:"tools"`
		} `json:"capabilities"`
		ServerInfo   Info   `json:"serverInfo"`
		Instructions string `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.Equal(t, "1.0.0", result.ServerInfo.Version)
	assert.Equal(t, "Remember things.", result.Instructions)

	resp = handle(t, h, `{"jsonrpc":"2.0","id":"a","method":"initialize"}`)
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, `"a"`, string(resp.ID))
}

func TestHandleNotificationsAndPing(t *testing.T) {
	h := newTestHandler(t, false)

	assert.Nil(t, h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Nil(t, h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"no/such/method"}`)),
		"notifications never get a response")

	resp := handle(t, h, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestHandleToolsList(t *testing.T) {
	resp := handle(t, newTestHandler(t, false), `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	var result struct {
		Tools []struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 5)
	assert.Equal(t, tools.ToolStore, result.Tools[0].Name)
	assert.Equal(t, "object", result.Tools[0].InputSchema["type"])

	resp = handle(t, newTestHandler(t, true), `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Len(t, result.Tools, 4)
}

func TestHandleToolsCall(t *testing.T) {
	h := newTestHandler(t, false)

	resp := handle(t, h, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"qdrant-store","arguments":{"information":"Lunch is at noon"}}}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Remembered: Lunch is at noon"}]}`, string(resp.Result))

	resp = handle(t, h, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"qdrant-find","arguments":{"query":"lunch"}}}`)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "Lunch is at noon")

	resp = handle(t, h, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"qdrant-collection-info","arguments":{"collection_name":"missing"}}}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Collection 'missing' not found."}],"isError":true}`, string(resp.Result))
}

func TestHandleErrors(t *testing.T) {
	h := newTestHandler(t, false)

	tests := []struct {
		name string
		msg  string
		code int
	}{
		{"parse error", `{not json`, CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, CodeMethodNotFound},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`, CodeInvalidParams},
		{"bad arguments", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"qdrant-store","arguments":{}}}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, h, tt.msg)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Result)
		})
	}

	resp := handle(t, h, `{not json`)
	assert.Equal(t, "null", string(resp.ID))
}

func TestServeStdio(t *testing.T) {
	srv := New(newTestHandler(t, false))

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	err := srv.ServeStdio(context.Background(), strings.NewReader(in), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	ids := map[string]bool{}
	for _, line := range lines {
		var resp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		assert.Nil(t, resp.Error)
		ids[string(resp.ID)] = true
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, ids)
}

func TestServeStdioCanceled(t *testing.T) {
	srv := New(newTestHandler(t, false))
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeStdio(ctx, r, &bytes.Buffer{})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not return after cancel")
	}
}

func TestHealth(t *testing.T) {
	srv := New(newTestHandler(t, false))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebSocket(t *testing.T) {
	srv := New(newTestHandler(t, false))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"qdrant-store","arguments":{"information":"via websocket"}}}`)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(msg, &resp))
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "Remembered: via websocket")
}

func TestWebSocketWriteFailureEndsReadPump(t *testing.T) {
	srv := New(newTestHandler(t, false))
	done := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Writes fail from now on while reads still block on the live peer.
		conn.UnderlyingConn().(*net.TCPConn).CloseWrite()
		c := &wsConn{server: srv, conn: conn, send: make(chan []byte, 1), log: srv.log}
		go c.writePump()
		c.readPump(context.Background())
		close(done)
	}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("readPump still blocked after the write side failed")
	}
}

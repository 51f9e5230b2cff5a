package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/coordinator"
	"github.com/marcushq/marcus/internal/events"
	"github.com/marcushq/marcus/internal/mcptools"
)

func newTestServer(t *testing.T, tokens []string) (*Server, *board.MemoryBoard) {
	t.Helper()
	b := board.NewMemoryBoard()
	store := assignments.NewFileStore(filepath.Join(t.TempDir(), "assignments.json"))
	log := slog.New(slog.DiscardHandler)
	coord := coordinator.New(b, store, ai.NewFallbackEnricher(), nil, 24*time.Hour, log)
	registry := mcptools.BuildRegistry(coord, 30*time.Second)
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	return NewServer(registry, bus, "127.0.0.1", 0, tokens, "test", log), b
}

// openSession connects to /sse and returns the message endpoint from the
// first event, leaving the stream open for the duration of the test.
func openSession(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("open sse: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sse status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	if event != "endpoint" {
		t.Fatalf("first event: got %q, want endpoint", event)
	}
	if !strings.HasPrefix(data, "/sse/messages?session_id=") {
		t.Fatalf("endpoint data: %q", data)
	}
	return data
}

func postRPC(t *testing.T, ts *httptest.Server, endpoint, token, body string) *rpcResponse {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+endpoint, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status: %d", resp.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &out
}

func TestSSEAuthRejected(t *testing.T) {
	s, _ := newTestServer(t, []string{"secret"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, header := range []string{"", "Bearer wrong", "Basic secret"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("header %q: got %d, want 403", header, resp.StatusCode)
		}
	}
}

func TestSSESessionAndDispatch(t *testing.T) {
	s, b := newTestServer(t, []string{"secret"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	b.Put(&board.Task{
		ID: "t1", Name: "Build endpoint", Status: board.StatusTodo,
		Priority: board.PriorityHigh, CreatedAt: time.Now().UTC(),
	})

	endpoint := openSession(t, ts, "secret")

	resp := postRPC(t, ts, endpoint, "secret",
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}
	init := resp.Result.(map[string]any)
	if init["protocolVersion"] == "" {
		t.Errorf("initialize result: %v", init)
	}

	resp = postRPC(t, ts, endpoint, "secret",
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("tools/list: %+v", resp.Error)
	}
	tools := resp.Result.(map[string]any)["tools"].([]any)
	if len(tools) != 9 {
		t.Errorf("tools: got %d, want 9", len(tools))
	}

	resp = postRPC(t, ts, endpoint, "secret",
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"register_agent","arguments":{"agent_id":"a1","name":"One","role":"Dev","skills":[]}}}`)
	if resp.Error != nil {
		t.Fatalf("tools/call: %+v", resp.Error)
	}
	content := resp.Result.(map[string]any)["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("embedded result not JSON: %v", err)
	}
	if payload["success"] != true || payload["agent_id"] != "a1" {
		t.Errorf("payload: %v", payload)
	}
}

func TestMessagesUnknownSession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sse/messages?session_id=bogus",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestProtocolErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	endpoint := openSession(t, ts, "")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, codeParseError},
		{"invalid request", `{"id":1,"method":"initialize"}`, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"bogus"}`, codeMethodNotFound},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"bogus"}}`, codeMethodNotFound},
		{"invalid args", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"register_agent","arguments":{"agent_id":"a1"}}}`, codeInvalidParams},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, codeInvalidParams},
	}
	for _, tc := range tests {
		resp := postRPC(t, ts, endpoint, "", tc.body)
		if resp.Error == nil || resp.Error.Code != tc.code {
			t.Errorf("%s: got %+v, want code %d", tc.name, resp.Error, tc.code)
		}
	}
}

func TestApplicationErrorIsSuccessfulResponse(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	endpoint := openSession(t, ts, "")

	// Unregistered agent is an application error, embedded in the payload.
	resp := postRPC(t, ts, endpoint, "",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"request_next_task","arguments":{"agent_id":"ghost"}}}`)
	if resp.Error != nil {
		t.Fatalf("expected JSON-RPC success, got %+v", resp.Error)
	}
	content := resp.Result.(map[string]any)["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	var payload map[string]any
	json.Unmarshal([]byte(text), &payload)
	if payload["success"] != false || payload["error_code"] != "not_registered" {
		t.Errorf("payload: %v", payload)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("health: %v", out)
	}
}

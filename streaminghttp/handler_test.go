package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/asachs01/propublica-mcp/internal/engine"
	"github.com/asachs01/propublica-mcp/nonprofit"
	"github.com/asachs01/propublica-mcp/propublica"
	"github.com/asachs01/propublica-mcp/sessions/memoryhost"
)

// testHandler builds the full transport stack over a faked upstream API.
func testHandler(t *testing.T, upstream http.Handler) *Handler {
	t.Helper()
	api := httptest.NewServer(upstream)
	t.Cleanup(api.Close)

	limiter, err := propublica.NewLimiter(1000, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	client, err := propublica.NewClient(limiter,
		propublica.WithBaseURL(api.URL),
		propublica.WithRetryInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := nonprofit.NewServer(client, "test-server", "0.0.1", nil)
	eng := engine.New(memoryhost.New(), srv, engine.WithLogger(log))
	return New(eng, WithLogger(log))
}

func fakeSearchUpstream() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(propublica.SearchResult{
			TotalResults: 1,
			NumPages:     1,
			Organizations: []propublica.Organization{
				{EIN: 131837418, Name: "Test Food Bank", State: "NY"},
			},
		})
	})
}

func TestEndToEndWithSDKClient(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	srv := httptest.NewServer(testHandler(t, fakeSearchUpstream()))
	defer srv.Close()

	client := sdk.NewClient(&sdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + "/"}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	if want, got := "test-server", cs.InitializeResult().ServerInfo.Name; want != got {
		t.Errorf("server name = %q, want %q", got, want)
	}

	tools, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	if len(tools.Tools) != 8 {
		t.Errorf("tool count = %d, want 8", len(tools.Tools))
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "search_nonprofits",
		Arguments: map[string]any{"query": "food bank"},
	})
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want text", res.Content[0])
	}
	if !strings.Contains(text.Text, "Test Food Bank") {
		t.Errorf("result text missing organization name:\n%s", text.Text)
	}

	resources, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("resources/list: %v", err)
	}
	if len(resources.Resources) != 3 {
		t.Errorf("resource count = %d, want 3", len(resources.Resources))
	}
	read, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "nonprofit://reference/state-codes"})
	if err != nil {
		t.Fatalf("resources/read: %v", err)
	}
	if len(read.Contents) != 1 || !strings.Contains(read.Contents[0].Text, "ZZ") {
		t.Errorf("state codes resource missing ZZ: %+v", read.Contents)
	}
}

func postJSON(t *testing.T, srv *httptest.Server, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func initializeRaw(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	res := postJSON(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"raw","version":"0"}}}`, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", res.StatusCode)
	}
	sessID := res.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}
	if got := res.Header.Get("MCP-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("protocol version header = %q", got)
	}
	return sessID
}

func TestPostRejectsBatchArrays(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()

	res := postJSON(t, srv, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestPostWithoutSessionRequiresInitialize(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()

	res := postJSON(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != http.StatusNotFound {
		t.Errorf("error code = %d, want 404", body.Error.Code)
	}
	if !strings.Contains(body.Error.Message, "initialize") {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestPostRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("id=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", res.StatusCode)
	}
}

func TestPostRejectsProtocolVersionMismatch(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	res := postJSON(t, srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, map[string]string{
		"Mcp-Session-Id":       sessID,
		"MCP-Protocol-Version": "2024-01-01",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestSecondInitializeConflicts(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	res := postJSON(t, srv, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, map[string]string{
		"Mcp-Session-Id": sessID,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", res.StatusCode)
	}
}

func TestRequestAnswersOverSSEWithEchoedID(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	res := postJSON(t, srv, `{"jsonrpc":"2.0","id":42,"method":"ping"}`, map[string]string{
		"Mcp-Session-Id": sessID,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	frame := string(raw)
	if !strings.HasPrefix(frame, "data: ") {
		t.Fatalf("frame = %q, want SSE data frame", frame)
	}
	var rpc struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
	if err := json.Unmarshal([]byte(payload), &rpc); err != nil {
		t.Fatal(err)
	}
	if rpc.ID != 42 {
		t.Errorf("response id = %d, want 42 (correlation ID must echo)", rpc.ID)
	}
	if len(rpc.Result) == 0 {
		t.Error("ping result missing")
	}
}

func TestNotificationsReturn202(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	res := postJSON(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, map[string]string{
		"Mcp-Session-Id": sessID,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", res.StatusCode)
	}
}

func TestGetRequiresEventStreamAccept(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotAcceptable {
		t.Errorf("status = %d, want 406", res.StatusCode)
	}
}

func TestDeleteTearsDownSession(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()
	sessID := initializeRaw(t, srv)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", res.StatusCode)
	}

	after := postJSON(t, srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, map[string]string{
		"Mcp-Session-Id": sessID,
	})
	defer after.Body.Close()
	if after.StatusCode != http.StatusNotFound {
		t.Errorf("post after delete = %d, want 404", after.StatusCode)
	}

	again, _ := http.NewRequest(http.MethodDelete, srv.URL, nil)
	again.Header.Set("Mcp-Session-Id", sessID)
	res2, err := srv.Client().Do(again)
	if err != nil {
		t.Fatal(err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", res2.StatusCode)
	}
}

func TestUnsupportedMethodAdvertisesAllow(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, http.NotFoundHandler()))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL, nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", res.StatusCode)
	}
	if allow := res.Header.Get("Allow"); !strings.Contains(allow, "POST") {
		t.Errorf("Allow = %q", allow)
	}
}

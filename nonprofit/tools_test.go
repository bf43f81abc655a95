package nonprofit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/mcpservice"
	"github.com/asachs01/propublica-mcp/propublica"
	"github.com/asachs01/propublica-mcp/sessions"
)

func testTools(t *testing.T, upstream http.Handler) *mcpservice.ToolsContainer {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	limiter, err := propublica.NewLimiter(1000, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	client, err := propublica.NewClient(limiter,
		propublica.WithBaseURL(srv.URL),
		propublica.WithRetryInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	return mcpservice.NewToolsContainer(Tools(client)...)
}

func callTool(t *testing.T, tc *mcpservice.ToolsContainer, name, args string) *mcp.CallToolResult {
	t.Helper()
	sess := &sessions.Metadata{SessionID: "test-session", State: sessions.StateReady}
	res, err := tc.CallTool(context.Background(), sess, &mcp.CallToolRequest{
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content blocks")
	}
	return res.Content[0].Text
}

// errorPayload digs the structured error out of an IsError result.
func errorPayload(t *testing.T, res *mcp.CallToolResult) (kind, message string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected error result, got %s", resultText(t, res))
	}
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error.Kind, body.Error.Message
}

func staticUpstream(t *testing.T, routes map[string]any) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(payload)
	})
}

func TestToolsListsAllEight(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	page, err := tc.ListTools(context.Background(), &sessions.Metadata{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"search_nonprofits",
		"get_organization",
		"get_organization_filings",
		"analyze_nonprofit_financials",
		"search_similar_nonprofits",
		"search_nonprofits_with_pdfs",
		"get_most_recent_pdf",
		"export_nonprofit_data",
	}
	if len(page.Items) != len(want) {
		t.Fatalf("tool count = %d, want %d", len(page.Items), len(want))
	}
	for i, name := range want {
		if page.Items[i].Name != name {
			t.Errorf("tools[%d] = %q, want %q", i, page.Items[i].Name, name)
		}
		if page.Items[i].InputSchema.Type != "object" {
			t.Errorf("%s schema type = %q, want object", name, page.Items[i].InputSchema.Type)
		}
	}
}

func TestSearchNonprofits(t *testing.T) {
	tc := testTools(t, staticUpstream(t, map[string]any{
		"/search.json": propublica.SearchResult{
			TotalResults: 2,
			NumPages:     1,
			Organizations: []propublica.Organization{
				{EIN: 100000001, Name: "Food Bank A", State: "CA"},
				{EIN: 100000002, Name: "Food Bank B", State: "CA"},
			},
		},
	}))

	res := callTool(t, tc, "search_nonprofits", `{"query":"food bank","state":"CA"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	var body struct {
		TotalResults  int          `json:"total_results"`
		Count         int          `json:"count"`
		Organizations []orgSummary `json:"organizations"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.TotalResults != 2 || body.Count != 2 {
		t.Errorf("total=%d count=%d, want 2/2", body.TotalResults, body.Count)
	}
	if body.Organizations[0].Name != "Food Bank A" {
		t.Errorf("first org = %q, want Food Bank A (order preserved)", body.Organizations[0].Name)
	}
	if body.Organizations[0].EIN != "100000001" {
		t.Errorf("first org ein = %q, want canonical 9-digit form", body.Organizations[0].EIN)
	}
}

func TestSearchNonprofitsRequiresQuery(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	kind, message := errorPayload(t, callTool(t, tc, "search_nonprofits", `{}`))
	if kind != string(propublica.ErrorKindValidation) {
		t.Errorf("kind = %q, want validation_error", kind)
	}
	if !strings.HasPrefix(message, "query:") {
		t.Errorf("message = %q, want it to name the query field", message)
	}
}

func TestToolRejectsUnknownArgument(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	res := callTool(t, tc, "search_nonprofits", `{"query":"food","bogus":true}`)
	if !res.IsError {
		t.Fatal("expected error result for unknown argument field")
	}
	if text := resultText(t, res); !strings.Contains(text, "invalid arguments") {
		t.Errorf("text = %q, want invalid-arguments message", text)
	}
}

func TestGetOrganizationRequiresEIN(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	for _, tool := range []string{"get_organization", "get_organization_filings", "analyze_nonprofit_financials", "get_most_recent_pdf", "search_similar_nonprofits"} {
		t.Run(tool, func(t *testing.T) {
			kind, message := errorPayload(t, callTool(t, tc, tool, `{}`))
			if kind != string(propublica.ErrorKindValidation) {
				t.Errorf("kind = %q, want validation_error", kind)
			}
			if !strings.HasPrefix(message, "ein:") {
				t.Errorf("message = %q, want it to name the ein field", message)
			}
		})
	}
}

func TestGetOrganizationSurfacesUpstreamClientError(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	kind, _ := errorPayload(t, callTool(t, tc, "get_organization", `{"ein":"131837418"}`))
	if kind != string(propublica.ErrorKindUpstreamClient) {
		t.Errorf("kind = %q, want upstream_client_error", kind)
	}
}

func TestGetMostRecentPDFReportsAbsence(t *testing.T) {
	tc := testTools(t, staticUpstream(t, map[string]any{
		"/organizations/131837418.json": propublica.OrganizationResult{
			Organization: propublica.Organization{EIN: 131837418, Name: "Test Org"},
			FilingsWithData: []propublica.Filing{
				{TaxPeriodYear: 2022, PDFAvailable: true},
			},
		},
	}))

	res := callTool(t, tc, "get_most_recent_pdf", `{"ein":"13-1837418"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	var body struct {
		PDFAvailable bool   `json:"pdf_available"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.PDFAvailable {
		t.Error("pdf_available = true, want false")
	}
	if body.Message != "no PDF available for any filing" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestSearchSimilarExcludesReference(t *testing.T) {
	tc := testTools(t, staticUpstream(t, map[string]any{
		"/organizations/100000001.json": propublica.OrganizationResult{
			Organization: propublica.Organization{
				EIN: 100000001, Name: "Reference Org", State: "CA", NTEECode: "B25",
			},
		},
		"/search.json": propublica.SearchResult{
			TotalResults: 3,
			NumPages:     1,
			Organizations: []propublica.Organization{
				{EIN: 100000001, Name: "Reference Org", State: "CA"},
				{EIN: 100000002, Name: "Peer One", State: "CA"},
				{EIN: 100000003, Name: "Peer Two", State: "CA"},
			},
		},
	}))

	res := callTool(t, tc, "search_similar_nonprofits", `{"ein":"100000001"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	var body struct {
		Count    int          `json:"count"`
		Similar  []orgSummary `json:"similar"`
		Criteria struct {
			NTEECategory int `json:"ntee_category"`
		} `json:"criteria"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	for _, s := range body.Similar {
		if s.EIN == "100000001" {
			t.Error("similar results include the reference organization")
		}
	}
	// B25 maps to broad category 2 (Education).
	if body.Criteria.NTEECategory != 2 {
		t.Errorf("ntee_category = %d, want 2", body.Criteria.NTEECategory)
	}
}

func TestAnalyzeFinancialsRejectsNegativeYears(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	kind, message := errorPayload(t, callTool(t, tc, "analyze_nonprofit_financials", `{"ein":"131837418","years":-1}`))
	if kind != string(propublica.ErrorKindValidation) {
		t.Errorf("kind = %q, want validation_error", kind)
	}
	if !strings.HasPrefix(message, "years:") {
		t.Errorf("message = %q, want it to name the years field", message)
	}
}

func TestUnknownToolReturnsNotFound(t *testing.T) {
	tc := testTools(t, http.NotFoundHandler())
	_, err := tc.CallTool(context.Background(), &sessions.Metadata{}, &mcp.CallToolRequest{Name: "no_such_tool"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "tool not found") {
		t.Errorf("err = %v, want tool-not-found", err)
	}
}

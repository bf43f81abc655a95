// Package nonprofit assembles the MCP capability surface for the ProPublica
// Nonprofit Explorer: the tool set, the reference-data resources, and the
// logging capability.
package nonprofit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/asachs01/propublica-mcp/mcpservice"
	"github.com/asachs01/propublica-mcp/propublica"
	"github.com/asachs01/propublica-mcp/sessions"
)

const (
	defaultSearchLimit  = 25
	maxSearchLimit      = 100
	defaultSimilarLimit = 10
	maxSimilarLimit     = 25
	defaultPDFLimit     = 10
	maxExportEINs       = 10
)

// orgSummary is the compact organization shape returned from searches.
type orgSummary struct {
	EIN        string `json:"ein"`
	Name       string `json:"name"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	NTEECode   string `json:"ntee_code,omitempty"`
	Subsection string `json:"subsection,omitempty"`
}

func summarize(o *propublica.Organization) orgSummary {
	return orgSummary{
		EIN:        o.EINString(),
		Name:       o.Name,
		City:       o.City,
		State:      o.State,
		NTEECode:   o.NTEECode,
		Subsection: o.SubsectionDescription(),
	}
}

// writeJSON renders v as the tool's text content and structured content.
func writeJSON(w mcpservice.ToolResponseWriter, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	w.SetStructured(v)
	return w.AppendText(string(b))
}

// toolError is the structured failure payload tools return in place of a
// result. Transport and session state are unaffected.
type toolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w mcpservice.ToolResponseWriter, err error) error {
	te := toolError{Kind: string(propublica.KindOf(err)), Message: err.Error()}
	var pe *propublica.Error
	if errors.As(err, &pe) {
		te.Message = pe.Message
	}
	w.SetError(true)
	return writeJSON(w, map[string]toolError{"error": te})
}

func validationError(w mcpservice.ToolResponseWriter, field, format string, a ...any) error {
	w.SetError(true)
	return writeJSON(w, map[string]toolError{"error": {
		Kind:    string(propublica.ErrorKindValidation),
		Message: fmt.Sprintf("%s: %s", field, fmt.Sprintf(format, a...)),
	}})
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Tools builds the full tool set over the given API client.
func Tools(client *propublica.Client) []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		searchNonprofitsTool(client),
		getOrganizationTool(client),
		getOrganizationFilingsTool(client),
		analyzeFinancialsTool(client),
		searchSimilarTool(client),
		searchWithPDFsTool(client),
		getMostRecentPDFTool(client),
		exportDataTool(client),
	}
}

type searchArgs struct {
	Query        string `json:"query" jsonschema:"description=Search terms (organization name or keywords)"`
	State        string `json:"state,omitempty" jsonschema:"description=Two-letter state code filter (e.g. CA; ZZ for non-US)"`
	NTEECategory int    `json:"ntee_category,omitempty" jsonschema:"description=Broad NTEE category filter (1-10),minimum=1,maximum=10"`
	Limit        int    `json:"limit,omitempty" jsonschema:"description=Maximum organizations to return (default 25; max 100),minimum=1,maximum=100"`
}

func searchNonprofitsTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("search_nonprofits",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[searchArgs]) error {
			args := r.Args()
			if args.Query == "" {
				return validationError(w, "query", "query is required")
			}
			limit := clampLimit(args.Limit, defaultSearchLimit, maxSearchLimit)
			orgs, total, err := client.SearchAll(ctx, propublica.SearchQuery{
				Query:        args.Query,
				State:        args.State,
				NTEECategory: args.NTEECategory,
			}, limit)
			if err != nil {
				return writeError(w, err)
			}
			summaries := make([]orgSummary, 0, len(orgs))
			for i := range orgs {
				summaries = append(summaries, summarize(&orgs[i]))
			}
			return writeJSON(w, map[string]any{
				"query": args.Query,
				"filters": map[string]any{
					"state":         args.State,
					"ntee_category": args.NTEECategory,
				},
				"total_results": total,
				"count":         len(summaries),
				"organizations": summaries,
			})
		},
		mcpservice.WithToolDescription("Search for nonprofit organizations by name or keywords, optionally filtered by state and NTEE category."),
	)
}

type einArgs struct {
	EIN string `json:"ein" jsonschema:"description=Employer Identification Number (9 digits; hyphen allowed)"`
}

func getOrganizationTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("get_organization",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[einArgs]) error {
			if r.Args().EIN == "" {
				return validationError(w, "ein", "ein is required")
			}
			res, err := client.GetOrganization(ctx, r.Args().EIN)
			if err != nil {
				return writeError(w, err)
			}
			payload := map[string]any{
				"organization": res.Organization,
				"subsection":   res.Organization.SubsectionDescription(),
				"filing_count": len(res.FilingsWithData) + len(res.FilingsWithoutData),
			}
			if filings := res.AllFilings(); len(filings) > 0 {
				payload["latest_filing"] = propublica.DigestFiling(&filings[0])
			}
			return writeJSON(w, payload)
		},
		mcpservice.WithToolDescription("Get an organization's registry record and latest filing summary by EIN."),
	)
}

func getOrganizationFilingsTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("get_organization_filings",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[einArgs]) error {
			if r.Args().EIN == "" {
				return validationError(w, "ein", "ein is required")
			}
			res, err := client.GetOrganization(ctx, r.Args().EIN)
			if err != nil {
				return writeError(w, err)
			}
			filings := res.AllFilings()
			digests := make([]propublica.FilingDigest, 0, len(filings))
			for i := range filings {
				digests = append(digests, propublica.DigestFiling(&filings[i]))
			}
			summary := map[string]any{"count": len(digests)}
			if len(digests) > 0 {
				summary["newest_year"] = digests[0].TaxYear
				summary["oldest_year"] = digests[len(digests)-1].TaxYear
			}
			return writeJSON(w, map[string]any{
				"ein":     res.Organization.EINString(),
				"name":    res.Organization.Name,
				"summary": summary,
				"filings": digests,
			})
		},
		mcpservice.WithToolDescription("List an organization's Form 990 filing history with per-filing financials."),
	)
}

type analyzeArgs struct {
	EIN   string `json:"ein" jsonschema:"description=Employer Identification Number (9 digits; hyphen allowed)"`
	Years int    `json:"years,omitempty" jsonschema:"description=Analyze only the N most recent filings (default: all),minimum=2"`
}

func analyzeFinancialsTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("analyze_nonprofit_financials",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[analyzeArgs]) error {
			args := r.Args()
			if args.EIN == "" {
				return validationError(w, "ein", "ein is required")
			}
			if args.Years < 0 {
				return validationError(w, "years", "years must be positive, got %d", args.Years)
			}
			analysis, err := client.AnalyzeFinancials(ctx, args.EIN, args.Years)
			if err != nil {
				return writeError(w, err)
			}
			return writeJSON(w, analysis)
		},
		mcpservice.WithToolDescription("Analyze multi-year financial trends (revenue, expenses, net assets) for a nonprofit."),
	)
}

type similarArgs struct {
	EIN   string `json:"ein" jsonschema:"description=Reference organization's EIN"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum similar organizations to return (default 10; max 25),minimum=1,maximum=25"`
}

func searchSimilarTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("search_similar_nonprofits",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[similarArgs]) error {
			args := r.Args()
			if args.EIN == "" {
				return validationError(w, "ein", "ein is required")
			}
			limit := clampLimit(args.Limit, defaultSimilarLimit, maxSimilarLimit)

			ref, err := client.GetOrganization(ctx, args.EIN)
			if err != nil {
				return writeError(w, err)
			}

			q := propublica.SearchQuery{Query: "nonprofit", State: ref.Organization.State}
			if ref.Organization.NTEECode != "" {
				q.Query = ref.Organization.NTEECode
			}
			// The search filter only understands the ten broad categories.
			if cat := propublica.NTEEMajorCategory(ref.Organization.NTEECode); cat >= 1 && cat <= 10 {
				q.NTEECategory = cat
			}

			// Overfetch slightly so dropping the reference org still fills
			// the requested limit.
			candidates, _, err := client.SearchAll(ctx, q, limit+5)
			if err != nil {
				return writeError(w, err)
			}
			refEIN := ref.Organization.EINString()
			similar := make([]orgSummary, 0, limit)
			for i := range candidates {
				if candidates[i].EINString() == refEIN {
					continue
				}
				similar = append(similar, summarize(&candidates[i]))
				if len(similar) >= limit {
					break
				}
			}
			return writeJSON(w, map[string]any{
				"reference": summarize(&ref.Organization),
				"criteria": map[string]any{
					"state":         q.State,
					"ntee_category": q.NTEECategory,
				},
				"count":   len(similar),
				"similar": similar,
			})
		},
		mcpservice.WithToolDescription("Find nonprofits similar to a reference organization by state and NTEE category."),
	)
}

type pdfSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Search terms (organization name or keywords)"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum organizations with PDFs to return (default 10; max 25),minimum=1,maximum=25"`
}

func searchWithPDFsTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("search_nonprofits_with_pdfs",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[pdfSearchArgs]) error {
			args := r.Args()
			if args.Query == "" {
				return validationError(w, "query", "query is required")
			}
			limit := clampLimit(args.Limit, defaultPDFLimit, maxSimilarLimit)
			hits, err := client.SearchWithPDFs(ctx, propublica.SearchQuery{Query: args.Query}, limit)
			if err != nil {
				return writeError(w, err)
			}
			type hit struct {
				Organization orgSummary              `json:"organization"`
				Filing       propublica.FilingDigest `json:"filing"`
			}
			out := make([]hit, 0, len(hits))
			for i := range hits {
				out = append(out, hit{
					Organization: summarize(&hits[i].Organization),
					Filing:       propublica.DigestFiling(&hits[i].Filing),
				})
			}
			return writeJSON(w, map[string]any{
				"query":         args.Query,
				"count":         len(out),
				"organizations": out,
			})
		},
		mcpservice.WithToolDescription("Search for nonprofits that have at least one filing with a retrievable PDF document."),
	)
}

func getMostRecentPDFTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("get_most_recent_pdf",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[einArgs]) error {
			if r.Args().EIN == "" {
				return validationError(w, "ein", "ein is required")
			}
			org, filing, found, err := client.MostRecentPDF(ctx, r.Args().EIN)
			if err != nil {
				return writeError(w, err)
			}
			payload := map[string]any{
				"ein":           org.EINString(),
				"name":          org.Name,
				"pdf_available": found,
			}
			if found {
				payload["filing"] = propublica.DigestFiling(filing)
				payload["pdf_url"] = *filing.PDFURL
			} else {
				payload["message"] = "no PDF available for any filing"
			}
			return writeJSON(w, payload)
		},
		mcpservice.WithToolDescription("Find the most recent filing with a retrievable PDF for an organization, scanning its entire filing history."),
	)
}

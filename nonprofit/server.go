package nonprofit

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/asachs01/propublica-mcp/mcpservice"
	"github.com/asachs01/propublica-mcp/propublica"
)

const serverInstructions = "Query the ProPublica Nonprofit Explorer: search " +
	"organizations, fetch Form 990 filing histories, analyze multi-year " +
	"financial trends, locate filing PDFs, and export data for up to 10 " +
	"organizations at a time. EINs may be given with or without a hyphen. " +
	"Reference datasets (NTEE categories, 501(c) subsection codes, state " +
	"codes) are available as resources."

// NewServer assembles the full capability surface: the eight tools, the
// reference-data resources, and client-adjustable logging.
func NewServer(client *propublica.Client, name, version string, logLevel *slog.LevelVar) *mcpservice.Server {
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(name, version),
		mcpservice.WithInstructions(serverInstructions),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(Tools(client)...)),
		mcpservice.WithResourcesCapability(referenceResources()),
	}
	if logLevel != nil {
		opts = append(opts, mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(logLevel)))
	}
	return mcpservice.NewServer(opts...)
}

// referenceResources exposes the static reference datasets tool callers
// need to build valid filter values.
func referenceResources() *mcpservice.ResourcesContainer {
	return mcpservice.NewResourcesContainer(
		mcpservice.NewTextResource(
			"nonprofit://reference/ntee-categories",
			"ntee-categories",
			"Broad NTEE category IDs accepted by the ntee_category search filter.",
			"application/json",
			mustJSON(nteeCategoryList()),
		),
		mcpservice.NewTextResource(
			"nonprofit://reference/subsection-codes",
			"subsection-codes",
			"IRS subsection codes and their 501(c) statute labels.",
			"application/json",
			mustJSON(subsectionCodeList()),
		),
		mcpservice.NewTextResource(
			"nonprofit://reference/state-codes",
			"state-codes",
			"State codes accepted by the state search filter, including DC and ZZ (non-US).",
			"application/json",
			mustJSON(propublica.SortedUSStates()),
		),
	)
}

type codeEntry struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

func nteeCategoryList() []codeEntry {
	return sortedEntries(propublica.NTEECategories)
}

func subsectionCodeList() []codeEntry {
	return sortedEntries(propublica.SubsectionCodes)
}

func sortedEntries(m map[int]string) []codeEntry {
	out := make([]codeEntry, 0, len(m))
	for code, label := range m {
		out = append(out, codeEntry{Code: code, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}

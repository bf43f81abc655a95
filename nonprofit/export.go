package nonprofit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/asachs01/propublica-mcp/mcpservice"
	"github.com/asachs01/propublica-mcp/propublica"
	"github.com/asachs01/propublica-mcp/sessions"
)

type exportArgs struct {
	EINs   []string `json:"eins" jsonschema:"description=EINs to export (at most 10)"`
	Format string   `json:"format,omitempty" jsonschema:"description=Output format: json or csv (default json),enum=json,enum=csv"`
}

// exportRecord is one organization's row in an export.
type exportRecord struct {
	EIN           string   `json:"ein"`
	Name          string   `json:"name"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	NTEECode      string   `json:"ntee_code,omitempty"`
	Subsection    string   `json:"subsection,omitempty"`
	LatestTaxYear int      `json:"latest_tax_year,omitempty"`
	TotalRevenue  *float64 `json:"total_revenue,omitempty"`
	TotalExpenses *float64 `json:"total_expenses,omitempty"`
	NetAssets     *float64 `json:"net_assets,omitempty"`
}

// exportFailure records a per-EIN fetch failure without sinking the export.
type exportFailure struct {
	EIN     string `json:"ein"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func exportDataTool(client *propublica.Client) mcpservice.StaticTool {
	return mcpservice.NewTool("export_nonprofit_data",
		func(ctx context.Context, _ *sessions.Metadata, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[exportArgs]) error {
			args := r.Args()
			if len(args.EINs) == 0 {
				return validationError(w, "eins", "eins is required")
			}
			if len(args.EINs) > maxExportEINs {
				return validationError(w, "eins", "at most %d eins per export, got %d", maxExportEINs, len(args.EINs))
			}
			format := args.Format
			if format == "" {
				format = "json"
			}
			if format != "json" && format != "csv" {
				return validationError(w, "format", "format must be json or csv, got %q", format)
			}

			var (
				records  []exportRecord
				failures []exportFailure
			)
			for _, ein := range args.EINs {
				res, err := client.GetOrganization(ctx, ein)
				if err != nil {
					failures = append(failures, exportFailure{
						EIN:     ein,
						Kind:    string(propublica.KindOf(err)),
						Message: err.Error(),
					})
					continue
				}
				records = append(records, buildRecord(res))
			}

			payload := map[string]any{
				"format":   format,
				"exported": len(records),
				"failed":   len(failures),
			}
			if len(failures) > 0 {
				payload["failures"] = failures
			}
			switch format {
			case "csv":
				csvText, err := renderCSV(records)
				if err != nil {
					return fmt.Errorf("render csv: %w", err)
				}
				payload["csv"] = csvText
			default:
				payload["records"] = records
			}
			return writeJSON(w, payload)
		},
		mcpservice.WithToolDescription("Export registry and latest-filing data for up to 10 organizations as JSON or CSV."),
	)
}

func buildRecord(res *propublica.OrganizationResult) exportRecord {
	rec := exportRecord{
		EIN:        res.Organization.EINString(),
		Name:       res.Organization.Name,
		City:       res.Organization.City,
		State:      res.Organization.State,
		NTEECode:   res.Organization.NTEECode,
		Subsection: res.Organization.SubsectionDescription(),
	}
	filings := res.AllFilings()
	if len(filings) == 0 {
		return rec
	}
	latest := filings[0]
	rec.LatestTaxYear = latest.TaxYear()
	if latest.TotalRevenue.Valid {
		v := latest.TotalRevenue.Value
		rec.TotalRevenue = &v
	}
	if latest.TotalExpenses.Valid {
		v := latest.TotalExpenses.Value
		rec.TotalExpenses = &v
	}
	if v, ok := latest.NetAssets(); ok {
		rec.NetAssets = &v
	}
	return rec
}

// csvHeader fixes the column order so exports are stable across runs.
var csvHeader = []string{
	"ein", "name", "city", "state", "ntee_code", "subsection",
	"latest_tax_year", "total_revenue", "total_expenses", "net_assets",
}

func renderCSV(records []exportRecord) (string, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return "", err
	}
	for _, rec := range records {
		row := []string{
			rec.EIN, rec.Name, rec.City, rec.State, rec.NTEECode, rec.Subsection,
			formatInt(rec.LatestTaxYear),
			formatFloat(rec.TotalRevenue),
			formatFloat(rec.TotalExpenses),
			formatFloat(rec.NetAssets),
		}
		if err := cw.Write(row); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatInt(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

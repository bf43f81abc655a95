package propublica

import (
	"context"
	"sort"
)

// Trend direction labels. A metric grows or declines when the majority of
// its defined year-over-year changes clear the threshold; ties and
// middling changes read as stable.
const (
	TrendGrowing      = "growing"
	TrendDeclining    = "declining"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient data"
)

// trendThresholdPct is the symmetric band around zero within which a
// year-over-year change reads as stable.
const trendThresholdPct = 5.0

// SearchAll walks search pages in upstream order until limit organizations
// are collected or results are exhausted. It returns the organizations and
// the upstream's total match count.
func (c *Client) SearchAll(ctx context.Context, q SearchQuery, limit int) ([]Organization, int, error) {
	if limit <= 0 {
		limit = 25
	}
	var (
		collected []Organization
		total     int
	)
	q.Page = 0
	for {
		page, err := c.Search(ctx, q)
		if err != nil {
			return nil, 0, err
		}
		total = page.TotalResults
		if len(page.Organizations) == 0 {
			break
		}
		collected = append(collected, page.Organizations...)
		if len(collected) >= limit {
			collected = collected[:limit]
			break
		}
		if page.NumPages > 0 && page.CurPage >= page.NumPages-1 {
			break
		}
		q.Page++
	}
	return collected, total, nil
}

// MostRecentPDF scans an organization's entire filing history, newest tax
// year first, for a filing with a usable source document. found is false
// when no filing qualifies; that outcome is not an error.
func (c *Client) MostRecentPDF(ctx context.Context, ein string) (org *Organization, filing *Filing, found bool, err error) {
	res, err := c.GetOrganization(ctx, ein)
	if err != nil {
		return nil, nil, false, err
	}
	for _, f := range res.AllFilings() {
		if f.HasUsablePDF() {
			f := f
			return &res.Organization, &f, true, nil
		}
	}
	return &res.Organization, nil, false, nil
}

// SearchWithPDFs searches for organizations and keeps only those whose
// filing history contains a usable document, probing candidates in search
// order until limit hits. The candidate scan is bounded to keep the probe
// cost proportional to the rate budget.
func (c *Client) SearchWithPDFs(ctx context.Context, q SearchQuery, limit int) ([]OrganizationPDF, error) {
	if limit <= 0 {
		limit = 10
	}
	maxCandidates := limit * 5
	if maxCandidates > 50 {
		maxCandidates = 50
	}
	candidates, _, err := c.SearchAll(ctx, q, maxCandidates)
	if err != nil {
		return nil, err
	}
	hits := make([]OrganizationPDF, 0, limit)
	for _, cand := range candidates {
		org, filing, found, err := c.MostRecentPDF(ctx, cand.EINString())
		if err != nil {
			// A single bad candidate should not sink the whole search.
			if KindOf(err) == ErrorKindUpstreamClient || KindOf(err) == ErrorKindValidation {
				continue
			}
			return nil, err
		}
		if !found {
			continue
		}
		hits = append(hits, OrganizationPDF{Organization: *org, Filing: *filing})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// OrganizationPDF pairs an organization with its most recent documented
// filing.
type OrganizationPDF struct {
	Organization Organization `json:"organization"`
	Filing       Filing       `json:"filing"`
}

// MetricPoint is one year's value for one financial metric.
type MetricPoint struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// YearChange is the movement between two consecutive qualifying years.
// PctChange is nil when the earlier value is zero: relative change from a
// zero base is undefined and the pair is excluded from direction counts.
type YearChange struct {
	FromYear  int      `json:"from_year"`
	ToYear    int      `json:"to_year"`
	PctChange *float64 `json:"pct_change"`
	Direction string   `json:"direction"`
}

// MetricTrend summarizes one metric's trajectory across filings.
type MetricTrend struct {
	Metric    string        `json:"metric"`
	Points    []MetricPoint `json:"points"`
	Changes   []YearChange  `json:"changes,omitempty"`
	Growing   int           `json:"growing_years"`
	Declining int           `json:"declining_years"`
	Stable    int           `json:"stable_years"`
	Verdict   string        `json:"verdict"`
	Average   *float64      `json:"average,omitempty"`
}

// FinancialAnalysis is the multi-year trend report for one organization.
type FinancialAnalysis struct {
	EIN           string        `json:"ein"`
	Name          string        `json:"name"`
	YearsAnalyzed []int         `json:"years_analyzed"`
	Revenue       MetricTrend   `json:"revenue"`
	Expenses      MetricTrend   `json:"expenses"`
	NetAssets     MetricTrend   `json:"net_assets"`
	LatestFiling  *FilingDigest `json:"latest_filing,omitempty"`
}

// FilingDigest is the per-filing financial summary attached to reports.
type FilingDigest struct {
	TaxYear       int      `json:"tax_year"`
	FormType      string   `json:"form_type"`
	TotalRevenue  *float64 `json:"total_revenue,omitempty"`
	TotalExpenses *float64 `json:"total_expenses,omitempty"`
	TotalAssets   *float64 `json:"total_assets,omitempty"`
	TotalLiab     *float64 `json:"total_liabilities,omitempty"`
	NetAssets     *float64 `json:"net_assets,omitempty"`
	ExpenseRatio  *float64 `json:"expense_ratio,omitempty"`
	PDFURL        *string  `json:"pdf_url,omitempty"`
}

// DigestFiling projects a filing into its report form.
func DigestFiling(f *Filing) FilingDigest {
	d := FilingDigest{TaxYear: f.TaxYear(), FormType: f.FormType()}
	if f.TotalRevenue.Valid {
		v := f.TotalRevenue.Value
		d.TotalRevenue = &v
	}
	if f.TotalExpenses.Valid {
		v := f.TotalExpenses.Value
		d.TotalExpenses = &v
	}
	if f.TotalAssets.Valid {
		v := f.TotalAssets.Value
		d.TotalAssets = &v
	}
	if f.TotalLiab.Valid {
		v := f.TotalLiab.Value
		d.TotalLiab = &v
	}
	if v, ok := f.NetAssets(); ok {
		d.NetAssets = &v
	}
	if v, ok := f.ExpenseRatio(); ok {
		d.ExpenseRatio = &v
	}
	if f.HasUsablePDF() {
		d.PDFURL = f.PDFURL
	}
	return d
}

// AnalyzeFinancials builds the multi-year trend report for an organization.
// years caps the analysis to the N most recent filings; zero means all.
func (c *Client) AnalyzeFinancials(ctx context.Context, ein string, years int) (*FinancialAnalysis, error) {
	res, err := c.GetOrganization(ctx, ein)
	if err != nil {
		return nil, err
	}

	filings := res.AllFilings()
	if years > 0 && len(filings) > years {
		filings = filings[:years]
	}

	normalized, _ := NormalizeEIN(ein)
	analysis := &FinancialAnalysis{
		EIN:  normalized,
		Name: res.Organization.Name,
	}

	yearSet := map[int]struct{}{}
	var revenue, expenses, netAssets []MetricPoint
	for _, f := range filings {
		year := f.TaxYear()
		if year == 0 {
			continue
		}
		yearSet[year] = struct{}{}
		if f.TotalRevenue.Valid {
			revenue = append(revenue, MetricPoint{Year: year, Value: f.TotalRevenue.Value})
		}
		if f.TotalExpenses.Valid {
			expenses = append(expenses, MetricPoint{Year: year, Value: f.TotalExpenses.Value})
		}
		if v, ok := f.NetAssets(); ok {
			netAssets = append(netAssets, MetricPoint{Year: year, Value: v})
		}
	}
	for year := range yearSet {
		analysis.YearsAnalyzed = append(analysis.YearsAnalyzed, year)
	}
	sort.Ints(analysis.YearsAnalyzed)

	analysis.Revenue = computeTrend("revenue", revenue)
	analysis.Expenses = computeTrend("expenses", expenses)
	analysis.NetAssets = computeTrend("net_assets", netAssets)

	if len(filings) > 0 {
		digest := DigestFiling(&filings[0])
		analysis.LatestFiling = &digest
	}
	return analysis, nil
}

// computeTrend labels a metric's direction from its year-over-year changes.
// Points may arrive in any order; duplicate years keep the first seen.
func computeTrend(metric string, points []MetricPoint) MetricTrend {
	t := MetricTrend{Metric: metric, Verdict: TrendInsufficient}

	seen := map[int]struct{}{}
	for _, p := range points {
		if _, dup := seen[p.Year]; dup {
			continue
		}
		seen[p.Year] = struct{}{}
		t.Points = append(t.Points, p)
	}
	sort.Slice(t.Points, func(i, j int) bool { return t.Points[i].Year < t.Points[j].Year })

	if len(t.Points) > 0 {
		sum := 0.0
		for _, p := range t.Points {
			sum += p.Value
		}
		avg := sum / float64(len(t.Points))
		t.Average = &avg
	}
	if len(t.Points) < 2 {
		return t
	}

	for i := 1; i < len(t.Points); i++ {
		earlier, later := t.Points[i-1], t.Points[i]
		change := YearChange{FromYear: earlier.Year, ToYear: later.Year}
		if earlier.Value == 0 {
			// Relative change from zero is undefined.
			change.Direction = TrendInsufficient
			t.Changes = append(t.Changes, change)
			continue
		}
		pct := (later.Value - earlier.Value) / abs(earlier.Value) * 100
		change.PctChange = &pct
		switch {
		case pct >= trendThresholdPct:
			change.Direction = TrendGrowing
			t.Growing++
		case pct <= -trendThresholdPct:
			change.Direction = TrendDeclining
			t.Declining++
		default:
			change.Direction = TrendStable
			t.Stable++
		}
		t.Changes = append(t.Changes, change)
	}

	defined := t.Growing + t.Declining + t.Stable
	if defined == 0 {
		return t
	}
	switch {
	case t.Growing > t.Declining && t.Growing > t.Stable:
		t.Verdict = TrendGrowing
	case t.Declining > t.Growing && t.Declining > t.Stable:
		t.Verdict = TrendDeclining
	default:
		t.Verdict = TrendStable
	}
	return t
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

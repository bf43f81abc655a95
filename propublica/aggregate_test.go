package propublica

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// searchUpstream fakes /search.json with perPage organizations per page.
func searchUpstream(t *testing.T, total, perPage int) *httptest.Server {
	t.Helper()
	numPages := (total + perPage - 1) / perPage
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var orgs []Organization
		for i := page * perPage; i < total && i < (page+1)*perPage; i++ {
			orgs = append(orgs, Organization{
				EIN:  int64(100000000 + i),
				Name: fmt.Sprintf("Org %03d", i),
			})
		}
		json.NewEncoder(w).Encode(SearchResult{
			TotalResults:  total,
			NumPages:      numPages,
			CurPage:       page,
			PerPage:       perPage,
			Organizations: orgs,
		})
	}))
}

func TestSearchAllWalksPagesInOrder(t *testing.T) {
	srv := searchUpstream(t, 25, 10)
	defer srv.Close()

	c := testClient(t, srv.URL)
	orgs, total, err := c.SearchAll(context.Background(), SearchQuery{Query: "food"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
	if len(orgs) != 25 {
		t.Fatalf("len(orgs) = %d, want 25", len(orgs))
	}
	for i, org := range orgs {
		if want := fmt.Sprintf("Org %03d", i); org.Name != want {
			t.Fatalf("orgs[%d].Name = %q, want %q (order not preserved)", i, org.Name, want)
		}
	}
}

func TestSearchAllStopsAtLimit(t *testing.T) {
	srv := searchUpstream(t, 100, 10)
	defer srv.Close()

	c := testClient(t, srv.URL)
	orgs, total, err := c.SearchAll(context.Background(), SearchQuery{Query: "food"}, 15)
	if err != nil {
		t.Fatal(err)
	}
	if total != 100 {
		t.Errorf("total = %d, want 100", total)
	}
	if len(orgs) != 15 {
		t.Errorf("len(orgs) = %d, want 15", len(orgs))
	}
}

func TestSearchAllHandlesEmptyResults(t *testing.T) {
	srv := searchUpstream(t, 0, 10)
	defer srv.Close()

	c := testClient(t, srv.URL)
	orgs, total, err := c.SearchAll(context.Background(), SearchQuery{Query: "nothing"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(orgs) != 0 {
		t.Errorf("got %d orgs, total %d; want none", len(orgs), total)
	}
}

// orgUpstream fakes /organizations/{ein}.json from a fixed payload table.
func orgUpstream(t *testing.T, byEIN map[string]OrganizationResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ein := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/organizations/"), ".json")
		res, ok := byEIN[ein]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(res)
	}))
}

func TestMostRecentPDFScansFullHistory(t *testing.T) {
	// The two newest filings advertise no usable document; an older filing
	// without extracted data does. Discovery must reach it.
	srv := orgUpstream(t, map[string]OrganizationResult{
		"131837418": {
			Organization: Organization{EIN: 131837418, Name: "Test Org"},
			FilingsWithData: []Filing{
				{TaxPeriodYear: 2022, PDFAvailable: false, PDFURL: strPtr("https://example.org/2022.pdf")},
				{TaxPeriodYear: 2021, PDFAvailable: true, PDFURL: strPtr("")},
			},
			FilingsWithoutData: []Filing{
				{TaxPeriodYear: 2019, PDFAvailable: true, PDFURL: strPtr("https://example.org/2019.pdf")},
			},
		},
	})
	defer srv.Close()

	c := testClient(t, srv.URL)
	org, filing, found, err := c.MostRecentPDF(context.Background(), "13-1837418")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if org.Name != "Test Org" {
		t.Errorf("org name = %q", org.Name)
	}
	if filing.TaxYear() != 2019 {
		t.Errorf("filing year = %d, want 2019", filing.TaxYear())
	}
}

func TestMostRecentPDFReportsNoneWithoutError(t *testing.T) {
	srv := orgUpstream(t, map[string]OrganizationResult{
		"131837418": {
			Organization: Organization{EIN: 131837418, Name: "Test Org"},
			FilingsWithData: []Filing{
				{TaxPeriodYear: 2022, PDFAvailable: true, PDFURL: strPtr("not a url")},
			},
		},
	})
	defer srv.Close()

	c := testClient(t, srv.URL)
	org, filing, found, err := c.MostRecentPDF(context.Background(), "131837418")
	if err != nil {
		t.Fatal(err)
	}
	if found || filing != nil {
		t.Errorf("found = %v, filing = %v; want none", found, filing)
	}
	if org == nil || org.Name != "Test Org" {
		t.Errorf("org = %v, want Test Org record", org)
	}
}

func TestSearchWithPDFsSkipsFailedCandidates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SearchResult{
			TotalResults: 3,
			NumPages:     1,
			Organizations: []Organization{
				{EIN: 100000001, Name: "Gone Org"},
				{EIN: 100000002, Name: "No Docs Org"},
				{EIN: 100000003, Name: "Documented Org"},
			},
		})
	})
	mux.HandleFunc("/organizations/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/organizations/100000001.json":
			http.NotFound(w, r)
		case "/organizations/100000002.json":
			json.NewEncoder(w).Encode(OrganizationResult{
				Organization: Organization{EIN: 100000002, Name: "No Docs Org"},
			})
		case "/organizations/100000003.json":
			json.NewEncoder(w).Encode(OrganizationResult{
				Organization: Organization{EIN: 100000003, Name: "Documented Org"},
				FilingsWithData: []Filing{
					{TaxPeriodYear: 2022, PDFAvailable: true, PDFURL: strPtr("https://example.org/990.pdf")},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)
	hits, err := c.SearchWithPDFs(context.Background(), SearchQuery{Query: "org"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if hits[0].Organization.Name != "Documented Org" {
		t.Errorf("hit = %q, want Documented Org", hits[0].Organization.Name)
	}
	if hits[0].Filing.TaxYear() != 2022 {
		t.Errorf("hit filing year = %d, want 2022", hits[0].Filing.TaxYear())
	}
}

func TestComputeTrendThresholds(t *testing.T) {
	points := []MetricPoint{
		{Year: 2019, Value: 100},
		{Year: 2020, Value: 105}, // exactly +5%: growing
		{Year: 2021, Value: 110}, // +4.76%: stable
		{Year: 2022, Value: 104}, // -5.45%: declining
	}
	trend := computeTrend("revenue", points)
	if len(trend.Changes) != 3 {
		t.Fatalf("changes = %d, want 3", len(trend.Changes))
	}
	wantDirections := []string{TrendGrowing, TrendStable, TrendDeclining}
	for i, want := range wantDirections {
		if trend.Changes[i].Direction != want {
			t.Errorf("change %d direction = %q, want %q", i, trend.Changes[i].Direction, want)
		}
	}
	if trend.Growing != 1 || trend.Stable != 1 || trend.Declining != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1",
			trend.Growing, trend.Stable, trend.Declining)
	}
	// No strict majority: the verdict falls back to stable.
	if trend.Verdict != TrendStable {
		t.Errorf("verdict = %q, want %q", trend.Verdict, TrendStable)
	}
}

func TestComputeTrendZeroBaseIsUndefined(t *testing.T) {
	points := []MetricPoint{
		{Year: 2019, Value: 0},
		{Year: 2020, Value: 500},
		{Year: 2021, Value: 600},
	}
	trend := computeTrend("revenue", points)
	if len(trend.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(trend.Changes))
	}
	first := trend.Changes[0]
	if first.PctChange != nil {
		t.Errorf("zero-base pct change = %v, want nil", *first.PctChange)
	}
	if first.Direction != TrendInsufficient {
		t.Errorf("zero-base direction = %q, want %q", first.Direction, TrendInsufficient)
	}
	if got := trend.Changes[1].Direction; got != TrendGrowing {
		t.Errorf("second change direction = %q, want %q", got, TrendGrowing)
	}
	if trend.Verdict != TrendGrowing {
		t.Errorf("verdict = %q, want %q", trend.Verdict, TrendGrowing)
	}
}

func TestComputeTrendInsufficientData(t *testing.T) {
	cases := []struct {
		name   string
		points []MetricPoint
	}{
		{"no points", nil},
		{"single year", []MetricPoint{{Year: 2022, Value: 100}}},
		{"duplicate year only", []MetricPoint{{Year: 2022, Value: 100}, {Year: 2022, Value: 200}}},
		{"all changes undefined", []MetricPoint{{Year: 2020, Value: 0}, {Year: 2021, Value: 100}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trend := computeTrend("revenue", tc.points)
			if trend.Verdict != TrendInsufficient {
				t.Errorf("verdict = %q, want %q", trend.Verdict, TrendInsufficient)
			}
		})
	}
}

func TestComputeTrendMajorityVerdict(t *testing.T) {
	points := []MetricPoint{
		{Year: 2018, Value: 100},
		{Year: 2019, Value: 120},
		{Year: 2020, Value: 150},
		{Year: 2021, Value: 140},
	}
	trend := computeTrend("revenue", points)
	if trend.Growing != 2 || trend.Declining != 1 {
		t.Fatalf("counts growing=%d declining=%d, want 2/1", trend.Growing, trend.Declining)
	}
	if trend.Verdict != TrendGrowing {
		t.Errorf("verdict = %q, want %q", trend.Verdict, TrendGrowing)
	}
}

func TestComputeTrendSortsAndAverages(t *testing.T) {
	points := []MetricPoint{
		{Year: 2022, Value: 300},
		{Year: 2020, Value: 100},
		{Year: 2021, Value: 200},
	}
	trend := computeTrend("revenue", points)
	for i, want := range []int{2020, 2021, 2022} {
		if trend.Points[i].Year != want {
			t.Fatalf("points[%d].Year = %d, want %d", i, trend.Points[i].Year, want)
		}
	}
	if trend.Average == nil || *trend.Average != 200 {
		t.Errorf("average = %v, want 200", trend.Average)
	}
}

func TestAnalyzeFinancials(t *testing.T) {
	srv := orgUpstream(t, map[string]OrganizationResult{
		"131837418": {
			Organization: Organization{EIN: 131837418, Name: "Test Org"},
			FilingsWithData: []Filing{
				{
					TaxPeriodYear: 2022,
					FormTypeCode:  intPtr(0),
					PDFAvailable:  true,
					PDFURL:        strPtr("https://example.org/2022.pdf"),
					TotalRevenue:  Amount{Value: 1200, Valid: true},
					TotalExpenses: Amount{Value: 900, Valid: true},
					TotalAssets:   Amount{Value: 5000, Valid: true},
					TotalLiab:     Amount{Value: 1000, Valid: true},
				},
				{
					TaxPeriodYear: 2021,
					FormTypeCode:  intPtr(0),
					TotalRevenue:  Amount{Value: 1000, Valid: true},
					TotalExpenses: Amount{Value: 950, Valid: true},
				},
				{
					TaxPeriodYear: 2020,
					FormTypeCode:  intPtr(0),
					TotalRevenue:  Amount{Value: 800, Valid: true},
					TotalExpenses: Amount{Value: 700, Valid: true},
				},
			},
		},
	})
	defer srv.Close()

	c := testClient(t, srv.URL)
	analysis, err := c.AnalyzeFinancials(context.Background(), "13-1837418", 0)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.EIN != "131837418" {
		t.Errorf("ein = %q, want normalized form", analysis.EIN)
	}
	wantYears := []int{2020, 2021, 2022}
	if len(analysis.YearsAnalyzed) != len(wantYears) {
		t.Fatalf("years = %v, want %v", analysis.YearsAnalyzed, wantYears)
	}
	for i, y := range wantYears {
		if analysis.YearsAnalyzed[i] != y {
			t.Errorf("years[%d] = %d, want %d", i, analysis.YearsAnalyzed[i], y)
		}
	}
	// Revenue: 800 -> 1000 (+25%), 1000 -> 1200 (+20%).
	if analysis.Revenue.Verdict != TrendGrowing {
		t.Errorf("revenue verdict = %q, want %q", analysis.Revenue.Verdict, TrendGrowing)
	}
	if analysis.LatestFiling == nil {
		t.Fatal("latest filing missing")
	}
	if analysis.LatestFiling.TaxYear != 2022 {
		t.Errorf("latest filing year = %d, want 2022", analysis.LatestFiling.TaxYear)
	}
	if analysis.LatestFiling.PDFURL == nil {
		t.Error("latest filing pdf url missing despite usable document")
	}
	if analysis.LatestFiling.NetAssets == nil || *analysis.LatestFiling.NetAssets != 4000 {
		t.Errorf("net assets = %v, want 4000", analysis.LatestFiling.NetAssets)
	}
}

func TestAnalyzeFinancialsCapsYears(t *testing.T) {
	srv := orgUpstream(t, map[string]OrganizationResult{
		"131837418": {
			Organization: Organization{EIN: 131837418, Name: "Test Org"},
			FilingsWithData: []Filing{
				{TaxPeriodYear: 2022, TotalRevenue: Amount{Value: 300, Valid: true}},
				{TaxPeriodYear: 2021, TotalRevenue: Amount{Value: 200, Valid: true}},
				{TaxPeriodYear: 2020, TotalRevenue: Amount{Value: 100, Valid: true}},
			},
		},
	})
	defer srv.Close()

	c := testClient(t, srv.URL)
	analysis, err := c.AnalyzeFinancials(context.Background(), "131837418", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{2021, 2022}
	if len(analysis.YearsAnalyzed) != 2 {
		t.Fatalf("years = %v, want %v", analysis.YearsAnalyzed, want)
	}
	for i, y := range want {
		if analysis.YearsAnalyzed[i] != y {
			t.Errorf("years[%d] = %d, want %d", i, analysis.YearsAnalyzed[i], y)
		}
	}
}

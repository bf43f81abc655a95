// Package propublica is a client for the ProPublica Nonprofit Explorer API
// v2: rate-limited, retrying fetch of organization and filing data, plus the
// aggregation logic (search pagination, PDF discovery, financial trends)
// built on top of it.
package propublica

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Amount is a financial value that tolerates upstream type drift: numbers,
// numeric strings, and null all decode. Anything unparseable is treated as
// absent rather than failing the whole payload.
type Amount struct {
	Value float64
	Valid bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = Amount{}
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*a = Amount{Value: num, Valid: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		str = strings.TrimSpace(str)
		if str == "" {
			*a = Amount{}
			return nil
		}
		if num, err := strconv.ParseFloat(str, 64); err == nil {
			*a = Amount{Value: num, Valid: true}
			return nil
		}
	}
	*a = Amount{}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

// Organization is a nonprofit's registry record.
type Organization struct {
	EIN            int64  `json:"ein"`
	StrEIN         string `json:"strein,omitempty"`
	Name           string `json:"name"`
	SubName        string `json:"sub_name,omitempty"`
	Address        string `json:"address,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	ZipCode        string `json:"zipcode,omitempty"`
	SubsectionCode *int   `json:"subseccd,omitempty"`
	NTEECode       string `json:"ntee_code,omitempty"`
	GuidestarURL   string `json:"guidestar_url,omitempty"`
	NCCSURL        string `json:"nccs_url,omitempty"`
	Updated        string `json:"updated,omitempty"`
}

// EINString renders the organization's EIN in canonical 9-digit form.
func (o *Organization) EINString() string {
	if normalized, err := NormalizeEIN(o.StrEIN); err == nil {
		return normalized
	}
	return fmt.Sprintf("%09d", o.EIN)
}

// SubsectionDescription resolves the 501(c) subsection label, if known.
func (o *Organization) SubsectionDescription() string {
	if o.SubsectionCode == nil {
		return ""
	}
	return SubsectionCodes[*o.SubsectionCode]
}

// Filing is one annual information return (Form 990 family).
type Filing struct {
	EIN           int64   `json:"ein,omitempty"`
	TaxPeriod     int     `json:"tax_prd,omitempty"`
	TaxPeriodYear int     `json:"tax_prd_yr,omitempty"`
	FormTypeCode  *int    `json:"formtype,omitempty"`
	PDFAvailable  bool    `json:"pdf_available,omitempty"`
	PDFURL        *string `json:"pdf_url,omitempty"`
	TotalRevenue  Amount  `json:"totrevenue,omitempty"`
	TotalExpenses Amount  `json:"totfuncexpns,omitempty"`
	TotalAssets   Amount  `json:"totassetsend,omitempty"`
	TotalLiab     Amount  `json:"totliabend,omitempty"`
}

// TaxYear resolves the filing's tax year from tax_prd_yr, falling back to
// the YYYYMM tax_prd form.
func (f *Filing) TaxYear() int {
	if f.TaxPeriodYear > 0 {
		return f.TaxPeriodYear
	}
	if f.TaxPeriod >= 100 {
		return f.TaxPeriod / 100
	}
	return 0
}

var formTypeNames = map[int]string{
	0: "990",
	1: "990EZ",
	2: "990PF",
	3: "990T",
}

// FormType names the return variant, or "unknown" for unmapped codes.
func (f *Filing) FormType() string {
	if f.FormTypeCode == nil {
		return "unknown"
	}
	if name, ok := formTypeNames[*f.FormTypeCode]; ok {
		return name
	}
	return "unknown"
}

// NetAssets is assets minus liabilities, present only when both are.
func (f *Filing) NetAssets() (float64, bool) {
	if !f.TotalAssets.Valid || !f.TotalLiab.Valid {
		return 0, false
	}
	return f.TotalAssets.Value - f.TotalLiab.Value, true
}

// ExpenseRatio is expenses over revenue, defined only for positive revenue.
func (f *Filing) ExpenseRatio() (float64, bool) {
	if !f.TotalRevenue.Valid || !f.TotalExpenses.Valid || f.TotalRevenue.Value <= 0 {
		return 0, false
	}
	return f.TotalExpenses.Value / f.TotalRevenue.Value, true
}

// HasUsablePDF reports whether the filing advertises a retrievable source
// document: the availability flag is set AND the URL parses as an absolute
// http(s) URL. Upstream data contains every mismatch of the two.
func (f *Filing) HasUsablePDF() bool {
	if !f.PDFAvailable || f.PDFURL == nil {
		return false
	}
	raw := strings.TrimSpace(*f.PDFURL)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SearchResult is one page of /search.json.
type SearchResult struct {
	TotalResults  int            `json:"total_results"`
	NumPages      int            `json:"num_pages"`
	CurPage       int            `json:"cur_page"`
	PerPage       int            `json:"per_page"`
	PageOffset    int            `json:"page_offset"`
	Organizations []Organization `json:"organizations"`
}

// OrganizationResult is the payload of /organizations/{ein}.json.
type OrganizationResult struct {
	Organization       Organization `json:"organization"`
	FilingsWithData    []Filing     `json:"filings_with_data"`
	FilingsWithoutData []Filing     `json:"filings_without_data"`
}

// AllFilings merges both filing lists sorted newest tax year first. The
// data-less list still matters for PDF discovery: scanned-image filings
// carry a document URL but no extracted financials.
func (r *OrganizationResult) AllFilings() []Filing {
	all := make([]Filing, 0, len(r.FilingsWithData)+len(r.FilingsWithoutData))
	all = append(all, r.FilingsWithData...)
	all = append(all, r.FilingsWithoutData...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TaxYear() > all[j].TaxYear()
	})
	return all
}

// NormalizeEIN canonicalizes caller-supplied EINs: hyphens and spaces are
// stripped, the result must be 1-9 digits, and is left-padded to 9.
func NormalizeEIN(ein string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(ein))
	if cleaned == "" {
		return "", newValidationError("ein", "ein is required")
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", newValidationError("ein", "ein must contain only digits, got %q", ein)
		}
	}
	if len(cleaned) > 9 {
		return "", newValidationError("ein", "ein must be at most 9 digits, got %d", len(cleaned))
	}
	return fmt.Sprintf("%09s", cleaned), nil
}

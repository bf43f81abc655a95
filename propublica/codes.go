package propublica

import "sort"

// NTEECategories maps the Nonprofit Explorer broad NTEE category IDs
// accepted by the search endpoint's ntee[id] filter.
var NTEECategories = map[int]string{
	1:  "Arts, Culture & Humanities",
	2:  "Education",
	3:  "Environment and Animals",
	4:  "Health",
	5:  "Human Services",
	6:  "International, Foreign Affairs",
	7:  "Public, Societal Benefit",
	8:  "Religion Related",
	9:  "Mutual/Membership Benefit",
	10: "Unknown, Unclassified",
}

// SubsectionCodes maps IRS subsection codes to their statute labels.
var SubsectionCodes = map[int]string{
	2:  "501(c)(2)",
	3:  "501(c)(3)",
	4:  "501(c)(4)",
	5:  "501(c)(5)",
	6:  "501(c)(6)",
	7:  "501(c)(7)",
	8:  "501(c)(8)",
	9:  "501(c)(9)",
	10: "501(c)(10)",
	11: "501(c)(11)",
	12: "501(c)(12)",
	13: "501(c)(13)",
	14: "501(c)(14)",
	15: "501(c)(15)",
	16: "501(c)(16)",
	17: "501(c)(17)",
	18: "501(c)(18)",
	19: "501(c)(19)",
	21: "501(c)(21)",
	22: "501(c)(22)",
	23: "501(c)(23)",
	25: "501(c)(25)",
	26: "501(c)(26)",
	27: "501(c)(27)",
	28: "501(c)(28)",
	92: "4947(a)(1)",
}

// USStates lists the state codes the search endpoint accepts. ZZ covers
// entities registered outside the US.
var USStates = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
	"HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD",
	"MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "NJ",
	"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC",
	"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY",
	"DC", "ZZ",
}

var usStateSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(USStates))
	for _, s := range USStates {
		m[s] = struct{}{}
	}
	return m
}()

// IsUSState reports whether code is a recognized state filter value.
func IsUSState(code string) bool {
	_, ok := usStateSet[code]
	return ok
}

// SortedUSStates returns the state codes in lexical order for display.
func SortedUSStates() []string {
	out := append([]string(nil), USStates...)
	sort.Strings(out)
	return out
}

// NTEEMajorCategory derives the broad category ID from a full NTEE code's
// leading letter (A=1, B=2, ...). Returns 0 when the code has no usable
// leading letter.
func NTEEMajorCategory(nteeCode string) int {
	if nteeCode == "" {
		return 0
	}
	c := nteeCode[0]
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 1
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 1
	default:
		return 0
	}
}

package propublica

import "testing"

func TestNTEEMajorCategory(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"A20", 1},
		{"a20", 1},
		{"B99", 2},
		{"J40", 10},
		{"", 0},
		{"120", 0},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			if got := NTEEMajorCategory(tc.code); got != tc.want {
				t.Errorf("NTEEMajorCategory(%q) = %d, want %d", tc.code, got, tc.want)
			}
		})
	}
}

func TestIsUSState(t *testing.T) {
	for _, code := range []string{"CA", "NY", "DC", "ZZ"} {
		if !IsUSState(code) {
			t.Errorf("IsUSState(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"XX", "ca", ""} {
		if IsUSState(code) {
			t.Errorf("IsUSState(%q) = true, want false", code)
		}
	}
}

func TestSubsectionCodes(t *testing.T) {
	if got := SubsectionCodes[3]; got == "" {
		t.Error("subsection 3 missing")
	}
	if got, ok := SubsectionCodes[92]; !ok || got == "" {
		t.Errorf("subsection 92 = %q, %v; want 4947(a)(1) label", got, ok)
	}
	if _, ok := SubsectionCodes[20]; ok {
		t.Error("subsection 20 should be absent")
	}
}

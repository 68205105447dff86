package normalize

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  Hello   World  ", "Hello World"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"line\none\ttab", "line one tab"},
		// Decomposed e + combining acute composes to a single rune.
		{"Politécnica", "Politécnica"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Córdoba", "cordoba"},
		{"  UNIVERSIDAD   Politécnica Salesiana ", "universidad politecnica salesiana"},
		{"Pe&ntilde;a", "pena"},
		{"ﬁsica", "fisica"}, // compatibility ligature
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFold_CaseAndAccentInsensitive(t *testing.T) {
	if Fold("Córdoba") != Fold("cordoba") {
		t.Errorf("Fold(Córdoba) = %q, Fold(cordoba) = %q", Fold("Córdoba"), Fold("cordoba"))
	}
	if Fold("MÉXICO") != Fold("mexico") {
		t.Errorf("Fold(MÉXICO) = %q, want %q", Fold("MÉXICO"), Fold("mexico"))
	}
}

func TestStandardizeDOI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"10.1234/ABC", "10.1234/abc"},
		{"https://doi.org/10.1234/ABC", "10.1234/abc"},
		{"http://dx.doi.org/10.1234/abc", "10.1234/abc"},
		{"HTTPS://DOI.ORG/10.1234/abc", "10.1234/abc"},
		{"doi: 10.1234/abc ", "10.1234/abc"},
		{"DOI:10.1234/abc", "10.1234/abc"},
		{"10.1234/a&amp;b", "10.1234/a&b"},
		{"not-a-doi", "not-a-doi"},
		{"doi:https://doi.org/10.1/X", "10.1/x"},
	}
	for _, tt := range tests {
		if got := StandardizeDOI(tt.in); got != tt.want {
			t.Errorf("StandardizeDOI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStandardizeDOI_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"  ",
		"10.1234/ABC",
		"https://doi.org/10.1234/abc",
		"doi:doi:10.5555/x",
		"doi: https://dx.doi.org/10.5555/Y",
		"10.1/a&amp;amp;b",
		"&lt;10.1/x&gt;",
		"İstanbul/10.1",
		"garbage value",
		"10.1/x&" + strings.Repeat("amp;", 10) + "lt;",
		strings.Repeat("doi:", 12) + "10.1/Z",
	}
	for _, in := range inputs {
		once := StandardizeDOI(in)
		twice := StandardizeDOI(once)
		if once != twice {
			t.Errorf("StandardizeDOI not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestStandardizeDOI_DeepEntityNesting(t *testing.T) {
	in := "10.1/x&" + strings.Repeat("amp;", 10) + "lt;"
	if got := StandardizeDOI(in); got != "10.1/x<" {
		t.Errorf("StandardizeDOI(%q) = %q, want %q", in, got, "10.1/x<")
	}
}

func TestIsWellFormedDOI(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"10.1234/abc", true},
		{"10.1/x", true},
		{"10./x", false},
		{"10.1234/", false},
		{"11.1234/abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWellFormedDOI(tt.in); got != tt.want {
			t.Errorf("IsWellFormedDOI(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStandardizeORCID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://orcid.org/0000-0001-2345-6789", "0000-0001-2345-6789"},
		{"http://orcid.org/0000-0001-2345-6789", "0000-0001-2345-6789"},
		{" 0000-0001-2345-6789 ", "0000-0001-2345-6789"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StandardizeORCID(tt.in); got != tt.want {
			t.Errorf("StandardizeORCID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthorDisplayName(t *testing.T) {
	tests := []struct {
		name                string
		given, family, full string
		want                string
	}{
		{"both parts", "Ana", "Pérez", "", "Ana Pérez"},
		{"family only", "", "Pérez", "", "Pérez"},
		{"fallback to name", "", "", "  Research  Group ", "Research Group"},
		{"parts win over name", "Ana", "Pérez", "Other", "Ana Pérez"},
		{"nothing", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthorDisplayName(tt.given, tt.family, tt.full); got != tt.want {
				t.Errorf("AuthorDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoinCanonical(t *testing.T) {
	got := JoinCanonical([]string{"A  title", "", "Subtitle"})
	if got != "A title; Subtitle" {
		t.Errorf("JoinCanonical() = %q", got)
	}
	if JoinCanonical(nil) != "" {
		t.Error("JoinCanonical(nil) should be empty")
	}
}

func TestResolveYear(t *testing.T) {
	tests := []struct {
		name   string
		facets []DateParts
		want   int
		wantOK bool
	}{
		{"first facet wins", []DateParts{{intp(2023), intp(5)}, {intp(2022)}}, 2023, true},
		{"skip missing facet", []DateParts{nil, {intp(2021)}}, 2021, true},
		{"skip null year", []DateParts{{nil}, {intp(2020)}}, 2020, true},
		{"skip implausible", []DateParts{{intp(1200)}, {intp(2019)}}, 2019, true},
		{"none", []DateParts{nil, {intp(3000)}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveYear(tt.facets)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ResolveYear() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveDatePrecision(t *testing.T) {
	tests := []struct {
		name   string
		facets []DateParts
		want   DatePrecision
	}{
		{"full date", []DateParts{{intp(2023), intp(5), intp(17)}}, PrecisionDay},
		{"year only", []DateParts{{intp(2023)}}, PrecisionYear},
		{"year and month", []DateParts{{intp(2023), intp(11)}}, PrecisionMonth},
		{"null month keeps day out", []DateParts{{intp(2023), nil, intp(4)}}, PrecisionYear},
		{"bad month", []DateParts{{intp(2023), intp(13)}}, PrecisionYear},
		{"none", nil, PrecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, got, _ := ResolveDatePrecision(tt.facets); got != tt.want {
				t.Errorf("ResolveDatePrecision() precision = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		name   string
		facets []DateParts
		want   string
		wantOK bool
	}{
		{"full date", []DateParts{{intp(2023), intp(5), intp(17)}}, "2023-05-17", true},
		{"year only", []DateParts{{intp(2023)}}, "2023-01-01", true},
		{"year and month", []DateParts{{intp(2023), intp(11)}}, "2023-11-01", true},
		{"null month", []DateParts{{intp(2023), nil, intp(4)}}, "2023-01-04", true},
		{"bad month", []DateParts{{intp(2023), intp(13), intp(4)}}, "2023-01-04", true},
		{"falls through", []DateParts{{intp(99)}, {intp(2001), intp(2), intp(3)}}, "2001-02-03", true},
		{"none", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveDate(tt.facets)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ResolveDate() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

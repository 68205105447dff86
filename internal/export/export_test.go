package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/crossharvest/crossharvest/internal/storage"
)

func intp(v int) *int { return &v }

func sampleRow() storage.ViewRow {
	return storage.ViewRow{
		DOI:           "10.1234/ups.2023.001",
		Title:         "Redes & sensores en la Amazonía",
		Year:          intp(2023),
		Venue:         "Revista Ingenius",
		Publisher:     "Universidad Politécnica Salesiana",
		Type:          "journal-article",
		Citations:     intp(4),
		PublishedDate: "2023-05-01",
		DatePrecision: 3,
		Authors:       "Ana Pérez; Luis Mora",
		Affiliations:  "Universidad Politécnica Salesiana, Cuenca",
		Sites:         "Cuenca",
		Countries:     "Ecuador",
		CountryCodes:  "EC",
		TargetFlag:    true,
		Topics:        "Computer Networks; Ecology",
	}
}

func TestToBibTeX(t *testing.T) {
	got := ToBibTeX(sampleRow(), "Perez2023")

	checks := []string{
		"@article{Perez2023,",
		"author = {{Ana Pérez} and {Luis Mora}}",
		`title = {Redes \& sensores en la Amazonía}`,
		"journal = {Revista Ingenius}",
		"year = {2023}",
		"month = {5}",
		"doi = {10.1234/ups.2023.001}",
		"keywords = {Computer Networks, Ecology}",
	}
	for _, want := range checks {
		if !strings.Contains(got, want) {
			t.Errorf("ToBibTeX() missing %q in:\n%s", want, got)
		}
	}
}

func TestToBibTeX_MinimalRow(t *testing.T) {
	got := ToBibTeX(storage.ViewRow{DOI: "10.1/x", Title: "Only a title"}, "anon")

	for _, absent := range []string{"author =", "year =", "month =", "journal =", "keywords ="} {
		if strings.Contains(got, absent) {
			t.Errorf("ToBibTeX() should omit %q, got:\n%s", absent, got)
		}
	}
	if !strings.HasSuffix(got, "}\n") {
		t.Errorf("ToBibTeX() entry not closed: %q", got)
	}
}

func TestToBibTeX_MonthOnlyWhenKnown(t *testing.T) {
	tests := []struct {
		name      string
		date      string
		precision int
		wantMonth bool
	}{
		{"full date", "2023-05-17", 3, true},
		{"year and month", "2023-11-01", 2, true},
		{"year only", "2023-01-01", 1, false},
		{"unknown precision", "2023-01-01", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := sampleRow()
			row.PublishedDate, row.DatePrecision = tt.date, tt.precision
			got := strings.Contains(ToBibTeX(row, "k"), "month =")
			if got != tt.wantMonth {
				t.Errorf("month present = %v, want %v", got, tt.wantMonth)
			}
		})
	}
}

func TestDetermineEntryType(t *testing.T) {
	tests := []struct {
		name string
		row  storage.ViewRow
		want string
	}{
		{"journal article", storage.ViewRow{Type: "journal-article"}, "article"},
		{"proceedings", storage.ViewRow{Type: "proceedings-article"}, "inproceedings"},
		{"chapter", storage.ViewRow{Type: "book-chapter"}, "incollection"},
		{"book", storage.ViewRow{Type: "book"}, "book"},
		{"preprint", storage.ViewRow{Type: "posted-content"}, "misc"},
		{"unknown type conference venue", storage.ViewRow{Type: "other", Venue: "IEEE Conference on Networks"}, "inproceedings"},
		{"no type", storage.ViewRow{}, "article"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineEntryType(tt.row); got != tt.want {
				t.Errorf("determineEntryType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCiteKey(t *testing.T) {
	tests := []struct {
		name string
		row  storage.ViewRow
		want string
	}{
		{"accented family name", storage.ViewRow{Authors: "Ana Pérez; Luis Mora", Year: intp(2023)}, "Perez2023"},
		{"no year", storage.ViewRow{Authors: "Luis Mora"}, "Mora"},
		{"no authors", storage.ViewRow{Year: intp(2020)}, "anon2020"},
		{"punctuation stripped", storage.ViewRow{Authors: "J. O'Brien", Year: intp(2019)}, "Obrien2019"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := citeKey(tt.row); got != tt.want {
				t.Errorf("citeKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteBibTeX_DisambiguatesKeys(t *testing.T) {
	a := sampleRow()
	b := sampleRow()
	b.DOI = "10.1234/ups.2023.002"

	var buf bytes.Buffer
	if err := WriteBibTeX(&buf, []storage.ViewRow{a, b}); err != nil {
		t.Fatalf("WriteBibTeX() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "@article{Perez2023,") || !strings.Contains(out, "@article{Perez2023a,") {
		t.Errorf("WriteBibTeX() keys not disambiguated:\n%s", out)
	}
	if strings.Count(out, "@article{") != 2 {
		t.Errorf("WriteBibTeX() wrote %d entries, want 2", strings.Count(out, "@article{"))
	}
}

func TestWriteBibTeX_ManyDuplicateKeys(t *testing.T) {
	rows := make([]storage.ViewRow, 30)
	for i := range rows {
		rows[i] = sampleRow()
	}

	var buf bytes.Buffer
	if err := WriteBibTeX(&buf, rows); err != nil {
		t.Fatalf("WriteBibTeX() error = %v", err)
	}

	keys := make(map[string]bool)
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, "@article{") {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(line, "@article{"), ",")
		if keys[key] {
			t.Errorf("duplicate cite key %q", key)
		}
		keys[key] = true
	}
	if len(keys) != 30 {
		t.Errorf("got %d distinct keys, want 30", len(keys))
	}
	for _, want := range []string{"Perez2023", "Perez2023z", "Perez2023aa", "Perez2023ac"} {
		if !keys[want] {
			t.Errorf("missing key %q", want)
		}
	}
}

func TestWriteBibTeX_SuffixDoesNotReuseExistingKey(t *testing.T) {
	mora := storage.ViewRow{DOI: "10.1/a", Title: "A", Authors: "Luis Mora"}
	moraa := storage.ViewRow{DOI: "10.1/b", Title: "B", Authors: "Ana Moraa"}

	var buf bytes.Buffer
	if err := WriteBibTeX(&buf, []storage.ViewRow{mora, moraa, mora}); err != nil {
		t.Fatalf("WriteBibTeX() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"@article{Mora,", "@article{Moraa,", "@article{Morab,"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestLetterSuffix(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "a"},
		{26, "z"},
		{27, "aa"},
		{52, "az"},
		{53, "ba"},
		{702, "zz"},
		{703, "aaa"},
	}

	for _, tt := range tests {
		if got := letterSuffix(tt.n); got != tt.want {
			t.Errorf("letterSuffix(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestEscapeLatex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"50% & more", `50\% \& more`},
		{"a_b #1", `a\_b \#1`},
		{"{x}", `\{x\}`},
	}

	for _, tt := range tests {
		if got := escapeLatex(tt.in); got != tt.want {
			t.Errorf("escapeLatex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteJSONL(t *testing.T) {
	rows := []storage.ViewRow{sampleRow(), {DOI: "10.1/second", Title: "<b>tagged</b>"}}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, rows); err != nil {
		t.Fatalf("WriteJSONL() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("WriteJSONL() wrote %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"doi":"10.1234/ups.2023.001"`) {
		t.Errorf("line 0 = %s", lines[0])
	}
	if !strings.Contains(lines[1], "<b>tagged</b>") {
		t.Errorf("HTML should not be escaped, line 1 = %s", lines[1])
	}
	if !strings.Contains(lines[1], `"year":null`) {
		t.Errorf("absent year should be null, line 1 = %s", lines[1])
	}
}

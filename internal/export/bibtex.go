// Package export writes analysis view rows to JSONL and BibTeX.
package export

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/crossharvest/crossharvest/internal/normalize"
	"github.com/crossharvest/crossharvest/internal/storage"
)

// ToBibTeX converts a view row to a BibTeX entry under key.
func ToBibTeX(row storage.ViewRow, key string) string {
	entryType := determineEntryType(row)
	var b strings.Builder

	b.WriteString(fmt.Sprintf("@%s{%s,\n", entryType, key))

	if authors := splitList(row.Authors); len(authors) > 0 {
		b.WriteString(fmt.Sprintf("  author = {%s},\n", formatAuthors(authors)))
	}

	b.WriteString(fmt.Sprintf("  title = {%s},\n", escapeLatex(row.Title)))

	if row.Venue != "" {
		fieldName := "journal"
		switch entryType {
		case "inproceedings", "incollection":
			fieldName = "booktitle"
		case "misc":
			fieldName = "howpublished"
		}
		b.WriteString(fmt.Sprintf("  %s = {%s},\n", fieldName, escapeLatex(row.Venue)))
	}

	if row.Publisher != "" {
		b.WriteString(fmt.Sprintf("  publisher = {%s},\n", escapeLatex(row.Publisher)))
	}

	if row.Year != nil {
		b.WriteString(fmt.Sprintf("  year = {%d},\n", *row.Year))
	}

	// Month only when the source date carried one; missing months are stored as 01.
	if month := dateMonth(row.PublishedDate); month > 0 && row.DatePrecision >= int(normalize.PrecisionMonth) {
		b.WriteString(fmt.Sprintf("  month = {%d},\n", month))
	}

	b.WriteString(fmt.Sprintf("  doi = {%s},\n", row.DOI))

	if row.Topics != "" {
		b.WriteString(fmt.Sprintf("  keywords = {%s},\n", escapeLatex(strings.Join(splitList(row.Topics), ", "))))
	}

	b.WriteString("}\n")

	return b.String()
}

// WriteBibTeX writes one entry per row, separated by blank lines. Cite keys
// are derived from the first author and year and disambiguated with a
// letter suffix: a..z, then aa, ab and so on.
func WriteBibTeX(w io.Writer, rows []storage.ViewRow) error {
	used := make(map[string]bool)
	next := make(map[string]int)
	for i, row := range rows {
		base := citeKey(row)
		key := base
		for used[key] {
			next[base]++
			key = base + letterSuffix(next[base])
		}
		used[key] = true

		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, ToBibTeX(row, key)); err != nil {
			return fmt.Errorf("writing %s: %w", row.DOI, err)
		}
	}
	return nil
}

// letterSuffix renders n >= 1 in bijective base 26: 1 is "a", 26 is "z",
// 27 is "aa".
func letterSuffix(n int) string {
	var buf []byte
	for n > 0 {
		n--
		buf = append([]byte{byte('a' + n%26)}, buf...)
		n /= 26
	}
	return string(buf)
}

// determineEntryType maps the Crossref type tag to a BibTeX entry type,
// falling back to venue heuristics.
func determineEntryType(row storage.ViewRow) string {
	switch row.Type {
	case "journal-article":
		return "article"
	case "proceedings-article":
		return "inproceedings"
	case "book", "monograph", "edited-book":
		return "book"
	case "book-chapter", "book-section", "book-part":
		return "incollection"
	case "dissertation":
		return "phdthesis"
	case "posted-content", "dataset", "report":
		return "misc"
	}

	venue := strings.ToLower(row.Venue)
	if strings.Contains(venue, "proceedings") ||
		strings.Contains(venue, "conference") ||
		strings.Contains(venue, "workshop") ||
		strings.Contains(venue, "symposium") {
		return "inproceedings"
	}

	return "article"
}

// citeKey builds "Lastname2023" from the first listed author, or "anon"
// plus the year when the work has no authors.
func citeKey(row storage.ViewRow) string {
	base := "anon"
	if authors := splitList(row.Authors); len(authors) > 0 {
		fields := strings.Fields(normalize.Fold(authors[0]))
		if len(fields) > 0 {
			last := strings.Map(func(r rune) rune {
				if unicode.IsLetter(r) || unicode.IsDigit(r) {
					return r
				}
				return -1
			}, fields[len(fields)-1])
			if last != "" {
				base = strings.ToUpper(last[:1]) + last[1:]
			}
		}
	}
	if row.Year != nil {
		base += fmt.Sprint(*row.Year)
	}
	return base
}

// formatAuthors joins display names with " and ", bracing each so BibTeX
// does not try to split given and family names.
func formatAuthors(authors []string) string {
	formatted := make([]string, len(authors))
	for i, a := range authors {
		formatted[i] = "{" + escapeLatex(a) + "}"
	}
	return strings.Join(formatted, " and ")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "; ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// dateMonth returns the month of a YYYY-MM-DD date, or 0.
func dateMonth(date string) int {
	var y, m, d int
	if _, err := fmt.Sscanf(date, "%4d-%2d-%2d", &y, &m, &d); err != nil {
		return 0
	}
	return m
}

// escapeLatex escapes special LaTeX characters.
func escapeLatex(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\textbackslash{}`,
		"&", `\&`,
		"%", `\%`,
		"$", `\$`,
		"#", `\#`,
		"_", `\_`,
		"{", `\{`,
		"}", `\}`,
		"~", `\textasciitilde{}`,
		"^", `\textasciicircum{}`,
	)
	return replacer.Replace(s)
}

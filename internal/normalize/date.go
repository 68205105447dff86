package normalize

import "fmt"

// Plausible publication year bounds. Facets outside the range are ignored.
const (
	MinYear = 1600
	MaxYear = 2100
)

// DateParts is the first entry of a Crossref "date-parts" array:
// year, then optional month and day. Any element may be null.
type DateParts []*int

// ResolveYear returns the year of the first facet (in precedence order) whose
// year is plausible.
func ResolveYear(facets []DateParts) (int, bool) {
	for _, p := range facets {
		if y, ok := plausibleYear(p); ok {
			return y, true
		}
	}
	return 0, false
}

// DatePrecision is how many leading parts of a resolved date came from the
// facet itself rather than defaults.
type DatePrecision int

const (
	PrecisionNone DatePrecision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
)

// ResolveDate is like ResolveYear but returns a YYYY-MM-DD string. Missing or
// out-of-range month and day default to 1.
func ResolveDate(facets []DateParts) (string, bool) {
	date, _, ok := ResolveDatePrecision(facets)
	return date, ok
}

// ResolveDatePrecision is ResolveDate plus the precision of the facet used.
// A day only counts when the month is also known.
func ResolveDatePrecision(facets []DateParts) (string, DatePrecision, bool) {
	for _, p := range facets {
		y, ok := plausibleYear(p)
		if !ok {
			continue
		}
		m, hasMonth := part(p, 1, 12)
		d, hasDay := part(p, 2, 31)
		prec := PrecisionYear
		if hasMonth {
			prec = PrecisionMonth
			if hasDay {
				prec = PrecisionDay
			}
		}
		return fmt.Sprintf("%04d-%02d-%02d", y, m, d), prec, true
	}
	return "", PrecisionNone, false
}

func plausibleYear(p DateParts) (int, bool) {
	if len(p) == 0 || p[0] == nil {
		return 0, false
	}
	y := *p[0]
	if y < MinYear || y > MaxYear {
		return 0, false
	}
	return y, true
}

// part returns element idx when present and within 1..max, else 1 and false.
func part(p DateParts, idx, max int) (int, bool) {
	if len(p) <= idx || p[idx] == nil {
		return 1, false
	}
	v := *p[idx]
	if v < 1 || v > max {
		return 1, false
	}
	return v, true
}

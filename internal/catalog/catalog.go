// Package catalog reads and writes the site catalog CSV file.
//
// The file has one row per site with columns site_id, name, area and
// keywords, where keywords is a ";"-separated list of substrings matched
// against affiliation search keys.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/crossharvest/crossharvest/internal/classify"
)

// Header is the column order written by Write.
var Header = []string{"site_id", "name", "area", "keywords"}

// keywordSeparator splits the keywords column.
const keywordSeparator = ";"

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("catalog: missing column")

// headerAliases maps accepted column names to canonical ones. The Spanish
// names match catalogs exported by earlier tooling.
var headerAliases = map[string]string{
	"site_id":       "site_id",
	"id":            "site_id",
	"sedeid":        "site_id",
	"name":          "name",
	"sede":          "name",
	"area":          "area",
	"areaacademica": "area",
	"keywords":      "keywords",
	"palabrasclave": "keywords",
}

// Read parses a catalog. Rows keep file order, which is the match order.
func Read(r io.Reader) ([]classify.Site, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, col := range rows[0] {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if canon, ok := headerAliases[col]; ok {
			cols[canon] = i
		}
	}
	for _, required := range []string{"site_id", "name"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	sites := make([]classify.Site, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		idText := field(row, "site_id")
		if idText == "" && field(row, "name") == "" {
			continue
		}
		id, err := strconv.Atoi(idText)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("catalog line %d: invalid site_id %q", line, idText)
		}
		name := field(row, "name")
		if name == "" {
			return nil, fmt.Errorf("catalog line %d: empty name", line)
		}

		s := classify.Site{ID: id, Name: name, Area: field(row, "area")}
		for _, kw := range strings.Split(field(row, "keywords"), keywordSeparator) {
			if kw = strings.TrimSpace(kw); kw != "" {
				s.Keywords = append(s.Keywords, kw)
			}
		}
		sites = append(sites, s)
	}
	return sites, nil
}

// Load reads the catalog file at path.
func Load(path string) ([]classify.Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write writes sites with a header row.
func Write(w io.Writer, sites []classify.Site) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing catalog header: %w", err)
	}
	for _, s := range sites {
		record := []string{
			strconv.Itoa(s.ID),
			s.Name,
			s.Area,
			strings.Join(s.Keywords, keywordSeparator),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing site %d: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes sites to path, replacing any existing file.
func WriteFile(path string, sites []classify.Site) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	if err := Write(f, sites); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteDefault writes the built-in catalog to path.
func WriteDefault(path string) error {
	return WriteFile(path, classify.DefaultSites)
}

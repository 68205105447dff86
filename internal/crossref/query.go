package crossref

import (
	"net/url"
	"strconv"
	"strings"
)

// InitialCursor starts deep paging.
const InitialCursor = "*"

// Filter is the compound filter parameter.
type Filter struct {
	HasAffiliation bool
	FromPubDate    string // YYYY-MM-DD, empty to omit
	UntilPubDate   string
}

// String renders the filter as comma-joined predicates.
func (f Filter) String() string {
	var preds []string
	if f.HasAffiliation {
		preds = append(preds, "has-affiliation:true")
	}
	if f.FromPubDate != "" {
		preds = append(preds, "from-pub-date:"+f.FromPubDate)
	}
	if f.UntilPubDate != "" {
		preds = append(preds, "until-pub-date:"+f.UntilPubDate)
	}
	return strings.Join(preds, ",")
}

// hasDates reports whether any date predicate is set.
func (f Filter) hasDates() bool {
	return f.FromPubDate != "" || f.UntilPubDate != ""
}

// Query is one request to /works.
type Query struct {
	AffiliationQuery string
	Filter           Filter
	Rows             int
	Cursor           string
	Select           []string
	Sort             string
	Order            string
	Mailto           string
}

// Values encodes the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.AffiliationQuery != "" {
		v.Set("query.affiliation", q.AffiliationQuery)
	}
	if fs := q.Filter.String(); fs != "" {
		v.Set("filter", fs)
	}
	if q.Rows > 0 {
		v.Set("rows", strconv.Itoa(q.Rows))
	}
	cursor := q.Cursor
	if cursor == "" {
		cursor = InitialCursor
	}
	v.Set("cursor", cursor)
	if len(q.Select) > 0 {
		v.Set("select", strings.Join(q.Select, ","))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Mailto != "" {
		v.Set("mailto", q.Mailto)
	}
	return v
}

// Degradation names one narrowing step applied after a 400 response.
type Degradation string

const (
	DropSelect    Degradation = "drop-select"
	DropSortOrder Degradation = "drop-sort-order"
	NarrowToDates Degradation = "narrow-filter-to-dates"
)

// degrade applies the next applicable narrowing step, in strict order:
// select, then sort/order, then the affiliation predicate. It returns false
// when nothing is left to narrow.
func (q Query) degrade() (Query, Degradation, bool) {
	if len(q.Select) > 0 {
		q.Select = nil
		return q, DropSelect, true
	}
	if q.Sort != "" || q.Order != "" {
		q.Sort, q.Order = "", ""
		return q, DropSortOrder, true
	}
	if q.Filter.HasAffiliation && q.Filter.hasDates() {
		q.Filter.HasAffiliation = false
		return q, NarrowToDates, true
	}
	return q, "", false
}

// DefaultSelect lists the fields the harvester reads from each work.
var DefaultSelect = []string{
	"DOI", "title", "container-title", "publisher", "type",
	"is-referenced-by-count", "reference-count", "author", "subject",
	"published-online", "published-print", "issued", "created",
}

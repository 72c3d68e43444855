// query.go builds the boolean predicates sent to the records search
// endpoint. Filters are combined as typed clauses at construction time and
// serialised to the Elasticsearch JSON grammar only at the request boundary,
// replacing the nested-map manipulation of the legacy tooling.

package geocat

import (
	"fmt"
	"strings"
)

// keywordFields are the language-tagged fields a keyword is matched against.
// A keyword hits when any of the five matches.
var keywordFields = []string{
	"tag.default",
	"tag.langfre",
	"tag.langger",
	"tag.langita",
	"tag.langeng",
}

// SearchOptions are the high-level filter intents for record searches.
// Options are independent: categories combine with AND, lists within a
// category with OR. The zero value selects non-template records including
// harvested ones.
type SearchOptions struct {
	WithTemplates bool // include templates as well as records
	NoHarvested   bool // exclude harvested records
	ValidOnly     bool
	PublishedOnly bool
	InGroups      []string // owning group allow-list
	NotInGroups   []string // owning group deny-list
	Keywords      []string // each matched across all language fields
	FreeText      string   // raw query-string clause, AND-ed in verbatim
}

// Query is a validated search predicate: exactly one template-inclusion
// clause, plus at most one query-string clause assembled from AND-joined
// groups. Queries are values; deriving a narrowed query never mutates the
// original.
type Query struct {
	templates []string
	groups    []string
}

// BuildQuery translates options into a predicate. Pure and deterministic:
// no I/O, no defaults read from the environment.
func BuildQuery(opts SearchOptions) Query {
	q := Query{templates: []string{"n"}}
	if opts.WithTemplates {
		q.templates = []string{"y", "n"}
	}

	if opts.NoHarvested {
		q = q.and(`isHarvested:"false"`)
	}
	if opts.ValidOnly {
		q = q.and(`valid:"1"`)
	}
	if opts.PublishedOnly {
		q = q.and(`isPublishedToAll:"true"`)
	}

	if len(opts.InGroups) > 0 {
		terms := make([]string, len(opts.InGroups))
		for i, g := range opts.InGroups {
			terms[i] = fmt.Sprintf("groupOwner:%q", g)
		}
		q = q.and(strings.Join(terms, " OR "))
	}
	if len(opts.NotInGroups) > 0 {
		terms := make([]string, len(opts.NotInGroups))
		for i, g := range opts.NotInGroups {
			terms[i] = fmt.Sprintf("-groupOwner:%q", g)
		}
		q = q.and(strings.Join(terms, " OR "))
	}

	for _, kw := range opts.Keywords {
		fields := make([]string, len(keywordFields))
		for i, f := range keywordFields {
			fields[i] = fmt.Sprintf("%s:%q", f, kw)
		}
		q = q.and(strings.Join(fields, " OR "))
	}

	if opts.FreeText != "" {
		q = q.and(opts.FreeText)
	}

	return q
}

// and returns a copy of q with another parenthesised group AND-ed in.
func (q Query) and(group string) Query {
	groups := make([]string, len(q.groups), len(q.groups)+1)
	copy(groups, q.groups)
	q.groups = append(groups, "("+group+")")
	return q
}

// PublishedOnly reports whether the predicate already restricts results to
// publicly visible records, in which case the search engine skips the
// authenticated pass.
func (q Query) PublishedOnly() bool {
	for _, g := range q.groups {
		if strings.Contains(g, `isPublishedToAll:"true"`) {
			return true
		}
	}
	return false
}

// ExcludePublished narrows the predicate to records that are not publicly
// visible. The authenticated search pass uses it to avoid duplicating hits
// already collected anonymously.
func (q Query) ExcludePublished() Query {
	return q.and(`isPublishedToAll:"false"`)
}

// queryString returns the single free-text clause, empty when no group
// filters apply.
func (q Query) queryString() string {
	return strings.Join(q.groups, " AND ")
}

// Wire format. The clause types below are the only place the package speaks
// the index's JSON grammar.

type termsClause struct {
	Terms map[string][]string `json:"terms"`
}

type queryStringClause struct {
	QueryString queryString `json:"query_string"`
}

type queryString struct {
	Query           string `json:"query"`
	DefaultOperator string `json:"default_operator"`
}

type boolQuery struct {
	Bool mustClauses `json:"bool"`
}

type mustClauses struct {
	Must []any `json:"must"`
}

// clauses assembles the bool/must array: the optional query-string clause
// first (mirroring the legacy request shape), then the mandatory template
// terms clause.
func (q Query) clauses() []any {
	var must []any
	if qs := q.queryString(); qs != "" {
		must = append(must, queryStringClause{
			QueryString: queryString{Query: qs, DefaultOperator: "AND"},
		})
	}
	must = append(must, termsClause{
		Terms: map[string][]string{"isTemplate": q.templates},
	})
	return must
}

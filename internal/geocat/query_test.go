package geocat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clauseShapes decodes the assembled must array and returns how many
// query_string and terms clauses it holds, plus the query string itself.
func clauseShapes(t *testing.T, q Query) (queryStrings, terms int, qs string) {
	t.Helper()
	payload, err := json.Marshal(boolQuery{Bool: mustClauses{Must: q.clauses()}})
	require.NoError(t, err)

	var decoded struct {
		Bool struct {
			Must []map[string]json.RawMessage `json:"must"`
		} `json:"bool"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))

	for _, clause := range decoded.Bool.Must {
		if raw, ok := clause["query_string"]; ok {
			queryStrings++
			var inner struct {
				Query string `json:"query"`
			}
			require.NoError(t, json.Unmarshal(raw, &inner))
			qs = inner.Query
		}
		if _, ok := clause["terms"]; ok {
			terms++
		}
	}
	return queryStrings, terms, qs
}

func TestBuildQuery(t *testing.T) {
	t.Run("zero options", func(t *testing.T) {
		q := BuildQuery(SearchOptions{})
		queryStrings, terms, _ := clauseShapes(t, q)
		assert.Equal(t, 0, queryStrings)
		assert.Equal(t, 1, terms)
		assert.Equal(t, []string{"n"}, q.templates)
	})

	t.Run("with templates", func(t *testing.T) {
		q := BuildQuery(SearchOptions{WithTemplates: true})
		assert.Equal(t, []string{"y", "n"}, q.templates)
	})

	t.Run("every filter yields one query string", func(t *testing.T) {
		q := BuildQuery(SearchOptions{
			NoHarvested:   true,
			ValidOnly:     true,
			PublishedOnly: true,
			InGroups:      []string{"42", "43"},
			NotInGroups:   []string{"7"},
			Keywords:      []string{"Opendata"},
			FreeText:      `cl_status.key:"obsolete"`,
		})

		queryStrings, terms, qs := clauseShapes(t, q)
		assert.Equal(t, 1, queryStrings)
		assert.Equal(t, 1, terms)

		assert.Contains(t, qs, `(isHarvested:"false")`)
		assert.Contains(t, qs, `(valid:"1")`)
		assert.Contains(t, qs, `(isPublishedToAll:"true")`)
		assert.Contains(t, qs, `(groupOwner:"42" OR groupOwner:"43")`)
		assert.Contains(t, qs, `(-groupOwner:"7")`)
		assert.Contains(t, qs, `(cl_status.key:"obsolete")`)
		// Six parenthesised groups, AND-joined at the top level.
		assert.Equal(t, 5, strings.Count(qs, " AND "))
	})

	t.Run("keywords match all language fields", func(t *testing.T) {
		q := BuildQuery(SearchOptions{Keywords: []string{"Opendata"}})
		_, _, qs := clauseShapes(t, q)
		for _, field := range keywordFields {
			assert.Contains(t, qs, field+`:"Opendata"`)
		}
		assert.Equal(t, len(keywordFields)-1, strings.Count(qs, " OR "))
	})

	t.Run("two keywords are independent groups", func(t *testing.T) {
		q := BuildQuery(SearchOptions{Keywords: []string{"alpha", "beta"}})
		_, _, qs := clauseShapes(t, q)
		assert.Equal(t, 1, strings.Count(qs, " AND "))
	})
}

func TestQueryPublished(t *testing.T) {
	base := BuildQuery(SearchOptions{NoHarvested: true})

	assert.False(t, base.PublishedOnly())
	assert.True(t, BuildQuery(SearchOptions{PublishedOnly: true}).PublishedOnly())

	t.Run("narrowing does not mutate the original", func(t *testing.T) {
		narrowed := base.ExcludePublished()
		_, _, narrowedQS := clauseShapes(t, narrowed)
		_, _, baseQS := clauseShapes(t, base)

		assert.Contains(t, narrowedQS, `isPublishedToAll:"false"`)
		assert.NotContains(t, baseQS, "isPublishedToAll")
		assert.False(t, narrowed.PublishedOnly())
	})
}

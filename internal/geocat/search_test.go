package geocat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searchIndex serves the records search endpoint over a fixed, sorted UUID
// list, honouring size and search_after the way the real index does.
type searchIndex struct {
	public     []string
	restricted []string
	requests   int
}

func (idx *searchIndex) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx.requests++

		var body struct {
			Size        int   `json:"size"`
			SearchAfter []any `json:"search_after"`
			Query       struct {
				Bool struct {
					Must []map[string]json.RawMessage `json:"must"`
				} `json:"bool"`
			} `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// The authenticated pass is recognised by its narrowed predicate;
		// visibility follows the predicate, not the session.
		uuids := idx.public
		for _, clause := range body.Query.Bool.Must {
			if raw, ok := clause["query_string"]; ok && strings.Contains(string(raw), `isPublishedToAll:\"false\"`) {
				uuids = idx.restricted
			}
		}

		start := 0
		if len(body.SearchAfter) > 0 {
			cursor, _ := body.SearchAfter[0].(string)
			for i, u := range uuids {
				if u == cursor {
					start = i + 1
					break
				}
			}
		}
		end := start + body.Size
		if end > len(uuids) {
			end = len(uuids)
		}

		hits := make([]map[string]any, 0, end-start)
		for _, u := range uuids[start:end] {
			hits = append(hits, map[string]any{
				"_source": map[string]string{"uuid": u},
				"sort":    []string{u},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": hits},
		})
	}
}

func sequentialUUIDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%06d", prefix, i)
	}
	return out
}

func TestSearchUUIDs(t *testing.T) {
	t.Run("pages past the window without gaps or duplicates", func(t *testing.T) {
		idx := &searchIndex{public: sequentialUUIDs("pub", 4500)}
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", idx.handler())
		c, _ := connectTest(t, mux, nil)

		uuids, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{}))
		require.NoError(t, err)

		assert.Equal(t, idx.public, uuids)
		// 4500 items at 2000 per page: two full pages plus the short one.
		assert.Equal(t, 3, idx.requests)
	})

	t.Run("exact page-size boundary issues one extra empty page", func(t *testing.T) {
		idx := &searchIndex{public: sequentialUUIDs("pub", searchPageSize)}
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", idx.handler())
		c, _ := connectTest(t, mux, nil)

		uuids, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{}))
		require.NoError(t, err)
		assert.Len(t, uuids, searchPageSize)
		assert.Equal(t, 2, idx.requests)
	})

	t.Run("authenticated session adds the unpublished pass", func(t *testing.T) {
		idx := &searchIndex{
			public:     sequentialUUIDs("pub", 3),
			restricted: sequentialUUIDs("priv", 2),
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", idx.handler())
		c, _ := connectTest(t, mux, &Credentials{Username: "admin", Password: "secret"})

		uuids, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{}))
		require.NoError(t, err)

		assert.Equal(t, append(sequentialUUIDs("pub", 3), sequentialUUIDs("priv", 2)...), uuids)
	})

	t.Run("published-only predicate runs a single pass", func(t *testing.T) {
		idx := &searchIndex{public: sequentialUUIDs("pub", 3)}
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", idx.handler())
		c, _ := connectTest(t, mux, &Credentials{Username: "admin", Password: "secret"})

		uuids, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{PublishedOnly: true}))
		require.NoError(t, err)
		assert.Len(t, uuids, 3)
		assert.Equal(t, 1, idx.requests)
	})

	t.Run("anonymous session never runs the second pass", func(t *testing.T) {
		idx := &searchIndex{public: sequentialUUIDs("pub", 3)}
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", idx.handler())
		c, _ := connectTest(t, mux, nil)

		_, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{}))
		require.NoError(t, err)
		assert.Equal(t, 1, idx.requests)
	})

	t.Run("refused page ends the pass quietly", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/search/records/_search", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		c, _ := connectTest(t, mux, nil)

		uuids, err := c.SearchUUIDs(context.Background(), BuildQuery(SearchOptions{}))
		require.NoError(t, err)
		assert.Empty(t, uuids)
	})
}

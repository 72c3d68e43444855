// search.go implements deep paginated search against the records index.
//
// Pagination uses a search-after sort cursor rather than offsets, so a pass
// stays gap- and duplicate-free even while the index receives writes. The
// page loop ends when a page comes back smaller than the page size; there is
// no server-side "has more" flag.
//
// Design: visibility rules differ between anonymous and authenticated
// sessions, and an authenticated query alone does not reliably return the
// public+restricted superset. Unless the predicate is already
// published-only, the engine therefore runs an anonymous pass first and, on
// authenticated sessions, a second pass narrowed to unpublished records so
// the two result sets cannot overlap.

package geocat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// searchPageSize is the fixed page size for deep search.
const searchPageSize = 2000

const searchPath = "/search/records/_search"

// searchBody is the wire shape of one page request.
type searchBody struct {
	From           int               `json:"from"`
	Size           int               `json:"size"`
	Query          boolQuery         `json:"query"`
	Source         sourceFilter      `json:"_source"`
	TrackTotalHits bool              `json:"track_total_hits"`
	Sort           map[string]string `json:"sort"`
	SearchAfter    []any             `json:"search_after,omitempty"`
}

type sourceFilter struct {
	Includes []string `json:"includes"`
}

// Hit is one index entry returned by deep search.
type Hit struct {
	Source struct {
		UUID string `json:"uuid"`
	} `json:"_source"`
	Sort []any `json:"sort"`
}

type searchResponse struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// SearchUUIDs resolves a predicate to the UUIDs of every matching record,
// beyond any single page. The result is fully materialised; order follows
// the index's _id sort within each pass.
func (c *Client) SearchUUIDs(ctx context.Context, q Query) ([]string, error) {
	type pass struct {
		query     Query
		anonymous bool
	}

	passes := []pass{{query: q, anonymous: true}}
	if !q.PublishedOnly() && c.Authenticated() {
		passes = append(passes, pass{query: q.ExcludePublished()})
	}

	var uuids []string
	for _, p := range passes {
		hits, err := c.searchPass(ctx, p.query, p.anonymous)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			uuids = append(uuids, h.Source.UUID)
		}
	}
	return uuids, nil
}

// searchPass pages through one visibility context. A non-200 page response
// ends the pass with the hits collected so far (known gap: not retried); a
// transport error fails the search.
func (c *Client) searchPass(ctx context.Context, q Query, anonymous bool) ([]Hit, error) {
	var (
		hits  []Hit
		after []any
	)

	for {
		page, err := c.searchPage(ctx, q, after, anonymous)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return hits, nil
		}

		hits = append(hits, page...)

		if len(page) < searchPageSize {
			return hits, nil
		}
		after = page[len(page)-1].Sort
	}
}

// searchPage issues a single page request. A nil, error-free return means
// the server refused the page (non-200) and the pass should stop.
func (c *Client) searchPage(ctx context.Context, q Query, after []any, anonymous bool) ([]Hit, error) {
	body := searchBody{
		Size:           searchPageSize,
		Query:          boolQuery{Bool: mustClauses{Must: q.clauses()}},
		Source:         sourceFilter{Includes: []string{"uuid"}},
		TrackTotalHits: true,
		Sort:           map[string]string{"_id": "asc"},
		SearchAfter:    after,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("geocat: encoding search body: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        searchPath,
		body:        bytes.NewReader(payload),
		accept:      "application/json",
		contentType: "application/json",
		anonymous:   anonymous,
	})
	if err != nil {
		return nil, fmt.Errorf("geocat: search page request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("geocat: decoding search page: %w", err)
	}
	return decoded.Hits.Hits, nil
}

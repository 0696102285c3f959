// Copyright 2025 Recall Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/recallhq/recall/pkg/source"
)

// SearchType selects the retrieval strategy.
type SearchType string

const (
	SearchKeyword SearchType = "keyword"
	SearchVector  SearchType = "vector"
	SearchHybrid  SearchType = "hybrid"
)

// kNN recall parameters.
const (
	knnK             = 200
	knnNumCandidates = 400
)

// Gaussian recency decay on updatedAtTs, applied to keyword scores.
const (
	decayScale  = 30 * 24 * time.Hour
	decayOffset = 7 * 24 * time.Hour
	decayValue  = 0.5
	decayWeight = 0.3
)

// SearchOptions parameterizes a retrieval call.
type SearchOptions struct {
	Query       string
	QueryVector []float32
	Type        SearchType
	Sources     []source.Source
	Where       map[string]any
	StartDate   string // YYYY-MM-DD or RFC 3339
	EndDate     string // inclusive
	Size        int
}

// Hit is one retrieved row.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// SearchResult carries the raw candidate set.
type SearchResult struct {
	Hits  []Hit
	Total int
}

// Search runs one retrieval call of the requested type and returns the
// candidate rows, embedding excluded from the payload.
func (s *Store) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	filters := buildFilters(opts.Sources, opts.Where, opts.StartDate, opts.EndDate)

	size := opts.Size
	if size <= 0 {
		size = 10
	}

	body := map[string]any{
		"size":    size,
		"_source": map[string]any{"excludes": []string{"embedding"}},
	}

	switch opts.Type {
	case SearchVector:
		if opts.QueryVector == nil {
			return nil, fmt.Errorf("vector search requires a query vector")
		}
		body["knn"] = knnClause(opts.QueryVector, filters)
	case SearchHybrid:
		if opts.QueryVector == nil {
			return nil, fmt.Errorf("hybrid search requires a query vector")
		}
		body["query"] = keywordClause(opts.Query, filters)
		body["knn"] = knnClause(opts.QueryVector, filters)
	default:
		body["query"] = keywordClause(opts.Query, filters)
	}

	return s.runSearch(ctx, body)
}

func (s *Store) runSearch(ctx context.Context, body map[string]any) (*SearchResult, error) {
	var resp searchResponse
	if err := s.request(ctx, http.MethodPost, "/"+s.index+"/_search", body, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return resp.toResult(), nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string         `json:"_id"`
			Score  *float64       `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *searchResponse) toResult() *SearchResult {
	out := &SearchResult{Total: r.Hits.Total.Value}
	for _, h := range r.Hits.Hits {
		score := 0.0
		if h.Score != nil {
			score = *h.Score
		}
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: score, Fields: h.Source})
	}
	return out
}

// keywordClause wraps a content/title multi-match in a function_score
// with a Gaussian decay on recency, multiplied into the lexical score.
func keywordClause(query string, filters []map[string]any) map[string]any {
	boolQuery := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query":  query,
					"fields": []string{"content", "title^3"},
				},
			},
		},
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]any{
		"function_score": map[string]any{
			"query": map[string]any{"bool": boolQuery},
			"functions": []any{
				map[string]any{
					"gauss": map[string]any{
						"updatedAtTs": map[string]any{
							"origin": time.Now().UnixMilli(),
							"scale":  decayScale.Milliseconds(),
							"offset": decayOffset.Milliseconds(),
							"decay":  decayValue,
						},
					},
					"weight": decayWeight,
				},
			},
			"boost_mode": "multiply",
		},
	}
}

func knnClause(vector []float32, filters []map[string]any) map[string]any {
	clause := map[string]any{
		"field":          "embedding",
		"query_vector":   vector,
		"k":              knnK,
		"num_candidates": knnNumCandidates,
	}
	if len(filters) > 0 {
		clause["filter"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	return clause
}

// buildFilters translates source inclusion, scalar where pairs and the
// date window into term/range filter clauses.
func buildFilters(sources []source.Source, where map[string]any, startDate, endDate string) []map[string]any {
	var filters []map[string]any

	if len(sources) > 0 {
		tags := make([]string, len(sources))
		for i, s := range sources {
			tags[i] = s.String()
		}
		filters = append(filters, map[string]any{"terms": map[string]any{"source": tags}})
	}

	for key, value := range where {
		switch value.(type) {
		case string, bool, int, int64, float64:
			filters = append(filters, map[string]any{"term": map[string]any{key: value}})
		}
	}

	if startDate != "" || endDate != "" {
		bounds := map[string]any{}
		if ts, ok := parseDateBound(startDate, false); ok {
			bounds["gte"] = ts
		}
		if ts, ok := parseDateBound(endDate, true); ok {
			bounds["lte"] = ts
		}
		if len(bounds) > 0 {
			filters = append(filters, map[string]any{"range": map[string]any{"createdAtTs": bounds}})
		}
	}

	return filters
}

// parseDateBound converts a YYYY-MM-DD or RFC 3339 bound to epoch ms.
// Bare end dates are inclusive: the bound lands on the day's last
// millisecond.
func parseDateBound(s string, endOfDay bool) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t.UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

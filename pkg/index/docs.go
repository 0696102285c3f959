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

	"github.com/recallhq/recall/pkg/source"
)

// ListOptions parameterizes a parent-level listing.
type ListOptions struct {
	Source    source.Source
	Where     map[string]any
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// List returns top-level documents (chunks excluded) for a source,
// newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) (*SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	body := map[string]any{
		"size":    limit,
		"from":    opts.Offset,
		"query":   listQuery(opts),
		"sort":    []any{map[string]any{"updatedAtTs": map[string]any{"order": "desc", "missing": "_last"}}},
		"_source": map[string]any{"excludes": []string{"embedding"}},
	}
	return s.runSearch(ctx, body)
}

// Count returns the number of top-level documents matching opts.
func (s *Store) Count(ctx context.Context, opts ListOptions) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	body := map[string]any{"query": listQuery(opts)}
	if err := s.request(ctx, http.MethodPost, "/"+s.index+"/_count", body, &resp); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return resp.Count, nil
}

func listQuery(opts ListOptions) map[string]any {
	var sources []source.Source
	if opts.Source != "" {
		sources = []source.Source{opts.Source}
	}
	filters := buildFilters(sources, opts.Where, opts.StartDate, opts.EndDate)

	boolQuery := map[string]any{
		"must_not": []any{
			map[string]any{"exists": map[string]any{"field": "parentDocId"}},
		},
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	return map[string]any{"bool": boolQuery}
}

// Get loads one row by exact id. A missing row returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Hit, error) {
	var resp struct {
		ID     string         `json:"_id"`
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	err := s.request(ctx, http.MethodGet, s.docPath(id)+"?_source_excludes=embedding", nil, &resp)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document %q: %w", id, err)
	}
	if !resp.Found {
		return nil, nil
	}
	return &Hit{ID: resp.ID, Fields: resp.Source}, nil
}

// FindByFilters returns up to limit rows matching every filter clause,
// sorted by chunkIndex when present. Used by structural navigation.
func (s *Store) FindByFilters(ctx context.Context, filters []map[string]any, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"size":    limit,
		"query":   map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":    []any{map[string]any{"chunkIndex": map[string]any{"order": "asc", "missing": "_last"}}},
		"_source": map[string]any{"excludes": []string{"embedding"}},
	}
	result, err := s.runSearch(ctx, body)
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// ChunksByParent returns every chunk of a parent in chunk order.
func (s *Store) ChunksByParent(ctx context.Context, parentID string, limit int) ([]Hit, error) {
	return s.FindByFilters(ctx, []map[string]any{
		{"term": map[string]any{"parentDocId": parentID}},
	}, limit)
}

// DeleteDocument removes the row with the given id and every chunk
// pointing at it.
func (s *Store) DeleteDocument(ctx context.Context, src source.Source, id string) error {
	err := s.request(ctx, http.MethodDelete, s.docPath(id), nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete document %q: %w", id, err)
	}

	return s.deleteByQuery(ctx, map[string]any{
		"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"parentDocId": id}},
		}},
	})
}

// DeleteCollection wipes every row of a source.
func (s *Store) DeleteCollection(ctx context.Context, src source.Source) error {
	return s.deleteByQuery(ctx, map[string]any{
		"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"source": src.String()}},
		}},
	})
}

// DeleteChunksFrom evicts orphan chunks left behind when a document
// re-chunks into fewer pieces: every chunk of parentID with
// chunkIndex >= fromIndex is removed.
func (s *Store) DeleteChunksFrom(ctx context.Context, parentID string, fromIndex int) error {
	return s.deleteByQuery(ctx, map[string]any{
		"bool": map[string]any{"filter": []any{
			map[string]any{"term": map[string]any{"parentDocId": parentID}},
			map[string]any{"range": map[string]any{"chunkIndex": map[string]any{"gte": fromIndex}}},
		}},
	})
}

func (s *Store) deleteByQuery(ctx context.Context, query map[string]any) error {
	body := map[string]any{"query": query}
	path := "/" + s.index + "/_delete_by_query?conflicts=proceed&refresh=true"
	if err := s.request(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete by query failed: %w", err)
	}
	return nil
}

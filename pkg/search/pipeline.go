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

// Package search orchestrates the three-stage retrieval pipeline:
// hybrid recall, chunk deduplication with cross-encoder rerank, and
// weighted personalization. It also serves structural navigation over
// parent/chunk/sibling relationships.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/recallhq/recall/pkg/embed"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/source"
)

// rerankLimit caps how many candidates go to the cross-encoder.
const rerankLimit = 200

// Identifier-looking queries skip normalization so exact ticket and
// issue references keep their shape.
var (
	ticketPattern = regexp.MustCompile(`^[A-Z]+-\d+$`)
	numberPattern = regexp.MustCompile(`^#?\d+$`)
	spaceRuns     = regexp.MustCompile(`\s+`)
)

// Embedder turns a query into a dense vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Service runs searches and navigation over the index.
type Service struct {
	idx      *index.Store
	embedder Embedder
	reranker *embed.Reranker
}

// New builds a search service. reranker may be nil to disable the
// rerank stage.
func New(idx *index.Store, embedder Embedder, reranker *embed.Reranker) *Service {
	return &Service{idx: idx, embedder: embedder, reranker: reranker}
}

// Request is one search call.
type Request struct {
	Query     string
	Type      index.SearchType
	Sources   []source.Source
	Where     map[string]any
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// Result is one ranked item after dedup, rerank and personalization.
type Result struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Score      float64        `json:"score"`
	ChunkCount int            `json:"chunkCount,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// Response carries one page plus the total deduplicated count.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
}

// Search runs the full pipeline and returns the requested page.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	query := NormalizeQuery(req.Query)
	if query == "" {
		return &Response{Results: []Result{}}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	searchType := req.Type
	if searchType == "" {
		searchType = index.SearchHybrid
	}

	opts := index.SearchOptions{
		Query:     query,
		Type:      searchType,
		Sources:   req.Sources,
		Where:     req.Where,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Size:      limit + offset,
	}

	if searchType != index.SearchKeyword {
		vector, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		opts.QueryVector = vector
	}

	raw, err := s.idx.Search(ctx, opts)
	if err != nil {
		return nil, err
	}

	results := dedupeChunks(raw.Hits)
	s.rerank(ctx, query, results)
	personalize(results)

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	total := len(results)
	if offset >= total {
		return &Response{Results: []Result{}, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &Response{Results: results[offset:end], Total: total}, nil
}

// NormalizeQuery trims and collapses whitespace. Identifier-shaped
// queries ("PROJ-123", "#4711") pass through untouched.
func NormalizeQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	if ticketPattern.MatchString(trimmed) || numberPattern.MatchString(trimmed) {
		return trimmed
	}
	return spaceRuns.ReplaceAllString(trimmed, " ")
}

// dedupeChunks keeps the best-scoring chunk per parent and boosts
// parents that matched through several chunks. Standalone items pass
// through.
func dedupeChunks(hits []index.Hit) []Result {
	type group struct {
		best  index.Hit
		count int
		order int
	}

	groups := make(map[string]*group)
	var keys []string
	for i, hit := range hits {
		key := hit.ID
		if parent, ok := hit.Fields["parentDocId"].(string); ok && parent != "" {
			key = parent
		}
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{best: hit, count: 1, order: i}
			keys = append(keys, key)
			continue
		}
		g.count++
		if hit.Score > g.best.Score {
			g.best = hit
		}
	}

	sort.Slice(keys, func(i, j int) bool { return groups[keys[i]].order < groups[keys[j]].order })

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		score := g.best.Score
		if g.count > 1 {
			score *= 1 + math.Min(math.Log(float64(g.count))*0.05, 0.15)
		}
		src, _ := g.best.Fields["source"].(string)
		results = append(results, Result{
			ID:         g.best.ID,
			Source:     src,
			Score:      score,
			ChunkCount: g.count,
			Fields:     g.best.Fields,
		})
	}
	return results
}

// rerank rescores the head of the candidate list with the cross-encoder.
// Failures are swallowed; the lexical/vector ordering stands.
func (s *Service) rerank(ctx context.Context, query string, results []Result) {
	if s.reranker == nil || len(results) == 0 {
		return
	}

	n := len(results)
	if n > rerankLimit {
		n = rerankLimit
	}
	head := results[:n]

	docs := make([]string, n)
	for i, r := range head {
		content, _ := r.Fields["content"].(string)
		docs[i] = content
	}

	scored, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		slog.Warn("rerank failed, keeping retrieval order", "error", err)
		return
	}

	reordered := make([]Result, 0, n)
	seen := make(map[int]bool, n)
	for _, rr := range scored {
		r := head[rr.Index]
		r.Score = rr.RelevanceScore
		reordered = append(reordered, r)
		seen[rr.Index] = true
	}
	// Anything the reranker dropped keeps its order after the block.
	for i, r := range head {
		if !seen[i] {
			reordered = append(reordered, r)
		}
	}
	copy(head, reordered)
}

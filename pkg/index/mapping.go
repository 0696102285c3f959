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
	"log/slog"
	"net/http"
)

// mapping returns the index mapping. Declared fields are fixed for the
// life of the index; dynamic:true lets unknown connector attributes in
// without redefining the declared ones.
func (s *Store) mapping() map[string]any {
	dimension := 3072
	if s.embedder != nil {
		dimension = s.embedder.Dimension()
	}

	keyword := map[string]any{"type": "keyword"}
	long := map[string]any{"type": "long"}
	integer := map[string]any{"type": "integer"}
	boolean := map[string]any{"type": "boolean"}
	date := map[string]any{"type": "date", "ignore_malformed": true}
	float := map[string]any{"type": "float"}

	return map[string]any{
		"mappings": map[string]any{
			"dynamic": true,
			"properties": map[string]any{
				"source":           keyword,
				"content":          map[string]any{"type": "text"},
				"_originalContent": map[string]any{"type": "text", "index": false},
				"_contentHash":     keyword,
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dimension,
					"index":      true,
					"similarity": "cosine",
				},
				"title": map[string]any{
					"type": "text",
					"fields": map[string]any{
						"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
					},
				},
				"author":    keyword,
				"project":   keyword,
				"channel":   keyword,
				"channelId": keyword,
				"space":     keyword,
				"labels":    keyword,
				"status":    keyword,
				"priority":  keyword,
				"url":       keyword,
				"type":      keyword,

				"createdAt":   date,
				"updatedAt":   date,
				"createdAtTs": long,
				"updatedAtTs": long,

				"parentDocId": keyword,
				"chunkIndex":  integer,
				"totalChunks": integer,

				"is_owner":          boolean,
				"is_assigned_to_me": boolean,
				"is_author":         boolean,
				"is_organizer":      boolean,
				"reactionCount":     integer,
				"mention_count":     integer,
				"thread_depth":      integer,
				"priority_weight":   float,
				"label_count":       integer,
				"relevance_score":   float,
			},
		},
	}
}

// EnsureIndex creates the index with the full mapping when it does not
// exist yet. Existing indices are left untouched.
func (s *Store) EnsureIndex(ctx context.Context) error {
	err := s.request(ctx, http.MethodHead, "/"+s.index, nil, nil)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("failed to check index %q: %w", s.index, err)
	}

	slog.Info("creating index", "index", s.index)
	if err := s.request(ctx, http.MethodPut, "/"+s.index, s.mapping(), nil); err != nil {
		return fmt.Errorf("failed to create index %q: %w", s.index, err)
	}
	return nil
}

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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/source"
)

const (
	mgetBatchSize = 100
	bulkBatchSize = 100
)

// UpsertedItem is one successfully stored index row.
type UpsertedItem struct {
	ID          string
	ContentHash string
}

// UpsertStats summarizes one upsertDocuments call.
type UpsertStats struct {
	// Indexed counts rows written with a fresh embedding; Updated counts
	// metadata-only partial updates; Failed counts bulk rejections.
	Indexed int
	Updated int
	Failed  int

	// Items lists the successfully stored rows, for the hash map.
	Items []UpsertedItem

	// ChunkCounts maps each document id to the number of rows it
	// expanded into, for orphan-chunk eviction.
	ChunkCounts map[string]int
}

// UpsertDocuments chunks, enriches and stores docs. Rows whose chunk
// text is unchanged get a metadata-only partial update with no embedding
// call; everything else is re-embedded and indexed. Bulk rejections are
// counted and logged but do not fail the call.
func (s *Store) UpsertDocuments(ctx context.Context, src source.Source, docs []connector.Document) (*UpsertStats, error) {
	stats := &UpsertStats{ChunkCounts: make(map[string]int)}
	if len(docs) == 0 {
		return stats, nil
	}

	var items []item
	for _, doc := range docs {
		rows := buildItems(src, doc)
		stats.ChunkCounts[doc.ID] = len(rows)
		items = append(items, rows...)
	}
	if len(items) == 0 {
		return stats, nil
	}

	stored, err := s.storedHashes(ctx, items)
	if err != nil {
		return nil, err
	}

	var reembed, metadataOnly []item
	for _, it := range items {
		if stored[it.id] == it.fields["_contentHash"] {
			metadataOnly = append(metadataOnly, it)
		} else {
			reembed = append(reembed, it)
		}
	}

	if err := s.indexWithEmbeddings(ctx, reembed, stats); err != nil {
		return nil, err
	}
	if err := s.partialUpdate(ctx, metadataOnly, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// storedHashes mgets the current _contentHash per item id, in batches.
// Missing rows simply have no entry.
func (s *Store) storedHashes(ctx context.Context, items []item) (map[string]string, error) {
	out := make(map[string]string, len(items))

	for start := 0; start < len(items); start += mgetBatchSize {
		end := start + mgetBatchSize
		if end > len(items) {
			end = len(items)
		}

		docs := make([]map[string]any, 0, end-start)
		for _, it := range items[start:end] {
			docs = append(docs, map[string]any{
				"_id":     it.id,
				"_source": []string{"_contentHash"},
			})
		}

		var resp struct {
			Docs []struct {
				ID     string         `json:"_id"`
				Found  bool           `json:"found"`
				Source map[string]any `json:"_source"`
			} `json:"docs"`
		}
		if err := s.request(ctx, http.MethodPost, "/"+s.index+"/_mget", map[string]any{"docs": docs}, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch stored hashes: %w", err)
		}

		for _, d := range resp.Docs {
			if !d.Found {
				continue
			}
			if h, ok := d.Source["_contentHash"].(string); ok {
				out[d.ID] = h
			}
		}
	}
	return out, nil
}

// indexWithEmbeddings embeds the enriched content of items and bulk
// indexes them, batch by batch. Embedding failures abort the batch and
// surface to the caller.
func (s *Store) indexWithEmbeddings(ctx context.Context, items []item, stats *UpsertStats) error {
	for start := 0; start < len(items); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		texts := make([]string, len(batch))
		for i, it := range batch {
			texts[i] = it.fields["content"].(string)
		}

		vectors, err := s.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding generation failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d items", len(vectors), len(batch))
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for i, it := range batch {
			doc := make(map[string]any, len(it.fields)+1)
			for k, v := range it.fields {
				doc[k] = v
			}
			doc["embedding"] = vectors[i]

			if err := enc.Encode(map[string]any{"index": map[string]any{"_index": s.index, "_id": it.id}}); err != nil {
				return fmt.Errorf("failed to encode bulk action: %w", err)
			}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode bulk document: %w", err)
			}
		}

		if err := s.bulk(ctx, buf.Bytes(), batch, "index", stats); err != nil {
			return err
		}
	}
	return nil
}

// partialUpdate refreshes metadata and enriched content for rows whose
// chunk text is unchanged. No embedding is touched.
func (s *Store) partialUpdate(ctx context.Context, items []item, stats *UpsertStats) error {
	for start := 0; start < len(items); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, it := range batch {
			if err := enc.Encode(map[string]any{"update": map[string]any{"_index": s.index, "_id": it.id}}); err != nil {
				return fmt.Errorf("failed to encode bulk action: %w", err)
			}
			if err := enc.Encode(map[string]any{"doc": it.fields}); err != nil {
				return fmt.Errorf("failed to encode bulk document: %w", err)
			}
		}

		if err := s.bulk(ctx, buf.Bytes(), batch, "update", stats); err != nil {
			return err
		}
	}
	return nil
}

// bulk submits an NDJSON payload and folds the per-item outcome into
// stats. Partial rejections are logged with the first three reasons.
func (s *Store) bulk(ctx context.Context, payload []byte, batch []item, action string, stats *UpsertStats) error {
	if len(batch) == 0 {
		return nil
	}

	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := s.rawRequest(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", payload, &resp); err != nil {
		return fmt.Errorf("bulk %s failed: %w", action, err)
	}

	failed := make(map[string]bool)
	if resp.Errors {
		var reasons []string
		for _, entry := range resp.Items {
			for _, result := range entry {
				if result.Error != nil {
					failed[result.ID] = true
					if len(reasons) < 3 {
						reasons = append(reasons, result.Error.Reason)
					}
				}
			}
		}
		slog.Warn("bulk request had item failures",
			"action", action,
			"failed", len(failed),
			"total", len(batch),
			"reasons", reasons)
	}

	for _, it := range batch {
		if failed[it.id] {
			stats.Failed++
			continue
		}
		if action == "index" {
			stats.Indexed++
		} else {
			stats.Updated++
		}
		stats.Items = append(stats.Items, UpsertedItem{
			ID:          it.id,
			ContentHash: it.fields["_contentHash"].(string),
		})
	}
	return nil
}

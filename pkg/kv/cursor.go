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

package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/source"
)

// GetCursor loads the saved cursor for src, or nil when none exists.
func (s *Store) GetCursor(ctx context.Context, src source.Source) (*connector.Cursor, error) {
	data, err := s.client.Get(ctx, cursorKey(src)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor for %s: %w", src, err)
	}

	var c connector.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("corrupt cursor for %s: %w", src, err)
	}
	return &c, nil
}

// SaveCursor overwrites the cursor for its source.
func (s *Store) SaveCursor(ctx context.Context, c *connector.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := s.client.Set(ctx, cursorKey(c.Source), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", c.Source, err)
	}
	return nil
}

// ResetCursor atomically clears the cursor and the document hash map.
// Job status is cleared separately by the caller when desired.
func (s *Store) ResetCursor(ctx context.Context, src source.Source) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, cursorKey(src))
	pipe.Del(ctx, hashesKey(src))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset cursor for %s: %w", src, err)
	}
	return nil
}

// BulkGetDocumentHashes returns the stored content hash per id,
// positionally; nil marks an id with no stored hash. Empty input returns
// an empty result without touching the store.
func (s *Store) BulkGetDocumentHashes(ctx context.Context, src source.Source, ids []string) ([]*string, error) {
	if len(ids) == 0 {
		return []*string{}, nil
	}

	vals, err := s.client.HMGet(ctx, hashesKey(src), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load document hashes for %s: %w", src, err)
	}

	out := make([]*string, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = &str
		}
	}
	return out, nil
}

// BulkSetDocumentHashes writes the given id→hash entries in one batch.
// A nil or empty map is a no-op.
func (s *Store) BulkSetDocumentHashes(ctx context.Context, src source.Source, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}

	flat := make([]any, 0, len(hashes)*2)
	for id, h := range hashes {
		flat = append(flat, id, h)
	}
	if err := s.client.HSet(ctx, hashesKey(src), flat...).Err(); err != nil {
		return fmt.Errorf("failed to save document hashes for %s: %w", src, err)
	}
	return nil
}

// RemoveDocumentHashes deletes the entry for id and every entry keyed
// `id_*` (the document's chunks). Matching is exact-or-underscore-prefix:
// an unrelated id that merely starts with the same characters is kept.
// The scan is bounded so large hash maps do not block the server.
func (s *Store) RemoveDocumentHashes(ctx context.Context, src source.Source, id string) error {
	key := hashesKey(src)
	prefix := id + "_"

	var toDelete []string
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, key, cursor, scanPattern(id), hashScanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan document hashes for %s: %w", src, err)
		}
		// HSCAN returns alternating field, value pairs.
		for i := 0; i < len(fields); i += 2 {
			field := fields[i]
			if field == id || strings.HasPrefix(field, prefix) {
				toDelete = append(toDelete, field)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(toDelete) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, toDelete...).Err(); err != nil {
		return fmt.Errorf("failed to delete document hashes for %s: %w", src, err)
	}
	return nil
}

// scanPattern narrows an HSCAN to id's own entries. Glob metacharacters
// in the id are escaped so they match literally; the caller's
// exact-or-prefix filter stays authoritative over what the scan returns.
func scanPattern(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

// DocumentHashCount returns the number of tracked documents for src.
func (s *Store) DocumentHashCount(ctx context.Context, src source.Source) (int64, error) {
	n, err := s.client.HLen(ctx, hashesKey(src)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count document hashes for %s: %w", src, err)
	}
	return n, nil
}

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

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	"github.com/recallhq/recall/pkg/kv"
)

// queryCacheTTL keeps repeated identical queries cheap without letting
// stale vectors linger after a model change.
const queryCacheTTL = 300 * time.Second

// CachedClient wraps an embeddings client with a short-TTL query cache
// keyed by query hash. Cache failures degrade to a miss; the search path
// never fails because the cache is down.
type CachedClient struct {
	client *Client
	store  *kv.Store
}

// NewCachedClient wraps client with a query cache backed by store. A nil
// store disables caching.
func NewCachedClient(client *Client, store *kv.Store) *CachedClient {
	return &CachedClient{client: client, store: store}
}

// Dimension is the wrapped client's vector size.
func (c *CachedClient) Dimension() int { return c.client.Dimension() }

// GenerateEmbeddings passes straight through to the wrapped client.
// Document embedding is never cached; only queries repeat.
func (c *CachedClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return c.client.GenerateEmbeddings(ctx, texts)
}

// EmbedQuery embeds a single query string, consulting the cache first.
func (c *CachedClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	key := queryCacheKey(query)

	if c.store != nil {
		data, err := c.store.GetBytes(ctx, key)
		if err != nil {
			slog.Debug("embedding cache read failed", "error", err)
		} else if vec := decodeVector(data); vec != nil {
			return vec, nil
		}
	}

	vecs, err := c.client.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]

	if c.store != nil {
		if err := c.store.SetBytes(ctx, key, encodeVector(vec), queryCacheTTL); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func queryCacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "search:embedding:" + hex.EncodeToString(sum[:])[:32]
}

// encodeVector packs a vector as little-endian float32 bits.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Returns nil for empty or
// malformed payloads so corrupt entries read as a miss.
func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

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

// Package kv is the durable per-source state store: cursors, document
// hash maps, job status, advisory locks, settings and small caches.
// Backed by Redis (or any RESP-compatible server).
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/source"
)

// Key layout. Changing any of these orphans persisted state.
const (
	cursorKeyPrefix   = "index:cursor:"
	statusKeyPrefix   = "index:status:"
	hashesKeyPrefix   = "index:hashes:"
	lockKeyPrefix     = "index:lock:"
	settingsKeyPrefix = "index:settings:"
	disabledSetKey    = "index:disabled-sources"
)

const (
	statusTTL = 24 * time.Hour
	lockTTL   = 2 * time.Hour

	// hashScanBatch bounds each HSCAN page so large hash maps do not
	// block the server.
	hashScanBatch = 500
)

// Store wraps a Redis client with the pipeline's key discipline.
type Store struct {
	client *redis.Client
}

// New connects to the KV store and verifies reachability.
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (tests use miniredis here).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func cursorKey(src source.Source) string   { return cursorKeyPrefix + string(src) }
func statusKey(src source.Source) string   { return statusKeyPrefix + string(src) }
func hashesKey(src source.Source) string   { return hashesKeyPrefix + string(src) }
func lockKey(src source.Source) string     { return lockKeyPrefix + string(src) }
func settingsKey(src source.Source) string { return settingsKeyPrefix + string(src) }

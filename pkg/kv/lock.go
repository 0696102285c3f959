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
	"fmt"
	"time"

	"github.com/recallhq/recall/pkg/source"
)

// AcquireLock takes the per-source advisory lock. Non-blocking: returns
// false immediately when another run holds it. The TTL is a safety net
// against crashed holders.
func (s *Store) AcquireLock(ctx context.Context, src source.Source) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(src), time.Now().UTC().Format(time.RFC3339), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for %s: %w", src, err)
	}
	return acquired, nil
}

// ReleaseLock drops the advisory lock. Releasing an unheld lock is a
// no-op.
func (s *Store) ReleaseLock(ctx context.Context, src source.Source) error {
	if err := s.client.Del(ctx, lockKey(src)).Err(); err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", src, err)
	}
	return nil
}

// IsLocked reports whether a run currently holds the source lock.
func (s *Store) IsLocked(ctx context.Context, src source.Source) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(src)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock for %s: %w", src, err)
	}
	return n > 0, nil
}

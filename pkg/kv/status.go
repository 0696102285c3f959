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

	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/source"
)

// RunState is the lifecycle state of an indexing run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunError     RunState = "error"
)

// JobStatus is the persisted per-source run record. Records expire after
// 24 hours; sources without a record report idle.
type JobStatus struct {
	Source           source.Source `json:"source"`
	Status           RunState      `json:"status"`
	LastSync         string        `json:"lastSync,omitempty"`
	DocumentsIndexed int           `json:"documentsIndexed"`
	Error            string        `json:"error,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
	LastErrorAt      string        `json:"lastErrorAt,omitempty"`
}

// GetJobStatus loads the status record for src, or nil when absent.
func (s *Store) GetJobStatus(ctx context.Context, src source.Source) (*JobStatus, error) {
	data, err := s.client.Get(ctx, statusKey(src)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job status for %s: %w", src, err)
	}

	var st JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt job status for %s: %w", src, err)
	}
	return &st, nil
}

// GetAllJobStatus returns one record per requested source, substituting
// an idle default where nothing is stored.
func (s *Store) GetAllJobStatus(ctx context.Context, srcs []source.Source) ([]JobStatus, error) {
	if len(srcs) == 0 {
		return []JobStatus{}, nil
	}

	keys := make([]string, len(srcs))
	for i, src := range srcs {
		keys[i] = statusKey(src)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job statuses: %w", err)
	}

	out := make([]JobStatus, len(srcs))
	for i, v := range vals {
		out[i] = JobStatus{Source: srcs[i], Status: RunIdle}
		if str, ok := v.(string); ok {
			var st JobStatus
			if err := json.Unmarshal([]byte(str), &st); err == nil {
				out[i] = st
			}
		}
	}
	return out, nil
}

// SaveJobStatus persists the record with the standard TTL.
func (s *Store) SaveJobStatus(ctx context.Context, st *JobStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(st.Source), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job status for %s: %w", st.Source, err)
	}
	return nil
}

// ClearJobStatus removes the status record for src.
func (s *Store) ClearJobStatus(ctx context.Context, src source.Source) error {
	if err := s.client.Del(ctx, statusKey(src)).Err(); err != nil {
		return fmt.Errorf("failed to clear job status for %s: %w", src, err)
	}
	return nil
}

// TouchJobStatus refreshes the record TTL without changing its payload.
// Long runs call this as a liveness heartbeat.
func (s *Store) TouchJobStatus(ctx context.Context, src source.Source) error {
	return s.client.Expire(ctx, statusKey(src), statusTTL).Err()
}

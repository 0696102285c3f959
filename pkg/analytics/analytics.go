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

// Package analytics records indexing run history and serves per-source
// and per-day statistics.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/source"
)

// historyLimit bounds the retained run history.
const historyLimit = 200

// RunRecord is one indexing run, start to finish.
type RunRecord struct {
	ID               string        `json:"id"`
	Source           source.Source `json:"source"`
	FullReindex      bool          `json:"fullReindex"`
	Status           string        `json:"status"`
	StartedAt        string        `json:"startedAt"`
	CompletedAt      string        `json:"completedAt,omitempty"`
	DocumentsIndexed int           `json:"documentsIndexed"`
	Error            string        `json:"error,omitempty"`
}

// Recorder persists run lifecycle events into the KV store.
type Recorder struct {
	store *kv.Store
}

// NewRecorder builds a Recorder.
func NewRecorder(store *kv.Store) *Recorder {
	return &Recorder{store: store}
}

// RecordRunStart appends a started record and returns its id.
func (r *Recorder) RecordRunStart(ctx context.Context, src source.Source, fullReindex bool) (string, error) {
	record := RunRecord{
		ID:          uuid.NewString(),
		Source:      src,
		FullReindex: fullReindex,
		Status:      "started",
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := r.store.PushRunRecord(ctx, data, historyLimit); err != nil {
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}
	return record.ID, nil
}

// RecordRunEnd appends the completion record for a run and bumps the
// day's counter.
func (r *Recorder) RecordRunEnd(ctx context.Context, runID string, src source.Source, documentsIndexed int, runErr error) error {
	now := time.Now().UTC()
	record := RunRecord{
		ID:               runID,
		Source:           src,
		Status:           "completed",
		CompletedAt:      now.Format(time.RFC3339),
		DocumentsIndexed: documentsIndexed,
	}
	if runErr != nil {
		record.Status = "error"
		record.Error = runErr.Error()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := r.store.PushRunRecord(ctx, data, historyLimit); err != nil {
		return fmt.Errorf("failed to persist run record: %w", err)
	}

	if documentsIndexed > 0 {
		day := now.Format("2006-01-02")
		if err := r.store.IncrDailyCount(ctx, day, src.String(), documentsIndexed); err != nil {
			return fmt.Errorf("failed to bump daily count: %w", err)
		}
	}
	return nil
}

// History returns the newest run records, most recent first. Corrupt
// entries are skipped.
func (r *Recorder) History(ctx context.Context, limit int) ([]RunRecord, error) {
	raw, err := r.store.ListRunRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	records := make([]RunRecord, 0, len(raw))
	for _, data := range raw {
		var record RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// SourceStats summarizes one source's recent runs.
type SourceStats struct {
	Source           source.Source `json:"source"`
	Runs             int           `json:"runs"`
	Errors           int           `json:"errors"`
	DocumentsIndexed int           `json:"documentsIndexed"`
	LastRunAt        string        `json:"lastRunAt,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
}

// Stats folds the retained history into per-source summaries.
func (r *Recorder) Stats(ctx context.Context) (map[source.Source]*SourceStats, error) {
	records, err := r.History(ctx, historyLimit)
	if err != nil {
		return nil, err
	}

	stats := make(map[source.Source]*SourceStats)
	for _, record := range records {
		if record.Status == "started" {
			continue
		}
		s, ok := stats[record.Source]
		if !ok {
			s = &SourceStats{Source: record.Source}
			stats[record.Source] = s
		}
		s.Runs++
		s.DocumentsIndexed += record.DocumentsIndexed
		if record.Status == "error" {
			s.Errors++
			if s.LastError == "" {
				s.LastError = record.Error
			}
		}
		if s.LastRunAt == "" {
			s.LastRunAt = record.CompletedAt
		}
	}
	return stats, nil
}

// DailyCounts returns indexed-document counts per source for a day
// (YYYY-MM-DD, defaults to today).
func (r *Recorder) DailyCounts(ctx context.Context, day string) (map[string]int64, error) {
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	counts, err := r.store.DailyCounts(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily counts: %w", err)
	}
	return counts, nil
}

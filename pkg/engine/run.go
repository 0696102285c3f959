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

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/observability"
	"github.com/recallhq/recall/pkg/source"
)

const (
	// maxBatchesPerExecution bounds one execution; longer runs continue
	// as a fresh execution carrying the running totals.
	maxBatchesPerExecution = 50

	maxConsecutiveErrors = 3

	longPauseEvery = 500
)

// Pacing knobs, variables so tests can compress the waits.
var (
	errorBackoffBase = time.Second
	interBatchSleep  = 500 * time.Millisecond
	longPauseSleep   = 2 * time.Second
)

// continuation carries the aggregate state across execution boundaries.
type continuation struct {
	totalProcessed int
	startedAt      time.Time
	resumed        bool
}

// runLocked owns the source lock for the duration of the run and
// releases it on every exit path.
func (e *Engine) runLocked(ctx context.Context, conn connector.Connector, src source.Source, req connector.IndexRequest) {
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.ReleaseLock(releaseCtx, src); err != nil {
			slog.Error("failed to release indexing lock", "source", src, "error", err)
		}
	}()

	merged, err := e.mergeSettings(ctx, src, req)
	if err != nil {
		e.finishError(src, 0, fmt.Errorf("failed to load settings: %w", err))
		return
	}

	cfgKey := configKey(src, merged)
	fullReindex := merged.FullReindex

	if !fullReindex {
		cursor, err := e.store.GetCursor(ctx, src)
		if err != nil {
			e.finishError(src, 0, fmt.Errorf("failed to load cursor: %w", err))
			return
		}
		if cursor != nil {
			if stored := cursor.Metadata["configKey"]; stored != "" && stored != cfgKey {
				slog.Info("configuration changed, forcing full reindex",
					"source", src, "previous", stored, "current", cfgKey)
				fullReindex = true
			}
		}
	}

	if fullReindex {
		if err := e.store.ResetCursor(ctx, src); err != nil {
			e.finishError(src, 0, fmt.Errorf("failed to reset cursor: %w", err))
			return
		}
	}

	slog.Info("indexing started", "source", src, "fullReindex", fullReindex)
	if err := e.store.SaveJobStatus(ctx, &kv.JobStatus{Source: src, Status: kv.RunRunning}); err != nil {
		e.finishError(src, 0, fmt.Errorf("failed to record running status: %w", err))
		return
	}

	var runID string
	if e.recorder != nil {
		if runID, err = e.recorder.RecordRunStart(ctx, src, fullReindex); err != nil {
			slog.Warn("failed to record run start", "source", src, "error", err)
		}
	}

	cont := &continuation{startedAt: time.Now()}
	var runErr error
	for {
		var next *continuation
		next, runErr = e.execute(ctx, conn, src, merged, cfgKey, fullReindex, cont)
		if runErr != nil || next == nil {
			break
		}
		// Fresh execution, same aggregate: no second running status, no
		// second run-start record.
		slog.Info("continuing long indexing run",
			"source", src, "processed", next.totalProcessed)
		cont = next
	}

	if e.recorder != nil && runID != "" {
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.recorder.RecordRunEnd(recCtx, runID, src, cont.totalProcessed, runErr); err != nil {
			slog.Warn("failed to record run end", "source", src, "error", err)
		}
		cancel()
	}

	if runErr != nil {
		e.finishError(src, cont.totalProcessed, runErr)
		return
	}

	status := &kv.JobStatus{
		Source:           src,
		Status:           kv.RunCompleted,
		LastSync:         time.Now().UTC().Format(time.RFC3339),
		DocumentsIndexed: cont.totalProcessed,
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveJobStatus(saveCtx, status); err != nil {
		slog.Error("failed to record completed status", "source", src, "error", err)
	}
	observability.IndexRuns.WithLabelValues(src.String(), string(kv.RunCompleted)).Inc()
	slog.Info("indexing completed", "source", src, "documentsIndexed", cont.totalProcessed,
		"duration", time.Since(cont.startedAt).Round(time.Millisecond))
}

// execute runs batches until the source is exhausted, an error budget is
// spent, or the per-execution batch bound is hit. A non-nil continuation
// return means the run should proceed in a fresh execution.
func (e *Engine) execute(ctx context.Context, conn connector.Connector, src source.Source, req connector.IndexRequest, cfgKey string, fullReindex bool, cont *continuation) (*continuation, error) {
	var cursor *connector.Cursor
	if !fullReindex || cont.resumed {
		var err error
		cursor, err = e.store.GetCursor(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to load cursor: %w", err)
		}
	}

	totalProcessed := cont.totalProcessed
	consecutiveErrors := 0
	batches := 0

	// Keep the aggregate current on every exit path; an aborted run still
	// reports the documents its good batches processed.
	defer func() { cont.totalProcessed = totalProcessed }()

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("indexing cancelled: %w", err)
		}

		processed, newCursor, hasMore, err := e.processBatch(ctx, conn, src, req, cfgKey, fullReindex, cursor)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				return nil, fmt.Errorf("aborting after %d consecutive errors: %w", consecutiveErrors, err)
			}
			backoff := time.Duration(1<<consecutiveErrors) * errorBackoffBase
			slog.Warn("batch failed, retrying",
				"source", src, "attempt", consecutiveErrors, "backoff", backoff, "error", err)
			if !sleepCtx(ctx, backoff) {
				return nil, fmt.Errorf("indexing cancelled: %w", ctx.Err())
			}
			continue
		}

		consecutiveErrors = 0
		cursor = newCursor
		batches++

		if processed > 0 {
			totalProcessed += processed
			running := &kv.JobStatus{
				Source:           src,
				Status:           kv.RunRunning,
				DocumentsIndexed: totalProcessed,
			}
			if err := e.store.SaveJobStatus(ctx, running); err != nil {
				slog.Warn("failed to update running status", "source", src, "error", err)
			}
			observability.DocumentsIndexed.WithLabelValues(src.String()).Add(float64(processed))
		} else if err := e.store.TouchJobStatus(ctx, src); err != nil {
			// Heartbeat only; sparse pages still prove liveness.
			slog.Debug("failed to touch job status", "source", src, "error", err)
		}

		if !hasMore {
			return nil, nil
		}

		if batches >= maxBatchesPerExecution {
			return &continuation{totalProcessed: totalProcessed, startedAt: cont.startedAt, resumed: true}, nil
		}

		pause := interBatchSleep
		if totalProcessed > 0 && totalProcessed%longPauseEvery == 0 {
			pause = longPauseSleep
		}
		if !sleepCtx(ctx, pause) {
			return nil, fmt.Errorf("indexing cancelled: %w", ctx.Err())
		}
	}
}

// processBatch runs one fetch-filter-upsert-cursor cycle. The cursor is
// saved only after the batch's index and hash writes succeeded, so a
// retry replays the same batch.
func (e *Engine) processBatch(ctx context.Context, conn connector.Connector, src source.Source, req connector.IndexRequest, cfgKey string, fullReindex bool, cursor *connector.Cursor) (int, *connector.Cursor, bool, error) {
	result, err := conn.Fetch(ctx, cursor, req)
	if err != nil {
		return 0, cursor, false, fmt.Errorf("fetch failed: %w", err)
	}

	processed := 0
	if len(result.Documents) > 0 {
		changed := result.Documents
		if !fullReindex {
			changed, err = e.filterByHashDiff(ctx, src, result.Documents)
			if err != nil {
				return 0, cursor, false, err
			}
		}

		if len(changed) > 0 {
			stats, err := e.idx.UpsertDocuments(ctx, src, changed)
			if err != nil {
				return 0, cursor, false, fmt.Errorf("upsert failed: %w", err)
			}

			if err := e.evictOrphanChunks(ctx, src, stats.ChunkCounts, fullReindex); err != nil {
				return 0, cursor, false, err
			}

			// Hash entries are written only for rows the backend accepted.
			hashes := make(map[string]string, len(stats.Items))
			for _, it := range stats.Items {
				hashes[it.ID] = it.ContentHash
			}
			if err := e.store.BulkSetDocumentHashes(ctx, src, hashes); err != nil {
				return 0, cursor, false, fmt.Errorf("failed to save document hashes: %w", err)
			}

			processed = stats.Indexed + stats.Updated
			if stats.Failed > 0 {
				slog.Warn("some items were not stored", "source", src, "failed", stats.Failed)
			}
		}
	}

	next := &connector.Cursor{
		Source:   src,
		LastSync: result.BatchLastSync,
		Metadata: map[string]string{},
	}
	next.SyncToken = result.NewCursor.SyncToken
	for k, v := range result.NewCursor.Metadata {
		next.Metadata[k] = v
	}
	if next.LastSync == "" && cursor != nil {
		next.LastSync = cursor.LastSync
	}
	if next.LastSync == "" {
		next.LastSync = time.Now().UTC().Format(time.RFC3339)
	}
	next.Metadata["configKey"] = cfgKey

	if err := e.store.SaveCursor(ctx, next); err != nil {
		return processed, cursor, false, fmt.Errorf("failed to save cursor: %w", err)
	}
	return processed, next, result.HasMore, nil
}

// filterByHashDiff drops documents whose stored hash matches the current
// one. Documents with no stored entry count as changed. Chunked
// documents always pass; their per-chunk comparison happens inside the
// upsert pipeline against the index itself.
func (e *Engine) filterByHashDiff(ctx context.Context, src source.Source, docs []connector.Document) ([]connector.Document, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	stored, err := e.store.BulkGetDocumentHashes(ctx, src, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load document hashes: %w", err)
	}

	changed := docs[:0:0]
	for i, doc := range docs {
		if stored[i] != nil && *stored[i] == documentHash(doc) {
			continue
		}
		changed = append(changed, doc)
	}
	return changed, nil
}

// documentHash fingerprints a whole document, content and metadata.
func documentHash(doc connector.Document) string {
	payload, err := json.Marshal(struct {
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}{doc.Content, doc.Metadata})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// evictOrphanChunks removes index rows and hash entries for chunks past
// a document's new chunk count. Incremental runs probe the hash map for
// the first now-out-of-range chunk id, keeping the common no-shrink case
// to one read. During a full reindex the hash map was reset before the
// first batch and cannot witness earlier chunk counts, so eviction goes
// to the index directly, one delete-by-query per upserted document.
func (e *Engine) evictOrphanChunks(ctx context.Context, src source.Source, chunkCounts map[string]int, fullReindex bool) error {
	if fullReindex {
		for parent, count := range chunkCounts {
			if count == 0 {
				continue
			}
			from := count
			if count == 1 {
				from = 0
			}
			if err := e.idx.DeleteChunksFrom(ctx, parent, from); err != nil {
				return fmt.Errorf("failed to evict orphan chunks of %s: %w", parent, err)
			}
		}
		return nil
	}
	var parents []string
	var probes []string
	for id, count := range chunkCounts {
		if count == 0 {
			continue
		}
		probeIndex := count
		if count == 1 {
			// A single-row document stores under its own id; any chunk
			// entry at all is stale.
			probeIndex = 0
		}
		parents = append(parents, id)
		probes = append(probes, fmt.Sprintf("%s_chunk_%d", id, probeIndex))
	}
	if len(probes) == 0 {
		return nil
	}

	stored, err := e.store.BulkGetDocumentHashes(ctx, src, probes)
	if err != nil {
		return fmt.Errorf("failed to probe for orphan chunks: %w", err)
	}

	for i, parent := range parents {
		if stored[i] == nil {
			continue
		}
		from := chunkCounts[parent]
		if from == 1 {
			from = 0
		}
		slog.Info("evicting orphan chunks", "source", src, "parent", parent, "fromIndex", from)
		if err := e.idx.DeleteChunksFrom(ctx, parent, from); err != nil {
			return fmt.Errorf("failed to evict orphan chunks of %s: %w", parent, err)
		}
		if err := e.store.RemoveDocumentHashes(ctx, src, parent); err != nil {
			return fmt.Errorf("failed to evict hash entries of %s: %w", parent, err)
		}
	}
	return nil
}

// mergeSettings overlays persisted per-source filters under the request;
// request fields win, empty ones fall back.
func (e *Engine) mergeSettings(ctx context.Context, src source.Source, req connector.IndexRequest) (connector.IndexRequest, error) {
	settings, err := e.store.GetSettings(ctx, src)
	if err != nil {
		return req, err
	}
	if settings == nil {
		return req, nil
	}

	if len(req.ProjectKeys) == 0 {
		req.ProjectKeys = settings.ProjectKeys
	}
	if len(req.ChannelIDs) == 0 {
		req.ChannelIDs = settings.ChannelIDs
	}
	if len(req.SpaceKeys) == 0 {
		req.SpaceKeys = settings.SpaceKeys
	}
	if len(req.FolderIDs) == 0 {
		req.FolderIDs = settings.FolderIDs
	}
	if len(req.CalendarIDs) == 0 {
		req.CalendarIDs = settings.CalendarIDs
	}
	if len(req.Repos) == 0 {
		req.Repos = settings.Repos
	}
	if len(req.MailDomains) == 0 {
		req.MailDomains = settings.MailDomains
	}
	if len(req.MailSenders) == 0 {
		req.MailSenders = settings.MailSenders
	}
	if len(req.MailLabels) == 0 {
		req.MailLabels = settings.MailLabels
	}
	return req, nil
}

// configKey fingerprints the selective-indexing filter. Slices are
// sorted first so ordering never changes the key.
func configKey(src source.Source, req connector.IndexRequest) string {
	parts := []string{src.String()}
	for _, s := range [][]string{
		req.ProjectKeys, req.ChannelIDs, req.SpaceKeys, req.FolderIDs,
		req.CalendarIDs, req.Repos, req.MailDomains, req.MailSenders, req.MailLabels,
	} {
		sorted := append([]string(nil), s...)
		sort.Strings(sorted)
		parts = append(parts, strings.Join(sorted, ","))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// finishError records a failed run.
func (e *Engine) finishError(src source.Source, processed int, runErr error) {
	observability.IndexRuns.WithLabelValues(src.String(), string(kv.RunError)).Inc()
	slog.Error("indexing failed", "source", src, "error", runErr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	status := &kv.JobStatus{
		Source:           src,
		Status:           kv.RunError,
		DocumentsIndexed: processed,
		Error:            runErr.Error(),
		LastError:        runErr.Error(),
		LastErrorAt:      now,
	}
	if err := e.store.SaveJobStatus(ctx, status); err != nil {
		slog.Error("failed to record error status", "source", src, "error", err)
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

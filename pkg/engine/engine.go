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

// Package engine drives per-source indexing runs: durable, resumable
// fetch-chunk-embed-upsert loops with cursors, content-hash change
// detection and per-source advisory locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/source"
)

var (
	// ErrAlreadyRunning is returned when a run for the source holds the lock.
	ErrAlreadyRunning = errors.New("indexing already running for source")

	// ErrNotConfigured is returned for connectors missing credentials.
	ErrNotConfigured = errors.New("connector is not configured")
)

// RunRecorder receives run lifecycle events for analytics. Implementations
// must never fail the run; errors are logged and dropped by the engine.
type RunRecorder interface {
	RecordRunStart(ctx context.Context, src source.Source, fullReindex bool) (runID string, err error)
	RecordRunEnd(ctx context.Context, runID string, src source.Source, documentsIndexed int, runErr error) error
}

// Engine coordinates indexing runs across sources.
type Engine struct {
	registry *connector.Registry
	store    *kv.Store
	idx      *index.Store
	recorder RunRecorder

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Engine. recorder may be nil.
func New(registry *connector.Registry, store *kv.Store, idx *index.Store, recorder RunRecorder) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry: registry,
		store:    store,
		idx:      idx,
		recorder: recorder,
		rootCtx:  ctx,
		cancel:   cancel,
	}
}

// RecoverStartupState sweeps statuses left behind by a previous process:
// any source still marked running is transitioned to error and its lock
// released, so a crashed run never wedges the source.
func (e *Engine) RecoverStartupState(ctx context.Context) error {
	statuses, err := e.store.GetAllJobStatus(ctx, source.All())
	if err != nil {
		return fmt.Errorf("failed to load job statuses: %w", err)
	}

	for _, status := range statuses {
		if status.Status != kv.RunRunning {
			continue
		}
		slog.Warn("recovering interrupted indexing run", "source", status.Source)

		status.Status = kv.RunError
		status.Error = "service restarted during indexing"
		status.LastError = status.Error
		status.LastErrorAt = time.Now().UTC().Format(time.RFC3339)
		if err := e.store.SaveJobStatus(ctx, &status); err != nil {
			return fmt.Errorf("failed to save recovered status for %s: %w", status.Source, err)
		}
		if err := e.store.ReleaseLock(ctx, status.Source); err != nil {
			return fmt.Errorf("failed to release lock for %s: %w", status.Source, err)
		}
	}
	return nil
}

// StartIndexing launches a run for one source. It returns immediately:
// ErrAlreadyRunning when the source lock is held, ErrNotConfigured when
// the connector has no credentials, nil when the run was started in the
// background.
func (e *Engine) StartIndexing(ctx context.Context, src source.Source, req connector.IndexRequest) error {
	conn, ok := e.registry.Get(src)
	if !ok {
		return fmt.Errorf("no connector registered for source %q", src)
	}
	if !conn.IsConfigured() {
		return fmt.Errorf("%w: %s", ErrNotConfigured, src)
	}

	acquired, err := e.store.AcquireLock(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for %s: %w", src, err)
	}
	if !acquired {
		return ErrAlreadyRunning
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLocked(e.rootCtx, conn, src, req)
	}()
	return nil
}

// IndexAll starts a run for every enabled, configured source, staggered
// by one second so connectors do not stampede shared dependencies.
// Sources already running or unconfigured are skipped.
func (e *Engine) IndexAll(ctx context.Context, req connector.IndexRequest) ([]source.Source, error) {
	enabled, err := e.store.EnabledSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled sources: %w", err)
	}

	var started []source.Source
	delay := time.Duration(0)
	for _, src := range enabled {
		conn, ok := e.registry.Get(src)
		if !ok || !conn.IsConfigured() {
			continue
		}

		acquired, err := e.store.AcquireLock(ctx, src)
		if err != nil {
			return started, fmt.Errorf("failed to acquire lock for %s: %w", src, err)
		}
		if !acquired {
			slog.Info("skipping busy source", "source", src)
			continue
		}

		started = append(started, src)
		e.wg.Add(1)
		go func(conn connector.Connector, src source.Source, delay time.Duration) {
			defer e.wg.Done()
			select {
			case <-time.After(delay):
			case <-e.rootCtx.Done():
				e.finishCancelled(src)
				return
			}
			e.runLocked(e.rootCtx, conn, src, req)
		}(conn, src, delay)

		delay += time.Second
	}
	return started, nil
}

// Reset clears a source's cursor, hash map and status, and releases its
// lock. Used to force the next run from scratch.
func (e *Engine) Reset(ctx context.Context, src source.Source) error {
	if err := e.store.ResetCursor(ctx, src); err != nil {
		return fmt.Errorf("failed to reset cursor for %s: %w", src, err)
	}
	if err := e.store.ClearJobStatus(ctx, src); err != nil {
		return fmt.Errorf("failed to clear status for %s: %w", src, err)
	}
	if err := e.store.ReleaseLock(ctx, src); err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", src, err)
	}
	return nil
}

// Shutdown cancels in-flight runs and waits for them to settle. Runs
// interrupted here record an error status before releasing their locks.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishCancelled records cancellation for a run that never got to its
// loop, then releases the lock.
func (e *Engine) finishCancelled(src source.Source) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := &kv.JobStatus{
		Source:      src,
		Status:      kv.RunError,
		Error:       "indexing cancelled during shutdown",
		LastError:   "indexing cancelled during shutdown",
		LastErrorAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.store.SaveJobStatus(ctx, status); err != nil {
		slog.Error("failed to record cancelled status", "source", src, "error", err)
	}
	if err := e.store.ReleaseLock(ctx, src); err != nil {
		slog.Error("failed to release lock", "source", src, "error", err)
	}
}

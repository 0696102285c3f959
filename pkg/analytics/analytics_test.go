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

package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/source"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewRecorder(store), mr
}

func TestRunLifecycle(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	runID, err := rec.RecordRunStart(ctx, source.Chat, false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, rec.RecordRunEnd(ctx, runID, source.Chat, 42, nil))

	history, err := rec.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first: the completion record leads.
	if history[0].Status != "completed" || history[0].ID != runID {
		t.Errorf("latest record = %+v", history[0])
	}
	if history[0].DocumentsIndexed != 42 {
		t.Errorf("documentsIndexed = %d", history[0].DocumentsIndexed)
	}
	if history[1].Status != "started" {
		t.Errorf("older record = %+v", history[1])
	}
}

func TestRunEndWithError(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	runID, _ := rec.RecordRunStart(ctx, source.Mail, true)
	if err := rec.RecordRunEnd(ctx, runID, source.Mail, 0, errors.New("upstream 503")); err != nil {
		t.Fatalf("RecordRunEnd: %v", err)
	}

	history, _ := rec.History(ctx, 10)
	if history[0].Status != "error" || history[0].Error != "upstream 503" {
		t.Errorf("error record = %+v", history[0])
	}
}

func TestStatsFoldHistory(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	id1, _ := rec.RecordRunStart(ctx, source.Chat, false)
	rec.RecordRunEnd(ctx, id1, source.Chat, 10, nil)
	id2, _ := rec.RecordRunStart(ctx, source.Chat, false)
	rec.RecordRunEnd(ctx, id2, source.Chat, 5, errors.New("boom"))
	id3, _ := rec.RecordRunStart(ctx, source.Wiki, false)
	rec.RecordRunEnd(ctx, id3, source.Wiki, 7, nil)

	stats, err := rec.Stats(ctx)
	require.NoError(t, err)

	chat := stats[source.Chat]
	if chat == nil || chat.Runs != 2 || chat.Errors != 1 || chat.DocumentsIndexed != 15 {
		t.Errorf("chat stats = %+v", chat)
	}
	if chat.LastError != "boom" {
		t.Errorf("lastError = %q", chat.LastError)
	}

	wiki := stats[source.Wiki]
	if wiki == nil || wiki.Runs != 1 || wiki.Errors != 0 || wiki.DocumentsIndexed != 7 {
		t.Errorf("wiki stats = %+v", wiki)
	}
}

func TestDailyCountsAccumulate(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	id1, _ := rec.RecordRunStart(ctx, source.Chat, false)
	rec.RecordRunEnd(ctx, id1, source.Chat, 10, nil)
	id2, _ := rec.RecordRunStart(ctx, source.Chat, false)
	rec.RecordRunEnd(ctx, id2, source.Chat, 3, nil)

	// A zero-document run does not bump the counter.
	id3, _ := rec.RecordRunStart(ctx, source.Chat, false)
	rec.RecordRunEnd(ctx, id3, source.Chat, 0, nil)

	today := time.Now().UTC().Format("2006-01-02")
	counts, err := rec.DailyCounts(ctx, today)
	if err != nil {
		t.Fatalf("DailyCounts: %v", err)
	}
	if counts["chat"] != 13 {
		t.Errorf("daily count = %d, want 13", counts["chat"])
	}

	// Empty day defaults to today.
	defaulted, err := rec.DailyCounts(ctx, "")
	if err != nil {
		t.Fatalf("DailyCounts(\"\"): %v", err)
	}
	if defaulted["chat"] != 13 {
		t.Errorf("defaulted daily count = %d", defaulted["chat"])
	}
}

func TestHistorySkipsCorruptRecords(t *testing.T) {
	rec, mr := newTestRecorder(t)
	ctx := context.Background()

	id, _ := rec.RecordRunStart(ctx, source.Chat, false)
	mr.Lpush("analytics:runs", "{not json")

	history, err := rec.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != id {
		t.Errorf("history = %+v, want the one valid record", history)
	}
}

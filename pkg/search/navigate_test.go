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

package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recallhq/recall/pkg/index"
)

func hit(id string, fields map[string]any) *index.Hit {
	return &index.Hit{ID: id, Fields: fields}
}

func TestContextType(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"chat thread", map[string]any{"source": "chat", "threadTs": "123.456"}, "thread"},
		{"chat channel", map[string]any{"source": "chat"}, "channel"},
		{"issue comment", map[string]any{"source": "issue-tracker", "type": "comment"}, "issue"},
		{"issue", map[string]any{"source": "issue-tracker"}, "project"},
		{"pr comment", map[string]any{"source": "code-host", "type": "pr-comment"}, "pull_request"},
		{"repo file", map[string]any{"source": "code-host"}, "repository"},
		{"mail", map[string]any{"source": "mail"}, "thread"},
		{"wiki page", map[string]any{"source": "wiki"}, "space"},
		{"drive file", map[string]any{"source": "drive"}, "folder"},
		{"event", map[string]any{"source": "calendar"}, "calendar"},
		{"orphan chunk", map[string]any{"parentDocId": "x"}, "document"},
		{"nothing", map[string]any{}, "unknown"},
	}
	for _, c := range cases {
		if got := contextType(hit("id", c.fields)); got != c.want {
			t.Errorf("%s: contextType = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestParentIDWikiCommentRewrite(t *testing.T) {
	comment := hit("c1", map[string]any{
		"source": "wiki", "type": "comment", "parentId": "12345",
	})
	if got := parentID(comment); got != "wiki_12345" {
		t.Errorf("wiki comment parent = %q, want wiki_12345", got)
	}

	prefixed := hit("c2", map[string]any{
		"source": "wiki", "type": "comment", "parentId": "wiki_12345",
	})
	if got := parentID(prefixed); got != "wiki_12345" {
		t.Errorf("already-prefixed parent = %q", got)
	}

	page := hit("p1", map[string]any{"source": "wiki", "parentId": "12345"})
	if got := parentID(page); got != "12345" {
		t.Errorf("non-comment parent = %q, want raw id", got)
	}

	chunkRow := hit("d_chunk_0", map[string]any{"source": "chat", "parentDocId": "d"})
	if got := parentID(chunkRow); got != "d" {
		t.Errorf("chunk parent = %q, want parentDocId fallback", got)
	}

	if got := parentID(hit("x", map[string]any{})); got != "" {
		t.Errorf("no parent = %q, want empty", got)
	}
}

func TestLogicalID(t *testing.T) {
	if got := logicalID(hit("d_chunk_2", map[string]any{"parentDocId": "d"})); got != "d" {
		t.Errorf("chunk logical id = %q", got)
	}
	if got := logicalID(hit("d", map[string]any{})); got != "d" {
		t.Errorf("standalone logical id = %q", got)
	}
}

func TestContextFilters(t *testing.T) {
	thread := contextFilters(hit("m", map[string]any{"source": "chat", "threadTs": "1.2", "channelId": "C1"}))
	if data, _ := json.Marshal(thread); !strings.Contains(string(data), "threadTs") {
		t.Errorf("chat thread filter = %s", data)
	}

	channel := contextFilters(hit("m", map[string]any{"source": "chat", "channelId": "C1"}))
	if data, _ := json.Marshal(channel); !strings.Contains(string(data), "channelId") {
		t.Errorf("chat channel fallback = %s", data)
	}

	folder := contextFilters(hit("f", map[string]any{"source": "drive", "folderPath": "/team/docs"}))
	if data, _ := json.Marshal(folder); !strings.Contains(string(data), "prefix") {
		t.Errorf("drive folder filter should use prefix matching: %s", data)
	}

	if got := contextFilters(hit("e", map[string]any{"source": "calendar"})); got != nil {
		t.Errorf("calendar has no context filter, got %v", got)
	}
	if got := contextFilters(hit("m", map[string]any{"source": "mail"})); got != nil {
		t.Errorf("mail without threadId has no filter, got %v", got)
	}
}

// navBackend serves _doc gets from a fixed map and empty search results.
func navBackend(t *testing.T, docs map[string]map[string]any) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/_doc/"):
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			fields, ok := docs[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]any{"found": false})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"_id": id, "found": true, "_source": fields})
		case strings.HasSuffix(r.URL.Path, "/_search"):
			json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{"total": map[string]any{"value": 0}, "hits": []any{}},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)

	idx, err := index.New(srv.URL, "recall-test", nil)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return New(idx, fixedEmbedder{}, nil)
}

func TestNavigateChunkNext(t *testing.T) {
	svc := navBackend(t, map[string]map[string]any{
		"doc_chunk_1": {"source": "wiki", "parentDocId": "doc", "chunkIndex": 1.0, "totalChunks": 3.0},
		"doc_chunk_2": {"source": "wiki", "parentDocId": "doc", "chunkIndex": 2.0, "totalChunks": 3.0},
	})

	resp, err := svc.Navigate(context.Background(), NavigateRequest{
		ID: "doc_chunk_1", Direction: DirNext, Scope: ScopeChunk,
	})
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if len(resp.Related) != 1 || resp.Related[0]["id"] != "doc_chunk_2" {
		t.Fatalf("related = %v, want the next chunk", resp.Related)
	}
	if !resp.Navigation.HasPrev || !resp.Navigation.HasNext {
		t.Errorf("middle chunk position = %+v, want prev and next", resp.Navigation)
	}
	if resp.Navigation.ParentID != "doc" {
		t.Errorf("parentId = %q", resp.Navigation.ParentID)
	}
}

func TestNavigateChunkBounds(t *testing.T) {
	svc := navBackend(t, map[string]map[string]any{
		"doc_chunk_2": {"source": "wiki", "parentDocId": "doc", "chunkIndex": 2.0, "totalChunks": 3.0},
	})

	resp, err := svc.Navigate(context.Background(), NavigateRequest{
		ID: "doc_chunk_2", Direction: DirNext, Scope: ScopeChunk,
	})
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if len(resp.Related) != 0 {
		t.Errorf("last chunk has no next, got %v", resp.Related)
	}
	if resp.Navigation.HasNext {
		t.Error("last chunk must report hasNext=false")
	}
	if !resp.Navigation.HasPrev {
		t.Error("last chunk must report hasPrev=true")
	}
}

func TestNavigateMissingItem(t *testing.T) {
	svc := navBackend(t, nil)
	resp, err := svc.Navigate(context.Background(), NavigateRequest{ID: "nope", Direction: DirParent})
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if resp.Current != nil || len(resp.Related) != 0 {
		t.Errorf("missing item should yield empty response, got %+v", resp)
	}
	if resp.Navigation.ContextType != "unknown" {
		t.Errorf("contextType = %q", resp.Navigation.ContextType)
	}
}

func TestNavigateUnknownDirection(t *testing.T) {
	svc := navBackend(t, map[string]map[string]any{
		"d": {"source": "chat"},
	})
	if _, err := svc.Navigate(context.Background(), NavigateRequest{ID: "d", Direction: "sideways"}); err == nil {
		t.Error("unknown direction should fail")
	}
}

func TestNavigateParent(t *testing.T) {
	svc := navBackend(t, map[string]map[string]any{
		"doc_chunk_0": {"source": "wiki", "parentDocId": "doc", "chunkIndex": 0.0, "totalChunks": 2.0},
		"doc":         {"source": "wiki", "title": "the page"},
	})

	resp, err := svc.Navigate(context.Background(), NavigateRequest{ID: "doc_chunk_0", Direction: DirParent})
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if len(resp.Related) != 1 || resp.Related[0]["id"] != "doc" {
		t.Errorf("related = %v, want the parent document", resp.Related)
	}
}

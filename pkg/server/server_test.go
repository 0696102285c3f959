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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/analytics"
	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/engine"
	"github.com/recallhq/recall/pkg/health"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/search"
	"github.com/recallhq/recall/pkg/source"
)

type idleConnector struct {
	src        source.Source
	configured bool
}

func (c *idleConnector) SourceName() source.Source { return c.src }
func (c *idleConnector) IsConfigured() bool        { return c.configured }
func (c *idleConnector) Fetch(ctx context.Context, cursor *connector.Cursor, req connector.IndexRequest) (*connector.Result, error) {
	return &connector.Result{HasMore: false}, nil
}

type staticEmbedder struct{}

func (staticEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type harness struct {
	srv   *httptest.Server
	store *kv.Store
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{"total": map[string]any{"value": 0}, "hits": []any{}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(backend.Close)

	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	idx, err := index.New(backend.URL, "recall-test", nil)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}

	registry, err := connector.NewRegistry(&idleConnector{src: source.Chat, configured: true})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	recorder := analytics.NewRecorder(store)
	eng := engine.New(registry, store, idx, recorder)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})

	cfg := &config.Config{
		Env:       config.EnvTest,
		Port:      0,
		APIPrefix: "api/v1",
		APIKey:    apiKey,
		RedisURL:  "redis://" + mr.Addr(),
		IndexURL:  backend.URL,
		IndexName: "recall-test",
	}

	s := New(cfg,
		eng,
		search.New(idx, staticEmbedder{}, nil),
		health.New(registry, store, idx),
		recorder,
		store,
	)

	srv := httptest.NewServer(s.router())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: store}
}

func (h *harness) do(t *testing.T, method, path, apiKey string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAuthMiddleware(t *testing.T) {
	h := newHarness(t, "secret")

	resp, _ := h.do(t, http.MethodGet, "/api/v1/index/status", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/v1/index/status", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", resp.StatusCode)
	}

	resp, body := h.do(t, http.MethodGet, "/api/v1/index/status", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", resp.StatusCode)
	}
	if body["statuses"] == nil {
		t.Error("status payload missing")
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	h := newHarness(t, "")
	resp, _ := h.do(t, http.MethodGet, "/api/v1/index/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 when no key is configured", resp.StatusCode)
	}
}

func TestRootAndHealthUnauthenticated(t *testing.T) {
	h := newHarness(t, "secret")

	resp, body := h.do(t, http.MethodGet, "/", "", nil)
	if resp.StatusCode != http.StatusOK || body["service"] != "recall" {
		t.Errorf("root: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", resp.StatusCode, body)
	}
	if body["dependencies"] == nil {
		t.Error("health payload missing dependencies")
	}
}

func TestIndexSourceLifecycle(t *testing.T) {
	h := newHarness(t, "")

	resp, body := h.do(t, http.MethodPost, "/api/v1/index/chat", "", nil)
	if resp.StatusCode != http.StatusAccepted || body["status"] != "started" {
		t.Errorf("start: %d %v", resp.StatusCode, body)
	}

	// Wait for the background run to release its lock.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if locked, _ := h.store.IsLocked(context.Background(), source.Chat); !locked {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/index/chat/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}
	if body["source"] != "chat" {
		t.Errorf("status payload = %v", body)
	}
}

func TestIndexSourceConflictWhileRunning(t *testing.T) {
	h := newHarness(t, "")

	if acquired, err := h.store.AcquireLock(context.Background(), source.Chat); err != nil || !acquired {
		t.Fatalf("AcquireLock: %v %v", acquired, err)
	}

	resp, body := h.do(t, http.MethodPost, "/api/v1/index/chat", "", nil)
	if resp.StatusCode != http.StatusConflict || body["status"] != "already_running" {
		t.Errorf("busy source: %d %v", resp.StatusCode, body)
	}
}

func TestIndexUnknownSource(t *testing.T) {
	h := newHarness(t, "")
	resp, _ := h.do(t, http.MethodPost, "/api/v1/index/ftp", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSourceStatusIdleDefault(t *testing.T) {
	h := newHarness(t, "")
	resp, body := h.do(t, http.MethodGet, "/api/v1/index/mail/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "idle" {
		t.Errorf("unrun source status = %v, want idle", body["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newHarness(t, "")
	resp, body := h.do(t, http.MethodGet, "/api/v1/search?q=deploy+window&type=keyword", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["results"] == nil {
		t.Errorf("search payload = %v", body)
	}
}

func TestNavigateRequiresID(t *testing.T) {
	h := newHarness(t, "")
	resp, _ := h.do(t, http.MethodPost, "/api/v1/navigate", "", map[string]any{"direction": "parent"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWorkflowViews(t *testing.T) {
	h := newHarness(t, "")

	resp, body := h.do(t, http.MethodGet, "/api/v1/workflows", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("workflows: %d", resp.StatusCode)
	}
	workflows, ok := body["workflows"].([]any)
	if !ok || len(workflows) != len(source.All()) {
		t.Errorf("workflows = %v", body["workflows"])
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/workflows/index-chat", "", nil)
	if resp.StatusCode != http.StatusOK || body["id"] != "index-chat" {
		t.Errorf("workflow: %d %v", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/v1/workflows/garbage", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown workflow: %d, want 404", resp.StatusCode)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	h := newHarness(t, "")

	resp, _ := h.do(t, http.MethodPost, "/api/v1/analytics/config/sources/issue-tracker", "", map[string]any{
		"projectKeys": []string{"INFRA", "CORE"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/analytics/config/sources/drive/enabled", "", map[string]any{
		"enabled": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: %d", resp.StatusCode)
	}

	resp, body := h.do(t, http.MethodGet, "/api/v1/analytics/config/sources", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d", resp.StatusCode)
	}
	settings, _ := body["settings"].(map[string]any)
	if settings["issue-tracker"] == nil {
		t.Errorf("exported settings = %v", settings)
	}
	disabled, _ := body["disabled"].([]any)
	if len(disabled) != 1 || disabled[0] != "drive" {
		t.Errorf("disabled = %v", disabled)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	h := newHarness(t, "")

	resp, body := h.do(t, http.MethodGet, "/api/v1/analytics/runs", "", nil)
	if resp.StatusCode != http.StatusOK || body["runs"] == nil {
		t.Errorf("runs: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/analytics/stats", "", nil)
	if resp.StatusCode != http.StatusOK || body["stats"] == nil {
		t.Errorf("stats: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/analytics/daily?day=2026-01-01", "", nil)
	if resp.StatusCode != http.StatusOK || body["counts"] == nil {
		t.Errorf("daily: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/analytics/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["sources"] == nil {
		t.Errorf("health: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/analytics/health/chat", "", nil)
	if resp.StatusCode != http.StatusOK || body["source"] != "chat" {
		t.Errorf("source health: %d %v", resp.StatusCode, body)
	}
}

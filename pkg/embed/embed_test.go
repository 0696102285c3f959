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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/kv"
)

// fakeEmbedServer answers /embeddings with one vector per input, returned
// in reverse order to exercise index-based reassembly.
func fakeEmbedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		calls.Add(1)

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var resp embedResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				Embedding: []float32{float32(i), float32(len(req.Input[i]))},
				Index:     i,
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.EmbedderConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Model:     "test-embed",
		Dimension: 2,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestGenerateEmbeddingsRestoresOrder(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.GenerateEmbeddings(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("GenerateEmbeddings: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, vec := range vecs {
		if vec[0] != float32(i) {
			t.Errorf("vector %d out of order: first component = %v", i, vec[0])
		}
	}
}

func TestGenerateEmbeddingsBatches(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	texts := make([]string, embedBatchSize+5)
	for i := range texts {
		texts[i] = "doc"
	}

	c := newTestClient(t, srv.URL)
	vecs, err := c.GenerateEmbeddings(context.Background(), texts)
	if err != nil {
		t.Fatalf("GenerateEmbeddings: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("provider saw %d requests, want 2", n)
	}
}

func TestGenerateEmbeddingsEmptyInput(t *testing.T) {
	c := newTestClient(t, "http://unused")
	vecs, err := c.GenerateEmbeddings(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("empty input: got (%v, %v), want (nil, nil)", vecs, err)
	}
}

func TestGenerateEmbeddingsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GenerateEmbeddings(context.Background(), []string{"a"}); err == nil {
		t.Error("expected error when provider returns wrong vector count")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(config.EmbedderConfig{Model: "m"}); err == nil {
		t.Error("missing API key should fail")
	}
	if _, err := NewClient(config.EmbedderConfig{APIKey: "k"}); err == nil {
		t.Error("missing model should fail")
	}

	c, err := NewClient(config.EmbedderConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Dimension() != 3072 {
		t.Errorf("default dimension = %d, want 3072", c.Dimension())
	}
}

func TestEmbedQueryCaching(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cached := NewCachedClient(newTestClient(t, srv.URL), store)
	ctx := context.Background()

	first, err := cached.EmbedQuery(ctx, "deploy checklist")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	second, err := cached.EmbedQuery(ctx, "deploy checklist")
	if err != nil {
		t.Fatalf("EmbedQuery (cached): %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("provider saw %d calls, want 1 (second hit from cache)", n)
	}
	if len(first) != len(second) {
		t.Fatalf("vector lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d: %v vs %v", i, first[i], second[i])
		}
	}

	// A different query misses.
	if _, err := cached.EmbedQuery(ctx, "other query"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("provider saw %d calls, want 2", n)
	}
}

func TestEmbedQueryCorruptCacheEntryIsMiss(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cached := NewCachedClient(newTestClient(t, srv.URL), store)

	mr.Set(queryCacheKey("q"), "odd") // not a multiple of 4 bytes

	vec, err := cached.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if vec == nil {
		t.Fatal("expected a vector despite corrupt cache entry")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("provider saw %d calls, want 1", n)
	}
}

func TestEmbedQueryNilStore(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	cached := NewCachedClient(newTestClient(t, srv.URL), nil)
	if _, err := cached.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery without store: %v", err)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e7}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d: got %v, want %v", i, got[i], vec[i])
		}
	}

	if decodeVector(nil) != nil {
		t.Error("nil payload should decode to nil")
	}
	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("truncated payload should decode to nil")
	}
}

func TestRerankerDisabledWithoutKey(t *testing.T) {
	if r := NewReranker(config.RerankerConfig{Model: "m"}); r != nil {
		t.Error("reranker without API key should be nil")
	}
}

func TestRerankTruncatesDocuments(t *testing.T) {
	var gotDocs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotDocs = req.Documents

		var resp rerankResponse
		for i := range req.Documents {
			resp.Results = append(resp.Results, RerankResult{Index: i, RelevanceScore: 1 - float64(i)*0.1})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := NewReranker(config.RerankerConfig{BaseURL: srv.URL, APIKey: "k", Model: "test-rerank"})
	long := strings.Repeat("x", rerankDocLimit+100)
	results, err := r.Rerank(context.Background(), "query", []string{long, "short"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if len(gotDocs[0]) != rerankDocLimit {
		t.Errorf("document not truncated: %d bytes", len(gotDocs[0]))
	}
	if gotDocs[1] != "short" {
		t.Errorf("short document altered: %q", gotDocs[1])
	}
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Results: []RerankResult{{Index: 5, RelevanceScore: 0.9}}})
	}))
	defer srv.Close()

	r := NewReranker(config.RerankerConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := r.Rerank(context.Background(), "q", []string{"only"}); err == nil {
		t.Error("expected error for out-of-range result index")
	}
}

func TestRerankEmptyDocuments(t *testing.T) {
	r := NewReranker(config.RerankerConfig{BaseURL: "http://unused", APIKey: "k", Model: "m"})
	results, err := r.Rerank(context.Background(), "q", nil)
	if err != nil || results != nil {
		t.Errorf("empty documents: got (%v, %v), want (nil, nil)", results, err)
	}
}

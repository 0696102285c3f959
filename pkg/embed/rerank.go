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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/httpclient"
)

// rerankDocLimit truncates each candidate before sending; the
// cross-encoder only reads the head of long documents anyway.
const rerankDocLimit = 4096

// Reranker scores query/document pairs with a hosted cross-encoder.
type Reranker struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

// RerankResult is one scored candidate. Index refers to the input slice.
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// NewReranker builds a reranker from config. Returns nil when no API key
// is configured; callers treat a nil reranker as "skip the stage".
func NewReranker(cfg config.RerankerConfig) *Reranker {
	if cfg.APIKey == "" {
		return nil
	}
	return &Reranker{
		http:    httpclient.New(),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Rerank scores documents against query and returns results ordered by
// descending relevance. Input order is preserved in the Index field.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	docs := make([]string, len(documents))
	for i, d := range documents {
		if len(d) > rerankDocLimit {
			d = d[:rerankDocLimit]
		}
		docs[i] = d
	}

	reqBody, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank API returned out-of-range index %d", res.Index)
		}
	}
	return parsed.Results, nil
}

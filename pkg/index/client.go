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

// Package index talks to the search backend: one logical index holding
// documents and their chunks, with lexical, kNN and hybrid retrieval.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/recallhq/recall/pkg/httpclient"
)

// Embedder generates dense vectors for enriched content.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Store is a REST client for an Elasticsearch-compatible backend.
type Store struct {
	http     *httpclient.Client
	baseURL  string
	index    string
	embedder Embedder
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(s *Store) { s.http = c }
}

// New builds a Store for the index named name at baseURL.
func New(baseURL, name string, embedder Embedder, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("index URL is required")
	}
	if name == "" {
		return nil, fmt.Errorf("index name is required")
	}
	s := &Store{
		http:     httpclient.New(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		index:    name,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the index name.
func (s *Store) Name() string { return s.index }

// Ping checks backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	var out map[string]any
	return s.request(ctx, http.MethodGet, "/", nil, &out)
}

// request performs a JSON request against the backend and decodes the
// response into out when out is non-nil. Non-2xx responses become errors
// carrying the backend's reason.
func (s *Store) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read index response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode index response: %w", err)
		}
	}
	return nil
}

// rawRequest performs a request with a preassembled body, used for the
// NDJSON bulk endpoint.
func (s *Store) rawRequest(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read index response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode index response: %w", err)
		}
	}
	return nil
}

func (s *Store) docPath(id string) string {
	return "/" + s.index + "/_doc/" + url.PathEscape(id)
}

// BackendError is a non-2xx response from the search backend. Callers
// can distinguish transient (5xx, 429) from permanent (other 4xx)
// failures by status code.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("index backend returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == http.StatusNotFound
}

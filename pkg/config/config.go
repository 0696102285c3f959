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

// Package config loads service configuration from the environment.
//
// Missing connector credentials never prevent boot; an unconfigured
// connector simply skips its runs. Only the core dependency URLs are
// validated at start-up.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the full service configuration.
type Config struct {
	Env       string `json:"env" jsonschema:"enum=development,enum=production,enum=test"`
	Port      int    `json:"port"`
	APIPrefix string `json:"api_prefix"`

	// APIKey guards every route except health and root. Empty disables
	// the guard (development only).
	APIKey string `json:"api_key,omitempty"`

	// RedisURL locates the KV store holding cursors, hashes, job status,
	// locks, settings and the query-embedding cache.
	RedisURL string `json:"redis_url"`

	// IndexURL is the search backend base URL; IndexName the single
	// logical index.
	IndexURL  string `json:"index_url"`
	IndexName string `json:"index_name"`

	Embedder EmbedderConfig `json:"embedder"`
	Reranker RerankerConfig `json:"reranker"`

	// TokenizerEncoding names the BPE encoding used for token-bounded
	// chunking (default cl100k_base).
	TokenizerEncoding string `json:"tokenizer_encoding,omitempty"`
}

// EmbedderConfig configures the embeddings provider.
type EmbedderConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// RerankerConfig configures the cross-encoder rerank provider.
type RerankerConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	cfg := &Config{
		Env:       getEnv("RECALL_ENV", EnvDevelopment),
		Port:      getEnvInt("PORT", 8087),
		APIPrefix: getEnv("API_PREFIX", "api/v1"),
		APIKey:    os.Getenv("API_KEY"),
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
		IndexURL:  os.Getenv("INDEX_URL"),
		IndexName: getEnv("INDEX_NAME", "recall-items"),
		Embedder: EmbedderConfig{
			BaseURL:   getEnv("EMBEDDER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:    os.Getenv("EMBEDDER_API_KEY"),
			Model:     getEnv("EMBEDDER_MODEL", "text-embedding-3-large"),
			Dimension: getEnvInt("EMBEDDER_DIMENSION", 3072),
		},
		Reranker: RerankerConfig{
			BaseURL: getEnv("RERANKER_BASE_URL", "https://api.cohere.ai/v1"),
			APIKey:  os.Getenv("RERANKER_API_KEY"),
			Model:   getEnv("RERANKER_MODEL", "rerank-v3.5"),
		},
		TokenizerEncoding: getEnv("TOKENIZER_ENCODING", "cl100k_base"),
	}
	return cfg
}

// Validate fails fast on missing core dependency URLs. Embedder and
// reranker credentials are soft: search degrades, boot succeeds.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.IndexURL == "" {
		return fmt.Errorf("INDEX_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("invalid RECALL_ENV %q", c.Env)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

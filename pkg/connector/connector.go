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

// Package connector defines the uniform cursor-driven batch-fetch contract
// every per-vendor connector implements, plus the shared document and
// cursor types the indexing engine moves between them.
package connector

import (
	"context"

	"github.com/recallhq/recall/pkg/source"
)

// Document is a unit of content as delivered by a connector, before
// chunking and enrichment.
type Document struct {
	// ID is stable per source across fetches; re-fetching an unchanged
	// document must yield the same ID.
	ID string `json:"id"`

	Source  source.Source `json:"source"`
	Content string        `json:"content"`

	// Metadata holds flattened scalar / bool / number / string-slice
	// values. Nested structures are serialized by the index store.
	Metadata map[string]any `json:"metadata,omitempty"`

	// PreChunked, when non-empty, is an ordered chunking supplied by the
	// connector; the chunker uses it verbatim after sanitization.
	PreChunked []string `json:"preChunked,omitempty"`
}

// Cursor is the per-source resumption token.
type Cursor struct {
	Source    source.Source     `json:"source"`
	LastSync  string            `json:"lastSync,omitempty"`
	SyncToken string            `json:"syncToken,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConfigKey returns the selective-indexing fingerprint stored with the
// cursor, or empty when none has been recorded.
func (c *Cursor) ConfigKey() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata["configKey"]
}

// IndexRequest carries caller options into a run. Nil slice fields fall
// back to persisted settings during the settings merge.
type IndexRequest struct {
	FullReindex bool `json:"fullReindex,omitempty"`

	ProjectKeys []string `json:"projectKeys,omitempty"`
	ChannelIDs  []string `json:"channelIds,omitempty"`
	SpaceKeys   []string `json:"spaceKeys,omitempty"`
	FolderIDs   []string `json:"folderIds,omitempty"`
	CalendarIDs []string `json:"calendarIds,omitempty"`
	Repos       []string `json:"repos,omitempty"`

	MailDomains []string `json:"mailDomains,omitempty"`
	MailSenders []string `json:"mailSenders,omitempty"`
	MailLabels  []string `json:"mailLabels,omitempty"`
}

// Result is one fetched batch.
//
// Documents may be empty while HasMore is still true (sparse pages).
// NewCursor.SyncToken is the sole resumption handle; BatchLastSync is the
// max modified timestamp observed in the batch and, when present, becomes
// the saved cursor's LastSync.
type Result struct {
	Documents     []Document `json:"documents"`
	NewCursor     Cursor     `json:"newCursor"`
	HasMore       bool       `json:"hasMore"`
	BatchLastSync string     `json:"batchLastSync,omitempty"`
}

// Connector is the uniform fetch contract.
//
// Fetch must be idempotent per (cursor, request) while upstream data is
// stable. A connector that observes its saved sync token is no longer
// valid (upstream 410/stale-token) must return an empty batch with
// HasMore=false and the previous LastSync preserved, never an error, so
// the next run starts over cleanly.
type Connector interface {
	SourceName() source.Source
	IsConfigured() bool
	Fetch(ctx context.Context, cursor *Cursor, req IndexRequest) (*Result, error)
}

// HealthChecker is optionally implemented by connectors that can verify
// upstream reachability and credentials without fetching documents.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

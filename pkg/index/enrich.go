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

package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall/pkg/chunk"
	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/source"
)

const (
	// originalContentLimit bounds the unindexed display copy.
	originalContentLimit = 8000

	// contentHashLen is the stored prefix of the content hash. Changing
	// it invalidates every stored hash, which forces a full re-embed.
	contentHashLen = 16
)

// item is one index row: a whole document or a single chunk of one.
type item struct {
	id     string
	fields map[string]any
	// raw is the pre-enrichment chunk text; the hash and display copy
	// derive from it, the stored content does not.
	raw string
}

// contentHash hashes the pre-enrichment chunk text. The context header
// is prepended after hashing so enrichment changes never force a
// re-embed.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:contentHashLen]
}

// buildItems expands one document into its index rows: a single row for
// short documents, one row per chunk otherwise.
func buildItems(src source.Source, doc connector.Document) []item {
	fields := flattenMetadata(doc.Metadata)

	hint := &chunk.Hint{PreChunked: doc.PreChunked}
	if p, ok := fields["path"].(string); ok {
		hint.Path = p
	} else if p, ok := fields["filePath"].(string); ok {
		hint.Path = p
	}

	chunks := chunk.Chunk(doc.Content, hint)
	if len(chunks) == 0 {
		return nil
	}

	header := contextHeader(src, fields)

	if len(chunks) == 1 {
		return []item{makeItem(doc.ID, src, chunks[0], header, fields, nil)}
	}

	items := make([]item, 0, len(chunks))
	for i, c := range chunks {
		chunkFields := map[string]any{
			"parentDocId": doc.ID,
			"chunkIndex":  i,
			"totalChunks": len(chunks),
		}
		id := fmt.Sprintf("%s_chunk_%d", doc.ID, i)
		items = append(items, makeItem(id, src, c, header, fields, chunkFields))
	}
	return items
}

func makeItem(id string, src source.Source, raw, header string, fields, extra map[string]any) item {
	out := make(map[string]any, len(fields)+len(extra)+4)
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}

	out["source"] = src.String()
	out["content"] = header + raw
	out["_contentHash"] = contentHash(raw)

	display := raw
	if len(display) > originalContentLimit {
		display = display[:originalContentLimit]
	}
	out["_originalContent"] = display

	return item{id: id, fields: out, raw: raw}
}

// contextHeader builds the human-readable preamble stored with the
// content and fed to the embedder. It names the document and its
// source-specific coordinates so both lexical and vector retrieval can
// match on them.
func contextHeader(src source.Source, fields map[string]any) string {
	var b strings.Builder

	line := func(label, key string) {
		if v, ok := fields[key]; ok {
			if s := stringValue(v); s != "" {
				b.WriteString(label)
				b.WriteString(": ")
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
	}

	line("Title", "title")
	b.WriteString("Source: ")
	b.WriteString(src.String())
	b.WriteString("\n")
	line("Project", "project")
	line("Channel", "channel")
	line("From", "sender")
	line("Author", "author")
	line("Space", "space")
	line("Path", "path")
	line("Repository", "repo")
	line("Time", "updatedAt")

	b.WriteString("\n")
	return b.String()
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// flattenMetadata converts a free-form metadata map into index fields:
// ISO timestamps gain epoch-ms mirror fields, string slices stay native,
// nested maps collapse to compact JSON, and every string is stripped of
// lone surrogate halves.
func flattenMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)*2)
	for key, value := range metadata {
		switch v := value.(type) {
		case string:
			clean := chunk.Sanitize(v)
			out[key] = clean
			if ts, ok := parseTimestamp(clean); ok && isDateField(key) {
				out[key+"Ts"] = ts
			}
		case []string:
			cleaned := make([]string, len(v))
			for i, s := range v {
				cleaned[i] = chunk.Sanitize(s)
			}
			out[key] = cleaned
		case []any:
			strs := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					strs = append(strs, chunk.Sanitize(s))
				} else {
					strs = append(strs, fmt.Sprintf("%v", e))
				}
			}
			out[key] = strs
		case bool, int, int32, int64, float32, float64, json.Number:
			out[key] = v
		case nil:
			// dropped
		case map[string]any:
			if data, err := json.Marshal(v); err == nil {
				out[key] = string(data)
			}
		case time.Time:
			iso := v.UTC().Format(time.RFC3339Nano)
			out[key] = iso
			if isDateField(key) {
				out[key+"Ts"] = v.UnixMilli()
			}
		default:
			if data, err := json.Marshal(v); err == nil {
				out[key] = string(data)
			}
		}
	}
	return out
}

// isDateField limits the Ts mirrors to the declared date fields; the
// mapping only carries long mirrors for these.
func isDateField(key string) bool {
	return key == "createdAt" || key == "updatedAt"
}

// parseTimestamp accepts RFC 3339 with or without sub-second precision.
func parseTimestamp(s string) (int64, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

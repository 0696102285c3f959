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
	"fmt"
	"strings"

	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/source"
)

// Navigation directions and scopes.
const (
	DirPrev     = "prev"
	DirNext     = "next"
	DirSiblings = "siblings"
	DirParent   = "parent"
	DirChildren = "children"

	ScopeChunk     = "chunk"
	ScopeDatapoint = "datapoint"
	ScopeContext   = "context"
)

// NavigateRequest asks for items structurally related to one item.
type NavigateRequest struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Scope     string `json:"scope"`
	Limit     int    `json:"limit"`
}

// Navigation describes the current item's position.
type Navigation struct {
	HasPrev     bool   `json:"hasPrev"`
	HasNext     bool   `json:"hasNext"`
	ParentID    string `json:"parentId,omitempty"`
	ContextType string `json:"contextType"`
}

// NavigateResponse carries the current item, its related items, and the
// position summary.
type NavigateResponse struct {
	Current    map[string]any   `json:"current"`
	Related    []map[string]any `json:"related"`
	Navigation Navigation       `json:"navigation"`
}

// Navigate resolves a structural traversal from one item.
func (s *Service) Navigate(ctx context.Context, req NavigateRequest) (*NavigateResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	current, err := s.idx.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return &NavigateResponse{
			Related:    []map[string]any{},
			Navigation: Navigation{ContextType: "unknown"},
		}, nil
	}

	resp := &NavigateResponse{
		Current: itemPayload(current),
		Related: []map[string]any{},
		Navigation: Navigation{
			ParentID:    parentID(current),
			ContextType: contextType(current),
		},
	}

	switch req.Direction {
	case DirParent:
		err = s.navigateParent(ctx, current, resp)
	case DirChildren:
		err = s.navigateChildren(ctx, current, limit, resp)
	case DirSiblings:
		err = s.navigateSiblings(ctx, current, req.Scope, limit, resp)
	case DirPrev, DirNext:
		err = s.navigateLinear(ctx, current, req.Direction, req.Scope, resp)
	default:
		return nil, fmt.Errorf("unknown navigation direction %q", req.Direction)
	}
	if err != nil {
		return nil, err
	}

	s.fillChunkPosition(current, resp)
	return resp, nil
}

// fillChunkPosition sets hasPrev/hasNext for chunk items from their
// index and count.
func (s *Service) fillChunkPosition(current *index.Hit, resp *NavigateResponse) {
	idx, okIdx := fieldInt(current.Fields, "chunkIndex")
	total, okTotal := fieldInt(current.Fields, "totalChunks")
	if okIdx && okTotal {
		resp.Navigation.HasPrev = resp.Navigation.HasPrev || idx > 0
		resp.Navigation.HasNext = resp.Navigation.HasNext || idx < total-1
	}
}

func (s *Service) navigateParent(ctx context.Context, current *index.Hit, resp *NavigateResponse) error {
	pid := parentID(current)
	if pid == "" {
		return nil
	}
	parent, err := s.idx.Get(ctx, pid)
	if err != nil {
		return err
	}
	if parent != nil {
		resp.Related = append(resp.Related, itemPayload(parent))
	}
	return nil
}

// navigateChildren unions logical children (rows whose parentId points
// at this item) with storage chunks (rows whose parentDocId points at
// it).
func (s *Service) navigateChildren(ctx context.Context, current *index.Hit, limit int, resp *NavigateResponse) error {
	logicalID := logicalID(current)

	children, err := s.idx.FindByFilters(ctx, []map[string]any{
		{"term": map[string]any{"parentId": logicalID}},
	}, limit)
	if err != nil {
		return err
	}

	chunks, err := s.idx.ChunksByParent(ctx, current.ID, limit)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, hit := range append(children, chunks...) {
		if seen[hit.ID] || len(resp.Related) >= limit {
			continue
		}
		seen[hit.ID] = true
		resp.Related = append(resp.Related, itemPayload(&hit))
	}
	return nil
}

func (s *Service) navigateSiblings(ctx context.Context, current *index.Hit, scope string, limit int, resp *NavigateResponse) error {
	if scope == ScopeChunk {
		parent, ok := current.Fields["parentDocId"].(string)
		if !ok || parent == "" {
			return nil
		}
		chunks, err := s.idx.ChunksByParent(ctx, parent, limit+1)
		if err != nil {
			return err
		}
		for _, hit := range chunks {
			if hit.ID == current.ID || len(resp.Related) >= limit {
				continue
			}
			resp.Related = append(resp.Related, itemPayload(&hit))
		}
		return nil
	}

	peers, err := s.contextPeers(ctx, current, limit+1)
	if err != nil {
		return err
	}
	for _, hit := range peers {
		if hit.ID == current.ID || len(resp.Related) >= limit {
			continue
		}
		resp.Related = append(resp.Related, itemPayload(&hit))
	}
	return nil
}

// navigateLinear resolves prev/next. Chunk scope walks the canonical
// chunk id sequence; other scopes walk the time-ordered context peers.
func (s *Service) navigateLinear(ctx context.Context, current *index.Hit, direction, scope string, resp *NavigateResponse) error {
	if scope == ScopeChunk {
		parent, _ := current.Fields["parentDocId"].(string)
		idx, okIdx := fieldInt(current.Fields, "chunkIndex")
		total, okTotal := fieldInt(current.Fields, "totalChunks")
		if parent == "" || !okIdx || !okTotal {
			return nil
		}

		target := idx + 1
		if direction == DirPrev {
			target = idx - 1
		}
		if target < 0 || target >= total {
			return nil
		}

		neighbor, err := s.idx.Get(ctx, fmt.Sprintf("%s_chunk_%d", parent, target))
		if err != nil {
			return err
		}
		if neighbor != nil {
			resp.Related = append(resp.Related, itemPayload(neighbor))
		}
		return nil
	}

	peers, err := s.contextPeers(ctx, current, 100)
	if err != nil {
		return err
	}
	pos := -1
	for i, hit := range peers {
		if hit.ID == current.ID {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil
	}

	resp.Navigation.HasPrev = pos > 0
	resp.Navigation.HasNext = pos < len(peers)-1

	target := pos + 1
	if direction == DirPrev {
		target = pos - 1
	}
	if target >= 0 && target < len(peers) {
		hit := peers[target]
		resp.Related = append(resp.Related, itemPayload(&hit))
	}
	return nil
}

// contextPeers finds items sharing the current item's source-specific
// context: chat thread or channel, mail thread, code-host parent or
// repo, drive folder. Returns nil when nothing correlates.
func (s *Service) contextPeers(ctx context.Context, current *index.Hit, limit int) ([]index.Hit, error) {
	filters := contextFilters(current)
	if filters == nil {
		return nil, nil
	}
	return s.idx.FindByFilters(ctx, filters, limit)
}

func contextFilters(current *index.Hit) []map[string]any {
	fields := current.Fields
	src, _ := fields["source"].(string)

	term := func(key string) []map[string]any {
		if v, ok := fields[key].(string); ok && v != "" {
			return []map[string]any{{"term": map[string]any{key: v}}}
		}
		return nil
	}

	switch source.Source(src) {
	case source.Chat:
		if f := term("threadTs"); f != nil {
			return f
		}
		return term("channelId")
	case source.Mail:
		return term("threadId")
	case source.CodeHost:
		if f := term("parentId"); f != nil {
			return f
		}
		return term("repo")
	case source.Drive:
		if folder, ok := fields["folderPath"].(string); ok && folder != "" {
			return []map[string]any{{"prefix": map[string]any{"folderPath": folder}}}
		}
		return nil
	case source.IssueTracker:
		return term("project")
	case source.Wiki:
		return term("space")
	default:
		return nil
	}
}

// parentID resolves the logical parent reference, with the wiki comment
// rewrite: wiki comments reference their page by raw id while pages are
// stored under a "wiki_"-prefixed id.
func parentID(current *index.Hit) string {
	fields := current.Fields

	pid, _ := fields["parentId"].(string)
	if pid == "" {
		pid, _ = fields["parentDocId"].(string)
	}
	if pid == "" {
		return ""
	}

	src, _ := fields["source"].(string)
	kind, _ := fields["type"].(string)
	if source.Source(src) == source.Wiki && kind == "comment" && !strings.HasPrefix(pid, "wiki_") {
		pid = "wiki_" + pid
	}
	return pid
}

// logicalID is the document's own id: for a chunk, its parent's id.
func logicalID(current *index.Hit) string {
	if parent, ok := current.Fields["parentDocId"].(string); ok && parent != "" {
		return parent
	}
	return current.ID
}

// contextType names the surrounding context, per source.
func contextType(current *index.Hit) string {
	fields := current.Fields
	src, _ := fields["source"].(string)
	kind, _ := fields["type"].(string)

	switch source.Source(src) {
	case source.Chat:
		if threadTs, ok := fields["threadTs"].(string); ok && threadTs != "" {
			return "thread"
		}
		return "channel"
	case source.IssueTracker:
		if kind == "comment" {
			return "issue"
		}
		return "project"
	case source.CodeHost:
		if kind == "pr-comment" || kind == "pr-review" {
			return "pull_request"
		}
		return "repository"
	case source.Mail:
		return "thread"
	case source.Wiki:
		return "space"
	case source.Drive:
		return "folder"
	case source.Calendar:
		return "calendar"
	default:
		if _, ok := fields["parentDocId"]; ok {
			return "document"
		}
		return "unknown"
	}
}

func itemPayload(hit *index.Hit) map[string]any {
	out := make(map[string]any, len(hit.Fields)+1)
	for k, v := range hit.Fields {
		out[k] = v
	}
	out["id"] = hit.ID
	return out
}

// fieldInt reads a numeric field that arrives as a JSON float64.
func fieldInt(fields map[string]any, key string) (int, bool) {
	switch v := fields[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

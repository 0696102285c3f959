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

package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/pkg/source"
)

// Settings is the persisted per-source filter selection. Fields mirror
// connector.IndexRequest; a run merges these under the request (request
// fields win, nil fields fall back here).
type Settings struct {
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

// GetSettings loads the filter selection for src. A missing or corrupt
// blob returns nil rather than an error: stale settings must never block
// a run.
func (s *Store) GetSettings(ctx context.Context, src source.Source) (*Settings, error) {
	data, err := s.client.Get(ctx, settingsKey(src)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for %s: %w", src, err)
	}

	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

// SaveSettings overwrites the filter selection for src.
func (s *Store) SaveSettings(ctx context.Context, src source.Source, st *Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, settingsKey(src), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", src, err)
	}
	return nil
}

// SetSourceEnabled toggles a source in the disabled set. Idempotent.
func (s *Store) SetSourceEnabled(ctx context.Context, src source.Source, enabled bool) error {
	var err error
	if enabled {
		err = s.client.SRem(ctx, disabledSetKey, string(src)).Err()
	} else {
		err = s.client.SAdd(ctx, disabledSetKey, string(src)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to toggle source %s: %w", src, err)
	}
	return nil
}

// DisabledSources returns the persisted disabled set.
func (s *Store) DisabledSources(ctx context.Context) (map[source.Source]bool, error) {
	members, err := s.client.SMembers(ctx, disabledSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load disabled sources: %w", err)
	}

	out := make(map[source.Source]bool, len(members))
	for _, m := range members {
		out[source.Source(m)] = true
	}
	return out, nil
}

// EnabledSources is the complement of the disabled set over all known
// sources.
func (s *Store) EnabledSources(ctx context.Context) ([]source.Source, error) {
	disabled, err := s.DisabledSources(ctx)
	if err != nil {
		return nil, err
	}

	var out []source.Source
	for _, src := range source.All() {
		if !disabled[src] {
			out = append(out, src)
		}
	}
	return out, nil
}

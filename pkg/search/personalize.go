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
	"math"
	"time"

	"github.com/recallhq/recall/pkg/source"
)

// Personalization weights: recency, ownership, engagement and the
// connector's own relevance hint multiply into the semantic score.
const (
	recencyWeight    = 0.20
	ownershipWeight  = 0.10
	engagementWeight = 0.05
	connectorWeight  = 0.10
)

// recencyHalfLives are per-source decay half-lives in days. Fast-moving
// sources decay quickly, reference material slowly.
var recencyHalfLives = map[source.Source]float64{
	source.Chat:         7,
	source.Mail:         14,
	source.Calendar:     14,
	source.IssueTracker: 30,
	source.CodeHost:     60,
	source.Wiki:         90,
	source.Drive:        90,
}

const defaultHalfLife = 30

// personalize applies the weighted multiplier in place.
func personalize(results []Result) {
	now := time.Now()
	for i := range results {
		r := &results[i]
		multiplier := 1 +
			recencyWeight*recencyScore(r, now) +
			ownershipWeight*ownershipScore(r.Fields) +
			engagementWeight*engagementScore(source.Source(r.Source), r.Fields) +
			connectorWeight*fieldFloat(r.Fields, "relevance_score")
		r.Score *= multiplier
	}
}

// recencyScore decays by half per source half-life since the item's
// freshest timestamp. No parseable date scores zero.
func recencyScore(r *Result, now time.Time) float64 {
	var ts time.Time
	for _, key := range []string{"updatedAt", "date", "modifiedAt", "timestamp"} {
		if raw, ok := r.Fields[key].(string); ok {
			if t, err := parseTime(raw); err == nil {
				ts = t
				break
			}
		}
	}
	if ts.IsZero() {
		return 0
	}

	halfLife := recencyHalfLives[source.Source(r.Source)]
	if halfLife == 0 {
		halfLife = defaultHalfLife
	}
	days := now.Sub(ts).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/halfLife)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ownershipScore: full weight for owning, organizing or authoring;
// partial for mere assignment.
func ownershipScore(fields map[string]any) float64 {
	if fieldBool(fields, "is_owner") || fieldBool(fields, "is_organizer") || fieldBool(fields, "is_author") {
		return 1.0
	}
	if fieldBool(fields, "is_assigned_to_me") {
		return 0.8
	}
	return 0
}

// engagementScore maps source-specific activity signals into [0,1].
func engagementScore(src source.Source, fields map[string]any) float64 {
	switch src {
	case source.Chat:
		score := 0.10*fieldFloat(fields, "reactionCount") + 0.15*fieldFloat(fields, "mention_count")
		if threadTs, ok := fields["threadTs"].(string); ok && threadTs != "" {
			score += 0.20
		}
		return math.Min(1, score)
	case source.IssueTracker:
		return math.Min(1, fieldFloat(fields, "priority_weight")/5)
	case source.Mail:
		depth := fieldFloat(fields, "thread_depth")
		switch {
		case depth > 3:
			return 0.6
		case depth > 1:
			return 0.3
		default:
			return 0
		}
	case source.Wiki:
		return math.Min(1, 0.15*fieldFloat(fields, "label_count"))
	case source.CodeHost:
		return math.Min(1, 0.10*fieldFloat(fields, "reactionCount")+0.10*fieldFloat(fields, "label_count"))
	default:
		return 0
	}
}

func fieldBool(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func fieldFloat(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

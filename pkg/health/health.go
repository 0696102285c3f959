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

// Package health probes connector reachability and core dependency
// status. Probes never fail the caller; every outcome lands in the
// report.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/source"
)

const probeTimeout = 10 * time.Second

// SourceHealth is one connector's probe outcome.
type SourceHealth struct {
	Source        source.Source `json:"source"`
	Configured    bool          `json:"configured"`
	Connected     bool          `json:"connected"`
	Authenticated bool          `json:"authenticated"`
	LatencyMs     int64         `json:"latencyMs"`
	Error         string        `json:"error,omitempty"`
	CheckedAt     string        `json:"checkedAt"`
}

// Dependencies reports the core backing services.
type Dependencies struct {
	KV    string `json:"kv"`
	Index string `json:"index"`
}

// Checker runs health probes.
type Checker struct {
	registry *connector.Registry
	store    *kv.Store
	idx      *index.Store
}

// New builds a Checker.
func New(registry *connector.Registry, store *kv.Store, idx *index.Store) *Checker {
	return &Checker{registry: registry, store: store, idx: idx}
}

// CheckSource probes one connector. Unconfigured connectors short-
// circuit; probe errors are reported, never returned.
func (c *Checker) CheckSource(ctx context.Context, src source.Source) SourceHealth {
	result := SourceHealth{
		Source:    src,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}

	conn, ok := c.registry.Get(src)
	if !ok {
		result.Error = "no connector registered"
		return result
	}

	result.Configured = conn.IsConfigured()
	if !result.Configured {
		return result
	}

	probe, ok := conn.(connector.HealthChecker)
	if !ok {
		// No probe hook: configured is the best we can say.
		result.Connected = true
		result.Authenticated = true
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe.CheckHealth(probeCtx)
	result.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Connected = true
	result.Authenticated = true
	return result
}

// CheckAllSources probes every registered connector in parallel.
func (c *Checker) CheckAllSources(ctx context.Context) []SourceHealth {
	sources := c.registry.Sources()
	results := make([]SourceHealth, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = c.CheckSource(ctx, src)
			return nil
		})
	}
	g.Wait()
	return results
}

// CheckDependencies pings the KV store and the search backend.
func (c *Checker) CheckDependencies(ctx context.Context) Dependencies {
	deps := Dependencies{KV: "ok", Index: "ok"}
	if err := c.store.Ping(ctx); err != nil {
		deps.KV = "unavailable"
	}
	if err := c.idx.Ping(ctx); err != nil {
		deps.Index = "unavailable"
	}
	return deps
}

// Healthy reports whether both core dependencies are up.
func (d Dependencies) Healthy() bool {
	return d.KV == "ok" && d.Index == "ok"
}

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

package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/recallhq/recall/pkg/source"
)

// Registry is a static map of connectors keyed by source tag.
// Constructor-injected; no reflection.
type Registry struct {
	mu         sync.RWMutex
	connectors map[source.Source]Connector
}

// NewRegistry creates a registry holding the given connectors.
// Duplicate source tags are rejected.
func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[source.Source]Connector, len(connectors))}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. The source tag must be valid and unused.
func (r *Registry) Register(c Connector) error {
	name := c.SourceName()
	if !name.IsValid() {
		return fmt.Errorf("unknown source tag %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("connector already registered for source %q", name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector for src, if registered.
func (r *Registry) Get(src source.Source) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[src]
	return c, ok
}

// Sources lists registered source tags in stable order.
func (r *Registry) Sources() []source.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]source.Source, 0, len(r.connectors))
	for src := range r.connectors {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

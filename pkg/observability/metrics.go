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

// Package observability exposes Prometheus metrics for the service.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IndexRuns counts run outcomes per source.
	IndexRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_index_runs_total",
		Help: "Indexing runs by source and outcome.",
	}, []string{"source", "status"})

	// DocumentsIndexed counts stored index rows per source.
	DocumentsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_documents_indexed_total",
		Help: "Index rows written, by source.",
	}, []string{"source"})

	// SearchRequests counts search calls by retrieval type.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_search_requests_total",
		Help: "Search requests by type.",
	}, []string{"type"})

	// SearchDuration observes end-to-end search latency.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recall_search_duration_seconds",
		Help:    "End-to-end search pipeline latency.",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequests counts handled requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/engine"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/observability"
	"github.com/recallhq/recall/pkg/search"
	"github.com/recallhq/recall/pkg/source"
)

func (s *Server) sourceParam(r *http.Request) (source.Source, bool) {
	src, ok := source.Canonical(chi.URLParam(r, "source"))
	return src, ok
}

func (s *Server) handleIndexSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}

	var req connector.IndexRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	err := s.engine.StartIndexing(r.Context(), src, req)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondJSON(w, http.StatusConflict, map[string]any{
			"source": src, "status": "already_running",
		})
	case errors.Is(err, engine.ErrNotConfigured):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		observability.IndexRuns.WithLabelValues(src.String(), "started").Inc()
		respondJSON(w, http.StatusAccepted, map[string]any{
			"source": src, "status": "started",
		})
	}
}

func (s *Server) handleIndexAll(w http.ResponseWriter, r *http.Request) {
	var req connector.IndexRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	started, err := s.engine.IndexAll(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, src := range started {
		observability.IndexRuns.WithLabelValues(src.String(), "started").Inc()
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"started": started, "status": "started",
	})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.GetAllJobStatus(r.Context(), source.All())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}
	status, err := s.store.GetJobStatus(r.Context(), src)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status == nil {
		status = &kv.JobStatus{Source: src, Status: kv.RunIdle}
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleIndexReset(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}
	if err := s.engine.Reset(r.Context(), src); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"source": src, "status": "reset"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := search.Request{
		Query:     q.Get("q"),
		Type:      index.SearchType(q.Get("type")),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}
	if req.Query == "" {
		req.Query = q.Get("query")
	}
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	if raw := q.Get("sources"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if src, ok := source.Canonical(tag); ok {
				req.Sources = append(req.Sources, src)
			}
		}
	}
	for key, values := range q {
		if strings.HasPrefix(key, "where.") && len(values) > 0 {
			if req.Where == nil {
				req.Where = map[string]any{}
			}
			req.Where[strings.TrimPrefix(key, "where.")] = values[0]
		}
	}

	searchType := req.Type
	if searchType == "" {
		searchType = index.SearchHybrid
	}
	observability.SearchRequests.WithLabelValues(string(searchType)).Inc()

	start := time.Now()
	resp, err := s.search.Search(r.Context(), req)
	observability.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req search.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	resp, err := s.search.Navigate(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyticsRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.recorder.History(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) handleAnalyticsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recorder.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleAnalyticsDaily(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	counts, err := s.recorder.DailyCounts(r.Context(), day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"day": day, "counts": counts})
}

func (s *Server) handleConnectorHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sources": s.checker.CheckAllSources(r.Context()),
	})
}

func (s *Server) handleConnectorHealthSource(w http.ResponseWriter, r *http.Request) {
	src, ok := source.Canonical(chi.URLParam(r, "source"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}
	respondJSON(w, http.StatusOK, s.checker.CheckSource(r.Context(), src))
}

func (s *Server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings := make(map[string]*kv.Settings)
	for _, src := range source.All() {
		stored, err := s.store.GetSettings(ctx, src)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if stored != nil {
			settings[src.String()] = stored
		}
	}

	disabled, err := s.store.DisabledSources(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	disabledList := make([]source.Source, 0, len(disabled))
	for src := range disabled {
		disabledList = append(disabledList, src)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"settings": settings,
		"disabled": disabledList,
	})
}

func (s *Server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}

	var settings kv.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveSettings(r.Context(), src, &settings); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"source": src, "status": "saved"})
}

func (s *Server) handleConfigEnable(w http.ResponseWriter, r *http.Request) {
	src, ok := s.sourceParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source")
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SetSourceEnabled(r.Context(), src, body.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"source": src, "enabled": body.Enabled})
}

// Workflow handles map one-to-one onto per-source runs: the run's
// source tag is its workflow id.
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.GetAllJobStatus(r.Context(), source.All())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	workflows := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		workflows = append(workflows, map[string]any{
			"id":     "index-" + status.Source.String(),
			"source": status.Source,
			"status": status.Status,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, ok := source.Canonical(strings.TrimPrefix(id, "index-"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown workflow")
		return
	}

	status, err := s.store.GetJobStatus(r.Context(), src)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status == nil {
		status = &kv.JobStatus{Source: src, Status: kv.RunIdle}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"source": src,
		"status": status,
	})
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bireport/internal/clustering"
	"bireport/internal/core"
	"bireport/internal/pipeline"

	"github.com/go-chi/chi/v5"
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string         `json:"status"`
	Phase  pipeline.Phase `json:"phase"`
	Uptime string         `json:"uptime"`
	Time   time.Time      `json:"time"`
}

// TriggerRequest is the optional body of POST /trigger. Zero values keep
// the configured defaults.
type TriggerRequest struct {
	Sources      []core.SourceRef `json:"sources"`
	MaxTopics    int              `json:"max_topics"`
	MinTopicSize int              `json:"min_topic_size"`
	Strategy     string           `json:"strategy"`
	Deliver      *bool            `json:"deliver"`
}

// TriggerResponse is returned when a run starts
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TopicResponse is a topic without its centroid
type TopicResponse struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	Keywords  []string           `json:"keywords"`
	Size      int                `json:"size"`
	MemberIDs []string           `json:"member_ids"`
	Summary   string             `json:"summary"`
	Documents []DocumentResponse `json:"documents,omitempty"`
}

// DocumentResponse describes a topic member
type DocumentResponse struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	SourceType core.SourceType `json:"source_type"`
	OriginURI  string          `json:"origin_uri"`
}

// ReportResponse is the last completed result
type ReportResponse struct {
	RunID             string               `json:"run_id"`
	Title             string               `json:"title"`
	StartedAt         time.Time            `json:"started_at"`
	FinishedAt        time.Time            `json:"finished_at"`
	ExecutiveSummary  string               `json:"executive_summary"`
	DocumentCount     int                  `json:"document_count"`
	FailedDocumentIDs []string             `json:"failed_document_ids"`
	UnclusteredIDs    []string             `json:"unclustered_ids"`
	Topics            []TopicResponse      `json:"topics"`
	Stats             core.ProcessingStats `json:"stats"`
	Delivery          core.DeliveryOutcome `json:"delivery"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Phase:  s.deps.Runner.Status().Phase,
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
		Time:   time.Now().UTC(),
	})
}

// handleTrigger handles POST /trigger
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	opts := s.deps.Options
	if req.MaxTopics > 0 {
		opts.MaxTopics = req.MaxTopics
	}
	if req.MinTopicSize > 0 {
		opts.MinTopicSize = req.MinTopicSize
	}
	if req.Strategy != "" {
		strategy, err := clustering.ParseStrategy(req.Strategy)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		opts.Strategy = strategy
	}
	if req.Deliver != nil {
		opts.Deliver = *req.Deliver
	}

	sel := core.SourceSelector{Sources: req.Sources}
	if len(sel.Sources) == 0 {
		sel = s.deps.Selector()
	}
	if s.deps.Sources != nil {
		if err := s.deps.Sources.Validate(sel); err != nil {
			s.respondError(w, http.StatusBadRequest, core.Kind(err), err.Error())
			return
		}
	}

	runID, err := s.deps.Runner.Start(r.Context(), sel, opts)
	if err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			s.respondError(w, http.StatusConflict, core.Kind(err), "a pipeline run is already in progress")
			return
		}
		s.respondError(w, http.StatusInternalServerError, core.Kind(err), err.Error())
		return
	}

	s.log.Info().Str("run_id", runID).Int("sources", len(sel.Sources)).Msg("pipeline triggered")
	s.respondJSON(w, http.StatusAccepted, TriggerResponse{
		RunID:   runID,
		Status:  "started",
		Message: "Pipeline started",
	})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Runner.Status())
}

// handleCancel handles POST /cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.deps.Runner.Cancel()
	s.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleReset handles POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.Reset(); err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			s.respondError(w, http.StatusConflict, core.Kind(err), "cannot reset while a run is in progress")
			return
		}
		s.respondError(w, http.StatusInternalServerError, core.Kind(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Runner.Status())
}

// handleTopics handles GET /topics
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	result := s.deps.Runner.LastResult()
	if result == nil {
		s.respondError(w, http.StatusNotFound, "not_found", "no completed run")
		return
	}
	topics := make([]TopicResponse, 0, len(result.Topics))
	for _, t := range result.Topics {
		topics = append(topics, topicResponse(t, nil))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"run_id": result.RunID,
		"topics": topics,
	})
}

// handleTopic handles GET /topics/{id}
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	result := s.deps.Runner.LastResult()
	if result == nil {
		s.respondError(w, http.StatusNotFound, "not_found", "no completed run")
		return
	}
	id := chi.URLParam(r, "id")
	for _, t := range result.Topics {
		if t.ID == id {
			s.respondJSON(w, http.StatusOK, topicResponse(t, result))
			return
		}
	}
	s.respondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("topic %s not found", id))
}

// handleReport handles GET /report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	result := s.deps.Runner.LastResult()
	if result == nil {
		s.respondError(w, http.StatusNotFound, "not_found", "no completed run")
		return
	}
	resp := ReportResponse{
		RunID:             result.RunID,
		Title:             result.Title,
		StartedAt:         result.StartedAt,
		FinishedAt:        result.FinishedAt,
		ExecutiveSummary:  result.ExecutiveSummary,
		DocumentCount:     result.DocumentCount,
		FailedDocumentIDs: result.FailedDocumentIDs,
		UnclusteredIDs:    result.UnclusteredIDs,
		Topics:            make([]TopicResponse, 0, len(result.Topics)),
		Stats:             result.Stats,
		Delivery:          result.Delivery,
	}
	for _, t := range result.Topics {
		resp.Topics = append(resp.Topics, topicResponse(t, nil))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleReportDownload handles GET /report/download
func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		s.respondError(w, http.StatusNotFound, "not_found", "report delivery is disabled")
		return
	}
	report, ok := s.deps.Reports.Latest()
	if !ok {
		s.respondError(w, http.StatusNotFound, "not_found", "no report has been rendered")
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Name))
	w.Header().Set("X-Report-ID", report.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Body)
}

// handleListReports handles GET /reports
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"reports": []any{}})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.respondError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	reports, err := s.deps.History.ListReports(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list reports")
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to list reports")
		return
	}
	if reports == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"reports": []any{}})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// handleCacheStats handles GET /cache
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Runner.CacheStats())
}

// handleClearCache handles POST /clear-cache
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.ClearCache(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to clear cache")
		s.respondError(w, http.StatusInternalServerError, core.Kind(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "cleared",
		"cache":  s.deps.Runner.CacheStats(),
	})
}

// handleConfig handles GET /config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Config.Public())
}

func topicResponse(t core.Topic, result *core.PipelineResult) TopicResponse {
	resp := TopicResponse{
		ID:        t.ID,
		Label:     t.Label,
		Keywords:  t.Keywords,
		Size:      t.Size(),
		MemberIDs: t.MemberIDs,
		Summary:   t.Summary,
	}
	if result == nil {
		return resp
	}
	for _, id := range t.MemberIDs {
		doc, ok := result.DocumentByID(id)
		if !ok {
			continue
		}
		resp.Documents = append(resp.Documents, DocumentResponse{
			ID:         doc.ID,
			Title:      doc.Metadata.Title,
			SourceType: doc.Metadata.SourceType,
			OriginURI:  doc.Metadata.OriginURI,
		})
	}
	return resp
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

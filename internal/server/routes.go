package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// registerRoutes wires every REST path onto mux. Handlers stay thin:
// validate, call into the engine or a store, serialize.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/scraping/jobs", s.handleJobsCollection)
	mux.HandleFunc("/api/scraping/jobs/", s.handleJobItem)

	mux.HandleFunc("/api/scraping/sources", s.handleSourcesCollection)
	mux.HandleFunc("/api/scraping/sources/", s.handleSourceItem)

	mux.HandleFunc("/api/scraping/queue-status", s.handleQueueStatus)
	mux.HandleFunc("/api/scraping/system-status", s.handleSystemStatus)
	mux.HandleFunc("/api/scraping/health", s.handleHealth)

	mux.HandleFunc("/api/scraping/analytics/sources", s.handleAnalyticsSources)
	mux.HandleFunc("/api/scraping/analytics/jobs", s.handleAnalyticsJobs)
	mux.HandleFunc("/api/scraping/analytics/performance", s.handleAnalyticsPerformance)
	mux.HandleFunc("/api/scraping/analytics/quality", s.handleAnalyticsQuality)
	mux.HandleFunc("/api/scraping/analytics/system-health", s.handleHealth)
	mux.HandleFunc("/api/scraping/analytics/trends", s.handleAnalyticsTrends)
	mux.HandleFunc("/api/scraping/analytics/trends/chart.png", s.handleAnalyticsTrendsChart)
	mux.HandleFunc("/api/scraping/analytics/reports", s.handleAnalyticsReports)
	mux.HandleFunc("/api/scraping/analytics/monitoring/real-time", s.handleAnalyticsRealTime)

	mux.HandleFunc("/api/monitoring/stream", s.handleMonitoringStream)

	mux.HandleFunc("/api/auth/login", s.handleLogin)

	mux.HandleFunc("/api/health", s.handleLivenessProbe)
	mux.HandleFunc("/api/version", s.handleVersion)
}

// requestID sources the stable request_id every response carries from
// the correlation-ID middleware.
func requestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Correlation-ID")
}

// createJobRequest is the POST /scraping/jobs body.
type createJobRequest struct {
	JobName            string   `json:"job_name"`
	SourceNames        []string `json:"source_names"`
	MaxQuestionsPerSrc int      `json:"max_questions_per_source"`
	TargetCategories   []string `json:"target_categories"`
	PriorityLevel      string   `json:"priority_level"`
}

func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.JobName == "" || len(req.SourceNames) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, common.KindValidation, "job_name and source_names are required", nil)
		return
	}
	priority := models.Priority(req.PriorityLevel)
	if priority == "" {
		priority = models.PriorityMedium
	}
	maxPerSource := req.MaxQuestionsPerSrc
	if maxPerSource <= 0 {
		maxPerSource = s.app.Config.Scraping.DefaultMaxPerSource
	}

	spec := models.JobSpec{
		JobName:            req.JobName,
		SourceIDs:          req.SourceNames, // source lookup is case-insensitive end to end
		MaxQuestionsPerSrc: maxPerSource,
		TargetCategories:   req.TargetCategories,
		Priority:           priority,
		Retry:              models.DefaultRetryPolicy(),
	}
	run, err := s.app.Engine.CreateJob(r.Context(), spec)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, jobResponse(run, requestID(w)))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	runs, err := s.app.Storage.JobStore().ListRuns(r.Context(), limit)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, jobResponse(run, requestID(w)))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": out, "request_id": requestID(w)})
}

func (s *Server) handleJobItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scraping/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	jobID := parts[0]
	if jobID == "" {
		WriteProblem(w, r, http.StatusNotFound, common.KindValidation, "job id required", nil)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "start":
			s.transitionJob(w, r, jobID, http.MethodPut, s.app.Engine.StartRun)
			return
		case "stop":
			s.transitionJob(w, r, jobID, http.MethodPut, s.app.Engine.CancelRun)
			return
		case "pause":
			s.transitionJob(w, r, jobID, http.MethodPut, s.app.Engine.PauseRun)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, r, jobID)
	case http.MethodDelete:
		s.deleteJob(w, r, jobID)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) transitionJob(w http.ResponseWriter, r *http.Request, jobID, method string, transition func(context.Context, string) error) {
	if !RequireMethod(w, r, method) {
		return
	}
	if err := transition(r.Context(), jobID); err != nil {
		if cerr, ok := err.(*common.Error); ok && cerr.Kind == common.KindValidation {
			WriteProblem(w, r, http.StatusConflict, common.KindValidation, cerr.Message, nil)
			return
		}
		WriteEngineError(w, r, err)
		return
	}
	run, err := s.app.Engine.GetRun(r.Context(), jobID)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse(run, requestID(w)))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	run, err := s.app.Engine.GetRun(r.Context(), jobID)
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, common.KindValidation, "job not found", nil)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse(run, requestID(w)))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	run, err := s.app.Engine.GetRun(r.Context(), jobID)
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, common.KindValidation, "job not found", nil)
		return
	}
	if run.State != models.JobPaused && !run.State.IsTerminal() {
		WriteProblem(w, r, http.StatusConflict, common.KindValidation, "job must be paused or terminal to delete", nil)
		return
	}
	if err := s.app.Storage.JobStore().SoftDeleteRun(r.Context(), jobID); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jobResponse(run *models.JobRun, reqID string) map[string]any {
	return map[string]any{
		"job_id":     run.RunID,
		"job_run":    run,
		"request_id": reqID,
	}
}

func (s *Server) handleSourcesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sources, err := s.app.Storage.SourceStore().List(r.Context())
		if err != nil {
			WriteEngineError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"sources": sourceListResponse(sources), "request_id": requestID(w)})
	case http.MethodPost:
		s.upsertSource(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleSourceItem(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimPrefix(r.URL.Path, "/api/scraping/sources/")
	sourceID = strings.Trim(sourceID, "/")
	if sourceID == "" {
		WriteProblem(w, r, http.StatusNotFound, common.KindValidation, "source id required", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.app.Storage.SourceStore().FindByID(r.Context(), sourceID)
		if err != nil {
			WriteProblem(w, r, http.StatusNotFound, common.KindValidation, "source not found", nil)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"source": sourceResponse(cfg), "request_id": requestID(w)})
	case http.MethodPut, http.MethodPatch:
		s.upsertSource(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodPatch)
	}
}

func (s *Server) upsertSource(w http.ResponseWriter, r *http.Request) {
	var cfg models.SourceConfig
	if !DecodeJSON(w, r, &cfg) {
		return
	}
	if cfg.SourceID == "" {
		WriteProblem(w, r, http.StatusBadRequest, common.KindValidation, "source_id is required", nil)
		return
	}
	now := time.Now()
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.Version++
	if err := s.app.Storage.SourceStore().Upsert(r.Context(), &cfg); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"source": sourceResponse(&cfg), "request_id": requestID(w)})
}

func sourceResponse(cfg *models.SourceConfig) models.SourceConfig {
	return *cfg
}

func sourceListResponse(sources []*models.SourceConfig) []models.SourceConfig {
	out := make([]models.SourceConfig, 0, len(sources))
	for _, cfg := range sources {
		out = append(out, sourceResponse(cfg))
	}
	return out
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	queued, err := s.app.Storage.JobStore().ListRunsByState(r.Context(), models.JobQueued)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	running, err := s.app.Storage.JobStore().ListRunsByState(r.Context(), models.JobRunning)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	paused, err := s.app.Storage.JobStore().ListRunsByState(r.Context(), models.JobPaused)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"queued":     len(queued),
		"active":     len(running),
		"paused":     len(paused),
		"request_id": requestID(w),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report := s.app.Health.Build(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{"health": report, "request_id": requestID(w)})
}

func (s *Server) handleLivenessProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (s *Server) handleAnalyticsSources(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	sources, err := s.app.Storage.SourceStore().List(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	type row struct {
		SourceID    string  `json:"source_id"`
		DisplayName string  `json:"display_name"`
		Reliability float64 `json:"reliability_score"`
		Enabled     bool    `json:"enabled"`
	}
	rows := make([]row, 0, len(sources))
	for _, cfg := range sources {
		rows = append(rows, row{SourceID: cfg.SourceID, DisplayName: cfg.DisplayName, Reliability: cfg.ReliabilityScore, Enabled: cfg.Enabled})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sources": rows, "request_id": requestID(w)})
}

func (s *Server) handleAnalyticsJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	runs, err := s.app.Storage.JobStore().ListRuns(r.Context(), parseLimit(r, 100))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	byState := map[models.JobState]int{}
	for _, run := range runs {
		byState[run.State]++
	}
	WriteJSON(w, http.StatusOK, map[string]any{"total": len(runs), "by_state": byState, "request_id": requestID(w)})
}

func (s *Server) handleAnalyticsPerformance(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	since := time.Now().Add(-1 * time.Hour)
	extractLatency := s.app.Registry.History("page_extract_latency", since)
	aiLatency := s.app.Registry.History("ai_batch_latency", since)
	WriteJSON(w, http.StatusOK, map[string]any{
		"page_extract_latency": extractLatency,
		"ai_batch_latency":     aiLatency,
		"error_rate":           s.app.Registry.Rate("driver_errors_total", time.Hour),
		"request_id":           requestID(w),
	})
}

func (s *Server) handleAnalyticsQuality(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	opts := interfaces.QuestionRangeOptions{PublicOnly: true, Limit: parseLimit(r, 200)}
	if src := r.URL.Query().Get("source_id"); src != "" {
		opts.SourceID = src
	}
	questions, err := s.app.Storage.QuestionStore().RangeProcessed(r.Context(), opts)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	var sum float64
	for _, q := range questions {
		sum += q.OverallScore
	}
	avg := 0.0
	if len(questions) > 0 {
		avg = sum / float64(len(questions))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sample_size":           len(questions),
		"average_quality":       avg,
		"cross_source_clusters": mustCrossSourceCount(r, s),
		"request_id":            requestID(w),
	})
}

func mustCrossSourceCount(r *http.Request, s *Server) int {
	count, err := s.app.Storage.DuplicateStore().CrossSourceCount(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		return 0
	}
	return count
}

// trendsRequest is the analytics/trends body: dimension + window.
type trendsRequest struct {
	Dimension string `json:"dimension"`
	Window    string `json:"window"`
}

func (s *Server) handleAnalyticsTrends(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	dimension := r.URL.Query().Get("dimension")
	window := r.URL.Query().Get("window")
	if r.Method == http.MethodPost {
		var req trendsRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		dimension = req.Dimension
		window = req.Window
	}
	if dimension == "" {
		dimension = "quality"
	}
	dur, err := time.ParseDuration(window)
	if err != nil {
		dur = time.Hour
	}
	metricName := trendMetricName(dimension)
	points := s.app.Registry.History(metricName, time.Now().Add(-dur))
	WriteJSON(w, http.StatusOK, map[string]any{
		"dimension":  dimension,
		"window":     window,
		"points":     points,
		"request_id": requestID(w),
	})
}

func trendMetricName(dimension string) string {
	switch dimension {
	case "performance":
		return "page_extract_latency"
	case "volume":
		return "questions_approved_total"
	case "errors":
		return "driver_errors_total"
	default:
		return "questions_approved_total"
	}
}

func (s *Server) handleAnalyticsReports(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	health := s.app.Health.Build(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"generated_at": health.GeneratedAt,
		"summary":      health,
		"request_id":   requestID(w),
	})
}

func (s *Server) handleAnalyticsRealTime(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	snapshot := s.app.Registry.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]any{
		"metrics":       snapshot,
		"firing_alerts": s.app.Alerts.FiringCount(),
		"request_id":    requestID(w),
	})
}

func (s *Server) handleMonitoringStream(w http.ResponseWriter, r *http.Request) {
	s.app.Hub.ServeWS(w, r)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

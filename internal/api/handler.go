package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
)

// JobService is the API's view of the jobs service.
type JobService interface {
	Create(ctx context.Context, p jobs.CreateParams, actor domain.Actor) (domain.ScheduledJob, error)
	Get(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	List(ctx context.Context, filter jobs.ListFilter) ([]domain.ScheduledJob, jobs.Pagination, error)
	Update(ctx context.Context, id uuid.UUID, p jobs.UpdateParams, actor domain.Actor) (domain.ScheduledJob, error)
	Pause(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error)
	Resume(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error)
	Cancel(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkCustomerSent(ctx context.Context, jobID, customerID uuid.UUID, outcome domain.SendStatus, actor domain.Actor) (domain.ScheduledJob, error)
	MarkCustomerFailed(ctx context.Context, jobID, customerID uuid.UUID, errorMessage string, actor domain.Actor) (domain.ScheduledJob, error)
	Dashboard(ctx context.Context) (jobs.Dashboard, error)
}

// ExecuteTrigger hands manual execution requests to the execution
// engine.
type ExecuteTrigger interface {
	Emit(ctx context.Context, req domain.ExecuteRequest) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	svc     JobService
	trigger ExecuteTrigger
	db      HealthChecker
}

func NewHandler(svc JobService, trigger ExecuteTrigger) *Handler {
	return &Handler{svc: svc, trigger: trigger}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/dashboard" && r.Method == http.MethodGet:
		h.dashboard(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasPrefix(path, "/jobs/"):
		h.routeJob(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// routeJob dispatches /jobs/{id}... paths.
func (h *Handler) routeJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts[0] == "jobs"

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		h.getJob(w, r, jobID)
	case len(parts) == 2 && r.Method == http.MethodPatch:
		h.updateJob(w, r, jobID)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		h.deleteJob(w, r, jobID)
	case len(parts) == 3 && r.Method == http.MethodPost:
		switch parts[2] {
		case "pause":
			h.pauseJob(w, r, jobID)
		case "resume":
			h.resumeJob(w, r, jobID)
		case "cancel":
			h.cancelJob(w, r, jobID)
		case "execute":
			h.executeJob(w, r, jobID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	case len(parts) == 5 && parts[2] == "customers" && r.Method == http.MethodPost:
		customerID, err := uuid.Parse(parts[3])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid customer id")
			return
		}
		switch parts[4] {
		case "sent":
			h.markCustomerSent(w, r, jobID, customerID)
		case "failed":
			h.markCustomerFailed(w, r, jobID, customerID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		// Simple health check - just return ok
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	// Verbose health check - check all components
	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	// Check database connectivity with timeout
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// decodeOptionalBody tolerates an empty body for action endpoints.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid json")
	return false
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	customerIDs, err := parseCustomerIDs(req.CustomerIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, err := parseSchedule(req.Schedule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.Create(r.Context(), jobs.CreateParams{
		Type:        domain.JobType(req.Type),
		Schedule:    schedule,
		CustomerIDs: customerIDs,
		Config: domain.JobConfig{
			ReportTypes:   req.ReportTypes,
			ProjectIDs:    req.ProjectIDs,
			EmailTemplate: req.EmailTemplate,
			CustomSubject: req.CustomSubject,
			AttachReports: req.AttachReports,
		},
	}, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "create job")
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job, time.Now()))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, page, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "list jobs")
		return
	}

	now := time.Now()
	resp := ListJobsResponse{
		Jobs:       make([]JobResponse, len(items)),
		Page:       page.Page,
		TotalPages: page.TotalPages,
		TotalItems: page.TotalItems,
	}
	for i, job := range items {
		resp.Jobs[i] = toJobResponse(job, now)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) updateJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	params := jobs.UpdateParams{IsActive: req.IsActive}

	if req.Schedule != nil {
		schedule, err := parseSchedule(*req.Schedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Schedule = &schedule
	}

	// Config fields are merged over the current config so a PATCH only
	// touches what it names.
	if req.ReportTypes != nil || req.ProjectIDs != nil || req.EmailTemplate != nil ||
		req.CustomSubject != nil || req.AttachReports != nil {
		current, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err, "update job")
			return
		}
		cfg := current.Config
		if req.ReportTypes != nil {
			cfg.ReportTypes = req.ReportTypes
		}
		if req.ProjectIDs != nil {
			cfg.ProjectIDs = req.ProjectIDs
		}
		if req.EmailTemplate != nil {
			cfg.EmailTemplate = *req.EmailTemplate
		}
		if req.CustomSubject != nil {
			cfg.CustomSubject = *req.CustomSubject
		}
		if req.AttachReports != nil {
			cfg.AttachReports = *req.AttachReports
		}
		params.Config = &cfg
	}

	job, err := h.svc.Update(r.Context(), id, params, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "update job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req ActionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	job, err := h.svc.Pause(r.Context(), id, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "pause job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req ActionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	job, err := h.svc.Resume(r.Context(), id, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "resume job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req ActionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	job, err := h.svc.Cancel(r.Context(), id, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "cancel job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

// executeJob enqueues a manual run. The claim itself happens in the
// executor, so a 202 here only means the request was accepted.
func (h *Handler) executeJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req ExecuteJobRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	job, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "execute job")
		return
	}
	if job.Status.InFlight() {
		writeError(w, http.StatusConflict, "execution already in progress")
		return
	}

	if err := h.trigger.Emit(r.Context(), domain.ExecuteRequest{
		JobID:       id,
		RequestedBy: parseActor(req.Actor),
		RequestedAt: time.Now().UTC(),
		Force:       req.Force,
	}); err != nil {
		log.Printf("api: execute job %s emit error: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "execution queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job, time.Now()))
}

func (h *Handler) markCustomerSent(w http.ResponseWriter, r *http.Request, jobID, customerID uuid.UUID) {
	var req MarkSentRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	outcome := domain.SendStatusSent
	if req.Skipped {
		outcome = domain.SendStatusSkipped
	}
	job, err := h.svc.MarkCustomerSent(r.Context(), jobID, customerID, outcome, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "mark customer sent")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) markCustomerFailed(w http.ResponseWriter, r *http.Request, jobID, customerID uuid.UUID) {
	var req MarkFailedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Error == "" {
		writeError(w, http.StatusBadRequest, "error is required")
		return
	}
	job, err := h.svc.MarkCustomerFailed(r.Context(), jobID, customerID, req.Error, parseActor(req.Actor))
	if err != nil {
		writeServiceError(w, err, "mark customer failed")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, time.Now()))
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.svc.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err, "dashboard")
		return
	}

	now := time.Now()
	resp := DashboardResponse{
		CountsByStatus:    make(map[string]int, len(dash.CountsByStatus)),
		CountsByType:      make(map[string]int, len(dash.CountsByType)),
		Upcoming:          make([]JobResponse, len(dash.Upcoming)),
		RecentlyCompleted: make([]JobResponse, len(dash.RecentlyCompleted)),
		RecentlyFailed:    make([]JobResponse, len(dash.RecentlyFailed)),
	}
	for status, n := range dash.CountsByStatus {
		resp.CountsByStatus[string(status)] = n
	}
	for jobType, n := range dash.CountsByType {
		resp.CountsByType[string(jobType)] = n
	}
	for i, job := range dash.Upcoming {
		resp.Upcoming[i] = toJobResponse(job, now)
	}
	for i, job := range dash.RecentlyCompleted {
		resp.RecentlyCompleted[i] = toJobResponse(job, now)
	}
	for i, job := range dash.RecentlyFailed {
		resp.RecentlyFailed[i] = toJobResponse(job, now)
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case jobs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer not found on job")
	case errors.Is(err, jobs.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseListFilter extracts and validates list query parameters.
func parseListFilter(r *http.Request) (jobs.ListFilter, error) {
	var filter jobs.ListFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status := domain.JobStatus(s)
		filter.Status = &status
	}
	if s := q.Get("type"); s != "" {
		jobType := domain.JobType(s)
		filter.Type = &jobType
	}
	if s := q.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			return jobs.ListFilter{}, errors.New("active must be true or false")
		}
		filter.Active = &active
	}
	if s := q.Get("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			return jobs.ListFilter{}, errors.New("page must be a positive integer")
		}
		filter.Page = page
	}
	if s := q.Get("page_size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil || size < 1 {
			return jobs.ListFilter{}, errors.New("page_size must be a positive integer")
		}
		if size > jobs.MaxPageSize {
			return jobs.ListFilter{}, errors.New("page_size exceeds maximum of " + strconv.Itoa(jobs.MaxPageSize))
		}
		filter.PageSize = size
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

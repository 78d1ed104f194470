package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/vidyodl/internal/domain"
)

// DownloadService is the subset of *service.DownloadService used by the API.
type DownloadService interface {
	Submit(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobID, error)
	RunSync(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobResult, error)
	SubmitPlaylist(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobID, error)
	RunPlaylistSync(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobResult, error)
	Status(ctx context.Context, id domain.JobID) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]*domain.Job, error)
	Cancel(ctx context.Context, id domain.JobID) error
}

// DownloadHandler handles download submissions and job queries.
type DownloadHandler struct {
	svc    DownloadService
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		svc:    svc,
		logger: logger,
	}
}

// Envelope wraps every submission response.
type Envelope struct {
	Response domain.JobResult   `json:"response"`
	Jobs     []string           `json:"jobs,omitempty"`
	Results  []domain.JobResult `json:"results,omitempty"`
}

func okEnvelope(info string) Envelope {
	return Envelope{Response: domain.JobResult{Status: domain.ResultStatusOK, Info: info}}
}

func errorEnvelope(msg string) Envelope {
	return Envelope{Response: domain.JobResult{Status: domain.ResultStatusError, Error: msg}}
}

// param reads a request parameter from the query string or a form body.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return r.PostFormValue(name)
}

// wantsSync reports whether the caller asked to wait for the result.
// use_celery=false is accepted for clients of the older API.
func wantsSync(r *http.Request) bool {
	if v, err := strconv.ParseBool(param(r, "sync")); err == nil && v {
		return true
	}
	if v, err := strconv.ParseBool(param(r, "use_celery")); err == nil && !v {
		return true
	}
	return false
}

// Download handles POST /api/v1/download (audio and video muxed).
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobKindBoth)
}

// DownloadAudio handles POST /api/v1/download-audio
func (h *DownloadHandler) DownloadAudio(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobKindAudio)
}

// DownloadVideo handles POST /api/v1/download-video
func (h *DownloadHandler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobKindVideo)
}

func (h *DownloadHandler) submit(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	contentID := param(r, "video_id")
	if contentID == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("missing video_id"))
		return
	}

	if wantsSync(r) {
		res, err := h.svc.RunSync(r.Context(), contentID, kind)
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Envelope{Response: res})
		return
	}

	id, err := h.svc.Submit(r.Context(), contentID, kind)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okEnvelope(id.String()))
}

// DownloadPlaylist handles POST /api/v1/download-playlist
func (h *DownloadHandler) DownloadPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := param(r, "playlist_id")
	if playlistID == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("missing playlist_id"))
		return
	}

	kind := domain.JobKindBoth
	if k := param(r, "kind"); k != "" {
		parsed, err := domain.ParseJobKind(k)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope(err.Error()))
			return
		}
		kind = parsed
	}

	if wantsSync(r) {
		h.runPlaylist(w, r, playlistID, kind)
		return
	}

	ids, err := h.svc.SubmitPlaylist(r.Context(), playlistID, kind)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	env := okEnvelope(fmt.Sprintf("queued %d jobs", len(ids)))
	env.Jobs = make([]string, len(ids))
	for i, id := range ids {
		env.Jobs[i] = id.String()
	}
	writeJSON(w, http.StatusAccepted, env)
}

func (h *DownloadHandler) runPlaylist(w http.ResponseWriter, r *http.Request, playlistID string, kind domain.JobKind) {
	results, err := h.svc.RunPlaylistSync(r.Context(), playlistID, kind)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	failed := 0
	for _, res := range results {
		if res.Status != domain.ResultStatusOK {
			failed++
		}
	}
	env := okEnvelope(fmt.Sprintf("downloaded %d of %d entries", len(results)-failed, len(results)))
	if failed > 0 {
		env = errorEnvelope(fmt.Sprintf("%d of %d entries failed", failed, len(results)))
	}
	env.Results = results
	writeJSON(w, http.StatusOK, env)
}

func (h *DownloadHandler) writeSubmitError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("submit failed", "error", err)
		writeJSON(w, status, errorEnvelope("failed to submit download"))
		return
	}
	writeJSON(w, status, errorEnvelope(err.Error()))
}

// JobResponse is a job as returned by the jobs endpoints.
type JobResponse struct {
	*domain.Job
	Result domain.JobResult `json:"result"`
}

// ListJobsResponse contains recent jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Limit int           `json:"limit"`
}

// ListJobs handles GET /api/v1/jobs
func (h *DownloadHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	jobs, err := h.svc.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs)), Limit: limit}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, JobResponse{Job: j, Result: j.Result()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/{jobID}
func (h *DownloadHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.svc.Status(r.Context(), domain.JobID(jobID))
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, JobResponse{Job: job, Result: job.Result()})
}

// CancelJob handles DELETE /api/v1/jobs/{jobID}
func (h *DownloadHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	if err := h.svc.Cancel(r.Context(), domain.JobID(jobID)); err != nil {
		switch status := statusFor(err); status {
		case http.StatusNotFound:
			writeError(w, status, "job not found")
		case http.StatusConflict:
			writeError(w, status, "job already finished")
		default:
			h.logger.Error("cancel failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, okEnvelope("cancellation requested"))
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/vidyodl/internal/proxy"
	"github.com/iconidentify/vidyodl/internal/repository"
)

var startTime = time.Now()

// ReadinessChecker reports on the job store.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
	Stats(ctx context.Context) (*repository.QueueStats, error)
}

// PoolSnapshotter exposes the proxy pool state.
type PoolSnapshotter interface {
	Snapshot() proxy.Snapshot
}

// DiskReporter reports free space under the download root.
type DiskReporter interface {
	Root() string
	FreeBytes() int64
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	jobs  ReadinessChecker
	pool  PoolSnapshotter
	disk  DiskReporter
	start time.Time
}

// NewHealthHandler creates a new health handler. disk may be nil.
func NewHealthHandler(jobs ReadinessChecker, pool PoolSnapshotter, disk DiskReporter) *HealthHandler {
	return &HealthHandler{
		jobs:  jobs,
		pool:  pool,
		disk:  disk,
		start: startTime,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Queue     *repository.QueueStats `json:"queue,omitempty"`
	Proxies   *ProxySummary          `json:"proxies,omitempty"`
	Disk      *DiskSummary           `json:"disk,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ProxySummary is the short form of the pool state.
type ProxySummary struct {
	Candidates int    `json:"candidates"`
	Live       int    `json:"live"`
	Fastest    string `json:"fastest,omitempty"`
	Probed     bool   `json:"probed"`
}

// DiskSummary describes free space under the download root.
type DiskSummary struct {
	Path      string `json:"path"`
	FreeBytes int64  `json:"free_bytes"`
	Free      string `json:"free"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    formatUptime(time.Since(h.start)),
	})
}

// Ready handles GET /ready - readiness probe. The job store must answer;
// the proxy summary is informational since the default proxy always
// serves when the pool is empty.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)

	if err := h.jobs.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: now,
			Error:     "job store unreachable",
		})
		return
	}

	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: now,
			Error:     "job store unreachable",
		})
		return
	}

	snap := h.pool.Snapshot()
	summary := &ProxySummary{
		Candidates: len(snap.Candidates),
		Live:       len(snap.Live),
		Probed:     snap.Probed,
	}
	if snap.Fastest != nil {
		summary.Fastest = snap.Fastest.URL
	}

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: now,
		Queue:     stats,
		Proxies:   summary,
	}
	if h.disk != nil {
		free := h.disk.FreeBytes()
		resp.Disk = &DiskSummary{
			Path:      h.disk.Root(),
			FreeBytes: free,
			Free:      humanize.IBytes(uint64(max(free, 0))),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

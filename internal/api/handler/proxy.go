package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/proxy"
)

// ProxyRefresher reloads candidates and probes them on demand.
type ProxyRefresher interface {
	Refresh(ctx context.Context) (proxy.Snapshot, error)
}

// ProxyHandler exposes the relay proxy pool.
type ProxyHandler struct {
	pool         PoolSnapshotter
	refresher    ProxyRefresher
	defaultProxy domain.Proxy
	logger       *slog.Logger
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(pool PoolSnapshotter, refresher ProxyRefresher, defaultProxy domain.Proxy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		pool:         pool,
		refresher:    refresher,
		defaultProxy: defaultProxy,
		logger:       logger,
	}
}

// PoolResponse is the full pool state.
type PoolResponse struct {
	proxy.Snapshot
	Default *domain.Proxy `json:"default,omitempty"`
}

func (h *ProxyHandler) response(snap proxy.Snapshot) PoolResponse {
	resp := PoolResponse{Snapshot: snap}
	if h.defaultProxy.URL != "" {
		d := h.defaultProxy
		resp.Default = &d
	}
	return resp
}

// List handles GET /api/v1/proxies
func (h *ProxyHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response(h.pool.Snapshot()))
}

// Refresh handles POST /api/v1/proxies/refresh
func (h *ProxyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	snap, err := h.refresher.Refresh(ctx)
	if err != nil {
		h.logger.Error("proxy refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "proxy refresh failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.response(snap))
}

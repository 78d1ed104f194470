package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/proxy"
	"github.com/iconidentify/vidyodl/internal/repository"
)

func TestHealthHandler_Live(t *testing.T) {
	handler := NewHealthHandler(&mockJobs{}, &mockPool{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Live(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Timestamp == "" {
		t.Error("timestamp should not be empty")
	}
	if resp.Uptime == "" {
		t.Error("uptime should not be empty")
	}
}

func TestHealthHandler_Ready_Success(t *testing.T) {
	fastest := domain.NewProxy("B", "https://b.example").WithHealth(domain.ProxyStateLive, 200*time.Millisecond, time.Now())
	pool := &mockPool{snap: proxy.Snapshot{
		Candidates: []domain.Proxy{domain.NewProxy("A", "https://a.example"), fastest},
		Live:       []domain.Proxy{fastest},
		Fastest:    &fastest,
		Probed:     true,
	}}
	jobs := &mockJobs{stats: &repository.QueueStats{Pending: 5, Running: 2, Succeeded: 100, Failed: 3}}
	handler := NewHealthHandler(jobs, pool, mockDisk{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handler.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Queue == nil {
		t.Fatal("queue stats should not be nil")
	}
	if resp.Queue.Pending != 5 || resp.Queue.Running != 2 || resp.Queue.Succeeded != 100 || resp.Queue.Failed != 3 {
		t.Errorf("queue = %+v", resp.Queue)
	}

	if resp.Proxies == nil {
		t.Fatal("proxy summary should not be nil")
	}
	if resp.Proxies.Candidates != 2 || resp.Proxies.Live != 1 || resp.Proxies.Fastest != "https://b.example" {
		t.Errorf("proxies = %+v", resp.Proxies)
	}

	if resp.Disk == nil || resp.Disk.Free != "2.0 GiB" {
		t.Errorf("disk = %+v", resp.Disk)
	}
}

func TestHealthHandler_Ready_EmptyPoolStillReady(t *testing.T) {
	handler := NewHealthHandler(&mockJobs{}, &mockPool{}, nil)

	w := httptest.NewRecorder()
	handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthHandler_Ready_StoreDown(t *testing.T) {
	tests := []struct {
		name string
		jobs *mockJobs
	}{
		{"ping fails", &mockJobs{pingErr: errors.New("connection refused")}},
		{"stats fail", &mockJobs{statsErr: errors.New("database locked")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.jobs, &mockPool{}, nil)

			w := httptest.NewRecorder()
			handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
			}

			var resp HealthResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Status != "error" {
				t.Errorf("status = %q, want %q", resp.Status, "error")
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{3*time.Hour + 7*time.Minute, "3h 7m"},
		{50*time.Hour + 1*time.Minute, "2d 2h 1m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

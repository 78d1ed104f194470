package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/proxy"
	"github.com/iconidentify/vidyodl/internal/repository"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockJobs is a test implementation of ReadinessChecker.
type mockJobs struct {
	stats    *repository.QueueStats
	statsErr error
	pingErr  error
}

func (m *mockJobs) Ready(ctx context.Context) error { return m.pingErr }

func (m *mockJobs) Stats(ctx context.Context) (*repository.QueueStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	if m.stats == nil {
		return &repository.QueueStats{}, nil
	}
	return m.stats, nil
}

// mockPool returns a fixed snapshot.
type mockPool struct {
	snap proxy.Snapshot
}

func (m *mockPool) Snapshot() proxy.Snapshot { return m.snap }

type mockRefresher struct {
	snap  proxy.Snapshot
	err   error
	calls int
}

func (m *mockRefresher) Refresh(ctx context.Context) (proxy.Snapshot, error) {
	m.calls++
	return m.snap, m.err
}

type mockDisk struct{}

func (mockDisk) Root() string     { return "/downloads" }
func (mockDisk) FreeBytes() int64 { return 2 << 30 }

// mockDownloadService records calls and answers from its fields.
type mockDownloadService struct {
	mu sync.Mutex

	submitted   []submitCall
	submitErr   error
	syncResult  domain.JobResult
	syncErr     error
	syncCalls   int
	playlistIDs []domain.JobID
	playlistErr error
	playlistArg submitCall
	playlistRun []domain.JobResult

	jobs      map[domain.JobID]*domain.Job
	listErr   error
	cancelErr error
	cancelled []domain.JobID
}

type submitCall struct {
	id   string
	kind domain.JobKind
}

func newMockDownloadService() *mockDownloadService {
	return &mockDownloadService{jobs: make(map[domain.JobID]*domain.Job)}
}

func (m *mockDownloadService) Submit(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submitted = append(m.submitted, submitCall{contentID, kind})
	return domain.JobID("job-" + contentID), nil
}

func (m *mockDownloadService) RunSync(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCalls++
	m.submitted = append(m.submitted, submitCall{contentID, kind})
	return m.syncResult, m.syncErr
}

func (m *mockDownloadService) SubmitPlaylist(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobID, error) {
	m.playlistArg = submitCall{playlistID, kind}
	return m.playlistIDs, m.playlistErr
}

func (m *mockDownloadService) RunPlaylistSync(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobResult, error) {
	m.playlistArg = submitCall{playlistID, kind}
	return m.playlistRun, m.playlistErr
}

func (m *mockDownloadService) Status(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if j, ok := m.jobs[id]; ok {
		return j, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockDownloadService) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockDownloadService) Cancel(ctx context.Context, id domain.JobID) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	if _, ok := m.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/pipeline"
	"github.com/iconidentify/vidyodl/internal/repository"
)

// JobRunner drives a job to a terminal state. *pipeline.Orchestrator
// satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job *domain.Job, observe pipeline.Observer) error
}

// CurrentProxy returns the proxy new requests go to.
type CurrentProxy interface {
	Current() (domain.Proxy, error)
}

// PlaylistResolver lists the content ids of a playlist.
type PlaylistResolver interface {
	Playlist(ctx context.Context, playlistID string, proxy domain.Proxy) ([]string, error)
}

var contentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DownloadService accepts download requests, queues them and runs them.
type DownloadService struct {
	jobRepo   repository.JobRepository
	runner    JobRunner
	proxies   CurrentProxy
	playlists PlaylistResolver
	workerCfg config.WorkerConfig
	logger    *slog.Logger

	mu      sync.Mutex
	running map[domain.JobID]context.CancelFunc
}

// NewDownloadService creates a new download service.
func NewDownloadService(
	jobRepo repository.JobRepository,
	runner JobRunner,
	proxies CurrentProxy,
	playlists PlaylistResolver,
	workerCfg config.WorkerConfig,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		jobRepo:   jobRepo,
		runner:    runner,
		proxies:   proxies,
		playlists: playlists,
		workerCfg: workerCfg,
		logger:    logger,
		running:   make(map[domain.JobID]context.CancelFunc),
	}
}

func (s *DownloadService) newJob(contentID string, kind domain.JobKind) (*domain.Job, error) {
	contentID = strings.TrimSpace(contentID)
	if !contentIDPattern.MatchString(contentID) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidContentID, contentID)
	}
	if _, err := domain.ParseJobKind(string(kind)); err != nil {
		return nil, err
	}
	return domain.NewJob(domain.JobID(uuid.New().String()), contentID, kind, s.workerCfg.MaxRetries), nil
}

// Submit queues a download of contentID.
func (s *DownloadService) Submit(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobID, error) {
	job, err := s.newJob(contentID, kind)
	if err != nil {
		return "", err
	}

	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("download submitted",
		"job_id", job.ID,
		"content_id", job.ContentID,
		"kind", job.Kind,
	)
	return job.ID, nil
}

// RunSync downloads contentID inline and returns the outcome. The returned
// error is only set when the request itself is invalid or cannot be
// recorded; download failures are reported in the result.
func (s *DownloadService) RunSync(ctx context.Context, contentID string, kind domain.JobKind) (domain.JobResult, error) {
	job, err := s.newJob(contentID, kind)
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return domain.JobResult{}, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("synchronous download started",
		"job_id", job.ID,
		"content_id", job.ContentID,
		"kind", job.Kind,
	)
	if err := s.Process(ctx, job); err != nil {
		s.logger.Warn("synchronous download failed", "job_id", job.ID, "error", err)
	}
	return job.Result(), nil
}

func (s *DownloadService) playlistEntries(ctx context.Context, playlistID string, kind domain.JobKind) (domain.Proxy, []string, error) {
	if _, err := domain.ParseJobKind(string(kind)); err != nil {
		return domain.Proxy{}, nil, err
	}

	proxy, err := s.proxies.Current()
	if err != nil {
		return domain.Proxy{}, nil, err
	}

	ids, err := s.playlists.Playlist(ctx, playlistID, proxy)
	if err != nil {
		return domain.Proxy{}, nil, fmt.Errorf("resolve playlist: %w", err)
	}
	return proxy, ids, nil
}

// SubmitPlaylist queues one job per entry of playlistID.
func (s *DownloadService) SubmitPlaylist(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobID, error) {
	proxy, ids, err := s.playlistEntries(ctx, playlistID, kind)
	if err != nil {
		return nil, err
	}

	jobIDs := make([]domain.JobID, 0, len(ids))
	for _, contentID := range ids {
		id, err := s.Submit(ctx, contentID, kind)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidContentID) {
				s.logger.Warn("skipping playlist entry", "playlist_id", playlistID, "content_id", contentID)
				continue
			}
			return jobIDs, err
		}
		jobIDs = append(jobIDs, id)
	}

	s.logger.Info("playlist submitted",
		"playlist_id", playlistID,
		"proxy", proxy.URL,
		"jobs", len(jobIDs),
	)
	return jobIDs, nil
}

// RunPlaylistSync downloads every entry of playlistID inline, one after
// another, and returns one result per downloaded entry. Entry failures are
// reported in the results; entries with invalid ids are skipped.
func (s *DownloadService) RunPlaylistSync(ctx context.Context, playlistID string, kind domain.JobKind) ([]domain.JobResult, error) {
	proxy, ids, err := s.playlistEntries(ctx, playlistID, kind)
	if err != nil {
		return nil, err
	}

	results := make([]domain.JobResult, 0, len(ids))
	for _, contentID := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.RunSync(ctx, contentID, kind)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidContentID) {
				s.logger.Warn("skipping playlist entry", "playlist_id", playlistID, "content_id", contentID)
				continue
			}
			return results, err
		}
		results = append(results, res)
	}

	s.logger.Info("playlist downloaded",
		"playlist_id", playlistID,
		"proxy", proxy.URL,
		"entries", len(results),
	)
	return results, nil
}

// Status returns the current record of a job.
func (s *DownloadService) Status(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.jobRepo.Get(ctx, id)
}

// List returns recent jobs, newest first.
func (s *DownloadService) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.jobRepo.List(ctx, limit)
}

// Stats returns job counts by state.
func (s *DownloadService) Stats(ctx context.Context) (*repository.QueueStats, error) {
	return s.jobRepo.Stats(ctx)
}

// Ready reports whether the job store is reachable.
func (s *DownloadService) Ready(ctx context.Context) error {
	return s.jobRepo.Ping(ctx)
}

// Cancel stops a running job or marks a pending one cancelled. Cancelling
// a running job is asynchronous: the job reaches CANCELLED once its
// current step has unwound.
func (s *DownloadService) Cancel(ctx context.Context, id domain.JobID) error {
	if s.cancelRunning(id) {
		s.logger.Info("cancelling running job", "job_id", id)
		return nil
	}

	job, err := s.jobRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := job.MarkCancelled(); err != nil {
		return err
	}
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	// Process registers before it reads the stored state, so a worker that
	// read PENDING ahead of the update above is visible here.
	if s.cancelRunning(id) {
		s.logger.Info("cancelling job picked up during cancel", "job_id", id)
		return nil
	}

	s.logger.Info("cancelled queued job", "job_id", id)
	return nil
}

func (s *DownloadService) cancelRunning(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[id]
	if ok {
		cancel()
	}
	return ok
}

// Process runs job to completion, persisting every state change. It is
// the worker entry point.
func (s *DownloadService) Process(ctx context.Context, job *domain.Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	// A Cancel that won the race with Dequeue has already stored CANCELLED.
	if stored, err := s.jobRepo.Get(ctx, job.ID); err == nil && stored.State.IsTerminal() {
		*job = *stored
		return domain.NewJobError(job.ID, "process", domain.ErrTerminalState)
	}

	persistCtx := context.WithoutCancel(ctx)
	logger := s.logger.With("job_id", job.ID)
	observe := func(j *domain.Job) {
		if err := s.jobRepo.Update(persistCtx, j); err != nil {
			logger.Error("failed to persist job state", "state", j.State, "error", err)
		}
	}

	return s.runner.Run(ctx, job, observe)
}

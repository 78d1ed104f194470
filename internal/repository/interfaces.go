package repository

import (
	"context"

	"github.com/iconidentify/vidyodl/internal/domain"
)

// JobRepository manages the job queue and job records. Implementations
// store and return copies, so callers may keep mutating the jobs they pass in.
type JobRepository interface {
	// Enqueue stores a job and appends it to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Save stores a job without queueing it, for jobs run inline.
	Save(ctx context.Context, job *domain.Job) error

	// Dequeue removes and returns the oldest queued job that is still
	// pending. Returns ErrNoJobs when there is none.
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update replaces the stored record of an existing job.
	Update(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// List returns jobs newest first. limit <= 0 returns all of them.
	List(ctx context.Context, limit int) ([]*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// QueueStats contains job counts by state.
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	RetryWait int `json:"retry_wait"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (s *QueueStats) add(state domain.JobState, n int) {
	switch state {
	case domain.JobStatePending:
		s.Pending += n
	case domain.JobStateResolving, domain.JobStateFetching, domain.JobStateMuxing:
		s.Running += n
	case domain.JobStateRetryWait:
		s.RetryWait += n
	case domain.JobStateSucceeded:
		s.Succeeded += n
	case domain.JobStateFailed:
		s.Failed += n
	case domain.JobStateCancelled:
		s.Cancelled += n
	}
}

package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
)

// RedisJobRepository keeps jobs in Redis:
//
//	{prefix}job:{id}  job JSON
//	{prefix}queue     FIFO list of queued job ids
//	{prefix}jobs      sorted set of job ids by creation time
type RedisJobRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisJobRepository connects to the Redis instance described by cfg.
// The connection is checked once so a bad address fails at startup.
func NewRedisJobRepository(ctx context.Context, cfg config.RedisConfig) (*RedisJobRepository, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{addr},
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		DB:         cfg.DB,
		TLSConfig:  tlsConfig,
		MaxRetries: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisJobRepositoryWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisJobRepositoryWithClient wraps an existing client.
func NewRedisJobRepositoryWithClient(client redis.UniversalClient, prefix string) *RedisJobRepository {
	return &RedisJobRepository{client: client, prefix: prefix}
}

func (r *RedisJobRepository) jobKey(id domain.JobID) string {
	return r.prefix + "job:" + string(id)
}

func (r *RedisJobRepository) queueKey() string { return r.prefix + "queue" }

func (r *RedisJobRepository) indexKey() string { return r.prefix + "jobs" }

// Enqueue stores the job and pushes its id onto the queue.
func (r *RedisJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	return r.store(ctx, job, true)
}

// Save stores the job without queueing it.
func (r *RedisJobRepository) Save(ctx context.Context, job *domain.Job) error {
	return r.store(ctx, job, false)
}

func (r *RedisJobRepository) store(ctx context.Context, job *domain.Job, queue bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: string(job.ID)})
		if queue {
			pipe.RPush(ctx, r.queueKey(), string(job.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// Dequeue pops ids until one refers to a pending job.
func (r *RedisJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		id, err := r.client.LPop(ctx, r.queueKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNoJobs
		}
		if err != nil {
			return nil, fmt.Errorf("pop queue: %w", err)
		}

		job, err := r.Get(ctx, domain.JobID(id))
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.State == domain.JobStatePending {
			return job, nil
		}
	}
}

// Update replaces the stored job. Unknown ids are rejected.
func (r *RedisJobRepository) Update(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.jobKey(job.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if !ok {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get retrieves a job by ID.
func (r *RedisJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// List returns jobs newest first.
func (r *RedisJobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return r.load(ctx, ids)
}

// Stats counts jobs per state.
func (r *RedisJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	jobs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{}
	for _, job := range jobs {
		stats.add(job.State, 1)
	}
	return stats, nil
}

// load fetches job records in id order, skipping ids whose record is gone.
func (r *RedisJobRepository) load(ctx context.Context, ids []string) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.jobKey(domain.JobID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Ping checks the Redis connection.
func (r *RedisJobRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisJobRepository) Close() error {
	return r.client.Close()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/vidyodl/internal/domain"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE TABLE IF NOT EXISTS job_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL
	);
`

// SQLiteJobRepository implements JobRepository on a SQLite database. Job
// records are stored as JSON with their state and creation time broken
// out for queries.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository opens (or creates) the database at path.
func NewSQLiteJobRepository(path string) (*SQLiteJobRepository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteJobRepository{db: db}, nil
}

// Enqueue stores the job and appends it to the queue.
func (r *SQLiteJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	return r.insert(ctx, job, true)
}

// Save stores the job without queueing it.
func (r *SQLiteJobRepository) Save(ctx context.Context, job *domain.Job) error {
	return r.insert(ctx, job, false)
}

func (r *SQLiteJobRepository) insert(ctx context.Context, job *domain.Job, queue bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (id, state, created_at, data) VALUES (?, ?, ?, ?)`,
		string(job.ID), string(job.State), job.CreatedAt.UnixNano(), string(data),
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if queue {
		if _, err := tx.ExecContext(ctx, `INSERT INTO job_queue (job_id) VALUES (?)`, string(job.ID)); err != nil {
			return fmt.Errorf("queue job: %w", err)
		}
	}

	return tx.Commit()
}

// Dequeue pops queue entries until one refers to a pending job.
func (r *SQLiteJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for {
		var seq int64
		var id string
		err := tx.QueryRowContext(ctx, `SELECT seq, job_id FROM job_queue ORDER BY seq LIMIT 1`).Scan(&seq, &id)
		if errors.Is(err, sql.ErrNoRows) {
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return nil, domain.ErrNoJobs
		}
		if err != nil {
			return nil, fmt.Errorf("read queue: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM job_queue WHERE seq = ?`, seq); err != nil {
			return nil, fmt.Errorf("pop queue: %w", err)
		}

		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id))
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.State != domain.JobStatePending {
			continue
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return job, nil
	}
}

// Update replaces the stored job.
func (r *SQLiteJobRepository) Update(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, data = ? WHERE id = ?`,
		string(job.State), string(data), string(job.ID),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get retrieves a job by ID.
func (r *SQLiteJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return scanJob(r.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, string(id)))
}

// List returns jobs newest first.
func (r *SQLiteJobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Stats counts jobs per state.
func (r *SQLiteJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.add(domain.JobState(state), n)
	}
	return stats, rows.Err()
}

// Ping checks the database connection.
func (r *SQLiteJobRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteJobRepository) Close() error {
	return r.db.Close()
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("read job: %w", err)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

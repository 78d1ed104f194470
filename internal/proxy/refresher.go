package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
)

// CandidateSource returns the current relay candidates.
type CandidateSource func() ([]domain.Proxy, error)

// Refresher reloads candidates and runs probe cycles on a fixed interval.
type Refresher struct {
	pool     *Pool
	source   CandidateSource
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRefresher creates a refresher that reads candidates from cfg.
func NewRefresher(pool *Pool, cfg config.ProxyConfig, logger *slog.Logger) *Refresher {
	return NewRefresherWithSource(pool, func() ([]domain.Proxy, error) {
		return Candidates(cfg)
	}, cfg.RefreshInterval, cfg.ProbeTimeout, logger)
}

// NewRefresherWithSource creates a refresher with a custom candidate source.
func NewRefresherWithSource(pool *Pool, source CandidateSource, interval, timeout time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		pool:     pool,
		source:   source,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Refresh reloads the candidate list and probes it once.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	candidates, err := r.source()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load candidates: %w", err)
	}
	r.pool.Load(candidates)

	if err := r.pool.ProbeAll(ctx, r.timeout); err != nil {
		return Snapshot{}, fmt.Errorf("probe candidates: %w", err)
	}
	return r.pool.Snapshot(), nil
}

// Start runs an initial refresh, then one every interval until Stop.
func (r *Refresher) Start() {
	r.logger.Info("starting proxy refresher", "interval", r.interval)

	r.wg.Add(1)
	go r.loop()
}

// Stop ends the refresh loop and waits for an in-flight cycle.
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("proxy refresher stopped")
}

func (r *Refresher) loop() {
	defer r.wg.Done()

	r.tick()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Refresher) tick() {
	if _, err := r.Refresh(r.ctx); err != nil && r.ctx.Err() == nil {
		r.logger.Error("proxy refresh failed", "error", err)
	}
}

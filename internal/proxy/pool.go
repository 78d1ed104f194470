// Package proxy keeps track of relay proxies and their health.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/observability/metrics"
)

// Prober checks a single relay. It is satisfied by *piped.HTTPClient.
type Prober interface {
	Healthcheck(ctx context.Context, baseURL string) (time.Duration, error)
}

// Snapshot is a point-in-time copy of the pool.
type Snapshot struct {
	Candidates []domain.Proxy `json:"candidates"`
	Live       []domain.Proxy `json:"live"`
	Fastest    *domain.Proxy  `json:"fastest,omitempty"`
	Probed     bool           `json:"probed"`
	LastCycle  time.Time      `json:"last_cycle,omitempty"`
}

// Pool holds the candidate relays, the live subset found by the last probe
// cycle and the fastest live relay. The fastest pointer, when set, always
// indexes the published live slice.
type Pool struct {
	prober  Prober
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu         sync.RWMutex
	candidates []domain.Proxy
	live       []domain.Proxy
	liveIndex  map[string]int
	fastest    int
	probed     bool
	lastCycle  time.Time

	cycles singleflight.Group
}

// NewPool creates an empty pool. rec may be nil.
func NewPool(prober Prober, logger *slog.Logger, rec *metrics.Recorder) *Pool {
	return &Pool{
		prober:    prober,
		logger:    logger,
		metrics:   rec,
		liveIndex: map[string]int{},
		fastest:   -1,
	}
}

// Load replaces the candidate set without probing. Duplicate URLs keep their
// first occurrence. Live entries that are still candidates stay live.
func (p *Pool) Load(candidates []domain.Proxy) {
	seen := make(map[string]struct{}, len(candidates))
	next := make([]domain.Proxy, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		next = append(next, domain.NewProxy(c.Name, c.URL))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Carry health observations over for URLs that survive the reload.
	prev := make(map[string]domain.Proxy, len(p.candidates))
	for _, c := range p.candidates {
		prev[c.URL] = c
	}
	for i, c := range next {
		if old, ok := prev[c.URL]; ok {
			old.Name = c.Name
			next[i] = old
		}
	}

	var live []domain.Proxy
	for _, c := range next {
		if _, ok := p.liveIndex[c.URL]; ok {
			live = append(live, c)
		}
	}

	p.candidates = next
	p.publishLocked(live)

	p.logger.Info("proxy candidates loaded",
		"candidates", len(next),
		"live", len(p.live),
	)
}

type probeResult struct {
	proxy domain.Proxy
	err   error
}

// ProbeAll health-checks every candidate in parallel, each bounded by
// timeout, and publishes the new live subset once all probes are done.
// Probe failures mark the candidate dead and are not returned. Concurrent
// calls share one cycle, which runs detached from any caller so one caller
// leaving never spoils the result for the others. An error is returned
// only if ctx ended first; a ctx that is already done starts nothing.
func (p *Pool) ProbeAll(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := p.cycles.DoChan("probe", func() (any, error) {
		p.probeCycle(context.WithoutCancel(ctx), timeout)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		p.logger.Warn("left probe cycle early", "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *Pool) probeCycle(ctx context.Context, timeout time.Duration) {
	p.mu.RLock()
	candidates := make([]domain.Proxy, len(p.candidates))
	copy(candidates, p.candidates)
	p.mu.RUnlock()

	results := make([]probeResult, len(candidates))
	start := time.Now()

	// Each goroutine owns one slot of results; errors are recorded there
	// so one failing probe never cancels the others.
	var g errgroup.Group
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = p.probeOne(ctx, c, timeout)
			return nil
		})
	}
	g.Wait()

	byURL := make(map[string]domain.Proxy, len(results))
	for _, r := range results {
		byURL[r.proxy.URL] = r.proxy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Candidates may have been reloaded while probing; only publish
	// results for URLs that are still candidates.
	var live []domain.Proxy
	for i, c := range p.candidates {
		r, ok := byURL[c.URL]
		if !ok {
			continue
		}
		r.Name = c.Name
		p.candidates[i] = r
		if r.IsLive() {
			live = append(live, r)
		}
	}
	p.probed = true
	p.lastCycle = time.Now()
	p.publishLocked(live)

	attrs := []any{
		"candidates", len(p.candidates),
		"live", len(p.live),
		"duration", time.Since(start),
	}
	if p.fastest >= 0 {
		attrs = append(attrs, "fastest", p.live[p.fastest].URL, "latency", p.live[p.fastest].Latency)
	}
	p.logger.Info("probe cycle complete", attrs...)
}

func (p *Pool) probeOne(ctx context.Context, c domain.Proxy, timeout time.Duration) probeResult {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	latency, err := p.prober.Healthcheck(probeCtx, c.URL)
	now := time.Now()
	if err != nil {
		result := "failure"
		if errors.Is(err, domain.ErrProbeTimeout) {
			result = "timeout"
		}
		p.metrics.ObserveProbe(result, now.Sub(start))
		p.logger.Debug("proxy probe failed", "proxy", c.URL, "error", err)
		return probeResult{proxy: c.WithHealth(domain.ProxyStateDead, 0, now), err: err}
	}

	p.metrics.ObserveProbe("live", latency)
	p.logger.Debug("proxy probe ok", "proxy", c.URL, "latency", latency)
	return probeResult{proxy: c.WithHealth(domain.ProxyStateLive, latency, now)}
}

// FastestLive returns the minimum-latency live proxy. Ties go to the
// candidate listed first.
func (p *Pool) FastestLive() (domain.Proxy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fastest < 0 {
		return domain.Proxy{}, domain.ErrPoolEmpty
	}
	return p.live[p.fastest], nil
}

// Evict drops url from the live subset without re-probing and reports
// whether anything changed.
func (p *Pool) Evict(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.liveIndex[url]
	if !ok {
		return false
	}

	// Copy so slices handed out earlier stay untouched.
	live := make([]domain.Proxy, 0, len(p.live)-1)
	live = append(live, p.live[:idx]...)
	live = append(live, p.live[idx+1:]...)

	for i, c := range p.candidates {
		if c.URL == url {
			p.candidates[i] = c.WithHealth(domain.ProxyStateDead, 0, time.Now())
			break
		}
	}
	p.publishLocked(live)

	p.logger.Warn("proxy evicted", "proxy", url, "live", len(p.live))
	return true
}

// Snapshot returns a copy of the pool state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Candidates: append([]domain.Proxy(nil), p.candidates...),
		Live:       append([]domain.Proxy(nil), p.live...),
		Probed:     p.probed,
		LastCycle:  p.lastCycle,
	}
	if p.fastest >= 0 {
		f := p.live[p.fastest]
		s.Fastest = &f
	}
	return s
}

// publishLocked installs live as the live subset and recomputes the
// fastest pointer. Callers hold the write lock.
func (p *Pool) publishLocked(live []domain.Proxy) {
	index := make(map[string]int, len(live))
	fastest := -1
	for i, c := range live {
		index[c.URL] = i
		if fastest < 0 || c.Latency < live[fastest].Latency {
			fastest = i
		}
	}
	p.live = live
	p.liveIndex = index
	p.fastest = fastest
	p.metrics.SetPoolSize(len(p.candidates), len(live))
}

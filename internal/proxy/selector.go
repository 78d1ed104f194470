package proxy

import (
	"log/slog"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/observability/metrics"
)

// DefaultProxyName is the name reported for the configured fallback relay.
const DefaultProxyName = "default proxy"

// Selector hands out the relay a job should use and fails over when a
// relay turns out to be bad.
type Selector struct {
	pool     *Pool
	fallback domain.Proxy
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewSelector wraps pool. defaultURL is used while no relay is live; an
// empty defaultURL disables the fallback.
func NewSelector(pool *Pool, defaultURL string, logger *slog.Logger, rec *metrics.Recorder) *Selector {
	var fallback domain.Proxy
	if defaultURL != "" {
		fallback = domain.NewProxy(DefaultProxyName, defaultURL)
	}
	return &Selector{
		pool:     pool,
		fallback: fallback,
		logger:   logger,
		metrics:  rec,
	}
}

// Current returns the fastest live relay, or the default relay when none
// is live. ErrPoolEmpty is returned only when there is no default.
func (s *Selector) Current() (domain.Proxy, error) {
	if p, err := s.pool.FastestLive(); err == nil {
		return p, nil
	}
	if s.fallback.URL == "" {
		return domain.Proxy{}, domain.ErrPoolEmpty
	}
	return s.fallback, nil
}

// Default returns the configured fallback relay.
func (s *Selector) Default() domain.Proxy {
	return s.fallback
}

// ReportFailure evicts url from the live subset. Reporting the same relay
// twice, or reporting the default relay, is a no-op. It returns whether
// the pool changed.
func (s *Selector) ReportFailure(url string) bool {
	if url == s.fallback.URL {
		return false
	}
	if !s.pool.Evict(url) {
		return false
	}
	s.metrics.IncFailover()

	next, err := s.Current()
	if err != nil {
		s.logger.Warn("proxy failover: no relay left", "failed", url)
		return true
	}
	s.logger.Info("proxy failover", "failed", url, "next", next.URL)
	return true
}

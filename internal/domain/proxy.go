package domain

import (
	"fmt"
	"time"
)

// ProxyState is the last observed health of a relay proxy.
type ProxyState string

const (
	ProxyStateUnknown ProxyState = "unknown"
	ProxyStateLive    ProxyState = "live"
	ProxyStateDead    ProxyState = "dead"
)

// Proxy describes one relay endpoint. URL is its identity.
//
// Health fields are only ever replaced as a whole by a probe; use
// WithHealth rather than mutating them individually.
type Proxy struct {
	Name      string        `json:"name" yaml:"name"`
	URL       string        `json:"url" yaml:"url"`
	State     ProxyState    `json:"state" yaml:"-"`
	Latency   time.Duration `json:"latency" yaml:"-"`
	CheckedAt time.Time     `json:"checked_at,omitempty" yaml:"-"`
}

// NewProxy creates a proxy whose health has not been observed yet.
func NewProxy(name, url string) Proxy {
	return Proxy{
		Name:  name,
		URL:   url,
		State: ProxyStateUnknown,
	}
}

// IsLive reports whether the last probe found the proxy live.
func (p Proxy) IsLive() bool {
	return p.State == ProxyStateLive
}

// HasLatency reports whether Latency carries a measurement.
func (p Proxy) HasLatency() bool {
	return p.State == ProxyStateLive
}

// WithHealth returns a copy of p carrying a fresh health observation.
// Latency is dropped unless the proxy is live.
func (p Proxy) WithHealth(state ProxyState, latency time.Duration, at time.Time) Proxy {
	if state != ProxyStateLive {
		latency = 0
	}
	p.State = state
	p.Latency = latency
	p.CheckedAt = at
	return p
}

func (p Proxy) String() string {
	if p.HasLatency() {
		return fmt.Sprintf("Proxy <%s | %s | %s>", p.URL, p.State, p.Latency)
	}
	return fmt.Sprintf("Proxy <%s | %s>", p.URL, p.State)
}

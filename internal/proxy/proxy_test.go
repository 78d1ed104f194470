package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/observability/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type probeAnswer struct {
	latency time.Duration
	err     error
}

// fakeProber answers health checks from a table; unknown URLs fail.
type fakeProber struct {
	mu      sync.Mutex
	answers map[string]probeAnswer
	delay   time.Duration
	calls   atomic.Int32
}

func newFakeProber(answers map[string]probeAnswer) *fakeProber {
	return &fakeProber{answers: answers}
}

func (f *fakeProber) set(url string, a probeAnswer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[url] = a
}

func (f *fakeProber) Healthcheck(ctx context.Context, baseURL string) (time.Duration, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, domain.ErrProbeTimeout
		}
	}
	f.mu.Lock()
	a, ok := f.answers[baseURL]
	f.mu.Unlock()
	if !ok {
		return 0, domain.ErrProbeFailure
	}
	return a.latency, a.err
}

const (
	urlA = "https://a.example"
	urlB = "https://b.example"
	urlC = "https://c.example"
)

func abcCandidates() []domain.Proxy {
	return []domain.Proxy{
		domain.NewProxy("A", urlA),
		domain.NewProxy("B", urlB),
		domain.NewProxy("C", urlC),
	}
}

// abcPool is A live 0.5s, B live 0.2s, C dead.
func abcPool(t *testing.T) (*Pool, *fakeProber) {
	t.Helper()
	prober := newFakeProber(map[string]probeAnswer{
		urlA: {latency: 500 * time.Millisecond},
		urlB: {latency: 200 * time.Millisecond},
		urlC: {err: domain.ErrProbeFailure},
	})
	pool := NewPool(prober, testLogger(), metrics.New())
	pool.Load(abcCandidates())
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))
	return pool, prober
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_FastestLive_PicksLowestLatency(t *testing.T) {
	pool, _ := abcPool(t)

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlB, fastest.URL)
	assert.Equal(t, 200*time.Millisecond, fastest.Latency)

	snap := pool.Snapshot()
	assert.Len(t, snap.Candidates, 3)
	assert.Len(t, snap.Live, 2)
	assert.True(t, snap.Probed)
	require.NotNil(t, snap.Fastest)
	assert.Equal(t, urlB, snap.Fastest.URL)
	assert.Equal(t, domain.ProxyStateDead, snap.Candidates[2].State)
	assert.False(t, snap.Candidates[2].HasLatency())
}

func TestPool_FastestLive_MinimumOverLiveSet(t *testing.T) {
	answers := map[string]probeAnswer{}
	var candidates []domain.Proxy
	latencies := []time.Duration{900, 300, 700, 150, 450, 150, 800}
	for i, l := range latencies {
		url := "https://p" + string(rune('0'+i)) + ".example"
		answers[url] = probeAnswer{latency: l * time.Millisecond}
		candidates = append(candidates, domain.NewProxy("", url))
	}
	answers["https://p3.example"] = probeAnswer{err: domain.ErrProbeTimeout}

	pool := NewPool(newFakeProber(answers), testLogger(), nil)
	pool.Load(candidates)
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	fastest, err := pool.FastestLive()
	require.NoError(t, err)

	snap := pool.Snapshot()
	for _, p := range snap.Live {
		assert.LessOrEqual(t, fastest.Latency, p.Latency)
	}
	assert.Equal(t, "https://p5.example", fastest.URL)
}

func TestPool_FastestLive_TieGoesToFirstCandidate(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{
		urlA: {latency: 100 * time.Millisecond},
		urlB: {latency: 100 * time.Millisecond},
	})
	pool := NewPool(prober, testLogger(), nil)
	pool.Load([]domain.Proxy{domain.NewProxy("A", urlA), domain.NewProxy("B", urlB)})
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlA, fastest.URL)
}

func TestPool_FastestLive_EmptyPool(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)

	_, err := pool.FastestLive()
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)

	pool.Load(abcCandidates())
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	_, err = pool.FastestLive()
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)
}

func TestPool_Load_DeduplicatesByURL(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)
	pool.Load([]domain.Proxy{
		domain.NewProxy("first", urlA),
		domain.NewProxy("second", urlA),
		domain.NewProxy("", ""),
		domain.NewProxy("B", urlB),
	})

	snap := pool.Snapshot()
	require.Len(t, snap.Candidates, 2)
	assert.Equal(t, "first", snap.Candidates[0].Name)
	assert.False(t, snap.Probed)
}

func TestPool_Load_KeepsSurvivingLiveEntries(t *testing.T) {
	pool, prober := abcPool(t)

	pool.Load([]domain.Proxy{domain.NewProxy("A", urlA), domain.NewProxy("C", urlC)})

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlA, fastest.URL, "B was dropped so A is now fastest")
	assert.Len(t, pool.Snapshot().Live, 1)

	calls := prober.calls.Load()
	pool.Load(abcCandidates())
	assert.Equal(t, calls, prober.calls.Load(), "Load must not probe")
}

func TestPool_ProbeAll_ReplacesLiveSet(t *testing.T) {
	pool, prober := abcPool(t)

	prober.set(urlB, probeAnswer{err: domain.ErrProbeFailure})
	prober.set(urlC, probeAnswer{latency: 50 * time.Millisecond})
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlC, fastest.URL)

	var live []string
	for _, p := range pool.Snapshot().Live {
		live = append(live, p.URL)
	}
	assert.Equal(t, []string{urlA, urlC}, live)
}

func TestPool_ProbeAll_TimeoutMarksDead(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{urlA: {latency: time.Millisecond}})
	prober.delay = 200 * time.Millisecond
	pool := NewPool(prober, testLogger(), nil)
	pool.Load([]domain.Proxy{domain.NewProxy("A", urlA)})

	require.NoError(t, pool.ProbeAll(context.Background(), 10*time.Millisecond))

	_, err := pool.FastestLive()
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)
	assert.Equal(t, domain.ProxyStateDead, pool.Snapshot().Candidates[0].State)
}

func TestPool_ProbeAll_CancelledContextPublishesNothing(t *testing.T) {
	pool, _ := abcPool(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.ProbeAll(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlB, fastest.URL)
}

func TestPool_ProbeAll_CoalescesConcurrentCycles(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{urlA: {latency: time.Millisecond}})
	prober.delay = 50 * time.Millisecond
	pool := NewPool(prober, testLogger(), nil)
	pool.Load([]domain.Proxy{domain.NewProxy("A", urlA)})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pool.ProbeAll(context.Background(), time.Second))
		}()
	}
	wg.Wait()

	assert.Less(t, prober.calls.Load(), int32(5), "concurrent cycles should share probes")
}

func TestPool_ProbeAll_SharedCycleOutlivesFirstCaller(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{urlA: {latency: time.Millisecond}})
	prober.delay = 200 * time.Millisecond
	pool := NewPool(prober, testLogger(), nil)
	pool.Load([]domain.Proxy{domain.NewProxy("A", urlA)})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- pool.ProbeAll(ctx, time.Second) }()

	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	// Joins the cycle the first caller started.
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	assert.Equal(t, int32(1), prober.calls.Load())
	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlA, fastest.URL)
	assert.True(t, pool.Snapshot().Probed)
}

func TestPool_Evict(t *testing.T) {
	pool, _ := abcPool(t)

	assert.True(t, pool.Evict(urlB))

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlA, fastest.URL)

	assert.False(t, pool.Evict(urlB), "second eviction is a no-op")
	assert.False(t, pool.Evict(urlC), "dead proxies are not in the live set")
	assert.Len(t, pool.Snapshot().Live, 1)

	assert.True(t, pool.Evict(urlA))
	_, err = pool.FastestLive()
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)
}

func TestPool_Evict_SnapshotsStayUntouched(t *testing.T) {
	pool, _ := abcPool(t)

	before := pool.Snapshot()
	pool.Evict(urlA)

	assert.Len(t, before.Live, 2)
	assert.Equal(t, urlA, before.Live[0].URL)
}

func TestPool_ConcurrentReadsAndWrites(t *testing.T) {
	pool, _ := abcPool(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if p, err := pool.FastestLive(); err == nil {
				assert.True(t, p.IsLive())
			}
		}()
		go func() {
			defer wg.Done()
			pool.Evict(urlB)
		}()
		go func() {
			defer wg.Done()
			pool.ProbeAll(context.Background(), time.Second)
		}()
	}
	wg.Wait()

	snap := pool.Snapshot()
	if snap.Fastest != nil {
		found := false
		for _, p := range snap.Live {
			if p.URL == snap.Fastest.URL {
				found = true
			}
		}
		assert.True(t, found, "fastest must be a member of the live set")
	}
}

// =============================================================================
// Selector Tests
// =============================================================================

func TestSelector_Current(t *testing.T) {
	pool, _ := abcPool(t)
	sel := NewSelector(pool, "https://default.example", testLogger(), nil)

	p, err := sel.Current()
	require.NoError(t, err)
	assert.Equal(t, urlB, p.URL)
}

func TestSelector_FailoverToNextFastest(t *testing.T) {
	pool, _ := abcPool(t)
	sel := NewSelector(pool, "https://default.example", testLogger(), metrics.New())

	assert.True(t, sel.ReportFailure(urlB))

	p, err := sel.Current()
	require.NoError(t, err)
	assert.Equal(t, urlA, p.URL)
}

func TestSelector_ReportFailure_Idempotent(t *testing.T) {
	pool, _ := abcPool(t)
	sel := NewSelector(pool, "https://default.example", testLogger(), nil)

	assert.True(t, sel.ReportFailure(urlB))
	liveAfterFirst := pool.Snapshot().Live

	assert.False(t, sel.ReportFailure(urlB))
	assert.Equal(t, liveAfterFirst, pool.Snapshot().Live)
}

func TestSelector_ReportFailure_Concurrent(t *testing.T) {
	pool, _ := abcPool(t)
	sel := NewSelector(pool, "https://default.example", testLogger(), nil)

	var changed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sel.ReportFailure(urlB) {
				changed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), changed.Load())
	assert.Len(t, pool.Snapshot().Live, 1)
}

func TestSelector_DefaultFallback(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)
	sel := NewSelector(pool, "https://default.example", testLogger(), nil)

	p, err := sel.Current()
	require.NoError(t, err, "never probed pool falls back to the default")
	assert.Equal(t, "https://default.example", p.URL)
	assert.Equal(t, DefaultProxyName, p.Name)

	pool.Load(abcCandidates())
	require.NoError(t, pool.ProbeAll(context.Background(), time.Second))

	p, err = sel.Current()
	require.NoError(t, err, "all-dead pool falls back to the default")
	assert.Equal(t, "https://default.example", p.URL)
}

func TestSelector_DefaultNeverEvicted(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)
	sel := NewSelector(pool, "https://default.example", testLogger(), nil)

	assert.False(t, sel.ReportFailure("https://default.example"))

	p, err := sel.Current()
	require.NoError(t, err)
	assert.Equal(t, "https://default.example", p.URL)
}

func TestSelector_NoDefault(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)
	sel := NewSelector(pool, "", testLogger(), nil)

	_, err := sel.Current()
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)
}

// =============================================================================
// Loader and Refresher Tests
// =============================================================================

func TestReadListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	content := `{"proxy_list": [
		{"name": "kavin", "url": "https://pipedapi.kavin.rocks"},
		{"name": "adminforge", "url": "https://pipedapi.adminforge.de"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	proxies, err := ReadListFile(path)
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.Equal(t, "adminforge", proxies[1].Name)
	assert.Equal(t, domain.ProxyStateUnknown, proxies[1].State)
}

func TestReadListFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadListFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0644))
	_, err = ReadListFile(bad)
	assert.Error(t, err)

	noURL := filepath.Join(dir, "nourl.json")
	require.NoError(t, os.WriteFile(noURL, []byte(`{"proxy_list": [{"name": "x"}]}`), 0644))
	_, err = ReadListFile(noURL)
	assert.Error(t, err)
}

func TestCandidates_MergesConfigAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"proxy_list": [{"name": "B", "url": "`+urlB+`"}]}`), 0644))

	got, err := Candidates(config.ProxyConfig{
		Candidates: []config.ProxyCandidate{{Name: "A", URL: urlA}},
		ListPath:   path,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, urlA, got[0].URL)
	assert.Equal(t, urlB, got[1].URL)
}

func TestRefresher_Refresh(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{
		urlA: {latency: 500 * time.Millisecond},
		urlB: {latency: 200 * time.Millisecond},
	})
	pool := NewPool(prober, testLogger(), nil)
	r := NewRefresherWithSource(pool, func() ([]domain.Proxy, error) {
		return abcCandidates(), nil
	}, time.Hour, time.Second, testLogger())

	snap, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Candidates, 3)
	require.NotNil(t, snap.Fastest)
	assert.Equal(t, urlB, snap.Fastest.URL)
}

func TestRefresher_Refresh_SourceError(t *testing.T) {
	pool := NewPool(newFakeProber(map[string]probeAnswer{}), testLogger(), nil)
	r := NewRefresherWithSource(pool, func() ([]domain.Proxy, error) {
		return nil, errors.New("disk on fire")
	}, time.Hour, time.Second, testLogger())

	_, err := r.Refresh(context.Background())
	assert.Error(t, err)
}

func TestRefresher_StartStop(t *testing.T) {
	prober := newFakeProber(map[string]probeAnswer{urlA: {latency: time.Millisecond}})
	pool := NewPool(prober, testLogger(), nil)
	r := NewRefresherWithSource(pool, func() ([]domain.Proxy, error) {
		return []domain.Proxy{domain.NewProxy("A", urlA)}, nil
	}, 20*time.Millisecond, time.Second, testLogger())

	r.Start()
	require.Eventually(t, func() bool {
		return prober.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	r.Stop()

	fastest, err := pool.FastestLive()
	require.NoError(t, err)
	assert.Equal(t, urlA, fastest.URL)
}

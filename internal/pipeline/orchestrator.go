// Package pipeline runs download jobs through resolve, fetch and mux with
// bounded retries and proxy failover.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/downloader"
	"github.com/iconidentify/vidyodl/internal/observability/metrics"
	"github.com/iconidentify/vidyodl/internal/storage"
)

// ProxySelector is satisfied by *proxy.Selector.
type ProxySelector interface {
	Current() (domain.Proxy, error)
	ReportFailure(url string) bool
}

// StreamResolver is satisfied by *resolver.Resolver. Forget drops a
// remembered manifest so the next attempt fetches fresh stream URLs.
type StreamResolver interface {
	Resolve(ctx context.Context, contentID string, proxy domain.Proxy) (*domain.Manifest, error)
	Forget(proxyURL, contentID string)
}

// Observer receives a copy of the job after every state change.
type Observer func(job *domain.Job)

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// outcome tags how a step ended; the retry loop decides the next state
// from it.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeProxyFailure
	outcomeOtherFailure
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeProxyFailure:
		return "proxy_failure"
	default:
		return "other_failure"
	}
}

type stepResult struct {
	outcome outcome
	err     error
}

func ok() stepResult { return stepResult{outcome: outcomeSuccess} }

// Config holds orchestrator settings.
type Config struct {
	RetryDelay time.Duration
}

// Orchestrator drives one job at a time through the state machine. It is
// safe to run many jobs concurrently on one Orchestrator.
type Orchestrator struct {
	selector ProxySelector
	resolver StreamResolver
	fetcher  downloader.Fetcher
	muxer    downloader.Muxer
	layout   *storage.Layout
	cfg      Config
	sleep    SleepFunc
	logger   *slog.Logger
	metrics  *metrics.Recorder
	outputs  *keyedLocks
}

// New creates an orchestrator. rec may be nil.
func New(
	cfg Config,
	selector ProxySelector,
	resolver StreamResolver,
	fetcher downloader.Fetcher,
	muxer downloader.Muxer,
	layout *storage.Layout,
	logger *slog.Logger,
	rec *metrics.Recorder,
) *Orchestrator {
	return &Orchestrator{
		selector: selector,
		resolver: resolver,
		fetcher:  fetcher,
		muxer:    muxer,
		layout:   layout,
		cfg:      cfg,
		sleep:    sleepContext,
		logger:   logger,
		metrics:  rec,
		outputs:  newKeyedLocks(),
	}
}

// SetSleep replaces the retry wait, for tests.
func (o *Orchestrator) SetSleep(fn SleepFunc) {
	o.sleep = fn
}

// run carries the per-job state of one Run call.
type run struct {
	*Orchestrator
	job     *domain.Job
	observe Observer
	logger  *slog.Logger
	// targets are every path the job wrote into; only their .part files
	// are removed on failure. written are the finished files this job put
	// in place itself.
	targets map[string]struct{}
	written map[string]struct{}
}

// Run executes job until it reaches a terminal state and returns nil on
// success. On failure the returned error wraps ErrRetryExhausted,
// ErrPoolEmpty or ErrJobCancelled, and job.LastError holds the last step
// error. job is modified in place; observe may be nil.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job, observe Observer) error {
	if job.State != domain.JobStatePending && job.State != domain.JobStateRetryWait {
		return domain.NewJobError(job.ID, "run", fmt.Errorf("%w: cannot start from %s", domain.ErrInvalidTransition, job.State))
	}

	r := &run{
		Orchestrator: o,
		job:          job,
		observe:      observe,
		logger:       o.logger.With("job_id", job.ID, "content_id", job.ContentID, "kind", job.Kind),
		targets:      map[string]struct{}{},
		written:      map[string]struct{}{},
	}
	return r.loop(ctx)
}

func (r *run) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return r.cancel()
		}

		if err := r.transition(domain.JobStateResolving); err != nil {
			return err
		}
		r.logger.Info("attempt started", "attempt", r.job.Attempt, "max_retries", r.job.MaxRetries)

		px, err := r.selector.Current()
		if err != nil {
			return r.fail(err, domain.ErrPoolEmpty)
		}

		res, resolved := r.attempt(ctx, px)
		if res.outcome == outcomeSuccess {
			return nil
		}
		if resolved {
			r.resolver.Forget(px.URL, r.job.ContentID)
		}

		if ctx.Err() != nil {
			return r.cancel()
		}

		if res.outcome == outcomeProxyFailure {
			r.selector.ReportFailure(px.URL)
		}
		r.job.RecordError(res.err)
		r.logger.Warn("attempt failed",
			"attempt", r.job.Attempt,
			"proxy", px.URL,
			"outcome", res.outcome.String(),
			"error", res.err,
		)

		if err := r.transition(domain.JobStateRetryWait); err != nil {
			return err
		}

		if !r.job.CanRetry() {
			return r.fail(res.err, domain.ErrRetryExhausted)
		}

		if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
			return r.cancel()
		}
	}
}

// attempt runs resolve, fetch and mux once against px. On success the job
// is already SUCCEEDED. resolved reports whether a manifest was obtained.
func (r *run) attempt(ctx context.Context, px domain.Proxy) (res stepResult, resolved bool) {
	manifest, err := r.resolver.Resolve(ctx, r.job.ContentID, px)
	if err != nil {
		return classify(err, px), false
	}
	r.job.Title = manifest.Title

	if err := r.transition(domain.JobStateFetching); err != nil {
		return stepResult{outcome: outcomeOtherFailure, err: err}, true
	}

	title := storage.SanitizeTitle(manifest.Title, r.job.ContentID)
	release, err := r.outputs.acquire(ctx, title)
	if err != nil {
		return stepResult{outcome: outcomeOtherFailure, err: err}, true
	}
	// Clean up under the lock so a job waiting on the same title never
	// loses files it writes later.
	defer func() {
		if res.outcome != outcomeSuccess {
			r.removeWritten()
		}
		release()
	}()

	audioPath, videoPath, res := r.fetch(ctx, manifest, px, title)
	if res.outcome != outcomeSuccess {
		return res, true
	}

	output := audioPath
	if r.job.Kind.NeedsVideo() {
		output = videoPath
	}

	if r.job.Kind.NeedsMux() {
		if err := r.transition(domain.JobStateMuxing); err != nil {
			return stepResult{outcome: outcomeOtherFailure, err: err}, true
		}
		output = r.layout.CompletedPath(title)
		r.targets[output] = struct{}{}
		if err := r.muxer.Mux(ctx, audioPath, videoPath, output); err != nil {
			storage.RemovePartials(output)
			return stepResult{outcome: outcomeOtherFailure, err: err}, true
		}
		if !r.layout.KeepIntermediate() {
			if err := storage.Remove(audioPath, videoPath); err != nil {
				r.logger.Warn("failed to remove intermediate files", "error", err)
			}
			delete(r.written, audioPath)
			delete(r.written, videoPath)
		}
	}

	if err := r.job.MarkSucceeded(output); err != nil {
		return stepResult{outcome: outcomeOtherFailure, err: err}, true
	}
	r.notify()
	r.metrics.ObserveFinished(string(r.job.Kind), string(r.job.State), r.job.Attempt)
	r.logger.Info("job succeeded", "output", output, "attempts", r.job.Attempt)
	return ok(), true
}

// fetch downloads the streams the job kind needs. Audio and video are
// fetched concurrently; the first failure cancels the other.
func (r *run) fetch(ctx context.Context, m *domain.Manifest, px domain.Proxy, title string) (string, string, stepResult) {
	var audio, video domain.StreamDescriptor
	var err error

	if r.job.Kind.NeedsAudio() {
		if audio, err = m.BestAudio(); err != nil {
			return "", "", stepResult{outcome: outcomeOtherFailure, err: fmt.Errorf("audio: %w", err)}
		}
	}
	if r.job.Kind.NeedsVideo() {
		if video, err = m.BestVideo(); err != nil {
			return "", "", stepResult{outcome: outcomeOtherFailure, err: fmt.Errorf("video: %w", err)}
		}
	}

	if err := r.layout.EnsureDirs(); err != nil {
		return "", "", stepResult{outcome: outcomeOtherFailure, err: err}
	}
	if err := r.layout.CheckFreeSpace(); err != nil {
		return "", "", stepResult{outcome: outcomeOtherFailure, err: err}
	}

	var audioPath, videoPath string
	var audioDone, videoDone bool
	g, gctx := errgroup.WithContext(ctx)
	if r.job.Kind.NeedsAudio() {
		audioPath = r.layout.StreamPath(domain.StreamKindAudio, title, audio.ContainerFormat)
		r.targets[audioPath] = struct{}{}
		g.Go(func() error {
			if err := r.fetcher.Fetch(gctx, audio, audioPath); err != nil {
				return err
			}
			audioDone = true
			return nil
		})
	}
	if r.job.Kind.NeedsVideo() {
		videoPath = r.layout.StreamPath(domain.StreamKindVideo, title, video.ContainerFormat)
		r.targets[videoPath] = struct{}{}
		g.Go(func() error {
			if err := r.fetcher.Fetch(gctx, video, videoPath); err != nil {
				return err
			}
			videoDone = true
			return nil
		})
	}

	err = g.Wait()
	if audioDone {
		r.written[audioPath] = struct{}{}
	}
	if videoDone {
		r.written[videoPath] = struct{}{}
	}
	if err != nil {
		return "", "", classify(err, px)
	}
	return audioPath, videoPath, ok()
}

// classify decides whether err should be blamed on the proxy.
func classify(err error, px domain.Proxy) stepResult {
	if errors.Is(err, domain.ErrMetadataParse) || errors.Is(err, domain.ErrMetadataShape) {
		return stepResult{outcome: outcomeProxyFailure, err: err}
	}
	var fe *domain.FetchError
	if errors.As(err, &fe) && fe.Connectivity && sameHost(fe.URL, px.URL) {
		return stepResult{outcome: outcomeProxyFailure, err: err}
	}
	return stepResult{outcome: outcomeOtherFailure, err: err}
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && ua.Hostname() == ub.Hostname()
}

func (r *run) transition(to domain.JobState) error {
	if err := r.job.Transition(to); err != nil {
		return domain.NewJobError(r.job.ID, "transition", err)
	}
	r.metrics.ObserveTransition(string(to))
	r.notify()
	return nil
}

func (r *run) notify() {
	if r.observe != nil {
		r.observe(r.job.Clone())
	}
}

// fail finishes the job as FAILED. LastError keeps the step error; the
// returned error also wraps reason.
func (r *run) fail(err, reason error) error {
	r.removeWritten()
	if mErr := r.job.MarkFailed(err); mErr != nil {
		return domain.NewJobError(r.job.ID, "fail", mErr)
	}
	r.metrics.ObserveTransition(string(domain.JobStateFailed))
	r.metrics.ObserveFinished(string(r.job.Kind), string(r.job.State), r.job.Attempt)
	r.notify()

	r.logger.Error("job failed", "attempts", r.job.Attempt, "error", err)
	if errors.Is(err, reason) {
		return domain.NewJobError(r.job.ID, "run", err)
	}
	return domain.NewJobError(r.job.ID, "run", fmt.Errorf("%w: %w", reason, err))
}

// cancel finishes the job as CANCELLED and deletes the files it wrote.
func (r *run) cancel() error {
	r.removeWritten()
	if err := r.job.MarkCancelled(); err != nil {
		return domain.NewJobError(r.job.ID, "cancel", err)
	}
	r.metrics.ObserveTransition(string(domain.JobStateCancelled))
	r.metrics.ObserveFinished(string(r.job.Kind), string(r.job.State), r.job.Attempt)
	r.notify()

	r.logger.Info("job cancelled", "attempts", r.job.Attempt)
	return domain.NewJobError(r.job.ID, "run", domain.ErrJobCancelled)
}

// removeWritten deletes the finished files this job produced and the
// partial files of everything it targeted, then forgets them. Files another
// job finished under the same names are left alone.
func (r *run) removeWritten() {
	if len(r.written) == 0 && len(r.targets) == 0 {
		return
	}
	written := make([]string, 0, len(r.written))
	for p := range r.written {
		written = append(written, p)
	}
	targets := make([]string, 0, len(r.targets))
	for p := range r.targets {
		targets = append(targets, p)
	}
	if err := errors.Join(storage.Remove(written...), storage.RemovePartials(targets...)); err != nil {
		r.logger.Warn("failed to remove job files", "error", err)
	}
	clear(r.written)
	clear(r.targets)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/storage"
)

// errStalled is returned by progressReader when no data arrives within
// the read timeout.
var errStalled = errors.New("download stalled")

// HTTPFetcher implements Fetcher with plain GET requests against the
// stream URL.
type HTTPFetcher struct {
	// client has no overall timeout; stalls are caught per read.
	client    *http.Client
	userAgent string
	cfg       config.FetchConfig
	retry     RetryConfig
	logger    *slog.Logger
}

// NewHTTPFetcher creates an HTTP stream fetcher.
func NewHTTPFetcher(cfg config.FetchConfig, logger *slog.Logger) *HTTPFetcher {
	headerTimeout := cfg.HeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &HTTPFetcher{
		client:    &http.Client{Transport: transport},
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}
}

// SetRetryConfig replaces the local retry policy for rate-limited requests.
func (f *HTTPFetcher) SetRetryConfig(cfg RetryConfig) {
	f.retry = cfg
}

// Fetch downloads stream.URL into dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, stream domain.StreamDescriptor, dest string) error {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &domain.FetchError{URL: stream.URL, Err: fmt.Errorf("create output dir: %w", err)}
	}

	return RetryWithCheck(ctx, f.retry, func() error {
		return f.fetchOnce(ctx, stream, dest)
	}, isRetryableError)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, stream domain.StreamDescriptor, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stream.URL, nil)
	if err != nil {
		return &domain.FetchError{URL: stream.URL, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return &domain.FetchError{URL: stream.URL, Connectivity: domain.IsConnectivityError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.FetchError{
			URL:          stream.URL,
			StatusCode:   resp.StatusCode,
			Connectivity: domain.IsConnectivityStatus(resp.StatusCode),
		}
	}

	size := resp.ContentLength
	if size < 0 {
		size = stream.ContentLength
	}

	part := dest + storage.PartSuffix
	out, err := os.Create(part)
	if err != nil {
		return &domain.FetchError{URL: stream.URL, Err: fmt.Errorf("create file: %w", err)}
	}

	reader := newProgressReader(resp.Body, size, f.cfg.ReadTimeout, f.logger, dest)
	written, copyErr := io.Copy(out, reader)
	reader.Close()
	closeErr := out.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr == nil && size > 0 && written < size {
		copyErr = io.ErrUnexpectedEOF
	}
	if copyErr != nil {
		os.Remove(part)
		connectivity := domain.IsConnectivityError(copyErr) || errors.Is(copyErr, errStalled)
		return &domain.FetchError{URL: stream.URL, Connectivity: connectivity, Err: copyErr}
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return &domain.FetchError{URL: stream.URL, Err: fmt.Errorf("finalize file: %w", err)}
	}
	return nil
}

// isRetryableError approves local retries only for rate limiting; every
// other failure goes back to the job so it can fail over.
func isRetryableError(err error) bool {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// progressReader wraps an io.ReadCloser to track download progress
// and detect stalls (no data for readTimeout).
type progressReader struct {
	reader      io.ReadCloser
	total       int64
	downloaded  int64
	readTimeout time.Duration
	lastRead    time.Time
	lastLog     time.Time
	logger      *slog.Logger
	dest        string
	mu          sync.Mutex
	closed      bool
}

func newProgressReader(r io.ReadCloser, total int64, readTimeout time.Duration, logger *slog.Logger, dest string) *progressReader {
	now := time.Now()
	return &progressReader{
		reader:      r,
		total:       total,
		readTimeout: readTimeout,
		lastRead:    now,
		lastLog:     now,
		logger:      logger,
		dest:        dest,
	}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		p.lastRead = time.Now()

		// Log progress every 30 seconds
		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}

	// Check for stall on any read (including zero-byte reads)
	if err == nil && p.readTimeout > 0 && time.Since(p.lastRead) > p.readTimeout {
		return n, fmt.Errorf("%w: no data received for %v", errStalled, p.readTimeout)
	}

	return n, err
}

func (p *progressReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	// Log final progress
	if p.downloaded > 0 {
		p.logProgress()
	}
	p.mu.Unlock()

	return p.reader.Close()
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"file", filepath.Base(p.dest),
			"downloaded", humanize.IBytes(uint64(p.downloaded)),
			"total", humanize.IBytes(uint64(p.total)),
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"file", filepath.Base(p.dest),
			"downloaded", humanize.IBytes(uint64(p.downloaded)),
		)
	}
}

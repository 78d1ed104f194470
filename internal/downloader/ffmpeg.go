package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
	"github.com/iconidentify/vidyodl/internal/storage"
	"github.com/iconidentify/vidyodl/pkg/ffmpeg"
)

// StreamCopier is the part of *ffmpeg.Processor used here.
type StreamCopier interface {
	Copy(ctx context.Context, input, output string, cfg ffmpeg.CopyConfig) error
	Mux(ctx context.Context, audioPath, videoPath, output string) error
}

// FFmpegFetcher implements Fetcher by letting ffmpeg read the stream URL and
// copy it into a container matching the stream format.
type FFmpegFetcher struct {
	proc      StreamCopier
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewFFmpegFetcher creates an ffmpeg-backed fetcher.
func NewFFmpegFetcher(proc StreamCopier, cfg config.FetchConfig, logger *slog.Logger) *FFmpegFetcher {
	return &FFmpegFetcher{
		proc:      proc,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// Fetch copies stream.URL into dest. ffmpeg exit codes do not say whether
// the host was reachable, so these failures never count as connectivity
// loss.
func (f *FFmpegFetcher) Fetch(ctx context.Context, stream domain.StreamDescriptor, dest string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	part := dest + storage.PartSuffix
	cfg := ffmpeg.CopyConfig{
		Format:    storage.ExtensionForFormat(stream.ContainerFormat),
		UserAgent: f.userAgent,
		Audio:     stream.Kind == domain.StreamKindAudio,
	}

	f.logger.Debug("ffmpeg fetch", "dest", dest, "format", cfg.Format)

	if err := f.proc.Copy(ctx, stream.URL, part, cfg); err != nil {
		os.Remove(part)
		return &domain.FetchError{URL: stream.URL, Err: err}
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return &domain.FetchError{URL: stream.URL, Err: fmt.Errorf("finalize file: %w", err)}
	}
	return nil
}

// FFmpegMuxer implements Muxer with an ffmpeg codec-copy mux.
type FFmpegMuxer struct {
	proc   StreamCopier
	logger *slog.Logger
}

// NewFFmpegMuxer creates an ffmpeg-backed muxer.
func NewFFmpegMuxer(proc StreamCopier, logger *slog.Logger) *FFmpegMuxer {
	return &FFmpegMuxer{proc: proc, logger: logger}
}

// Mux combines audioPath and videoPath into output. On failure the .part
// file is removed and an existing output is left untouched.
func (m *FFmpegMuxer) Mux(ctx context.Context, audioPath, videoPath, output string) error {
	part := output + storage.PartSuffix

	if err := m.proc.Mux(ctx, audioPath, videoPath, part); err != nil {
		os.Remove(part)
		muxErr := &domain.MuxError{Output: output, Err: err}
		var fe *ffmpeg.Error
		if errors.As(err, &fe) {
			muxErr.Stderr = fe.Stderr
			muxErr.Err = fe.Err
		}
		return muxErr
	}

	if err := os.Rename(part, output); err != nil {
		os.Remove(part)
		return &domain.MuxError{Output: output, Err: fmt.Errorf("finalize file: %w", err)}
	}

	m.logger.Info("mux complete", "output", output)
	return nil
}

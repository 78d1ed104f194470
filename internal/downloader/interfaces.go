// Package downloader fetches relay streams to disk and muxes them.
package downloader

import (
	"context"

	"github.com/iconidentify/vidyodl/internal/domain"
)

// Fetcher downloads one stream to dest. Implementations write to a
// sibling .part file and rename on success, so dest exists only when
// complete. Failures are returned as *domain.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, stream domain.StreamDescriptor, dest string) error
}

// Muxer combines an audio and a video file into output. Failures are
// returned as *domain.MuxError and leave no file at output.
type Muxer interface {
	Mux(ctx context.Context, audioPath, videoPath, output string) error
}

// Package storage decides where downloaded and muxed files live on disk.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/vidyodl/internal/config"
	"github.com/iconidentify/vidyodl/internal/domain"
)

const (
	audioDir     = "audio"
	videoDir     = "video"
	completedDir = "completed"

	// MuxExtension is the container written by the mux step.
	MuxExtension = "mp4"

	// PartSuffix marks a file that is still being written.
	PartSuffix = ".part"

	maxTitleBytes = 150
)

// formatExtensions maps relay container formats to file extensions.
var formatExtensions = map[string]string{
	"M4A":          "mp4",
	"MPEG_4":       "mp4",
	"WEBMA_OPUS":   "webm",
	"WEBMA_VORBIS": "webm",
	"WEBM":         "webm",
	"WEBM_OPUS":    "webm",
	"WEBM_VORBIS":  "webm",
}

// ExtensionForFormat returns the file extension for a container format.
// Unknown formats are written as mp4.
func ExtensionForFormat(format string) string {
	if ext, ok := formatExtensions[strings.ToUpper(format)]; ok {
		return ext
	}
	return "mp4"
}

// KnownFormats lists every container format with an explicit mapping.
func KnownFormats() []string {
	out := make([]string, 0, len(formatExtensions))
	for f := range formatExtensions {
		out = append(out, f)
	}
	return out
}

// Layout is the output directory tree:
//
//	{root}/audio/audio_{title}.{ext}
//	{root}/video/video_{title}.{ext}
//	{root}/completed/{title}.mp4
type Layout struct {
	root             string
	minFreeBytes     int64
	keepIntermediate bool
}

// NewLayout creates a layout rooted at cfg.DownloadPath.
func NewLayout(cfg config.StorageConfig) *Layout {
	return &Layout{
		root:             cfg.DownloadPath,
		minFreeBytes:     cfg.MinFreeBytes,
		keepIntermediate: cfg.KeepIntermediate,
	}
}

// Root returns the root directory.
func (l *Layout) Root() string { return l.root }

// KeepIntermediate reports whether fetched streams survive a successful mux.
func (l *Layout) KeepIntermediate() bool { return l.keepIntermediate }

// StreamPath returns where a fetched stream of kind is written.
func (l *Layout) StreamPath(kind domain.StreamKind, title, format string) string {
	dir := videoDir
	if kind == domain.StreamKindAudio {
		dir = audioDir
	}
	name := fmt.Sprintf("%s_%s.%s", dir, title, ExtensionForFormat(format))
	return filepath.Join(l.root, dir, name)
}

// CompletedPath returns where the muxed file for title is written.
func (l *Layout) CompletedPath(title string) string {
	return filepath.Join(l.root, completedDir, title+"."+MuxExtension)
}

// EnsureDirs creates the audio, video and completed directories.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{audioDir, videoDir, completedDir} {
		if err := os.MkdirAll(filepath.Join(l.root, dir), 0755); err != nil {
			return fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return nil
}

// CheckFreeSpace fails with ErrStorageFull when the root has less free
// space than configured. A zero threshold or an unreadable filesystem
// passes.
func (l *Layout) CheckFreeSpace() error {
	if l.minFreeBytes <= 0 {
		return nil
	}
	free, err := availableBytes(l.root)
	if err != nil {
		return nil
	}
	if free < l.minFreeBytes {
		return fmt.Errorf("%w: %s free, %s required", domain.ErrStorageFull,
			humanize.IBytes(uint64(free)), humanize.IBytes(uint64(l.minFreeBytes)))
	}
	return nil
}

// FreeBytes reports the free space under the root, or 0 if unknown.
func (l *Layout) FreeBytes() int64 {
	free, err := availableBytes(l.root)
	if err != nil {
		return 0
	}
	return free
}

// Remove deletes paths and their .part siblings. Missing files are not an
// error.
func Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		for _, candidate := range []string{p, p + PartSuffix} {
			if err := os.Remove(candidate); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RemovePartials deletes only the .part siblings of paths, leaving any
// finished file in place. Missing files are not an error.
func RemovePartials(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p + PartSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SanitizeTitle turns a content title into a safe file name stem. Case and
// inner spaces are kept. An empty result falls back to fallback.
func SanitizeTitle(title, fallback string) string {
	s := strings.TrimSpace(title)

	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\n", "\r", "\t", "\x00"}
	for _, char := range invalid {
		s = strings.ReplaceAll(s, char, "_")
	}

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_. ")

	if len(s) > maxTitleBytes {
		s = s[:maxTitleBytes]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
		s = strings.TrimRight(s, "_. ")
	}

	if s == "" {
		s = SanitizeTitle(fallback, "download")
	}
	return s
}

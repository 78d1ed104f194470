// Package ffmpeg wraps the ffmpeg binary for stream copy and muxing.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxStderr bounds how much ffmpeg output is kept for error messages.
const maxStderr = 4096

// Error is returned when ffmpeg exits non-zero or cannot be started.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := "ffmpeg: " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Processor runs ffmpeg commands.
type Processor struct {
	ffmpegPath string
}

// NewProcessor resolves path (a name on PATH or a file) to an executable.
func NewProcessor(path string) (*Processor, error) {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &Processor{ffmpegPath: resolved}, nil
}

// Path returns the resolved ffmpeg executable.
func (p *Processor) Path() string {
	return p.ffmpegPath
}

// CopyConfig configures a stream copy.
type CopyConfig struct {
	// Format is the output muxer, e.g. "mp4" or "webm".
	Format string
	// UserAgent is sent when the input is an HTTP URL.
	UserAgent string
	// Audio selects audio codec copy; otherwise video codec copy.
	Audio bool
}

// CopyArgs builds the arguments for copying input to output without
// re-encoding.
func CopyArgs(input, output string, cfg CopyConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if cfg.UserAgent != "" && (strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")) {
		args = append(args, "-user_agent", cfg.UserAgent)
	}
	args = append(args, "-i", input)
	if cfg.Audio {
		args = append(args, "-acodec", "copy")
	} else {
		args = append(args, "-vcodec", "copy")
	}
	args = append(args, "-strict", "experimental")
	if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}
	return append(args, output)
}

// MuxArgs builds the arguments for combining an audio and a video file
// into one mp4 container with codec copy.
func MuxArgs(audioPath, videoPath, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", audioPath,
		"-i", videoPath,
		"-map", "1:v:0",
		"-map", "0:a:0",
		"-c:v", "copy",
		"-c:a", "copy",
		"-strict", "experimental",
		"-f", "mp4",
		output,
	}
}

// Copy stream-copies input (a file or URL) into output.
func (p *Processor) Copy(ctx context.Context, input, output string, cfg CopyConfig) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return p.run(ctx, CopyArgs(input, output, cfg))
}

// Mux combines audioPath and videoPath into output.
func (p *Processor) Mux(ctx context.Context, audioPath, videoPath, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return p.run(ctx, MuxArgs(audioPath, videoPath, output))
}

func (p *Processor) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Args: args, Stderr: tail(stderr.String(), maxStderr), Err: err}
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (p *Processor) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, p.ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

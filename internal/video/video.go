package video

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/companyzero/screenrec/internal/capture"
	"github.com/decred/slog"
)

var (
	// ErrFrameSize is returned when a frame does not match the size the
	// writer was opened with.
	ErrFrameSize = errors.New("frame size does not match video size")

	ErrWriterClosed = errors.New("video writer closed")
)

// Kind is the intermediate video encoding.
type Kind string

const (
	// KindMJPEG writes JPEG frames to an AVI container.
	KindMJPEG Kind = "mjpeg"

	// KindX264 pipes raw frames to ffmpeg producing lossless H.264 in a
	// Matroska container.
	KindX264 Kind = "x264"
)

// Ext is the file extension (without the dot) of the intermediate container.
func (k Kind) Ext() string {
	if k == KindX264 {
		return "mkv"
	}
	return "avi"
}

// Writer appends frames to an intermediate video file. Every frame is timed
// at exactly 1/fps. Writers are used from a single goroutine except for
// Close, which may be called concurrently to force the writer shut.
type Writer interface {
	// Append adds a frame to the video. Frames that do not match the
	// configured size fail with ErrFrameSize.
	Append(f *capture.Frame) error

	// Close finalizes the file. Appends after Close fail with
	// ErrWriterClosed.
	Close() error

	// Frames is the number of frames appended.
	Frames() int

	// Path is the path of the output file.
	Path() string
}

// Config is the configuration for opening a writer.
type Config struct {
	// Base is the output path without extension.
	Base   string
	Width  int
	Height int
	FPS    int

	// Quality is the JPEG quality of MJPEG frames (1-100).
	Quality int

	// FFmpeg is the path to the ffmpeg binary used by the x264 kind.
	FFmpeg string
}

func (cfg *Config) check() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", cfg.FPS)
	}
	return nil
}

func (cfg *Config) checkFrame(f *capture.Frame) error {
	if f.Width != cfg.Width || f.Height != cfg.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize,
			f.Width, f.Height, cfg.Width, cfg.Height)
	}
	return nil
}

// Open opens a writer of the given kind. When the x264 kind is requested but
// ffmpeg cannot be found, an MJPEG writer is opened instead.
func Open(kind Kind, cfg Config, log slog.Logger) (Writer, error) {
	if log == nil {
		log = slog.Disabled
	}
	if kind == KindX264 {
		if cfg.FFmpeg == "" {
			cfg.FFmpeg = "ffmpeg"
		}
		if _, err := exec.LookPath(cfg.FFmpeg); err == nil {
			return NewPipeWriter(cfg, log)
		}
		log.Warnf("ffmpeg not found at %q; using %s intermediate",
			cfg.FFmpeg, KindMJPEG)
	}
	return NewMJPEGWriter(cfg, log)
}

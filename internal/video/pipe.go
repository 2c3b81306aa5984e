package video

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/companyzero/screenrec/internal/capture"
	"github.com/decred/slog"
)

// PipeWriter streams raw RGB frames into an ffmpeg process that encodes them
// as lossless H.264.
type PipeWriter struct {
	cfg  Config
	log  slog.Logger
	path string

	encoder *exec.Cmd
	stderr  bytes.Buffer

	mtx    sync.Mutex
	pipe   io.WriteCloser
	frames int
	closed bool
}

// pipeArgs returns the ffmpeg arguments for encoding raw frames read from
// stdin into path.
func pipeArgs(cfg Config, path string) []string {
	return []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FPS),
		"-i", "-",
		"-c:v", "libx264",
		"-qp", "0",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv444p",
		"-y",
		path,
	}
}

// NewPipeWriter starts ffmpeg writing to <cfg.Base>.mkv.
func NewPipeWriter(cfg Config, log slog.Logger) (*PipeWriter, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Disabled
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	path := cfg.Base + "." + KindX264.Ext()
	cmd := exec.Command(cfg.FFmpeg, pipeArgs(cfg, path)...)
	return startPipeWriter(cfg, cmd, path, log)
}

func startPipeWriter(cfg Config, cmd *exec.Cmd, path string, log slog.Logger) (*PipeWriter, error) {
	w := &PipeWriter{
		cfg:     cfg,
		log:     log,
		path:    path,
		encoder: cmd,
	}
	cmd.Stderr = &w.stderr

	var err error
	w.pipe, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	log.Debugf("Started ffmpeg pipe writer %s (%dx%d @ %d fps)", path,
		cfg.Width, cfg.Height, cfg.FPS)
	return w, nil
}

// Append is part of the Writer interface.
func (w *PipeWriter) Append(f *capture.Frame) error {
	if err := w.cfg.checkFrame(f); err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.pipe.Write(f.Pix); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	w.frames++
	return nil
}

// Close closes the pipe and waits for ffmpeg to finish encoding.
func (w *PipeWriter) Close() error {
	w.mtx.Lock()
	if w.closed {
		w.mtx.Unlock()
		return ErrWriterClosed
	}
	w.closed = true
	pipeErr := w.pipe.Close()
	w.mtx.Unlock()

	if err := w.encoder.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(w.stderr.Bytes()))
	}
	return pipeErr
}

// Frames is part of the Writer interface.
func (w *PipeWriter) Frames() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.frames
}

// Path is part of the Writer interface.
func (w *PipeWriter) Path() string { return w.path }

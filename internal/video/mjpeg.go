package video

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/companyzero/screenrec/internal/capture"
	"github.com/decred/slog"
	"github.com/icza/mjpeg"
)

const defaultJPEGQuality = 95

// MJPEGWriter writes frames as JPEG images into an AVI container.
type MJPEGWriter struct {
	cfg  Config
	log  slog.Logger
	path string
	opts jpeg.Options

	mtx    sync.Mutex
	aw     mjpeg.AviWriter
	rgba   *image.RGBA
	buf    bytes.Buffer
	frames int
	closed bool
}

// NewMJPEGWriter creates <cfg.Base>.avi.
func NewMJPEGWriter(cfg Config, log slog.Logger) (*MJPEGWriter, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Disabled
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = defaultJPEGQuality
	}
	path := cfg.Base + "." + KindMJPEG.Ext()
	aw, err := mjpeg.New(path, int32(cfg.Width), int32(cfg.Height), int32(cfg.FPS))
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened MJPEG writer %s (%dx%d @ %d fps)", path,
		cfg.Width, cfg.Height, cfg.FPS)
	return &MJPEGWriter{
		cfg:  cfg,
		log:  log,
		path: path,
		opts: jpeg.Options{Quality: cfg.Quality},
		aw:   aw,
	}, nil
}

// Append is part of the Writer interface.
func (w *MJPEGWriter) Append(f *capture.Frame) error {
	if err := w.cfg.checkFrame(f); err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	w.rgba = f.ToRGBA(w.rgba)
	w.buf.Reset()
	if err := jpeg.Encode(&w.buf, w.rgba, &w.opts); err != nil {
		return err
	}
	if err := w.aw.AddFrame(w.buf.Bytes()); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Close is part of the Writer interface.
func (w *MJPEGWriter) Close() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	return w.aw.Close()
}

// Frames is part of the Writer interface.
func (w *MJPEGWriter) Frames() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.frames
}

// Path is part of the Writer interface.
func (w *MJPEGWriter) Path() string { return w.path }

package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// popTimeout is how long the writer waits for a block before checking again.
const popTimeout = 100 * time.Millisecond

// WavWriter serializes sample blocks to a 16-bit PCM WAV file.
type WavWriter struct {
	log      slog.Logger
	path     string
	f        *os.File
	enc      *wav.Encoder
	buf      *audio.IntBuffer
	channels int
	rate     int
	frames   uint64

	closeOnce sync.Once
	closeErr  error
}

// NewWavWriter creates the file at path. The file must not exist yet.
func NewWavWriter(path string, sampleRate, channels int, log slog.Logger) (*WavWriter, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %d Hz %d channels", sampleRate, channels)
	}
	if log == nil {
		log = slog.Disabled
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, channels, 1)
	return &WavWriter{
		log:  log,
		path: path,
		f:    f,
		enc:  enc,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: wavBitDepth,
		},
		channels: channels,
		rate:     sampleRate,
	}, nil
}

// Path is the output file path.
func (w *WavWriter) Path() string { return w.path }

// Frames is the number of sample frames written so far.
func (w *WavWriter) Frames() uint64 { return w.frames }

// SampleRate is the sample rate of the file.
func (w *WavWriter) SampleRate() int { return w.rate }

// floatToS16 clips f to [-1, 1] and scales it to a signed 16 bit sample.
func floatToS16(f float32) int {
	switch {
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	return int(f * 32767)
}

// Write appends a block to the file. Blocks with a different channel count
// than the file are rejected.
func (w *WavWriter) Write(b SampleBlock) error {
	if b.Channels != w.channels {
		return fmt.Errorf("block has %d channels, file has %d",
			b.Channels, w.channels)
	}
	n := b.Frames() * b.Channels
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i := 0; i < n; i++ {
		w.buf.Data[i] = floatToS16(b.Samples[i])
	}
	if err := w.enc.Write(w.buf); err != nil {
		return err
	}
	w.frames += uint64(b.Frames())
	return nil
}

// Close flushes the WAV header and closes the file. Only the first call has
// any effect. A file with no frames still gets a complete header.
func (w *WavWriter) Close() error {
	w.closeOnce.Do(func() {
		var hdrErr error
		if w.frames == 0 {
			// The encoder only writes the header along with the first
			// buffer.
			w.buf.Data = w.buf.Data[:0]
			hdrErr = w.enc.Write(w.buf)
		}
		encErr := w.enc.Close()
		fErr := w.f.Close()
		w.closeErr = errors.Join(hdrErr, encErr, fErr)
	})
	return w.closeErr
}

// Run drains q into the file until the queue is closed and empty, then
// closes the file.
func (w *WavWriter) Run(q *SampleQueue) error {
	var writeErr error
	for {
		b, err := q.Pop(popTimeout)
		if errors.Is(err, ErrQueueTimeout) {
			continue
		}
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if writeErr != nil {
			// Keep draining so the producer side never sees a full
			// queue due to a dead writer.
			continue
		}
		if err := w.Write(b); err != nil {
			w.log.Errorf("Unable to write audio samples to %s: %v", w.path, err)
			writeErr = err
		}
	}

	closeErr := w.Close()
	w.log.Debugf("Audio writer drained: %d frames (%s) written to %s",
		w.frames, w.Duration(), w.path)
	return errors.Join(writeErr, closeErr)
}

// Duration is the duration of the audio written so far.
func (w *WavWriter) Duration() time.Duration {
	return time.Duration(w.frames) * time.Second / time.Duration(w.rate)
}

package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
)

// Source captures samples from a device into a SampleQueue.
type Source struct {
	log      slog.Logger
	queue    *SampleQueue
	channels int
	device   CaptureDevice

	paused  atomic.Bool
	closing atomic.Bool
	blocks  atomic.Uint64

	failed   chan struct{}
	failOnce sync.Once
}

// OpenSource opens and starts a capture device on backend. Every delivered
// block is pushed into q.
func OpenSource(backend Backend, cfg CaptureConfig, q *SampleQueue, log slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Disabled
	}
	s := &Source{
		log:      log,
		queue:    q,
		channels: cfg.Channels,
		failed:   make(chan struct{}),
	}

	device, err := backend.InitCapture(cfg, s.onData, s.onStop)
	if err != nil {
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, err
	}
	s.device = device
	log.Debugf("Started %s capture device %q (%d Hz, %d channels)",
		backend.Name(), cfg.DeviceID, cfg.SampleRate, cfg.Channels)
	return s, nil
}

func (s *Source) onData(_, in []byte, framecount uint32) {
	if s.closing.Load() || s.paused.Load() {
		return
	}

	n := int(framecount) * s.channels
	if len(in) < n*rawFormatSampleSize {
		n = len(in) / rawFormatSampleSize
	}
	samples := make([]float32, n)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(in[i*rawFormatSampleSize:])
		samples[i] = math.Float32frombits(bits)
	}

	s.blocks.Add(1)
	if !s.queue.Push(SampleBlock{Samples: samples, Channels: s.channels}) {
		s.log.Tracef("Dropped audio block (queue len %d)", s.queue.Len())
	}
}

func (s *Source) onStop() {
	if s.closing.Load() {
		return
	}
	s.failOnce.Do(func() {
		s.log.Warnf("Audio capture device stopped unexpectedly")
		close(s.failed)
	})
}

// SetPaused controls whether delivered blocks are discarded.
func (s *Source) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// Blocks is the number of blocks delivered while not paused.
func (s *Source) Blocks() uint64 {
	return s.blocks.Load()
}

// Failed is closed if the device stops without Close being called.
func (s *Source) Failed() <-chan struct{} {
	return s.failed
}

// Close stops and releases the device. It does not close the queue.
func (s *Source) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.device.Stop()
	s.device.Uninit()

	// Wait for any outstanding callback to be executed.
	time.Sleep(time.Millisecond * periodSizeMS * 2)
	return err
}

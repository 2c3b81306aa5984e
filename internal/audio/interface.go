package audio

import (
	"errors"
)

var (
	// ErrAudioDisabled is returned when the binary was built without an
	// audio backend.
	ErrAudioDisabled = errors.New("audio was disabled during compilation")

	ErrQueueClosed  = errors.New("sample queue closed")
	ErrQueueTimeout = errors.New("timeout waiting for samples")
)

// periodSizeMS is the size of each block delivered by the capture device, in
// milliseconds.
const periodSizeMS = 20

// rawFormatSampleSize is the size in bytes of each raw sample (float32).
const rawFormatSampleSize = 4

// DeviceID identifies a capture device. The empty ID selects the system-wide
// default input device.
type DeviceID string

// Device is an audio capture device.
type Device struct {
	ID        DeviceID `json:"id"`
	Name      string   `json:"name"`
	IsDefault bool     `json:"is_default"`
}

// CaptureConfig is the format requested from a capture device.
type CaptureConfig struct {
	DeviceID   DeviceID
	SampleRate int
	Channels   int
}

// DataProc is called by the backend with raw little-endian float32
// interleaved samples. It runs on a backend-owned thread and must not block.
type DataProc func(out, in []byte, framecount uint32)

// CaptureDevice is an opened capture device.
type CaptureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

// Backend is the OS audio subsystem.
type Backend interface {
	Name() string

	// InitCapture opens a capture device. The stop callback is invoked
	// if the device stops on its own (for example because it was
	// unplugged).
	InitCapture(cfg CaptureConfig, data DataProc, stop func()) (CaptureDevice, error)

	// Free releases the backend.
	Free() error
}

// newBackend is set by the build-specific backend.
var newBackend func() (Backend, error)

// NewBackend returns the audio backend this binary was built with.
func NewBackend() (Backend, error) {
	return newBackend()
}

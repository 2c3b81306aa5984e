//go:build !cgo || noaudio

// This backend is only used in cgo-less and noaudio builds.

package audio

import (
	"github.com/decred/slog"
)

func init() {
	newBackend = newNullBackend
}

type nullBackend struct{}

func newNullBackend() (Backend, error) {
	return nullBackend{}, nil
}

func (_ nullBackend) Name() string { return "nullaudio" }

func (_ nullBackend) InitCapture(cfg CaptureConfig, data DataProc, stop func()) (CaptureDevice, error) {
	return nil, ErrAudioDisabled
}

func (_ nullBackend) Free() error { return nil }

func ListDevices(log slog.Logger) ([]Device, error) {
	return nil, ErrAudioDisabled
}

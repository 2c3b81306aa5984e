//go:build cgo && !noaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"

	"github.com/decred/slog"
	"github.com/gen2brain/malgo"
)

// rawFormat is the sample format requested from capture devices.
var rawFormat = malgo.FormatF32

func init() {
	newBackend = newMalgoBackend
}

// toMalgoDeviceID converts a device id to a malgo device id.
func (id DeviceID) toMalgoDeviceID() malgo.DeviceID {
	var res malgo.DeviceID
	if runtime.GOOS == "android" {
		i, err := strconv.ParseInt(string(id), 10, 32)
		if err == nil {
			binary.LittleEndian.PutUint32(res[:], uint32(i))
		}
	} else {
		copy(res[:], id)
	}
	return res
}

// emptyDeviceID is an empty malgo device id.
var emptyDeviceID malgo.DeviceID

// ListDevices lists the available capture devices.
func ListDevices(log slog.Logger) ([]Device, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	devices, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(devices))
	seen := make(map[DeviceID]struct{}, len(devices))
	for _, dev := range devices {
		full, err := malgoCtx.DeviceInfo(malgo.Capture, dev.ID, malgo.Shared)
		if err != nil {
			log.Warnf("Unable to get audio device info: %v", err)
			continue
		}

		// Avoid duplicate device IDs.
		id := DeviceID(string(append([]byte(nil), full.ID[:]...)))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// malgoBackend is an implementation of Backend which offloads the work to the
// malgo library.
type malgoBackend struct {
	malgoCtx *malgo.AllocatedContext
}

func newMalgoBackend() (Backend, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoBackend{malgoCtx: malgoCtx}, nil
}

func (mb *malgoBackend) Name() string {
	return "malgo"
}

func (mb *malgoBackend) Free() error {
	if err := mb.malgoCtx.Uninit(); err != nil {
		return err
	}
	mb.malgoCtx.Free()
	return nil
}

// InitCapture is part of the Backend interface.
func (mb *malgoBackend) InitCapture(cfg CaptureConfig, data DataProc, stop func()) (CaptureDevice, error) {
	// Sanity check.
	sampleSizeInBytes := malgo.SampleSizeInBytes(rawFormat)
	if sampleSizeInBytes != rawFormatSampleSize {
		return nil, fmt.Errorf("malgo raw format has wrong sample size "+
			"(got %d, want %d)", sampleSizeInBytes, rawFormatSampleSize)
	}

	malgoDeviceID := cfg.DeviceID.toMalgoDeviceID()
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = periodSizeMS
	if malgoDeviceID != emptyDeviceID {
		deviceConfig.Capture.DeviceID = malgoDeviceID.Pointer()
	}
	deviceConfig.Capture.Format = rawFormat
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Alsa.NoMMap = 1

	captureCallbacks := malgo.DeviceCallbacks{
		Data: malgo.DataProc(data),
		Stop: stop,
	}

	device, err := malgo.InitDevice(mb.malgoCtx.Context, deviceConfig, captureCallbacks)
	if err != nil {
		return nil, err
	}
	return device, nil
}

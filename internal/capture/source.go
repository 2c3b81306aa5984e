package capture

import (
	"fmt"

	"github.com/decred/slog"
	"github.com/kbinani/screenshot"
)

// Source grabs bitmaps of screen regions.
//
// Implementations must be safe to call from the capture goroutine without
// sharing mutable state across calls.
type Source interface {
	// Displays lists the geometry of the active displays. The first one
	// is the primary display.
	Displays() ([]Region, error)

	// Grab returns the current content of the region as an RGB frame.
	Grab(r Region) (*Frame, error)
}

// ScreenSource captures the screen through the OS screen capture API.
// The underlying library acquires a fresh connection/device context for every
// capture, so no handle outlives a Grab call.
type ScreenSource struct {
	log slog.Logger
}

// NewScreenSource returns a Source backed by the OS screen.
func NewScreenSource(log slog.Logger) *ScreenSource {
	if log == nil {
		log = slog.Disabled
	}
	return &ScreenSource{log: log}
}

// Displays is part of the Source interface.
func (s *ScreenSource) Displays() ([]Region, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoDisplays
	}
	res := make([]Region, 0, n)
	for i := 0; i < n; i++ {
		r := RegionFromRect(screenshot.GetDisplayBounds(i))
		s.log.Tracef("Display %d: %s", i, r)
		res = append(res, r)
	}
	return res, nil
}

// Grab is part of the Source interface.
func (s *ScreenSource) Grab(r Region) (*Frame, error) {
	if r.Empty() {
		return nil, ErrEmptyRegion
	}
	img, err := screenshot.CaptureRect(r.Rect())
	if err != nil {
		return nil, fmt.Errorf("unable to capture %s: %w", r, err)
	}
	return FromRGBA(img), nil
}

package capture

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrEmptyRegion = errors.New("capture region is empty")
	ErrNoDisplays  = errors.New("no active displays")
)

// Mode is how the capture region is chosen.
type Mode string

const (
	ModeFullscreen Mode = "fullscreen"
	ModeCustom     Mode = "custom"
)

// AllDisplays is the monitor index that selects the union of every active
// display.
const AllDisplays = -1

// Region is a rectangle in absolute screen coordinates.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RegionFromRect converts an image rectangle into a region.
func RegionFromRect(r image.Rectangle) Region {
	return Region{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// Empty is true if the region has no pixels.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// ParseRegion parses a region in the "WxH+L+T" format returned by String.
// The offsets may be omitted ("WxH").
func ParseRegion(s string) (Region, error) {
	var r Region
	n, err := fmt.Sscanf(s, "%dx%d+%d+%d", &r.Width, &r.Height, &r.Left, &r.Top)
	if n != 2 && n != 4 {
		return Region{}, fmt.Errorf("invalid region %q: %v", s, err)
	}
	if r.Empty() {
		return Region{}, fmt.Errorf("region %q: %w", s, ErrEmptyRegion)
	}
	return r, nil
}

// ResolveRegion determines the region to record. In fullscreen mode the
// region is the geometry of the given monitor as reported by src (falling back
// to the primary display when the index is out of range) or the union of all
// displays when monitor is AllDisplays. In custom mode the custom region is
// returned as long as it is not empty.
func ResolveRegion(src Source, mode Mode, monitor int, custom Region) (Region, error) {
	switch mode {
	case ModeCustom:
		if custom.Empty() {
			return Region{}, fmt.Errorf("custom region %s: %w", custom, ErrEmptyRegion)
		}
		return custom, nil

	case ModeFullscreen, "":
		displays, err := src.Displays()
		if err != nil {
			return Region{}, fmt.Errorf("unable to enumerate displays: %w", err)
		}
		if len(displays) == 0 {
			return Region{}, ErrNoDisplays
		}
		var res Region
		switch {
		case monitor == AllDisplays:
			union := displays[0].Rect()
			for _, d := range displays[1:] {
				union = union.Union(d.Rect())
			}
			res = RegionFromRect(union)
		case monitor >= 0 && monitor < len(displays):
			res = displays[monitor]
		default:
			res = displays[0]
		}
		if res.Empty() {
			return Region{}, fmt.Errorf("display %d: %w", monitor, ErrEmptyRegion)
		}
		return res, nil

	default:
		return Region{}, fmt.Errorf("unknown region mode %q", mode)
	}
}

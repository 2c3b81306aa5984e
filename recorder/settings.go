package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/video"
)

// Format is the container of the final artifact.
type Format string

const (
	FormatMP4 Format = "mp4"
	FormatAVI Format = "avi"
	FormatMKV Format = "mkv"
)

const (
	minFPS            = 1
	maxFPS            = 120
	defaultFPS        = 20
	minSampleRate     = 8000
	maxSampleRate     = 192000
	defaultSampleRate = 44100
)

// Settings configure recording sessions. The engine snapshots the settings
// when a session starts; changing them afterwards only affects the next
// session.
type Settings struct {
	// Folder is where artifacts are written.
	Folder string

	FPS    int
	Format Format

	// Mode selects between recording a full display or Region.
	Mode capture.Mode

	// Monitor is the display recorded in fullscreen mode. 0 is the
	// primary display and capture.AllDisplays records all of them.
	Monitor int

	// Region is the rectangle recorded in custom mode.
	Region capture.Region

	// Intermediate is the encoding of the raw video file.
	Intermediate video.Kind
	JPEGQuality  int

	AudioEnabled bool
	AudioDevice  audio.DeviceID
	SampleRate   int
	Channels     int

	// AudioQueue is how much audio may be buffered between the capture
	// device and the writer.
	AudioQueue time.Duration

	// FFmpeg is the path to the external tool.
	FFmpeg string

	// SyncStretch enables tempo-adjusting audio to the video duration
	// when muxing.
	SyncStretch bool

	// StopTimeout bounds each join performed while stopping a session.
	StopTimeout time.Duration

	// MaxDuration automatically stops sessions after this long. Zero
	// means no limit.
	MaxDuration time.Duration

	// StatsInterval is the interval for logging stats of the active
	// session. Zero disables the report.
	StatsInterval time.Duration
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		Folder:        ".",
		FPS:           defaultFPS,
		Format:        FormatMP4,
		Mode:          capture.ModeFullscreen,
		Intermediate:  video.KindMJPEG,
		JPEGQuality:   95,
		AudioEnabled:  true,
		SampleRate:    defaultSampleRate,
		Channels:      1,
		AudioQueue:    10 * time.Second,
		FFmpeg:        "ffmpeg",
		SyncStretch:   true,
		StopTimeout:   5 * time.Second,
		StatsInterval: 30 * time.Second,
	}
}

func clamp(v, min, max int) int {
	switch {
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}

// Normalize returns a copy of the settings with out-of-range values clamped
// and unset values defaulted. An error wrapping ErrInvalidSettings is
// returned for values that cannot be interpreted.
func (s Settings) Normalize() (Settings, error) {
	def := DefaultSettings()

	if s.Folder == "" {
		s.Folder = def.Folder
	}

	if s.FPS == 0 {
		s.FPS = def.FPS
	}
	s.FPS = clamp(s.FPS, minFPS, maxFPS)

	s.Format = Format(strings.ToLower(strings.TrimSpace(string(s.Format))))
	switch s.Format {
	case "":
		s.Format = def.Format
	case FormatMP4, FormatAVI, FormatMKV:
	default:
		return s, fmt.Errorf("%w: unknown format %q", ErrInvalidSettings, s.Format)
	}

	switch s.Mode {
	case "":
		s.Mode = capture.ModeFullscreen
	case capture.ModeFullscreen, capture.ModeCustom:
	default:
		return s, fmt.Errorf("%w: unknown region mode %q", ErrInvalidSettings, s.Mode)
	}
	if s.Monitor < capture.AllDisplays {
		s.Monitor = 0
	}

	switch s.Intermediate {
	case "":
		s.Intermediate = def.Intermediate
	case video.KindMJPEG, video.KindX264:
	default:
		return s, fmt.Errorf("%w: unknown intermediate %q", ErrInvalidSettings, s.Intermediate)
	}
	if s.JPEGQuality <= 0 || s.JPEGQuality > 100 {
		s.JPEGQuality = def.JPEGQuality
	}

	if s.SampleRate == 0 {
		s.SampleRate = def.SampleRate
	}
	s.SampleRate = clamp(s.SampleRate, minSampleRate, maxSampleRate)
	s.Channels = clamp(s.Channels, 1, 2)
	if s.AudioQueue <= 0 {
		s.AudioQueue = def.AudioQueue
	}

	if s.FFmpeg == "" {
		s.FFmpeg = def.FFmpeg
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = def.StopTimeout
	}
	if s.MaxDuration < 0 {
		s.MaxDuration = 0
	}
	if s.StatsInterval < 0 {
		s.StatsInterval = 0
	}
	return s, nil
}

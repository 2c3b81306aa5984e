package mux

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/slog"
)

// Outcome is the way a session's artifacts were finalized.
type Outcome string

const (
	// OutcomeMerged means video and audio were combined into the final
	// file and both intermediates were removed.
	OutcomeMerged Outcome = "merged"

	// OutcomeRewrapped means the video-only intermediate was re-wrapped
	// into the requested container.
	OutcomeRewrapped Outcome = "rewrapped"

	// OutcomeRawVideo means the raw video intermediate was kept as the
	// final artifact.
	OutcomeRawVideo Outcome = "raw_video"

	// OutcomeSeparate means merging failed and both the raw video and
	// raw audio files were kept.
	OutcomeSeparate Outcome = "separate"
)

// Input are the artifacts of a session.
type Input struct {
	// Video is the raw video intermediate.
	Video string

	// Audio is the raw audio intermediate. Empty if no audio was
	// recorded.
	Audio string

	// Final is the requested output path. Its extension defines the
	// output container.
	Final string

	// VideoDuration and AudioDuration are the exact durations of the
	// intermediates, used to reconcile the audio tempo. Zero disables
	// the reconciliation.
	VideoDuration time.Duration
	AudioDuration time.Duration
}

// Result is the outcome of muxing.
type Result struct {
	Outcome Outcome

	// Final is the primary artifact.
	Final string

	// Extra are other artifacts that were kept (the raw audio when it
	// could not be merged).
	Extra []string

	// Degraded is a description of why the result does not match what
	// was requested. Empty when it does.
	Degraded string

	// Stretch is the audio tempo factor applied during a merge (1 when
	// none was applied).
	Stretch float64
}

// Config configures a Muxer.
type Config struct {
	// SyncStretch enables tempo-adjusting the audio to match the video
	// duration.
	SyncStretch bool
}

// Muxer combines intermediates into the final artifacts.
type Muxer struct {
	runner Runner
	cfg    Config
	log    slog.Logger
}

// New creates a new muxer that invokes the external tool through runner.
func New(runner Runner, cfg Config, log slog.Logger) *Muxer {
	if log == nil {
		log = slog.Disabled
	}
	return &Muxer{runner: runner, cfg: cfg, log: log}
}

// audioCodec returns the conventional audio codec for a container.
func audioCodec(ext string) string {
	switch ext {
	case "avi":
		return "libmp3lame"
	default:
		return "aac"
	}
}

func fileExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// tempOutput returns the path to write the output to when final would be
// the same file as the input.
func tempOutput(input, final string) string {
	if filepath.Clean(input) != filepath.Clean(final) {
		return final
	}
	ext := filepath.Ext(final)
	return strings.TrimSuffix(final, ext) + ".muxing" + ext
}

// stretchFactor returns the atempo factor that makes audio end with the
// video. It returns 1 when no adjustment is needed or possible.
func stretchFactor(video, audio time.Duration) float64 {
	if video <= 0 || audio <= 0 {
		return 1
	}
	stretch := audio.Seconds() / video.Seconds()
	if math.Abs(stretch-1) <= 0.005 {
		return 1
	}
	if stretch < 0.5 || stretch > 2.0 {
		return 1
	}
	return stretch
}

// Available probes whether the external tool can be run.
func (m *Muxer) Available(ctx context.Context) error {
	if err := m.runner.Run(ctx, "-version"); err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return nil
}

// run runs the tool writing to output and moves the result to final. The
// call is successful only if the tool succeeds and the output exists.
func (m *Muxer) run(ctx context.Context, input, final string, args []string) error {
	out := tempOutput(input, final)
	args = append(args, out)
	err := m.runner.Run(ctx, args...)
	if err == nil && !fileExists(out) {
		err = fmt.Errorf("output %s was not created", out)
	}
	if err != nil {
		if rmErr := os.Remove(out); rmErr == nil {
			m.log.Debugf("Removed partial output %s", out)
		}
		return err
	}
	if out != final {
		if err := os.Rename(out, final); err != nil {
			return err
		}
	}
	return nil
}

func (m *Muxer) remove(path string) {
	if err := os.Remove(path); err != nil {
		m.log.Warnf("Unable to remove intermediate %s: %v", path, err)
	}
}

// merge combines video and audio into the final file.
func (m *Muxer) merge(ctx context.Context, in Input) (float64, error) {
	if err := m.Available(ctx); err != nil {
		return 1, err
	}

	args := []string{
		"-v", "error", "-y",
		"-i", in.Video,
		"-i", in.Audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", audioCodec(fileExt(in.Final)),
	}
	stretch := 1.0
	if m.cfg.SyncStretch {
		stretch = stretchFactor(in.VideoDuration, in.AudioDuration)
		if stretch != 1 {
			m.log.Infof("Adjusting audio tempo by %.4f "+
				"(video %s, audio %s)", stretch,
				in.VideoDuration, in.AudioDuration)
			args = append(args, "-filter:a", fmt.Sprintf("atempo=%f", stretch))
		}
	}
	return stretch, m.run(ctx, in.Video, in.Final, args)
}

// rewrap copies the video stream into the final container.
func (m *Muxer) rewrap(ctx context.Context, in Input) error {
	if err := m.Available(ctx); err != nil {
		return err
	}
	args := []string{
		"-v", "error", "-y",
		"-i", in.Video,
		"-c:v", "copy",
	}
	return m.run(ctx, in.Video, in.Final, args)
}

// Mux finalizes the artifacts of a session. It never fails: problems with the
// external tool are reflected in which files end up in the result.
func (m *Muxer) Mux(ctx context.Context, in Input) Result {
	hasAudio := in.Audio != "" && fileExists(in.Audio)
	if in.Audio != "" && !hasAudio {
		m.log.Warnf("Audio intermediate %s is missing", in.Audio)
	}

	if hasAudio {
		stretch, err := m.merge(ctx, in)
		if err == nil {
			m.log.Infof("Merged %s and %s into %s", filepath.Base(in.Video),
				filepath.Base(in.Audio), filepath.Base(in.Final))
			if filepath.Clean(in.Video) != filepath.Clean(in.Final) {
				m.remove(in.Video)
			}
			m.remove(in.Audio)
			return Result{Outcome: OutcomeMerged, Final: in.Final, Stretch: stretch}
		}

		m.log.Warnf("Unable to merge audio and video: %v", err)
		return Result{
			Outcome:  OutcomeSeparate,
			Final:    in.Video,
			Extra:    []string{in.Audio},
			Degraded: "audio kept separately in " + filepath.Base(in.Audio),
			Stretch:  1,
		}
	}

	if fileExt(in.Video) == fileExt(in.Final) {
		return Result{Outcome: OutcomeRawVideo, Final: in.Video, Stretch: 1}
	}

	err := m.rewrap(ctx, in)
	if err == nil {
		m.log.Infof("Re-wrapped %s into %s", filepath.Base(in.Video),
			filepath.Base(in.Final))
		m.remove(in.Video)
		return Result{Outcome: OutcomeRewrapped, Final: in.Final, Stretch: 1}
	}

	m.log.Warnf("Unable to re-wrap video into %s: %v", fileExt(in.Final), err)
	return Result{
		Outcome: OutcomeRawVideo,
		Final:   in.Video,
		Degraded: fmt.Sprintf("kept %s instead of %s",
			fileExt(in.Video), fileExt(in.Final)),
		Stretch: 1,
	}
}

package recorder

import (
	"errors"
	"testing"
	"time"

	"github.com/companyzero/screenrec/internal/assert"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/mux"
	"github.com/companyzero/screenrec/internal/video"
)

// TestNormalizeSettings asserts out-of-range settings are clamped.
func TestNormalizeSettings(t *testing.T) {
	tests := []struct {
		name  string
		alter func(st *Settings)
		check func(t *testing.T, st Settings)
	}{{
		name:  "defaults are kept",
		alter: func(st *Settings) {},
		check: func(t *testing.T, st Settings) {
			assert.DeepEqual(t, st, DefaultSettings())
		},
	}, {
		name:  "zero fps",
		alter: func(st *Settings) { st.FPS = 0 },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.FPS, 20) },
	}, {
		name:  "negative fps",
		alter: func(st *Settings) { st.FPS = -5 },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.FPS, 1) },
	}, {
		name:  "huge fps",
		alter: func(st *Settings) { st.FPS = 1000 },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.FPS, 120) },
	}, {
		name:  "format case",
		alter: func(st *Settings) { st.Format = " MKV" },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.Format, FormatMKV) },
	}, {
		name:  "empty format",
		alter: func(st *Settings) { st.Format = "" },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.Format, FormatMP4) },
	}, {
		name:  "monitor below all displays",
		alter: func(st *Settings) { st.Monitor = -3 },
		check: func(t *testing.T, st Settings) { assert.DeepEqual(t, st.Monitor, 0) },
	}, {
		name:  "all displays",
		alter: func(st *Settings) { st.Monitor = capture.AllDisplays },
		check: func(t *testing.T, st Settings) {
			assert.DeepEqual(t, st.Monitor, capture.AllDisplays)
		},
	}, {
		name: "audio params",
		alter: func(st *Settings) {
			st.SampleRate = 100
			st.Channels = 6
			st.AudioQueue = -time.Second
		},
		check: func(t *testing.T, st Settings) {
			assert.DeepEqual(t, st.SampleRate, 8000)
			assert.DeepEqual(t, st.Channels, 2)
			assert.DeepEqual(t, st.AudioQueue, 10*time.Second)
		},
	}, {
		name: "timeouts",
		alter: func(st *Settings) {
			st.StopTimeout = 0
			st.MaxDuration = -time.Minute
			st.StatsInterval = -time.Second
		},
		check: func(t *testing.T, st Settings) {
			assert.DeepEqual(t, st.StopTimeout, 5*time.Second)
			assert.DeepEqual(t, st.MaxDuration, time.Duration(0))
			assert.DeepEqual(t, st.StatsInterval, time.Duration(0))
		},
	}, {
		name: "empty strings",
		alter: func(st *Settings) {
			st.Folder = ""
			st.FFmpeg = ""
			st.Mode = ""
			st.Intermediate = ""
			st.JPEGQuality = 101
		},
		check: func(t *testing.T, st Settings) {
			assert.DeepEqual(t, st, DefaultSettings())
		},
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			st := DefaultSettings()
			tc.alter(&st)
			got, err := st.Normalize()
			assert.NilErr(t, err)
			tc.check(t, got)
		})
	}
}

// TestNormalizeInvalidSettings asserts the errors for settings that cannot be
// interpreted.
func TestNormalizeInvalidSettings(t *testing.T) {
	tests := []struct {
		name  string
		alter func(st *Settings)
	}{
		{"format", func(st *Settings) { st.Format = "webm" }},
		{"mode", func(st *Settings) { st.Mode = "window" }},
		{"intermediate", func(st *Settings) { st.Intermediate = video.Kind("vp9") }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			st := DefaultSettings()
			tc.alter(&st)
			_, err := st.Normalize()
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

// TestEventStatus asserts the status text of events.
func TestEventStatus(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{SessionStarting{Base: "record_1"}, "Starting…"},
		{SessionRecording{}, "Recording"},
		{SessionRecording{Resumed: true}, "Recording"},
		{SessionPaused{}, "Paused"},
		{SessionStopping{Reason: "x"}, "Stopping…"},
		{SessionSaved{Path: "/tmp/rec/record_1.mp4"}, "Saved: record_1.mp4"},
		{SessionDegraded{Reason: "audio disabled"}, "Degraded: audio disabled"},
		{SessionIdle{}, "Idle"},
	}
	for _, tc := range tests {
		assert.DeepEqual(t, tc.e.Status(), tc.want)
	}
}

// TestStartError asserts StartError wraps the underlying error.
func TestStartError(t *testing.T) {
	err := StartError{Stage: StageCapture, Err: capture.ErrNoDisplays}
	assert.ErrorIs(t, err, capture.ErrNoDisplays)
	var serr StartError
	assert.BoolIs(t, errors.As(error(err), &serr), true)
	assert.DeepEqual(t, serr.Stage, StageCapture)
	assert.DeepEqual(t, err.Error(),
		"unable to start recording (capture): "+capture.ErrNoDisplays.Error())
}

// TestStatsOutcomes asserts session results are counted.
func TestStatsOutcomes(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})
	assert.NilErr(t, te.Start())
	_, err := te.Stop()
	assert.NilErr(t, err)

	mfs, err := te.Registry().Gather()
	assert.NilErr(t, err)
	found := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if c := m.GetCounter(); c != nil {
					found[mf.GetName()+"/"+lp.GetValue()] = c.GetValue()
				}
			}
		}
	}
	assert.DeepEqual(t, found["screenrec_sessions/saved"], 1.0)
	assert.DeepEqual(t, found["screenrec_mux_outcomes/"+string(mux.OutcomeRawVideo)], 1.0)
}

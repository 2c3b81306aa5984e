package recorder

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/companyzero/screenrec/internal/assert"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/mux"
)

// TestRecordVideoOnly asserts that recording a region for a fixed duration
// produces the expected number of frames.
func TestRecordVideoOnly(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{
		settings: func(st *Settings) { st.FPS = 10 },
	})

	assert.NilErr(t, te.Start())
	assert.DeepEqual(t, te.State(), StateRecording)
	time.Sleep(3 * time.Second)
	res, err := te.Stop()
	assert.NilErr(t, err)
	assert.DeepEqual(t, te.State(), StateIdle)

	want := int(math.Round(res.Duration.Seconds() * 10))
	assert.InRange(t, want, 29, 31)
	assert.InRange(t, res.Frames, want-1, want+1)
	assert.DeepEqual(t, res.Outcome, mux.OutcomeRawVideo)
	assert.DeepEqual(t, len(res.Degraded), 0)
	assert.FileExists(t, res.Final)
	assert.DeepEqual(t, filepath.Ext(res.Final), ".avi")
	assert.DeepEqual(t, te.files(), []string{res.Base + ".avi"})
	assertSeqsContiguous(t, te.lastWriter().appended())
	assert.DeepEqual(t, len(te.lastWriter().appended()), res.Frames)

	// The external tool is not needed when the raw container is the
	// requested one.
	assert.DeepEqual(t, te.tool.calls.Load(), int64(0))
}

// TestEventSequence asserts the events emitted through a session.
func TestEventSequence(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})

	assert.NilErr(t, te.Start())
	time.Sleep(200 * time.Millisecond)
	assert.NilErr(t, te.Pause())
	assert.DeepEqual(t, te.Status(), "Paused")
	assert.NilErr(t, te.Resume())
	res, err := te.Stop()
	assert.NilErr(t, err)

	want := []string{
		"Starting…",
		"Recording",
		"Paused",
		"Recording",
		"Stopping…",
		"Saved: " + filepath.Base(res.Final),
		"Idle",
	}
	assert.DeepEqual(t, te.events.statuses(), want)
	assert.DeepEqual(t, te.Status(), "Idle")
}

// TestStartWhileActive asserts a second session cannot be started while one
// is active and that the attempt does not touch any file.
func TestStartWhileActive(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})

	assert.NilErr(t, te.Start())
	time.Sleep(100 * time.Millisecond)
	files := te.files()
	assert.ErrorIs(t, te.Start(), ErrSessionActive)
	assert.DeepEqual(t, te.State(), StateRecording)

	// The files of the first session were not changed by the failed
	// start.
	assert.DeepEqual(t, te.files(), files)
}

// TestStartWhileStopping asserts a session cannot be started while the
// previous one is being finalized.
func TestStartWhileStopping(t *testing.T) {
	bm := &blockingMuxer{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	te := newTestEngine(t, testEngineCfg{
		muxer: func(m Muxer) Muxer { bm.inner = m; return bm },
	})

	assert.NilErr(t, te.Start())
	time.Sleep(100 * time.Millisecond)
	stopped := make(chan *Result, 1)
	go func() {
		res, _ := te.Stop()
		stopped <- res
	}()
	assert.ChanWritten(t, bm.started)
	assert.DeepEqual(t, te.State(), StateStopping)
	assert.ErrorIs(t, te.Start(), ErrSessionActive)
	assert.ErrorIs(t, te.Toggle(), ErrSessionActive)

	// A second Stop waits for the first one to finalize the session.
	stopped2 := make(chan *Result, 1)
	go func() {
		res, err := te.Stop()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		stopped2 <- res
	}()
	assert.ChanNotWritten(t, stopped2, 200*time.Millisecond)

	close(bm.release)
	res := assert.ChanWritten(t, stopped)
	assert.DeepEqual(t, assert.ChanWritten(t, stopped2), res)
	assert.FileExists(t, res.Final)
	assert.DeepEqual(t, te.State(), StateIdle)
	_, err := te.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)

	// A new session can be started after the previous one finished and
	// it gets a distinct base name.
	assert.NilErr(t, te.Start())
	res2, err := te.Stop()
	assert.NilErr(t, err)
	if res2.Base == res.Base {
		t.Fatalf("sessions share base name %s", res.Base)
	}
}

// TestPauseResumeSequence asserts no frames are captured while paused and
// that frame sequence numbers have no gaps across pauses.
func TestPauseResumeSequence(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})

	assert.NilErr(t, te.Start())
	time.Sleep(300 * time.Millisecond)
	assert.NilErr(t, te.Pause())
	assert.ErrorIs(t, te.Pause(), ErrAlreadyPaused)

	// Allow an in-flight capture to finish.
	time.Sleep(100 * time.Millisecond)
	w := te.lastWriter()
	pausedFrames := len(w.appended())
	time.Sleep(500 * time.Millisecond)
	assert.DeepEqual(t, len(w.appended()), pausedFrames)

	assert.NilErr(t, te.TogglePause())
	assert.DeepEqual(t, te.State(), StateRecording)
	assert.ErrorIs(t, te.Resume(), ErrNotPaused)
	time.Sleep(300 * time.Millisecond)

	// Stopping while paused is allowed.
	assert.NilErr(t, te.Pause())
	res, err := te.Stop()
	assert.NilErr(t, err)

	seqs := w.appended()
	if len(seqs) <= pausedFrames {
		t.Fatalf("no frames captured after resuming")
	}
	assertSeqsContiguous(t, seqs)
	assert.DeepEqual(t, res.Frames, len(seqs))

	// The paused time is not part of the recorded duration.
	assert.InRange(t, res.Duration.Milliseconds(), 500, 1000)
}

// TestPauseWhenIdle asserts the errors of pause related calls without a
// session.
func TestPauseWhenIdle(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})
	assert.ErrorIs(t, te.Pause(), ErrNotRecording)
	assert.ErrorIs(t, te.Resume(), ErrNotRecording)
	assert.ErrorIs(t, te.TogglePause(), ErrNotRecording)
	_, err := te.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

// TestStopBoundedWithStalledSource asserts stopping does not hang when a
// frame grab never returns.
func TestStopBoundedWithStalledSource(t *testing.T) {
	stall := make(chan struct{})
	src := &testSource{
		okGrabs: 5,
		after: func(r capture.Region) (*capture.Frame, error) {
			<-stall
			return capture.NewFrame(r.Width, r.Height), nil
		},
	}
	te := newTestEngine(t, testEngineCfg{
		src: src,
		settings: func(st *Settings) {
			st.StopTimeout = 200 * time.Millisecond
		},
	})
	t.Cleanup(func() { close(stall) })

	assert.NilErr(t, te.Start())
	time.Sleep(500 * time.Millisecond)

	var res *Result
	var err error
	assert.DoesNotBlockFor(t, 2*time.Second, func() {
		res, err = te.Stop()
	})
	assert.NilErr(t, err)
	assert.DeepEqual(t, te.State(), StateIdle)
	assert.BoolIs(t, te.events.hasDegraded("capture loop did not stop"), true)
	assert.FileExists(t, res.Final)

	// Frames captured before the stall are preserved.
	assert.DeepEqual(t, res.Frames, 4)
}

// TestInitialGrabFailure asserts that a session fails to start when the first
// grab fails and that nothing is left behind.
func TestInitialGrabFailure(t *testing.T) {
	src := &testSource{after: failGrab}
	te := newTestEngine(t, testEngineCfg{src: src})

	err := te.Start()
	var serr StartError
	if !errors.As(err, &serr) {
		t.Fatalf("unexpected error %v", err)
	}
	assert.DeepEqual(t, serr.Stage, StageCapture)
	assert.ErrorIs(t, err, errTestGrab)
	assert.DeepEqual(t, te.State(), StateIdle)
	assert.DeepEqual(t, len(te.files()), 0)
	assert.DeepEqual(t, te.events.statuses(), []string{"Starting…", "Idle"})

	// Sessions can be started once grabbing works.
	src.after = nil
	assert.NilErr(t, te.Start())
	_, err = te.Stop()
	assert.NilErr(t, err)
}

// TestInvalidSettings asserts a session is not started with settings that
// cannot be interpreted.
func TestInvalidSettings(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{
		settings: func(st *Settings) { st.Format = "gif" },
	})
	err := te.Start()
	assert.ErrorIs(t, err, ErrInvalidSettings)
	var serr StartError
	if !errors.As(err, &serr) || serr.Stage != StageSettings {
		t.Fatalf("unexpected error %v", err)
	}
	assert.DeepEqual(t, te.State(), StateIdle)

	st := te.Settings()
	st.Format = "MKV"
	te.SetSettings(st)
	assert.NilErr(t, te.Start())
	res, err := te.Stop()
	assert.NilErr(t, err)

	// Without the tool, the raw container is kept.
	assert.DeepEqual(t, res.Outcome, mux.OutcomeRawVideo)
	assert.DeepEqual(t, filepath.Ext(res.Final), ".avi")
	assert.DeepEqual(t, res.Degraded, []string{"kept avi instead of mkv"})
}

// TestSustainedGrabFailure asserts the session is stopped when frames can no
// longer be grabbed and that what was recorded is kept.
func TestSustainedGrabFailure(t *testing.T) {
	src := &testSource{okGrabs: 3, after: failGrab}
	te := newTestEngine(t, testEngineCfg{
		src:      src,
		settings: func(st *Settings) { st.FPS = 5 },
	})

	assert.NilErr(t, te.Start())
	stopping := waitFor[SessionStopping](t, te.events)
	if !strings.Contains(stopping.Reason, "consecutive frame grab failures") {
		t.Fatalf("unexpected stop reason %q", stopping.Reason)
	}
	saved := waitFor[SessionSaved](t, te.events)
	waitFor[SessionIdle](t, te.events)
	assert.DeepEqual(t, te.State(), StateIdle)
	assert.FileExists(t, saved.Path)
	assert.BoolIs(t, te.events.hasDegraded("consecutive frame grab failures"), true)
	assert.DeepEqual(t, te.lastWriter().appended(), []uint64{0, 1})
}

// TestFrameSizeChange asserts the session is aborted when the grabbed frames
// change size.
func TestFrameSizeChange(t *testing.T) {
	src := &testSource{
		okGrabs: 4,
		after: func(r capture.Region) (*capture.Frame, error) {
			return capture.NewFrame(r.Width+2, r.Height), nil
		},
	}
	te := newTestEngine(t, testEngineCfg{src: src})

	assert.NilErr(t, te.Start())
	saved := waitFor[SessionSaved](t, te.events)
	waitFor[SessionIdle](t, te.events)
	assert.FileExists(t, saved.Path)
	assert.BoolIs(t, te.events.hasDegraded("unable to append frame 3"), true)
	assert.DeepEqual(t, len(te.lastWriter().appended()), 3)
}

// TestMaxDuration asserts sessions are stopped after the max duration.
func TestMaxDuration(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{
		settings: func(st *Settings) { st.MaxDuration = 300 * time.Millisecond },
	})

	assert.NilErr(t, te.Start())
	stopping := waitFor[SessionStopping](t, te.events)
	if !strings.Contains(stopping.Reason, "maximum duration") {
		t.Fatalf("unexpected stop reason %q", stopping.Reason)
	}
	waitFor[SessionIdle](t, te.events)
	assert.DeepEqual(t, te.State(), StateIdle)
	assert.BoolIs(t, te.events.hasDegraded(""), false)
	assert.DeepEqual(t, len(te.files()), 1)
}

// TestCloseWaitsForAutoStop asserts Close does not return while a session
// stopped by the engine is still being finalized.
func TestCloseWaitsForAutoStop(t *testing.T) {
	bm := &blockingMuxer{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	te := newTestEngine(t, testEngineCfg{
		settings: func(st *Settings) { st.MaxDuration = 200 * time.Millisecond },
		muxer:    func(m Muxer) Muxer { bm.inner = m; return bm },
	})

	assert.NilErr(t, te.Start())
	assert.ChanWritten(t, bm.started)
	assert.DeepEqual(t, te.State(), StateStopping)

	closed := make(chan error, 1)
	go func() { closed <- te.Close() }()
	assert.ChanNotWritten(t, closed, 200*time.Millisecond)
	assert.DeepEqual(t, te.State(), StateStopping)

	close(bm.release)
	assert.NilErr(t, assert.ChanWritten(t, closed))
	assert.DeepEqual(t, te.State(), StateIdle)
	assert.DeepEqual(t, len(te.files()), 1)
}

// TestAudioPausedWholeSession asserts a session that never received audio
// is finalized as video only.
func TestAudioPausedWholeSession(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{
		backend: &testAudioBackend{},
		tool:    &testTool{present: true},
		settings: func(st *Settings) {
			st.AudioEnabled = true
			st.Format = FormatMP4
		},
	})

	assert.NilErr(t, te.Start())
	assert.NilErr(t, te.Pause())
	time.Sleep(200 * time.Millisecond)
	res, err := te.Stop()
	assert.NilErr(t, err)

	assert.DeepEqual(t, res.AudioFrames, uint64(0))
	assert.DeepEqual(t, res.Outcome, mux.OutcomeRewrapped)
	assert.DeepEqual(t, te.files(), []string{res.Base + ".mp4"})
	assert.DeepEqual(t, len(res.Extra), 0)
	assert.DeepEqual(t, len(res.Degraded), 0)
}

// TestAudioOpenFailure asserts a session records video only when the audio
// device cannot be opened.
func TestAudioOpenFailure(t *testing.T) {
	backend := &testAudioBackend{initErr: errors.New("no such device")}
	te := newTestEngine(t, testEngineCfg{
		backend:  backend,
		tool:     &testTool{present: true},
		settings: func(st *Settings) { st.AudioEnabled = true },
	})

	assert.NilErr(t, te.Start())
	assert.BoolIs(t, te.events.hasDegraded("audio disabled: no such device"), true)
	time.Sleep(200 * time.Millisecond)
	res, err := te.Stop()
	assert.NilErr(t, err)

	assert.DeepEqual(t, res.Outcome, mux.OutcomeRawVideo)
	assert.DeepEqual(t, res.Degraded, []string{"audio disabled: no such device"})
	assert.DeepEqual(t, te.files(), []string{res.Base + ".avi"})
	assert.DeepEqual(t, res.AudioFrames, uint64(0))
}

// TestAudioToolAbsent asserts both intermediates are kept when they cannot
// be merged.
func TestAudioToolAbsent(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{
		backend: &testAudioBackend{},
		settings: func(st *Settings) {
			st.AudioEnabled = true
			st.Format = FormatMP4
		},
	})

	assert.NilErr(t, te.Start())
	time.Sleep(500 * time.Millisecond)
	res, err := te.Stop()
	assert.NilErr(t, err)

	assert.DeepEqual(t, res.Outcome, mux.OutcomeSeparate)
	assert.DeepEqual(t, te.files(), []string{res.Base + ".avi", res.Base + ".wav"})
	assert.DeepEqual(t, res.Extra, []string{filepath.Join(te.dir, res.Base+".wav")})
	assert.BoolIs(t, te.events.hasDegraded("audio kept separately"), true)
	if res.AudioFrames == 0 {
		t.Fatal("no audio frames recorded")
	}
}

// TestAudioMerged asserts a single final file is left when merging succeeds.
func TestAudioMerged(t *testing.T) {
	tests := []struct {
		name   string
		format Format
	}{
		{name: "mp4", format: FormatMP4},
		{name: "same container as raw video", format: FormatAVI},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			te := newTestEngine(t, testEngineCfg{
				backend: &testAudioBackend{},
				tool:    &testTool{present: true},
				settings: func(st *Settings) {
					st.AudioEnabled = true
					st.Format = tc.format
				},
			})

			assert.NilErr(t, te.Start())
			time.Sleep(300 * time.Millisecond)
			res, err := te.Stop()
			assert.NilErr(t, err)

			assert.DeepEqual(t, res.Outcome, mux.OutcomeMerged)
			final := res.Base + "." + string(tc.format)
			assert.DeepEqual(t, te.files(), []string{final})
			assert.DeepEqual(t, res.Final, filepath.Join(te.dir, final))
			got, err := os.ReadFile(res.Final)
			assert.NilErr(t, err)
			assert.DeepEqual(t, string(got), "muxed")
		})
	}
}

// TestAudioDeviceStops asserts the session continues when the audio device
// stops by itself.
func TestAudioDeviceStops(t *testing.T) {
	backend := &testAudioBackend{}
	te := newTestEngine(t, testEngineCfg{
		backend: backend,
		tool:    &testTool{present: true},
		settings: func(st *Settings) {
			st.AudioEnabled = true
			st.Format = FormatMKV
		},
	})

	assert.NilErr(t, te.Start())
	time.Sleep(200 * time.Millisecond)
	backend.failDevice()
	time.Sleep(200 * time.Millisecond)
	assert.DeepEqual(t, te.State(), StateRecording)
	assert.BoolIs(t, te.events.hasDegraded("audio device stopped"), true)

	res, err := te.Stop()
	assert.NilErr(t, err)
	assert.DeepEqual(t, res.Outcome, mux.OutcomeMerged)
	assert.DeepEqual(t, te.files(), []string{res.Base + ".mkv"})
}

// TestUnregisterObserver asserts unregistered observers stop receiving
// events.
func TestUnregisterObserver(t *testing.T) {
	te := newTestEngine(t, testEngineCfg{})
	er := newEventRecorder()
	reg := te.RegisterObserver(er)

	assert.NilErr(t, te.Start())
	assert.BoolIs(t, reg.Unregister(), true)
	assert.BoolIs(t, reg.Unregister(), false)
	_, err := te.Stop()
	assert.NilErr(t, err)

	assert.DeepEqual(t, er.statuses(), []string{"Starting…", "Recording"})
}

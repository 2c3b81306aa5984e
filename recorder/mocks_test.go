package recorder

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/mux"
	"github.com/companyzero/screenrec/internal/testutils"
	"github.com/companyzero/screenrec/internal/video"
	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
)

var errTestGrab = errors.New("test grab error")

// testSource is a capture.Source for tests. The first okGrabs grabs return
// a black frame of the requested size, the following ones are handled by
// after (when set).
type testSource struct {
	okGrabs int64
	after   func(r capture.Region) (*capture.Frame, error)

	grabs atomic.Int64
}

func (ts *testSource) Displays() ([]capture.Region, error) {
	return []capture.Region{{Width: 100, Height: 100}}, nil
}

func (ts *testSource) Grab(r capture.Region) (*capture.Frame, error) {
	n := ts.grabs.Add(1)
	if ts.after != nil && n > ts.okGrabs {
		return ts.after(r)
	}
	return capture.NewFrame(r.Width, r.Height), nil
}

func failGrab(capture.Region) (*capture.Frame, error) {
	return nil, errTestGrab
}

// testAudioBackend delivers silent blocks every 20ms while started.
type testAudioBackend struct {
	initErr error

	mtx  sync.Mutex
	cfg  audio.CaptureConfig
	data audio.DataProc
	stop func()
	quit chan struct{}
	done chan struct{}
}

func (tb *testAudioBackend) Name() string { return "testaudio" }
func (tb *testAudioBackend) Free() error  { return nil }

func (tb *testAudioBackend) InitCapture(cfg audio.CaptureConfig, data audio.DataProc, stop func()) (audio.CaptureDevice, error) {
	if tb.initErr != nil {
		return nil, tb.initErr
	}
	tb.mtx.Lock()
	tb.cfg, tb.data, tb.stop = cfg, data, stop
	tb.mtx.Unlock()
	return tb, nil
}

func (tb *testAudioBackend) Start() error {
	tb.mtx.Lock()
	tb.quit = make(chan struct{})
	tb.done = make(chan struct{})
	quit, done := tb.quit, tb.done
	frames := uint32(tb.cfg.SampleRate / 50)
	buf := make([]byte, int(frames)*tb.cfg.Channels*4)
	data := tb.data
	tb.mtx.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				data(nil, buf, frames)
			}
		}
	}()
	return nil
}

func (tb *testAudioBackend) Stop() error {
	tb.mtx.Lock()
	quit, done := tb.quit, tb.done
	tb.mtx.Unlock()
	close(quit)
	<-done
	return nil
}

func (tb *testAudioBackend) Uninit() {}

// failDevice simulates the device stopping on its own.
func (tb *testAudioBackend) failDevice() {
	tb.mtx.Lock()
	stop := tb.stop
	tb.mtx.Unlock()
	stop()
}

// testTool simulates the external mux tool.
type testTool struct {
	present bool
	calls   atomic.Int64
}

func (tt *testTool) Run(ctx context.Context, args ...string) error {
	tt.calls.Add(1)
	if !tt.present {
		return mux.ErrToolUnavailable
	}
	if len(args) == 1 {
		return nil
	}
	return os.WriteFile(args[len(args)-1], []byte("muxed"), 0o644)
}

// blockingMuxer blocks muxing until released.
type blockingMuxer struct {
	inner   Muxer
	started chan struct{}
	release chan struct{}
}

func (bm *blockingMuxer) Mux(ctx context.Context, in mux.Input) mux.Result {
	bm.started <- struct{}{}
	<-bm.release
	return bm.inner.Mux(ctx, in)
}

// seqWriter records the sequence numbers of appended frames.
type seqWriter struct {
	video.Writer

	mtx  sync.Mutex
	seqs []uint64
}

func (w *seqWriter) Append(f *capture.Frame) error {
	err := w.Writer.Append(f)
	if err == nil {
		w.mtx.Lock()
		w.seqs = append(w.seqs, f.Seq)
		w.mtx.Unlock()
	}
	return err
}

func (w *seqWriter) appended() []uint64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return append([]uint64(nil), w.seqs...)
}

// eventRecorder is an observer that records every event.
type eventRecorder struct {
	mtx    sync.Mutex
	events []Event
	c      chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{c: make(chan Event, 1000)}
}

func (er *eventRecorder) OnEvent(e Event) {
	er.mtx.Lock()
	er.events = append(er.events, e)
	er.mtx.Unlock()
	er.c <- e
}

func (er *eventRecorder) statuses() []string {
	er.mtx.Lock()
	defer er.mtx.Unlock()
	res := make([]string, len(er.events))
	for i, e := range er.events {
		res[i] = e.Status()
	}
	return res
}

func (er *eventRecorder) hasDegraded(substr string) bool {
	er.mtx.Lock()
	defer er.mtx.Unlock()
	for _, e := range er.events {
		if d, ok := e.(SessionDegraded); ok && strings.Contains(d.Reason, substr) {
			return true
		}
	}
	return false
}

// waitFor waits until an event of type T is received.
func waitFor[T Event](t testing.TB, er *eventRecorder) T {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case e := <-er.c:
			if v, ok := e.(T); ok {
				return v
			}
		case <-deadline:
			var v T
			t.Fatalf("timeout waiting for event %T", v)
			return v
		}
	}
}

type testEngine struct {
	*Engine
	t      testing.TB
	dir    string
	src    *testSource
	tool   *testTool
	events *eventRecorder

	writerMtx sync.Mutex
	writer    *seqWriter
}

func (te *testEngine) lastWriter() *seqWriter {
	te.writerMtx.Lock()
	defer te.writerMtx.Unlock()
	return te.writer
}

func (te *testEngine) files() []string {
	return testutils.DirFiles(te.t, te.dir)
}

type testEngineCfg struct {
	settings func(*Settings)
	src      *testSource
	tool     *testTool
	backend  audio.Backend
	muxer    func(m Muxer) Muxer
}

// newTestEngine creates an engine that records a fake 100x100 region into a
// temp dir without audio and without the external tool.
func newTestEngine(t testing.TB, cfg testEngineCfg) *testEngine {
	t.Helper()
	te := &testEngine{
		t:      t,
		dir:    testutils.TempTestDir(t, "recorder"),
		src:    cfg.src,
		tool:   cfg.tool,
		events: newEventRecorder(),
	}
	if te.src == nil {
		te.src = &testSource{}
	}
	if te.tool == nil {
		te.tool = &testTool{}
	}

	st := DefaultSettings()
	st.Folder = te.dir
	st.FPS = 20
	st.Format = FormatAVI
	st.Mode = capture.ModeCustom
	st.Region = capture.Region{Width: 100, Height: 100}
	st.AudioEnabled = false
	st.SampleRate = 8000
	st.StopTimeout = time.Second
	st.StatsInterval = 100 * time.Millisecond
	if cfg.settings != nil {
		cfg.settings(&st)
	}

	muxLog := testutils.TestLoggerSys(t, "MUXR")
	var m Muxer = mux.New(te.tool, mux.Config{SyncStretch: true}, muxLog)
	if cfg.muxer != nil {
		m = cfg.muxer(m)
	}

	opts := []Option{
		WithLogger(testutils.TestLoggerSys(t, "RECD")),
		WithSubsystemLoggers(func(subsys string) slog.Logger {
			return testutils.TestLoggerSys(t, subsys)
		}),
		WithFrameSource(te.src),
		WithMuxer(m),
		WithObserver(te.events),
		WithSettings(st),
		WithStatsRegistry(prometheus.NewRegistry()),
		WithVideoWriterFactory(func(kind video.Kind, vcfg video.Config, log slog.Logger) (video.Writer, error) {
			w, err := video.Open(kind, vcfg, log)
			if err != nil {
				return nil, err
			}
			sw := &seqWriter{Writer: w}
			te.writerMtx.Lock()
			te.writer = sw
			te.writerMtx.Unlock()
			return sw, nil
		}),
	}
	if cfg.backend != nil {
		opts = append(opts, WithAudioBackend(cfg.backend))
	}
	te.Engine = New(opts...)
	t.Cleanup(func() { _ = te.Engine.Close() })
	return te
}

// assertSeqsContiguous asserts the sequence numbers are 0, 1, 2, ...
func assertSeqsContiguous(t testing.TB, seqs []uint64) {
	t.Helper()
	for i, seq := range seqs {
		if seq != uint64(i) {
			t.Fatalf("sequence %d at index %d", seq, i)
		}
	}
}

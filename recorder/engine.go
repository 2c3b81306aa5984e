package recorder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/logutil"
	"github.com/companyzero/screenrec/internal/mux"
	"github.com/companyzero/screenrec/internal/video"
	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
)

// State is the state of the engine.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Muxer finalizes the artifacts of a session.
type Muxer interface {
	Mux(ctx context.Context, in mux.Input) mux.Result
}

// VideoWriterFactory opens the video writer of a session.
type VideoWriterFactory func(kind video.Kind, cfg video.Config, log slog.Logger) (video.Writer, error)

// Result is the result of a finished session.
type Result struct {
	// Base is the base name of the session's files.
	Base string

	// Final is the primary artifact. Extra are other artifacts kept
	// (for example audio that could not be merged).
	Final   string
	Extra   []string
	Outcome mux.Outcome

	Frames      int
	Skipped     uint64
	Lagged      uint64
	AudioFrames uint64

	// Duration is the recorded time, excluding pauses.
	Duration time.Duration

	// StopReason is set when the engine stopped the session by itself.
	StopReason string

	// Degraded lists everything that did not go as requested.
	Degraded []string
}

// config is the engine config.
type config struct {
	log       slog.Logger
	subsysLog func(subsys string) slog.Logger
	src       capture.Source
	backend   audio.Backend
	muxer     Muxer
	observers []Observer
	reg       *prometheus.Registry
	newWriter VideoWriterFactory
	settings  Settings
}

func fillConfig(opts ...Option) config {
	cfg := config{
		log:       slog.Disabled,
		subsysLog: func(string) slog.Logger { return slog.Disabled },
		newWriter: video.Open,
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option is a functional engine config option.
type Option func(c *config)

// WithLogger sets the logger of the engine. Logger MUST NOT be nil.
func WithLogger(l slog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithSubsystemLoggers sets the function used to create the loggers of the
// capture ("CAPT"), audio ("AUDI"), video ("VIDO") and mux ("MUXR")
// components.
func WithSubsystemLoggers(f func(subsys string) slog.Logger) Option {
	return func(c *config) {
		c.subsysLog = f
	}
}

// WithFrameSource sets the source of screen frames. By default, the screen
// is captured.
func WithFrameSource(src capture.Source) Option {
	return func(c *config) {
		c.src = src
	}
}

// WithAudioBackend sets the audio backend. By default, the backend the binary
// was built with is created on the first session that records audio.
func WithAudioBackend(b audio.Backend) Option {
	return func(c *config) {
		c.backend = b
	}
}

// WithMuxer sets the muxer. By default, the external tool configured in the
// settings is used.
func WithMuxer(m Muxer) Option {
	return func(c *config) {
		c.muxer = m
	}
}

// WithObserver registers an observer at creation time.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observers = append(c.observers, o)
	}
}

// WithStatsRegistry registers the engine metrics in reg instead of a new
// registry.
func WithStatsRegistry(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.reg = reg
	}
}

// WithVideoWriterFactory sets the function that opens video writers.
func WithVideoWriterFactory(f VideoWriterFactory) Option {
	return func(c *config) {
		c.newWriter = f
	}
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(c *config) {
		c.settings = s
	}
}

// Engine coordinates recording sessions. At most one session is active at
// any time.
type Engine struct {
	cfg       config
	log       slog.Logger
	stats     *stats
	observers observers

	backendMtx sync.Mutex
	backend    audio.Backend
	ownBackend bool

	mtx      sync.Mutex
	settings Settings
	state    State
	sess     *session
	lastBase string
	status   string
}

// New creates a new recording engine.
func New(opts ...Option) *Engine {
	cfg := fillConfig(opts...)
	if cfg.src == nil {
		cfg.src = capture.NewScreenSource(cfg.subsysLog("CAPT"))
	}
	e := &Engine{
		cfg:      cfg,
		log:      cfg.log,
		stats:    newStats(cfg.reg),
		backend:  cfg.backend,
		settings: cfg.settings,
		status:   SessionIdle{}.Status(),
	}
	for _, o := range cfg.observers {
		e.observers.register(o)
	}
	return e
}

// RegisterObserver registers an observer for session events.
func (e *Engine) RegisterObserver(o Observer) Registration {
	return e.observers.register(o)
}

// Registry is the prometheus registry with the engine metrics.
func (e *Engine) Registry() *prometheus.Registry {
	return e.stats.reg
}

// SetSettings replaces the settings. They are applied when the next session
// starts.
func (e *Engine) SetSettings(s Settings) {
	e.mtx.Lock()
	e.settings = s
	active := e.state != StateIdle
	e.mtx.Unlock()
	if active {
		e.log.Debugf("Settings updated; changes apply to the next session")
	}
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.settings
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// Status returns the status text of the last event.
func (e *Engine) Status() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.status
}

func (e *Engine) notify(ev Event) {
	status := ev.Status()
	e.mtx.Lock()
	e.status = status
	e.mtx.Unlock()
	e.log.Debugf("Status: %s", status)
	e.observers.notify(ev)
}

// audioBackend returns the audio backend, creating it if needed.
func (e *Engine) audioBackend() (audio.Backend, error) {
	e.backendMtx.Lock()
	defer e.backendMtx.Unlock()
	if e.backend != nil {
		return e.backend, nil
	}
	b, err := audio.NewBackend()
	if err != nil {
		return nil, err
	}
	e.log.Infof("Initialized audio backend %s", b.Name())
	e.backend, e.ownBackend = b, true
	return b, nil
}

func (e *Engine) muxerFor(st Settings) Muxer {
	if e.cfg.muxer != nil {
		return e.cfg.muxer
	}
	log := e.cfg.subsysLog("MUXR")
	return mux.New(mux.NewExecRunner(st.FFmpeg, log),
		mux.Config{SyncStretch: st.SyncStretch}, log)
}

// openAudio opens the audio pipeline of a session.
func (e *Engine) openAudio(s *session) error {
	backend, err := e.audioBackend()
	if err != nil {
		return err
	}
	log := e.cfg.subsysLog("AUDI")
	path := basePath(s.st.Folder, s.base) + ".wav"
	wav, err := audio.NewWavWriter(path, s.st.SampleRate, s.st.Channels, log)
	if err != nil {
		return err
	}
	queue := audio.NewSampleQueue(audio.QueueCapacity(s.st.AudioQueue))
	acfg := audio.CaptureConfig{
		DeviceID:   s.st.AudioDevice,
		SampleRate: s.st.SampleRate,
		Channels:   s.st.Channels,
	}
	src, err := audio.OpenSource(backend, acfg, queue, log)
	if err != nil {
		// Nothing was recorded, so the empty file is not kept.
		_ = wav.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			e.log.Warnf("Unable to remove %s: %v", path, rmErr)
		}
		return err
	}
	s.audio = &sessionAudio{
		src:   src,
		queue: queue,
		wav:   wav,
		done:  make(chan error, 1),
	}
	return nil
}

// newSession prepares a session. Nothing is left open when it fails.
func (e *Engine) newSession(st Settings, prevBase string) (*session, error) {
	st, err := st.Normalize()
	if err != nil {
		return nil, StartError{Stage: StageSettings, Err: err}
	}
	if err := os.MkdirAll(st.Folder, 0o755); err != nil {
		return nil, StartError{Stage: StageFolder, Err: err}
	}
	now := time.Now()
	base, err := uniqueBase(st.Folder, now, prevBase)
	if err != nil {
		return nil, StartError{Stage: StageFolder, Err: err}
	}
	e.notify(SessionStarting{Base: base})

	region, err := capture.ResolveRegion(e.cfg.src, st.Mode, st.Monitor, st.Region)
	if err != nil {
		return nil, StartError{Stage: StageRegion, Err: err}
	}

	// The first grab must work, otherwise there is nothing to record.
	probe, err := e.cfg.src.Grab(region)
	if err != nil {
		return nil, StartError{Stage: StageCapture, Err: err}
	}
	if probe.Width != region.Width || probe.Height != region.Height {
		e.log.Warnf("Captured frame size %dx%d differs from region %s",
			probe.Width, probe.Height, region)
	}

	vcfg := video.Config{
		Base:    basePath(st.Folder, base),
		Width:   probe.Width,
		Height:  probe.Height,
		FPS:     st.FPS,
		Quality: st.JPEGQuality,
		FFmpeg:  st.FFmpeg,
	}
	vw, err := e.cfg.newWriter(st.Intermediate, vcfg, e.cfg.subsysLog("VIDO"))
	if err != nil {
		return nil, StartError{Stage: StageVideo, Err: err}
	}

	s := &session{
		log:           logutil.PrefixLogger(e.log, base),
		st:            st,
		base:          base,
		region:        region,
		src:           e.cfg.src,
		vw:            vw,
		stats:         e.stats,
		started:       now,
		notify:        e.notify,
		wake:          make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		loopDone:      make(chan struct{}),
		finished:      make(chan struct{}),
		failThreshold: failThresholdFor(st.FPS),
	}
	s.autoStop = func(reason string, failed bool) { e.autoStop(s, reason, failed) }

	if st.AudioEnabled {
		if err := e.openAudio(s); err != nil {
			reason := fmt.Sprintf("audio disabled: %v", err)
			e.log.Warnf("Recording without audio: %v", err)
			s.startDegraded = append(s.startDegraded, reason)
		}
	}

	e.log.Infof("Recording %s of %s at %d fps to %s (audio: %v)", base,
		region, st.FPS, vw.Path(), s.audio != nil)
	return s, nil
}

// Start starts a new session. It fails with ErrSessionActive if a session is
// already active, including while the previous one is being finalized.
func (e *Engine) Start() error {
	e.mtx.Lock()
	if e.state != StateIdle {
		e.mtx.Unlock()
		return ErrSessionActive
	}
	e.state = StateStarting
	st := e.settings
	prevBase := e.lastBase
	e.mtx.Unlock()

	s, err := e.newSession(st, prevBase)
	if err != nil {
		e.log.Errorf("%v", err)
		e.stats.sessionEnded("start_failed")
		e.mtx.Lock()
		e.state = StateIdle
		e.mtx.Unlock()
		e.notify(SessionIdle{})
		return err
	}

	e.mtx.Lock()
	e.sess = s
	e.lastBase = s.base
	e.state = StateRecording
	s.launch()
	e.mtx.Unlock()

	e.stats.recording.Set(1)
	e.notify(SessionRecording{})
	for _, reason := range s.startDegraded {
		e.notify(SessionDegraded{Reason: reason})
	}
	return nil
}

// beginStopLocked transitions to the stopping state. It is called with the
// mutex held.
func (e *Engine) beginStopLocked(s *session) {
	now := time.Now()
	if e.state == StatePaused {
		s.pausedTotal += now.Sub(s.pausedAt)
	}
	s.stoppedAt = now
	e.state = StateStopping
}

// Stop stops the active session, finalizes its artifacts and returns the
// engine to idle. The call blocks until muxing completes.
//
// When the session is already being stopped, Stop waits for it to be
// finalized and returns its result.
func (e *Engine) Stop() (*Result, error) {
	e.mtx.Lock()
	switch e.state {
	case StateRecording, StatePaused:
	case StateStopping:
		s := e.sess
		e.mtx.Unlock()
		<-s.finished
		return s.result, nil
	default:
		e.mtx.Unlock()
		return nil, ErrNotRecording
	}
	s := e.sess
	e.beginStopLocked(s)
	e.mtx.Unlock()

	return e.finish(s, "", false), nil
}

// autoStop stops s if it is still the active session.
func (e *Engine) autoStop(s *session, reason string, failed bool) {
	e.mtx.Lock()
	if e.sess != s || (e.state != StateRecording && e.state != StatePaused) {
		e.mtx.Unlock()
		return
	}
	e.beginStopLocked(s)
	e.mtx.Unlock()

	e.log.Infof("Stopping session %s: %s", s.base, reason)
	e.finish(s, reason, failed)
}

func (e *Engine) finish(s *session, reason string, failed bool) *Result {
	e.notify(SessionStopping{Reason: reason})
	if failed {
		e.notify(SessionDegraded{Reason: reason})
	}

	res := s.finish(e.muxerFor(s.st))
	res.StopReason = reason
	res.Degraded = append(s.startDegraded, res.Degraded...)

	result := "saved"
	if failed {
		result = "aborted"
	}
	e.stats.sessionEnded(result)
	e.stats.recording.Set(0)

	e.mtx.Lock()
	e.sess = nil
	e.state = StateIdle
	e.mtx.Unlock()

	for _, reason := range res.Degraded[len(s.startDegraded):] {
		e.notify(SessionDegraded{Reason: reason})
	}
	e.notify(SessionSaved{Path: res.Final, Extra: res.Extra})
	e.notify(SessionIdle{})
	s.result = res
	close(s.finished)
	return res
}

// Pause pauses the active session. Paused time is omitted from the output.
func (e *Engine) Pause() error {
	e.mtx.Lock()
	switch e.state {
	case StateRecording:
	case StatePaused:
		e.mtx.Unlock()
		return ErrAlreadyPaused
	default:
		e.mtx.Unlock()
		return ErrNotRecording
	}
	e.state = StatePaused
	e.sess.setPaused(true, time.Now())
	e.mtx.Unlock()

	e.notify(SessionPaused{})
	return nil
}

// Resume resumes a paused session.
func (e *Engine) Resume() error {
	e.mtx.Lock()
	switch e.state {
	case StatePaused:
	case StateRecording:
		e.mtx.Unlock()
		return ErrNotPaused
	default:
		e.mtx.Unlock()
		return ErrNotRecording
	}
	e.state = StateRecording
	e.sess.setPaused(false, time.Now())
	e.mtx.Unlock()

	e.notify(SessionRecording{Resumed: true})
	return nil
}

// TogglePause pauses a recording session or resumes a paused one.
func (e *Engine) TogglePause() error {
	switch e.State() {
	case StateRecording:
		return e.Pause()
	case StatePaused:
		return e.Resume()
	default:
		return ErrNotRecording
	}
}

// Toggle starts a session when idle and stops the active one otherwise.
func (e *Engine) Toggle() error {
	switch e.State() {
	case StateIdle:
		return e.Start()
	case StateRecording, StatePaused:
		_, err := e.Stop()
		return err
	default:
		return ErrSessionActive
	}
}

// Close stops the active session (if any) and releases the audio backend
// created by the engine. A session that is already being stopped is waited
// on before the backend is released.
func (e *Engine) Close() error {
	if _, err := e.Stop(); err != nil && err != ErrNotRecording {
		return err
	}

	e.backendMtx.Lock()
	defer e.backendMtx.Unlock()
	if e.ownBackend && e.backend != nil {
		err := e.backend.Free()
		e.backend, e.ownBackend = nil, false
		return err
	}
	return nil
}

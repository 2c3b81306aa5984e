package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/mux"
	"github.com/companyzero/screenrec/internal/video"
	"github.com/decred/slog"
)

// sessionAudio is the audio pipeline of a session.
type sessionAudio struct {
	src    *audio.Source
	queue  *audio.SampleQueue
	wav    *audio.WavWriter
	done   chan error
	failed atomic.Bool
}

// session is a single recording session. The capture loop goroutine owns src
// and vw; the audio writer goroutine owns the wav file.
type session struct {
	log      slog.Logger
	st       Settings
	base     string
	region   capture.Region
	src      capture.Source
	vw       video.Writer
	audio    *sessionAudio
	stats    *stats
	counters sessionCounters
	started  time.Time

	// notify emits events through the engine.
	notify func(Event)

	// autoStop is called (on a new goroutine) when the session must be
	// stopped without a user request.
	autoStop func(reason string, failed bool)

	paused   atomic.Bool
	pauses   atomic.Uint64
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	autoOnce sync.Once

	// finished is closed once the session has been finalized and result
	// is set.
	finished chan struct{}
	result   *Result

	// startDegraded are reasons the session started degraded.
	startDegraded []string

	// The following are guarded by the engine mutex.
	pausedAt    time.Time
	pausedTotal time.Duration
	stoppedAt   time.Time

	// The following are only accessed by the capture loop.
	seq           uint64
	consecFails   int
	failThreshold int
}

// failThresholdFor is the number of consecutive grab failures after which a
// session is aborted.
func failThresholdFor(fps int) int {
	return max(3*fps, 10)
}

// launch starts the session goroutines.
func (s *session) launch() {
	go s.run()
	go s.runReportStatsLoop(s.st.StatsInterval)

	if s.audio != nil {
		a := s.audio
		go func() {
			defer func() {
				if v := recover(); v != nil {
					s.log.Errorf("Audio writer panicked: %v\n%s", v, debug.Stack())
					a.done <- fmt.Errorf("audio writer panic: %v", v)
				}
			}()
			a.done <- a.wav.Run(a.queue)
		}()

		go func() {
			select {
			case <-a.src.Failed():
				a.failed.Store(true)
				s.notify(SessionDegraded{Reason: "audio device stopped"})
			case <-s.stopChan:
			}
		}()
	}

	if s.st.MaxDuration > 0 {
		go func() {
			timer := time.NewTimer(s.st.MaxDuration)
			defer timer.Stop()
			select {
			case <-timer.C:
				s.requestAutoStop(fmt.Sprintf("maximum duration of %s reached",
					s.st.MaxDuration), false)
			case <-s.stopChan:
			}
		}()
	}
}

func (s *session) requestAutoStop(reason string, failed bool) {
	s.autoOnce.Do(func() { go s.autoStop(reason, failed) })
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// setPaused is called with the engine mutex held.
func (s *session) setPaused(paused bool, now time.Time) {
	if paused {
		s.pausedAt = now
		s.pauses.Add(1)
	} else {
		s.pausedTotal += now.Sub(s.pausedAt)
	}
	s.paused.Store(paused)
	if s.audio != nil {
		s.audio.src.SetPaused(paused)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the pacing loop. It runs until the session is stopped or capture
// fails in a way that requires aborting the session.
func (s *session) run() {
	defer close(s.loopDone)
	defer func() {
		if v := recover(); v != nil {
			s.log.Errorf("Capture loop panicked: %v\n%s", v, debug.Stack())
			s.requestAutoStop(fmt.Sprintf("capture loop panic: %v", v), true)
		}
	}()

	p := newPacer(s.st.FPS, time.Now())
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var seenPauses uint64

	s.log.Debugf("Starting capture loop for %s at %d fps", s.region, s.st.FPS)
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if s.paused.Load() {
			select {
			case <-s.stopChan:
				return
			case <-s.wake:
			}
			continue
		}

		// Paused time is omitted from the output, so the schedule
		// restarts after every pause.
		if n := s.pauses.Load(); n != seenPauses {
			seenPauses = n
			p.reset(time.Now())
		}

		if w := p.wait(time.Now()); w > 0 {
			timer.Reset(w)
			select {
			case <-s.stopChan:
				return
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		err := s.captureFrame()
		if errors.Is(err, video.ErrWriterClosed) {
			return
		}
		if err != nil {
			s.log.Errorf("Aborting session: %v", err)
			s.requestAutoStop(err.Error(), true)
			return
		}

		if lagged := p.advance(time.Now()); lagged > 0 {
			s.counters.lagged.Add(uint64(lagged))
			s.stats.framesLagged.Add(float64(lagged))
			s.log.Warnf("Capture fell behind; dropped %d frame slots", lagged)
		}
	}
}

// captureFrame grabs one frame and appends it to the video. Grab failures
// are not errors until they are sustained.
func (s *session) captureFrame() error {
	start := time.Now()
	f, err := s.src.Grab(s.region)
	if err != nil {
		s.consecFails++
		s.counters.skipped.Add(1)
		s.counters.skippedInterval.Add(1)
		s.stats.framesSkipped.Inc()
		if s.consecFails >= s.failThreshold {
			return fmt.Errorf("%d consecutive frame grab failures: %w",
				s.consecFails, err)
		}
		if s.consecFails == 1 {
			s.log.Debugf("Frame grab failed: %v", err)
		}
		return nil
	}
	if s.consecFails > 0 {
		s.log.Debugf("Frame grab recovered after %d failures", s.consecFails)
		s.consecFails = 0
	}

	f.Seq = s.seq
	if err := s.vw.Append(f); err != nil {
		if errors.Is(err, video.ErrWriterClosed) {
			return err
		}
		return fmt.Errorf("unable to append frame %d: %w", f.Seq, err)
	}
	s.seq++
	s.counters.captured.Add(1)
	s.counters.capturedInterval.Add(1)
	s.stats.framesCaptured.Inc()
	s.stats.grabDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

// runWithTimeout runs f, giving up waiting for it after d.
func runWithTimeout(d time.Duration, f func() error) (timedOut bool, err error) {
	c := make(chan error, 1)
	go func() { c <- f() }()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-c:
		return false, err
	case <-timer.C:
		return true, nil
	}
}

// finish stops the session goroutines, releases every resource and
// finalizes the artifacts. It never blocks for longer than the stop timeout
// on any single step, except for muxing.
func (s *session) finish(m Muxer) *Result {
	timeout := s.st.StopTimeout
	res := &Result{Base: s.base}
	degrade := func(format string, args ...interface{}) {
		reason := fmt.Sprintf(format, args...)
		s.log.Warnf("Degraded: %s", reason)
		res.Degraded = append(res.Degraded, reason)
	}

	s.requestStop()
	select {
	case <-s.loopDone:
	case <-time.After(timeout):
		degrade("capture loop did not stop within %s", timeout)
	}

	timedOut, err := runWithTimeout(timeout, s.vw.Close)
	switch {
	case timedOut:
		degrade("video writer did not close within %s", timeout)
	case err != nil:
		degrade("error closing video: %v", err)
	}

	var audioPath string
	var audioDur time.Duration
	if a := s.audio; a != nil {
		timedOut, err := runWithTimeout(timeout, a.src.Close)
		switch {
		case timedOut:
			degrade("audio device did not stop within %s", timeout)
		case err != nil:
			s.log.Warnf("Error stopping audio device: %v", err)
		}
		a.queue.Close()

		select {
		case err := <-a.done:
			if err != nil {
				degrade("error writing audio: %v", err)
			}
			res.AudioFrames = a.wav.Frames()
			if res.AudioFrames == 0 {
				s.log.Infof("No audio was recorded")
				if err := os.Remove(a.wav.Path()); err != nil {
					s.log.Warnf("Unable to remove empty audio file: %v", err)
				}
				break
			}
			audioPath = a.wav.Path()
			if !a.failed.Load() {
				audioDur = a.wav.Duration()
			}
		case <-time.After(timeout):
			degrade("audio writer did not finish within %s", timeout)
			res.Extra = append(res.Extra, a.wav.Path())
		}

		s.stats.audioBlocks.Add(float64(a.src.Blocks()))
		s.stats.audioDropped.Add(float64(a.queue.Dropped()))
		s.stats.queueDepth.Set(0)
		if dropped := a.queue.Dropped(); dropped > 0 {
			degrade("%d audio blocks dropped", dropped)
		}
	}

	res.Frames = s.vw.Frames()
	res.Skipped = s.counters.skipped.Load()
	res.Lagged = s.counters.lagged.Load()
	res.Duration = s.stoppedAt.Sub(s.started) - s.pausedTotal

	in := mux.Input{
		Video:         s.vw.Path(),
		Audio:         audioPath,
		Final:         basePath(s.st.Folder, s.base) + "." + string(s.st.Format),
		VideoDuration: time.Duration(res.Frames) * time.Second / time.Duration(s.st.FPS),
		AudioDuration: audioDur,
	}
	mres := m.Mux(context.Background(), in)
	s.stats.muxed(mres.Outcome)
	res.Outcome = mres.Outcome
	res.Final = mres.Final
	res.Extra = append(mres.Extra, res.Extra...)
	if mres.Degraded != "" {
		degrade("%s", mres.Degraded)
	}

	fps := 0.0
	if res.Duration > 0 {
		fps = float64(res.Frames) / res.Duration.Seconds()
	}
	s.log.Infof("%d frames recorded in %s (%.02f fps), "+
		"%d skipped, %d lagged, %d audio frames", res.Frames,
		hduration(res.Duration), fps, res.Skipped, res.Lagged, res.AudioFrames)
	return res
}

package recorder

import (
	"sync/atomic"
	"time"

	"github.com/companyzero/screenrec/internal/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stats holds engine statistics.
type stats struct {
	reg *prometheus.Registry

	framesCaptured prometheus.Counter
	framesSkipped  prometheus.Counter
	framesLagged   prometheus.Counter
	audioBlocks    prometheus.Counter
	audioDropped   prometheus.Counter
	queueDepth     prometheus.Gauge
	recording      prometheus.Gauge
	grabDuration   prometheus.Histogram
	sessions       *prometheus.CounterVec
	muxOutcomes    *prometheus.CounterVec
}

// newStats creates the engine metrics in reg. When reg is nil a new registry
// including process and go runtime collectors is created.
func newStats(reg *prometheus.Registry) *stats {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}
	f := promauto.With(reg)
	return &stats{
		reg: reg,

		framesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "screenrec_frames_captured",
			Help: "Total frames appended to video files",
		}),
		framesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "screenrec_frames_skipped",
			Help: "Total frames skipped due to capture errors",
		}),
		framesLagged: f.NewCounter(prometheus.CounterOpts{
			Name: "screenrec_frames_lagged",
			Help: "Total frame slots missed because capture fell too far behind",
		}),
		audioBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "screenrec_audio_blocks",
			Help: "Total audio blocks delivered by capture devices",
		}),
		audioDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "screenrec_audio_blocks_dropped",
			Help: "Total audio blocks dropped due to a full sample queue",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "screenrec_audio_queue_depth",
			Help: "Number of audio blocks waiting to be written",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "screenrec_recording",
			Help: "Whether a session is active",
		}),
		grabDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "screenrec_grab_duration_milliseconds",
			Help: "Histogram of time taken to grab and append each frame",
			Buckets: []float64{
				1, 2, 5, 10, 20, 35, 50, 75, 100, 200, 500, 1_000,
			},
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "screenrec_sessions",
			Help: "Count of sessions by how they ended",
		}, []string{"result"}),
		muxOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "screenrec_mux_outcomes",
			Help: "Count of session finalizations by outcome",
		}, []string{"outcome"}),
	}
}

func (s *stats) sessionEnded(result string) {
	s.sessions.With(prometheus.Labels{"result": result}).Inc()
}

func (s *stats) muxed(outcome mux.Outcome) {
	s.muxOutcomes.With(prometheus.Labels{"outcome": string(outcome)}).Inc()
}

// sessionCounters are the counters of a single session, swapped by the stats
// report loop.
type sessionCounters struct {
	captured atomic.Uint64
	skipped  atomic.Uint64
	lagged   atomic.Uint64

	capturedInterval atomic.Uint64
	skippedInterval  atomic.Uint64
}

// runReportStatsLoop logs the stats of the session every interval until the
// session stops.
func (s *session) runReportStatsLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var tickTime, lastTick time.Time
	tickTime = time.Now()
	var lastBlocks uint64

	for {
		lastTick = tickTime
		select {
		case <-s.stopChan:
			return
		case tickTime = <-ticker.C:
		}

		captured := s.counters.capturedInterval.Swap(0)
		skipped := s.counters.skippedInterval.Swap(0)
		var blocks, depth, capacity uint64
		if s.audio != nil {
			total := s.audio.src.Blocks()
			blocks, lastBlocks = total-lastBlocks, total
			depth = uint64(s.audio.queue.Len())
			capacity = uint64(s.audio.queue.Cap())
			s.stats.queueDepth.Set(float64(depth))
		}
		if s.paused.Load() && captured|skipped|blocks == 0 {
			continue
		}

		dt := tickTime.Sub(lastTick)
		if dt == 0 {
			continue
		}
		dts := float64(dt.Milliseconds()) / 1000

		s.log.Infof("Stats for the last %s - frames %s (%s/sec), "+
			"skipped %s, lagged %s total; audio blocks %s, queue %d/%d",
			dt.Round(time.Millisecond),
			hcount(captured), hrate(float64(captured)/dts),
			hcount(skipped), hcount(s.counters.lagged.Load()),
			hcount(blocks), depth, capacity)
	}
}

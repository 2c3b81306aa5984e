package recorder

import (
	"time"
)

// maxCatchUp is how far behind schedule capture may fall before the pacer
// gives up on the missed slots and re-anchors to the current time.
const maxCatchUp = time.Second

// pacer schedules captures on a fixed cadence with a monotonically advancing
// deadline, so that time spent capturing does not accumulate as drift.
type pacer struct {
	period time.Duration
	next   time.Time
}

func newPacer(fps int, now time.Time) *pacer {
	return &pacer{
		period: time.Second / time.Duration(fps),
		next:   now,
	}
}

// reset schedules the next capture for now.
func (p *pacer) reset(now time.Time) {
	p.next = now
}

// wait returns how long until the next capture is due. It is zero or negative
// when the capture is already due.
func (p *pacer) wait(now time.Time) time.Duration {
	return p.next.Sub(now)
}

// advance is called after each capture. It moves the deadline one period
// forward and returns the number of slots dropped if capture fell behind by
// more than maxCatchUp.
func (p *pacer) advance(now time.Time) int {
	p.next = p.next.Add(p.period)
	behind := now.Sub(p.next)
	if behind <= maxCatchUp {
		return 0
	}
	lagged := int(behind / p.period)
	p.next = now
	return lagged
}

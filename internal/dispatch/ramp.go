package dispatch

import (
	"context"
	"time"
)

// Ramp grows the allowed sends per window over a job's lifetime:
//
//	limit = min(Initial + floor(elapsed/Interval)*Step, Ceiling)
type Ramp struct {
	Initial  int
	Step     int
	Interval time.Duration
	Ceiling  int
	Window   time.Duration
}

func (r Ramp) Limit(elapsed time.Duration) int {
	n := r.Initial
	if r.Interval > 0 && elapsed > 0 {
		n += int(elapsed/r.Interval) * r.Step
	}
	if r.Ceiling > 0 && n > r.Ceiling {
		n = r.Ceiling
	}
	return max(n, 1)
}

// rampGate enforces a Ramp for one running job. Not safe for concurrent use.
type rampGate struct {
	ramp        Ramp
	clock       Clock
	start       time.Time
	windowStart time.Time
	count       int
}

// newRampGate measures elapsed time from jobStart, so a resumed job keeps the
// rate it had reached. A zero jobStart means now.
func newRampGate(r Ramp, clock Clock, jobStart time.Time) *rampGate {
	if r.Window <= 0 {
		r.Window = time.Minute
	}
	now := clock.Now()
	if jobStart.IsZero() || jobStart.After(now) {
		jobStart = now
	}
	return &rampGate{ramp: r, clock: clock, start: jobStart, windowStart: now}
}

// Wait blocks until one more send fits in the current window.
func (g *rampGate) Wait(ctx context.Context) error {
	for {
		now := g.clock.Now()
		if now.Sub(g.windowStart) >= g.ramp.Window {
			g.windowStart, g.count = now, 0
		}
		if g.count < g.ramp.Limit(now.Sub(g.start)) {
			g.count++
			return nil
		}
		if err := g.clock.Sleep(ctx, g.windowStart.Add(g.ramp.Window).Sub(now)); err != nil {
			return err
		}
	}
}

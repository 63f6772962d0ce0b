package routing

import "time"

// QuietHours is a daily window, in the recipient's local time, during which no
// outreach starts. Start and End are hours in [0,23]; a window may wrap
// midnight (21 -> 8). Start == End disables quiet hours.
type QuietHours struct {
	Start int
	End   int
}

func (q QuietHours) disabled() bool { return q.Start == q.End }

// Open reports whether outreach may start at t in loc.
func (q QuietHours) Open(t time.Time, loc *time.Location) bool {
	if q.disabled() {
		return true
	}
	h := t.In(loc).Hour()
	if q.Start < q.End {
		return h < q.Start || h >= q.End
	}
	return h < q.Start && h >= q.End
}

// NextOpen returns t if the window is open, otherwise the instant quiet hours end.
func (q QuietHours) NextOpen(t time.Time, loc *time.Location) time.Time {
	if q.Open(t, loc) {
		return t
	}
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), q.End, 0, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

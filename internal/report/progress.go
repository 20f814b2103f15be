package report

import "time"

// Progress is one update on the report stream. Percent is
// monotonically non-decreasing within a run.
type Progress struct {
	RunID      string `json:"run_id"`
	StatusText string `json:"status_text"`
	Percent    int    `json:"percent"`
}

// ProgressFunc receives throttled progress updates. A nil func
// disables reporting.
type ProgressFunc func(Progress)

// progressThrottleInterval caps how often the scan emits.
const progressThrottleInterval = 200 * time.Millisecond

// emitter throttles progress emission and maps the scan fraction
// into a sub-range of the overall percentage. Phase boundaries
// bypass the throttle so callers always see the range endpoints.
type emitter struct {
	runID    string
	fn       ProgressFunc
	lo, hi   int
	lastEmit time.Time
	lastPct  int
	now      func() time.Time
}

func newEmitter(runID string, fn ProgressFunc, lo, hi int) *emitter {
	if lo < 0 {
		lo = 0
	}
	if hi > 100 {
		hi = 100
	}
	if hi < lo {
		hi = lo
	}
	return &emitter{
		runID:   runID,
		fn:      fn,
		lo:      lo,
		hi:      hi,
		lastPct: -1,
		now:     time.Now,
	}
}

// phase emits an absolute percentage immediately.
func (e *emitter) phase(status string, pct int) {
	e.emit(status, pct, true)
}

// scanned emits the scan fraction done/total mapped into [lo, hi],
// subject to the throttle.
func (e *emitter) scanned(status string, done, total int) {
	frac := 0.0
	if total > 0 {
		frac = float64(done) / float64(total)
		if frac > 1 {
			frac = 1
		}
	}
	pct := e.lo + int(frac*float64(e.hi-e.lo))
	e.emit(status, pct, false)
}

func (e *emitter) emit(status string, pct int, force bool) {
	if e.fn == nil {
		return
	}
	if pct < e.lastPct {
		pct = e.lastPct
	}
	now := e.now()
	if !force && pct == e.lastPct {
		return
	}
	if !force && now.Sub(e.lastEmit) < progressThrottleInterval {
		return
	}
	e.lastEmit = now
	e.lastPct = pct
	e.fn(Progress{RunID: e.runID, StatusText: status, Percent: pct})
}

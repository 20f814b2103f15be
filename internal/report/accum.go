package report

import (
	"sort"
	"strings"
	"time"

	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

const (
	// conversationGap is the inactivity threshold after which the
	// next message starts a new conversation.
	conversationGap = 3600
	// responseCeiling bounds a plausible reply latency. Gaps at or
	// beyond it are silence, not replies.
	responseCeiling = 86400
	// responseNoiseFloor is the minimum sample count before a
	// session may compete in the fastest-responder ranking.
	responseNoiseFloor = 10

	midnightEndHour = 6
)

// streakState tracks consecutive active days for one session.
// observe must see timestamps in non-decreasing order; the cursor
// guarantees that within a session.
type streakState struct {
	lastDay  int
	runLen   int
	runStart int
}

// streakTracker holds per-session runs and the global best.
type streakTracker struct {
	sessions map[string]*streakState
	loc      *time.Location

	bestSession string
	bestLen     int
	bestStart   int
	bestEnd     int
}

func newStreakTracker(loc *time.Location) *streakTracker {
	return &streakTracker{
		sessions: make(map[string]*streakState),
		loc:      loc,
	}
}

func (t *streakTracker) observe(sessionID string, ts int64) {
	day := timeutil.DayIndex(ts, t.loc)
	s := t.sessions[sessionID]
	if s == nil {
		s = &streakState{lastDay: day, runLen: 1, runStart: day}
		t.sessions[sessionID] = s
	} else {
		switch {
		case day == s.lastDay:
			return
		case day == s.lastDay+1:
			s.runLen++
		default:
			s.runLen = 1
			s.runStart = day
		}
		s.lastDay = day
	}
	if s.runLen > t.bestLen {
		t.bestSession = sessionID
		t.bestLen = s.runLen
		t.bestStart = s.runStart
		t.bestEnd = day
	}
}

func (t *streakTracker) best() *Streak {
	if t.bestLen == 0 {
		return nil
	}
	return &Streak{
		Contact:  Contact{ID: t.bestSession},
		Length:   t.bestLen,
		StartDay: timeutil.DayString(t.bestStart),
		EndDay:   timeutil.DayString(t.bestEnd),
	}
}

// heatmapTracker accumulates the global weekday-by-hour grid and the
// per-session midnight counters.
type heatmapTracker struct {
	grid     [7][24]int
	midnight map[string]int
	loc      *time.Location
}

func newHeatmapTracker(loc *time.Location) *heatmapTracker {
	return &heatmapTracker{midnight: make(map[string]int), loc: loc}
}

func (t *heatmapTracker) observe(sessionID string, ts int64) {
	wd := timeutil.WeekdayISO(ts, t.loc)
	hr := timeutil.HourOf(ts, t.loc)
	t.grid[wd][hr]++
	if hr < midnightEndHour {
		t.midnight[sessionID]++
	}
}

// convState remembers the previous message of one session.
type convState struct {
	lastTime int64
	lastSelf bool
}

// convTracker accumulates conversation starts and response samples.
type convTracker struct {
	sessions  map[string]*convState
	initiated map[string]store.ConvCounts
	response  map[string]*responseState
}

// responseState keeps enough per session to rank and average without
// retaining individual samples.
type responseState struct {
	count int
	sum   int64
}

func newConvTracker() *convTracker {
	return &convTracker{
		sessions:  make(map[string]*convState),
		initiated: make(map[string]store.ConvCounts),
		response:  make(map[string]*responseState),
	}
}

func (t *convTracker) observe(sessionID string, ts int64, isSelf bool) {
	s := t.sessions[sessionID]
	if s == nil {
		t.sessions[sessionID] = &convState{lastTime: ts, lastSelf: isSelf}
		t.markStart(sessionID, isSelf)
		return
	}

	gap := ts - s.lastTime
	if gap >= conversationGap {
		t.markStart(sessionID, isSelf)
	} else if isSelf && !s.lastSelf && gap > 0 && gap < responseCeiling {
		r := t.response[sessionID]
		if r == nil {
			r = &responseState{}
			t.response[sessionID] = r
		}
		r.count++
		r.sum += gap
	}

	s.lastTime = ts
	s.lastSelf = isSelf
}

func (t *convTracker) markStart(sessionID string, isSelf bool) {
	c := t.initiated[sessionID]
	if isSelf {
		c.BySelf++
	} else {
		c.ByPeer++
	}
	t.initiated[sessionID] = c
}

// phraseTracker counts exact-match short texts. The scan feeds it
// every decoded text message; side and length eligibility are decided
// by the caller since the two reports apply different policies.
type phraseTracker struct {
	counts map[string]int
}

func newPhraseTracker() *phraseTracker {
	return &phraseTracker{counts: make(map[string]int)}
}

// phraseEligible applies the markup and hyperlink filters shared by
// both reports. Length bands are applied at ranking time.
func phraseEligible(text string) bool {
	n := len([]rune(text))
	if n < 2 || n > 50 {
		return false
	}
	if strings.Contains(text, "http") {
		return false
	}
	if strings.ContainsAny(text, "<>") {
		return false
	}
	if strings.HasPrefix(text, "[") {
		return false
	}
	return true
}

func (t *phraseTracker) observe(text string) {
	if phraseEligible(text) {
		t.counts[text]++
	}
}

// ranked filters to repeated phrases within [minLen, maxLen] runes
// and returns the top n by count, ties broken lexically.
func (t *phraseTracker) ranked(minLen, maxLen, n int) []Phrase {
	return rankPhrases(t.counts, minLen, maxLen, n)
}

func rankPhrases(counts map[string]int, minLen, maxLen, n int) []Phrase {
	var out []Phrase
	for text, count := range counts {
		if count < 2 {
			continue
		}
		r := len([]rune(text))
		if r < minLen || r > maxLen {
			continue
		}
		out = append(out, Phrase{Text: text, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

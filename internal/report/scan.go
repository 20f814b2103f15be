package report

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

var log = logrus.WithField("component", "report")

// Options configures one report run.
type Options struct {
	// Year selects the report window; 0 means all time.
	Year int
	// Timezone is the calendar zone for day and hour bucketing.
	// Nil means the system zone.
	Timezone *time.Location
	// BatchSize overrides the cursor batch size; 0 uses the store
	// default.
	BatchSize int
	// ScanRangeLo/Hi bound the overall percentage consumed by the
	// message scan phase. Zero values default to 30 and 80.
	ScanRangeLo int
	ScanRangeHi int
	// Progress receives throttled updates; nil disables them.
	Progress ProgressFunc
	// RunID tags progress updates; the runner fills it in.
	RunID string
	// Yield is called between cursor batches. Nil defaults to a
	// context-cancellation check. Returning an error aborts the
	// scan.
	Yield func(ctx context.Context) error
}

func (o *Options) normalize() {
	if o.Timezone == nil {
		o.Timezone = time.Local
	}
	if o.ScanRangeLo == 0 && o.ScanRangeHi == 0 {
		o.ScanRangeLo, o.ScanRangeHi = 30, 80
	}
	if o.Yield == nil {
		o.Yield = func(ctx context.Context) error { return ctx.Err() }
	}
}

// scanStats is the merged output of the extras fast path and the
// full scan. Both paths produce the same shape; assemblers never
// know which one ran.
type scanStats struct {
	heatmap       [7][24]int
	midnight      map[string]int
	conv          map[string]store.ConvCounts
	response      map[string]store.ResponseAgg
	peakBreakdown map[string]int
	phraseCounts  map[string]int // nil when phrases came pre-ranked
	phrases       []Phrase       // pre-ranked from extras
	bestStreak    *Streak

	daily        map[string]int
	peakDay      string
	peakCount    int
	sessionStats map[string]*store.SessionStats
}

// collect runs the dual-path pipeline over the given sessions. The
// always-on SQL aggregates (daily counts, session stats) come first;
// then the extras fast path is attempted, and whatever concerns it
// could not supply are recomputed by a cursor scan.
func collect(
	ctx context.Context,
	src Source, sessions []store.SessionSummary,
	begin, end int64, opts *Options, em *emitter,
) (*scanStats, error) {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}

	st := &scanStats{
		midnight:      make(map[string]int),
		conv:          make(map[string]store.ConvCounts),
		response:      make(map[string]store.ResponseAgg),
		peakBreakdown: make(map[string]int),
	}

	em.phase("Counting daily activity", 10)
	daily, err := src.BulkDailyCounts(ctx, ids, begin, end, opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	st.daily = daily
	for day, n := range daily {
		if n > st.peakCount || (n == st.peakCount && (st.peakDay == "" || day < st.peakDay)) {
			st.peakDay, st.peakCount = day, n
		}
	}

	em.phase("Collecting session totals", 20)
	st.sessionStats, err = src.BulkSessionStats(ctx, ids, begin, end, opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}

	var peakBegin, peakEnd int64
	if st.peakDay != "" {
		peakBegin, peakEnd = timeutil.DayWindow(st.peakDay, opts.Timezone)
	}

	em.phase("Fetching pre-aggregated statistics", opts.ScanRangeLo)
	extras, err := src.BulkExtras(ctx, ids, begin, end,
		peakBegin, peakEnd, opts.Timezone)
	if err != nil {
		// Recoverable: fall back to the full scan.
		log.WithError(err).Info("extras unavailable, running full scan")
		extras = nil
	}

	need := applyExtras(st, extras)
	if need.any() {
		if err := fullScan(ctx, src, sessions, begin, end,
			opts, em, st, need); err != nil {
			return nil, err
		}
	}
	em.phase("Assembling report", opts.ScanRangeHi)
	return st, nil
}

// needSet marks which concerns the extras payload did not supply
// and the scan must recompute.
type needSet struct {
	heatmap  bool
	midnight bool
	conv     bool
	response bool
	peakDay  bool
	phrases  bool
	streak   bool
}

func (n needSet) any() bool {
	return n.heatmap || n.midnight || n.conv || n.response ||
		n.peakDay || n.phrases || n.streak
}

// applyExtras copies every field the payload supplied and reports
// what is still missing. Fields are independently optional: a
// partial payload triggers a scan for the gaps only.
func applyExtras(st *scanStats, ex *store.ExtrasPayload) needSet {
	need := needSet{
		heatmap: true, midnight: true, conv: true, response: true,
		peakDay: st.peakDay != "", phrases: true, streak: true,
	}
	if ex == nil {
		return need
	}
	if ex.Heatmap != nil {
		st.heatmap = *ex.Heatmap
		need.heatmap = false
	}
	if ex.MidnightBySession != nil {
		st.midnight = ex.MidnightBySession
		need.midnight = false
	}
	if ex.ConversationBySession != nil {
		st.conv = ex.ConversationBySession
		need.conv = false
	}
	if ex.ResponseBySession != nil {
		st.response = ex.ResponseBySession
		need.response = false
	}
	if ex.PeakDayBreakdown != nil {
		st.peakBreakdown = ex.PeakDayBreakdown
		need.peakDay = false
	}
	if ex.TopPhrases != nil {
		st.phrases = make([]Phrase, len(ex.TopPhrases))
		for i, p := range ex.TopPhrases {
			st.phrases[i] = Phrase{Text: p.Text, Count: p.Count}
		}
		need.phrases = false
	}
	if ex.BestStreak != nil {
		st.bestStreak = &Streak{
			Contact:  Contact{ID: ex.BestStreak.SessionID},
			Length:   ex.BestStreak.Length,
			StartDay: ex.BestStreak.StartDay,
			EndDay:   ex.BestStreak.EndDay,
		}
		need.streak = false
	}
	return need
}

// fullScan iterates every session's cursor and recomputes the
// concerns in need. Sessions whose cursor fails mid-way are skipped;
// partial results from other sessions survive.
func fullScan(
	ctx context.Context,
	src Source, sessions []store.SessionSummary,
	begin, end int64, opts *Options, em *emitter,
	st *scanStats, need needSet,
) error {
	total, err := src.CountMessages(ctx, sessionIDs(sessions), begin, end)
	if err != nil {
		log.WithError(err).Warn("counting messages for progress")
		total = 0
	}

	streaks := newStreakTracker(opts.Timezone)
	heat := newHeatmapTracker(opts.Timezone)
	convs := newConvTracker()
	phrases := newPhraseTracker()

	processed := 0
	for si, sess := range sessions {
		if err := scanSession(ctx, src, sess.ID, begin, end, opts,
			func(row store.MessageRow) {
				processed++
				ts := row.CreateTime
				if need.streak {
					streaks.observe(sess.ID, ts)
				}
				if need.heatmap || need.midnight {
					heat.observe(sess.ID, ts)
				}
				if need.conv || need.response {
					convs.observe(sess.ID, ts, row.IsSelf)
				}
				if need.phrases && row.IsSelf && row.Type == store.MessageText {
					phrases.observe(row.Text())
				}
				if need.peakDay &&
					timeutil.DayOf(ts, opts.Timezone) == st.peakDay {
					st.peakBreakdown[sess.ID]++
				}
			},
			func() {
				if total > 0 {
					em.scanned("Scanning messages", processed, total)
				} else {
					em.scanned("Scanning messages", si, len(sessions))
				}
			},
		); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Cursor I/O failure: this session's partial numbers
			// stay, the scan moves on.
			log.WithError(err).WithField("session", sess.ID).
				Warn("session scan aborted")
		}
	}

	if need.heatmap {
		st.heatmap = heat.grid
	}
	if need.midnight {
		st.midnight = heat.midnight
	}
	if need.conv {
		st.conv = convs.initiated
	}
	if need.response {
		for id, r := range convs.response {
			st.response[id] = store.ResponseAgg{Count: r.count, Sum: r.sum}
		}
	}
	if need.phrases {
		st.phraseCounts = phrases.counts
	}
	if need.streak {
		st.bestStreak = streaks.best()
	}
	return nil
}

// scanSession drives one session's cursor, invoking onRow per message
// and afterBatch (progress, cooperative yield) between batches.
func scanSession(
	ctx context.Context,
	src Source, sessionID string, begin, end int64, opts *Options,
	onRow func(store.MessageRow), afterBatch func(),
) error {
	cur, err := src.OpenCursor(sessionID, opts.BatchSize, true, begin, end)
	if err != nil {
		return fmt.Errorf("opening cursor: %w", err)
	}
	defer cur.Close()

	for {
		rows, hasMore, err := cur.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetching batch: %w", err)
		}
		for _, row := range rows {
			onRow(row)
		}
		afterBatch()
		if err := opts.Yield(ctx); err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func sessionIDs(sessions []store.SessionSummary) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wesm/chatlens/internal/timeutil"
)

// ConvCounts splits started conversations by which side sent the
// opening message.
type ConvCounts struct {
	BySelf int
	ByPeer int
}

// ResponseAgg carries enough to recover a mean reply latency without
// retaining individual samples.
type ResponseAgg struct {
	Count int
	Sum   int64
}

// PhraseCount is one repeated short message and how often it was sent.
type PhraseCount struct {
	Text  string
	Count int
}

// StreakInfo describes the longest run of consecutive active days
// found in a single session.
type StreakInfo struct {
	SessionID string
	Length    int
	StartDay  string
	EndDay    string
}

// ExtrasPayload holds per-concern aggregates computed inside SQLite.
// Every field is independently optional: a nil field means that
// concern must be recomputed by scanning messages.
type ExtrasPayload struct {
	Heatmap               *[7][24]int
	MidnightBySession     map[string]int
	ConversationBySession map[string]ConvCounts
	ResponseBySession     map[string]ResponseAgg
	PeakDayBreakdown      map[string]int
	TopPhrases            []PhraseCount
	BestStreak            *StreakInfo
}

const (
	conversationGapSeconds = 3600
	midnightStartHour      = 0
	midnightEndHour        = 6
)

type extrasCols struct {
	table, timeCol, talkerCol, selfCol, typeCol, textCol string
}

// BulkExtras computes the fast-path aggregates for the given sessions
// in the window [begin, end]. peakBegin/peakEnd bound the already
// determined busiest day so its per-contact breakdown can be computed
// without a scan; pass 0, 0 to skip that concern.
//
// Extras only work against the modern layout, where message text
// lives in a plain column and timestamps are seconds; the legacy
// layout stores compressed blobs that SQL cannot see through, so
// callers get ErrExtrasUnavailable and fall back to a full scan.
//
// Concerns are computed independently. A failing concern is logged and
// left nil rather than sinking the whole payload.
func (st *Store) BulkExtras(
	ctx context.Context,
	ids []string, begin, end, peakBegin, peakEnd int64,
	loc *time.Location,
) (*ExtrasPayload, error) {
	if st.layout != layoutModern {
		return nil, ErrExtrasUnavailable
	}
	if len(ids) == 0 {
		return &ExtrasPayload{}, nil
	}

	cols := extrasCols{
		table:     "message",
		timeCol:   "create_time",
		talkerCol: "user_name",
		selfCol:   "is_self",
		typeCol:   "local_type",
		textCol:   "content",
	}
	off := zoneOffset(loc)

	out := &ExtrasPayload{}

	if hm, err := st.extrasHeatmap(ctx, cols, ids, begin, end, off); err != nil {
		log.WithError(err).Warn("extras heatmap failed, deferring to scan")
	} else {
		out.Heatmap = hm
	}
	if mn, err := st.extrasMidnight(ctx, cols, ids, begin, end, off); err != nil {
		log.WithError(err).Warn("extras midnight failed, deferring to scan")
	} else {
		out.MidnightBySession = mn
	}
	conv, resp, err := st.extrasConversation(ctx, cols, ids, begin, end)
	if err != nil {
		log.WithError(err).Warn("extras conversation failed, deferring to scan")
	} else {
		out.ConversationBySession = conv
		out.ResponseBySession = resp
	}
	if peakEnd > peakBegin {
		pk, err := st.extrasPeakBreakdown(ctx, cols, ids, peakBegin, peakEnd)
		if err != nil {
			log.WithError(err).Warn("extras peak day failed, deferring to scan")
		} else {
			out.PeakDayBreakdown = pk
		}
	}
	if ph, err := st.extrasPhrases(ctx, cols, ids, begin, end); err != nil {
		log.WithError(err).Warn("extras phrases failed, deferring to scan")
	} else {
		out.TopPhrases = ph
	}
	if sk, err := st.extrasStreak(ctx, cols, ids, begin, end, off); err != nil {
		log.WithError(err).Warn("extras streak failed, deferring to scan")
	} else {
		out.BestStreak = sk
	}
	return out, nil
}

func (st *Store) extrasHeatmap(
	ctx context.Context, c extrasCols,
	ids []string, begin, end, off int64,
) (*[7][24]int, error) {
	var grid [7][24]int
	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		// strftime %w counts Sunday as 0; shift to Monday = 0.
		query := fmt.Sprintf(
			`SELECT (CAST(strftime('%%w', %[1]s + %[2]d, 'unixepoch') AS INTEGER) + 6) %% 7,
			        CAST(strftime('%%H', %[1]s + %[2]d, 'unixepoch') AS INTEGER),
			        COUNT(*)
			 FROM %[3]s
			 WHERE %[4]s IN %[5]s AND %[1]s >= ? AND %[1]s <= ?
			 GROUP BY 1, 2`,
			c.timeCol, off, c.table, c.talkerCol, ph,
		)
		args = append(args, begin, end)

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying heatmap: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var wd, hr, n int
			if err := rows.Scan(&wd, &hr, &n); err != nil {
				return fmt.Errorf("scanning heatmap row: %w", err)
			}
			if wd >= 0 && wd < 7 && hr >= 0 && hr < 24 {
				grid[wd][hr] += n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &grid, nil
}

func (st *Store) extrasMidnight(
	ctx context.Context, c extrasCols,
	ids []string, begin, end, off int64,
) (map[string]int, error) {
	out := make(map[string]int)
	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT %[1]s, COUNT(*)
			 FROM %[2]s
			 WHERE %[1]s IN %[3]s AND %[4]s >= ? AND %[4]s <= ?
			   AND CAST(strftime('%%H', %[4]s + %[5]d, 'unixepoch') AS INTEGER) >= %[6]d
			   AND CAST(strftime('%%H', %[4]s + %[5]d, 'unixepoch') AS INTEGER) < %[7]d
			 GROUP BY %[1]s`,
			c.talkerCol, c.table, ph, c.timeCol, off,
			midnightStartHour, midnightEndHour,
		)
		args = append(args, begin, end)

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying midnight counts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return fmt.Errorf("scanning midnight count: %w", err)
			}
			out[id] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// extrasConversation computes both conversation starts and response
// latency aggregates in a single windowed pass per chunk. A message
// opens a conversation when it is the first in its session or follows
// a gap of at least an hour; a response sample is recorded when the
// sender flips from peer to self inside the same conversation, so
// the gap must stay below the hour threshold (and the 24h ceiling).
func (st *Store) extrasConversation(
	ctx context.Context, c extrasCols,
	ids []string, begin, end int64,
) (map[string]ConvCounts, map[string]ResponseAgg, error) {
	conv := make(map[string]ConvCounts)
	resp := make(map[string]ResponseAgg)

	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`WITH ordered AS (
			   SELECT %[1]s AS talker, %[2]s AS ts, %[3]s AS self,
			          LAG(%[2]s) OVER w AS prev_ts,
			          LAG(%[3]s) OVER w AS prev_self
			   FROM %[4]s
			   WHERE %[1]s IN %[5]s AND %[2]s >= ? AND %[2]s <= ?
			   WINDOW w AS (PARTITION BY %[1]s ORDER BY %[2]s, rowid)
			 )
			 SELECT talker,
			        SUM(CASE WHEN (prev_ts IS NULL OR ts - prev_ts >= %[6]d) AND self = 1 THEN 1 ELSE 0 END),
			        SUM(CASE WHEN (prev_ts IS NULL OR ts - prev_ts >= %[6]d) AND self = 0 THEN 1 ELSE 0 END),
			        SUM(CASE WHEN self = 1 AND prev_self = 0 AND ts - prev_ts > 0 AND ts - prev_ts < %[6]d AND ts - prev_ts < 86400 THEN 1 ELSE 0 END),
			        SUM(CASE WHEN self = 1 AND prev_self = 0 AND ts - prev_ts > 0 AND ts - prev_ts < %[6]d AND ts - prev_ts < 86400 THEN ts - prev_ts ELSE 0 END)
			 FROM ordered
			 GROUP BY talker`,
			c.talkerCol, c.timeCol, c.selfCol, c.table, ph,
			conversationGapSeconds,
		)
		args = append(args, begin, end)

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying conversation stats: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var bySelf, byPeer, rc int
			var rsum int64
			if err := rows.Scan(&id, &bySelf, &byPeer, &rc, &rsum); err != nil {
				return fmt.Errorf("scanning conversation stats: %w", err)
			}
			cc := conv[id]
			cc.BySelf += bySelf
			cc.ByPeer += byPeer
			conv[id] = cc
			ra := resp[id]
			ra.Count += rc
			ra.Sum += rsum
			resp[id] = ra
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, resp, nil
}

// extrasPeakBreakdown counts per-contact messages inside the busiest
// day's window.
func (st *Store) extrasPeakBreakdown(
	ctx context.Context, c extrasCols,
	ids []string, peakBegin, peakEnd int64,
) (map[string]int, error) {
	out := make(map[string]int)
	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT %[1]s, COUNT(*)
			 FROM %[2]s
			 WHERE %[1]s IN %[3]s AND %[4]s >= ? AND %[4]s <= ?
			 GROUP BY %[1]s`,
			c.talkerCol, c.table, ph, c.timeCol,
		)
		args = append(args, peakBegin, peakEnd)

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying peak day breakdown: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return fmt.Errorf("scanning peak day breakdown: %w", err)
			}
			out[id] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const extrasPhraseLimit = 64

// extrasPhrases surfaces short self-sent texts repeated verbatim.
// Markup and link payloads are filtered here so the report layer only
// applies its own length band on top.
func (st *Store) extrasPhrases(
	ctx context.Context, c extrasCols,
	ids []string, begin, end int64,
) ([]PhraseCount, error) {
	counts := make(map[string]int)
	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT %[1]s, COUNT(*) AS n
			 FROM %[2]s
			 WHERE %[3]s IN %[4]s AND %[5]s >= ? AND %[5]s <= ?
			   AND %[6]s = 1 AND %[7]s = 1
			   AND length(%[1]s) BETWEEN 2 AND 50
			   AND %[1]s NOT LIKE '%%<%%'
			   AND %[1]s NOT LIKE '%%>%%'
			   AND %[1]s NOT LIKE '%%http%%'
			   AND %[1]s NOT LIKE '[%%'
			 GROUP BY %[1]s
			 HAVING n >= 2
			 ORDER BY n DESC, %[1]s
			 LIMIT %[8]d`,
			c.textCol, c.table, c.talkerCol, ph, c.timeCol, c.typeCol,
			c.selfCol, extrasPhraseLimit,
		)
		args = append(args, begin, end)

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying phrases: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var text string
			var n int
			if err := rows.Scan(&text, &n); err != nil {
				return fmt.Errorf("scanning phrase: %w", err)
			}
			counts[text] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]PhraseCount, 0, len(counts))
	for text, n := range counts {
		out = append(out, PhraseCount{Text: text, Count: n})
	}
	sortPhrases(out)
	if len(out) > extrasPhraseLimit {
		out = out[:extrasPhraseLimit]
	}
	return out, nil
}

// extrasStreak finds the longest run of consecutive active days over
// all sessions using a classic islands grouping: for each distinct
// active day, day minus its rank within the session is constant
// across a consecutive run.
func (st *Store) extrasStreak(
	ctx context.Context, c extrasCols,
	ids []string, begin, end, off int64,
) (*StreakInfo, error) {
	var best *StreakInfo

	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`WITH days AS (
			   SELECT DISTINCT %[1]s AS talker,
			          CAST((%[2]s + %[3]d) / 86400 AS INTEGER) AS day
			   FROM %[4]s
			   WHERE %[1]s IN %[5]s AND %[2]s >= ? AND %[2]s <= ?
			 ),
			 runs AS (
			   SELECT talker, day,
			          day - ROW_NUMBER() OVER (PARTITION BY talker ORDER BY day) AS grp
			   FROM days
			 )
			 SELECT talker, COUNT(*) AS len, MIN(day), MAX(day)
			 FROM runs
			 GROUP BY talker, grp
			 ORDER BY len DESC, MIN(day)
			 LIMIT 1`,
			c.talkerCol, c.timeCol, off, c.table, ph,
		)
		args = append(args, begin, end)

		var (
			id                string
			length            int
			firstDay, lastDay int
		)
		err := st.reader.QueryRowContext(ctx, query, args...).
			Scan(&id, &length, &firstDay, &lastDay)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying best streak: %w", err)
		}
		if best == nil || length > best.Length {
			best = &StreakInfo{
				SessionID: id,
				Length:    length,
				StartDay:  timeutil.DayString(firstDay),
				EndDay:    timeutil.DayString(lastDay),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

func sortPhrases(ps []PhraseCount) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Count != ps[j].Count {
			return ps[i].Count > ps[j].Count
		}
		return ps[i].Text < ps[j].Text
	})
}

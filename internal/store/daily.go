package store

import (
	"context"
	"fmt"
	"time"
)

// zoneOffset returns loc's current UTC offset in seconds. Day
// bucketing inside SQL uses a fixed offset, so dates within a few
// hours of a DST transition can land in the neighboring bucket;
// the report engine tolerates this the same way the original
// native aggregates did.
func zoneOffset(loc *time.Location) int64 {
	_, off := time.Now().In(loc).Zone()
	return int64(off)
}

// BulkDailyCounts returns per-local-day message totals
// (YYYY-MM-DD -> count) across the given sessions within
// [begin, end] epoch seconds. This query runs for every report
// regardless of which path computes the rest of the statistics:
// the peak day must be known before the full scan starts.
func (st *Store) BulkDailyCounts(
	ctx context.Context,
	ids []string, begin, end int64, loc *time.Location,
) (map[string]int, error) {
	var table, timeCol, talkerCol string
	switch st.layout {
	case layoutModern:
		table, timeCol, talkerCol = "message", "create_time", "user_name"
	default:
		table, timeCol, talkerCol = "MSG", "CreateTime", "StrTalker"
	}

	scale := st.timeScale()
	off := zoneOffset(loc)
	counts := make(map[string]int)

	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT date(%s / %d + %d, 'unixepoch'), COUNT(*)
			 FROM %s
			 WHERE %s IN %s AND %s >= ? AND %s <= ?
			 GROUP BY 1`,
			timeCol, scale, off,
			table, talkerCol, ph, timeCol, timeCol,
		)
		args = append(args, begin*scale, clampScale(end, scale))

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying daily counts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var day string
			var n int
			if err := rows.Scan(&day, &n); err != nil {
				return fmt.Errorf("scanning daily count: %w", err)
			}
			counts[day] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

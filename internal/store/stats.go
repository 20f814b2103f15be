package store

import (
	"context"
	"fmt"
	"time"
)

// SessionStats carries per-session counters that need no message
// decoding, so they are always computed in SQL on either layout.
type SessionStats struct {
	Total   int
	Sent    int
	Recv    int
	ByMonth [12]int
	ByType  map[MessageType]int
}

// BulkSessionStats returns per-session totals, sent/received splits,
// monthly distribution and type breakdown for [begin, end]. One
// grouped query per ID chunk covers all four concerns.
func (st *Store) BulkSessionStats(
	ctx context.Context,
	ids []string, begin, end int64, loc *time.Location,
) (map[string]*SessionStats, error) {
	var table, timeCol, talkerCol, selfCol, typeCol string
	switch st.layout {
	case layoutModern:
		table, timeCol, talkerCol = "message", "create_time", "user_name"
		selfCol, typeCol = "is_self", "local_type"
	default:
		table, timeCol, talkerCol = "MSG", "CreateTime", "StrTalker"
		selfCol, typeCol = "IsSender", "Type"
	}

	scale := st.timeScale()
	off := zoneOffset(loc)
	out := make(map[string]*SessionStats)

	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT %[1]s, %[2]s, %[3]s,
			        CAST(strftime('%%m', %[4]s / %[5]d + %[6]d, 'unixepoch') AS INTEGER),
			        COUNT(*)
			 FROM %[7]s
			 WHERE %[1]s IN %[8]s AND %[4]s >= ? AND %[4]s <= ?
			 GROUP BY 1, 2, 3, 4`,
			talkerCol, selfCol, typeCol, timeCol, scale, off, table, ph,
		)
		args = append(args, begin*scale, clampScale(end, scale))

		rows, err := st.reader.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying session stats: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var self, rawType int64
			var month, n int
			if err := rows.Scan(&id, &self, &rawType, &month, &n); err != nil {
				return fmt.Errorf("scanning session stats: %w", err)
			}
			s := out[id]
			if s == nil {
				s = &SessionStats{ByType: make(map[MessageType]int)}
				out[id] = s
			}
			s.Total += n
			if self != 0 {
				s.Sent += n
			} else {
				s.Recv += n
			}
			if month >= 1 && month <= 12 {
				s.ByMonth[month-1] += n
			}
			s.ByType[normalizeType(rawType)] += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

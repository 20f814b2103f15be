package store

import (
	"context"
	"fmt"
	"math"
)

// DefaultBatchSize is the cursor batch size used when the caller
// passes 0.
const DefaultBatchSize = 500

// Cursor iterates one session's messages in timestamp order,
// batch by batch. Cursors are keyset-based: each Fetch resumes
// after the last row of the previous batch, so the store never
// materializes a full session in memory.
type Cursor struct {
	st        *Store
	sessionID string
	batchSize int
	asc       bool
	begin     int64 // native units
	end       int64 // native units

	lastTime int64
	lastRow  int64
	done     bool
}

// OpenCursor opens a batched cursor over one session's messages
// in [beginTs, endTs] (epoch seconds, inclusive). Rows within the
// session are delivered in strictly non-decreasing (asc) or
// non-increasing (desc) timestamp order.
func (st *Store) OpenCursor(
	sessionID string, batchSize int, asc bool, beginTs, endTs int64,
) (*Cursor, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("opening cursor: empty session id")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	scale := st.timeScale()
	c := &Cursor{
		st:        st,
		sessionID: sessionID,
		batchSize: batchSize,
		asc:       asc,
		begin:     beginTs * scale,
		end:       clampScale(endTs, scale),
	}
	if asc {
		c.lastTime = math.MinInt64
	} else {
		c.lastTime = math.MaxInt64
		c.lastRow = math.MaxInt64
	}
	return c, nil
}

// Fetch returns the next batch of normalized rows and whether
// more remain. A cursor whose rows are exhausted returns
// (nil, false, nil) on subsequent calls.
func (c *Cursor) Fetch(ctx context.Context) ([]MessageRow, bool, error) {
	if c.done {
		return nil, false, nil
	}

	query, args := c.buildQuery()
	rows, err := c.st.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf(
			"fetching batch for %s: %w", c.sessionID, err,
		)
	}
	defer rows.Close()

	scale := c.st.timeScale()
	batch := make([]MessageRow, 0, c.batchSize)
	for rows.Next() {
		var rowid, created, rawType int64
		var isSelf bool
		var content, compressed []byte
		if err := rows.Scan(
			&rowid, &created, &isSelf, &rawType,
			&content, &compressed,
		); err != nil {
			return nil, false, fmt.Errorf(
				"scanning batch row for %s: %w", c.sessionID, err,
			)
		}
		c.lastTime = created
		c.lastRow = rowid
		batch = append(batch, MessageRow{
			CreateTime:   created / scale,
			IsSelf:       isSelf,
			Type:         normalizeType(rawType),
			Content:      content,
			Compressed:   compressed,
			ContentPlain: c.st.layout == layoutModern,
		})
		if len(batch) == c.batchSize {
			break
		}
	}
	// One row beyond the batch means more remain.
	hasMore := len(batch) == c.batchSize && rows.Next()
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf(
			"iterating batch for %s: %w", c.sessionID, err,
		)
	}
	if !hasMore {
		c.done = true
	}
	return batch, hasMore, nil
}

// buildQuery assembles the keyset query for the current layout
// and direction. The over-fetch of one row feeds hasMore.
func (c *Cursor) buildQuery() (string, []any) {
	var table, timeCol, talkerCol, typeCol, selfCol, contentCol, compCol string
	switch c.st.layout {
	case layoutModern:
		table, timeCol, talkerCol = "message", "create_time", "user_name"
		typeCol, selfCol = "local_type", "is_self"
		contentCol, compCol = "content", "compressed_content"
	default:
		table, timeCol, talkerCol = "MSG", "CreateTime", "StrTalker"
		typeCol, selfCol = "Type", "IsSender"
		contentCol, compCol = "StrContent", "CompressContent"
	}

	cmp, order := ">", "ASC"
	if !c.asc {
		cmp, order = "<", "DESC"
	}

	query := fmt.Sprintf(
		`SELECT rowid, %[2]s, %[5]s, %[4]s, %[6]s, %[7]s
		 FROM %[1]s
		 WHERE %[3]s = ? AND %[2]s >= ? AND %[2]s <= ?
		   AND (%[2]s %[8]s ? OR (%[2]s = ? AND rowid %[8]s ?))
		 ORDER BY %[2]s %[9]s, rowid %[9]s
		 LIMIT ?`,
		table, timeCol, talkerCol, typeCol, selfCol,
		contentCol, compCol, cmp, order,
	)
	args := []any{
		c.sessionID, c.begin, c.end,
		c.lastTime, c.lastTime, c.lastRow,
		c.batchSize + 1,
	}
	return query, args
}

// Close releases the cursor. Keyset cursors hold no database
// resources between fetches; Close exists for contract symmetry
// and marks the cursor exhausted.
func (c *Cursor) Close() {
	c.done = true
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ListSessions enumerates every conversation in the store, most
// recently active first. Service accounts are filtered out so
// report scans do not waste time on broadcast channels.
func (st *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var query string
	switch st.layout {
	case layoutModern:
		query = `SELECT user_name, COALESCE(sort_timestamp, 0)
			FROM session ORDER BY sort_timestamp DESC`
	default:
		query = `SELECT strUsrName, COALESCE(nOrder, 0)
			FROM Session ORDER BY nOrder DESC`
	}

	rows, err := st.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var id string
		var last int64
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if !usableSession(id) {
			continue
		}
		sessions = append(sessions, SessionSummary{
			ID:         id,
			IsGroup:    IsGroupID(id),
			LastActive: last / st.timeScale(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// usableSession filters out service accounts and internal
// placeholder ids that never hold real conversations.
func usableSession(id string) bool {
	if id == "" {
		return false
	}
	if strings.HasPrefix(id, "gh_") {
		return false // official accounts
	}
	if strings.HasSuffix(id, "@placeholder_foldgroup") {
		return false
	}
	switch id {
	case "filehelper", "fmessage", "floatbottle":
		return false
	}
	return true
}

// DisplayName resolves the human-readable name for a session id.
// Remark (user-assigned) wins over the contact's own nickname;
// unknown ids resolve to themselves.
func (st *Store) DisplayName(ctx context.Context, id string) string {
	c, ok := st.contact(ctx, id)
	if !ok || c.DisplayName == "" {
		return id
	}
	return c.DisplayName
}

// Avatar resolves the avatar URL for a session id, or "" when
// the store has none.
func (st *Store) Avatar(ctx context.Context, id string) string {
	c, _ := st.contact(ctx, id)
	return c.AvatarURL
}

func (st *Store) contact(ctx context.Context, id string) (Contact, bool) {
	st.contactMu.RLock()
	cached := st.contacts
	st.contactMu.RUnlock()

	if cached == nil {
		loaded, err := st.loadContacts(ctx)
		if err != nil {
			log.WithError(err).Warn("loading contacts")
			loaded = map[string]Contact{}
		}
		st.contactMu.Lock()
		if st.contacts == nil {
			st.contacts = loaded
		}
		cached = st.contacts
		st.contactMu.Unlock()
	}

	c, ok := cached[id]
	return c, ok
}

// loadContacts reads the whole contact table once. Chat stores
// rarely exceed a few thousand contacts, so a single in-memory
// map beats per-id queries during report assembly.
func (st *Store) loadContacts(ctx context.Context) (map[string]Contact, error) {
	var query string
	switch st.layout {
	case layoutModern:
		query = `SELECT user_name, COALESCE(nick_name, ''),
			COALESCE(remark, ''), COALESCE(small_head_url, '')
			FROM contact`
	default:
		query = `SELECT c.UserName, COALESCE(c.NickName, ''),
			COALESCE(c.Remark, ''), COALESCE(h.smallHeadImgUrl, '')
			FROM Contact c
			LEFT JOIN ContactHeadImgUrl h ON h.usrName = c.UserName`
	}

	rows, err := st.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	contacts := make(map[string]Contact)
	for rows.Next() {
		var id, nick, remark, avatar string
		if err := rows.Scan(&id, &nick, &remark, &avatar); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		name := remark
		if name == "" {
			name = nick
		}
		contacts[id] = Contact{
			ID:          id,
			DisplayName: name,
			AvatarURL:   avatar,
		}
	}
	return contacts, rows.Err()
}

// CountMessages returns the total message count for the given
// sessions within [begin, end]. Used to size full-scan progress.
func (st *Store) CountMessages(
	ctx context.Context, ids []string, begin, end int64,
) (int, error) {
	var table, timeCol, talkerCol string
	switch st.layout {
	case layoutModern:
		table, timeCol, talkerCol = "message", "create_time", "user_name"
	default:
		table, timeCol, talkerCol = "MSG", "CreateTime", "StrTalker"
	}

	scale := st.timeScale()
	total := 0
	err := queryChunked(ids, func(chunk []string) error {
		ph, args := inPlaceholders(chunk)
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s
			 WHERE %s IN %s AND %s >= ? AND %s <= ?`,
			table, talkerCol, ph, timeCol, timeCol,
		)
		args = append(args, begin*scale, clampScale(end, scale))
		var n sql.NullInt64
		if err := st.reader.QueryRowContext(
			ctx, query, args...,
		).Scan(&n); err != nil {
			return fmt.Errorf("counting messages: %w", err)
		}
		total += int(n.Int64)
		return nil
	})
	return total, err
}

// clampScale multiplies without overflowing the all-time
// sentinel bound.
func clampScale(ts, scale int64) int64 {
	if ts > (1<<63-1)/scale {
		return 1<<63 - 1
	}
	return ts * scale
}

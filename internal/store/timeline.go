package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesm/chatlens/internal/decode"
)

const (
	// DefaultTimelineLimit is the default page size for the media feed.
	DefaultTimelineLimit = 50
	// MaxTimelineLimit is the maximum page size for the media feed.
	MaxTimelineLimit = 200
)

// TimelineItem is one media entry in the reverse-chronological feed.
type TimelineItem struct {
	SessionID  string `json:"session_id"`
	RowID      int64  `json:"-"`
	CreateTime int64  `json:"create_time"`
	IsSelf     bool   `json:"is_self"`
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	EmojiMD5   string `json:"emoji_md5,omitempty"`
	EmojiURL   string `json:"emoji_url,omitempty"`
}

// TimelinePage is one page of the feed plus the keyset cursor for the
// next request. BeforeTime/BeforeRow are only meaningful when HasMore.
type TimelinePage struct {
	Items      []TimelineItem `json:"items"`
	HasMore    bool           `json:"has_more"`
	BeforeTime int64          `json:"before_time,omitempty"`
	BeforeRow  int64          `json:"before_row,omitempty"`
}

var (
	shareTitleRe = regexp.MustCompile(`<title>(?:<!\[CDATA\[)?([^<\]]+)`)
	shareURLRe   = regexp.MustCompile(`<url>(?:<!\[CDATA\[)?([^<\]]+)`)
)

// Timeline returns recent media messages (images, voice, video,
// stickers, shared links) newest first. Pass sessionID == "" for a
// feed across all sessions. beforeTime/beforeRow form a keyset cursor
// from a previous page; pass 0, 0 for the first page.
func (st *Store) Timeline(
	ctx context.Context,
	sessionID string, beforeTime, beforeRow int64, limit int,
) (*TimelinePage, error) {
	if limit <= 0 || limit > MaxTimelineLimit {
		limit = DefaultTimelineLimit
	}

	var table, timeCol, talkerCol, selfCol, typeCol, textCol, blobCol string
	switch st.layout {
	case layoutModern:
		table, timeCol, talkerCol = "message", "create_time", "user_name"
		selfCol, typeCol = "is_self", "local_type"
		textCol, blobCol = "content", "compressed_content"
	default:
		table, timeCol, talkerCol = "MSG", "CreateTime", "StrTalker"
		selfCol, typeCol = "IsSender", "Type"
		textCol, blobCol = "StrContent", "CompressContent"
	}
	scale := st.timeScale()

	// Raw type codes for image, voice, video, sticker and share,
	// shared by both layouts.
	conds := []string{typeCol + " IN (3, 34, 43, 47, 49)"}
	var args []any
	if sessionID != "" {
		conds = append(conds, talkerCol+" = ?")
		args = append(args, sessionID)
	}
	if beforeTime > 0 {
		conds = append(conds, fmt.Sprintf(
			"(%[1]s < ? OR (%[1]s = ? AND rowid < ?))", timeCol,
		))
		args = append(args, beforeTime*scale, beforeTime*scale, beforeRow)
	}

	query := fmt.Sprintf(
		`SELECT rowid, %s, %s, %s, %s, %s, %s
		 FROM %s
		 WHERE %s
		 ORDER BY %s DESC, rowid DESC
		 LIMIT ?`,
		talkerCol, timeCol, selfCol, typeCol, textCol, blobCol,
		table, strings.Join(conds, " AND "), timeCol,
	)
	args = append(args, limit+1)

	rows, err := st.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	page := &TimelinePage{}
	for rows.Next() {
		var (
			rowid, created      int64
			isSelf, rawType     int64
			talker              string
			content, compressed []byte
		)
		if err := rows.Scan(
			&rowid, &talker, &created, &isSelf, &rawType,
			&content, &compressed,
		); err != nil {
			return nil, fmt.Errorf("scanning timeline row: %w", err)
		}
		if len(page.Items) == limit {
			page.HasMore = true
			break
		}
		item := TimelineItem{
			SessionID:  talker,
			RowID:      rowid,
			CreateTime: created / scale,
			IsSelf:     isSelf != 0,
			Type:       normalizeType(rawType).String(),
		}
		enrichTimelineItem(&item, normalizeType(rawType),
			columnText(st.layout == layoutModern, content, compressed))
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating timeline: %w", err)
	}

	if page.HasMore && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.BeforeTime = last.CreateTime
		page.BeforeRow = last.RowID
	}
	return page, nil
}

// enrichTimelineItem pulls display metadata out of the payload.
// Shared links carry either an XML appmsg envelope or, in newer
// stores, a JSON blob; stickers carry an emoji markup tag.
func enrichTimelineItem(item *TimelineItem, mt MessageType, text string) {
	switch mt {
	case MessageShare:
		if gjson.Valid(text) {
			item.Title = gjson.Get(text, "title").String()
			item.URL = gjson.Get(text, "url").String()
			return
		}
		if m := shareTitleRe.FindStringSubmatch(text); m != nil {
			item.Title = strings.TrimSpace(m[1])
		}
		if m := shareURLRe.FindStringSubmatch(text); m != nil {
			item.URL = strings.TrimSpace(m[1])
		}
	case MessageSticker:
		if ref, ok := decode.Emoji(text); ok {
			item.EmojiMD5 = ref.MD5
			item.EmojiURL = ref.CDNURL
		}
	}
}

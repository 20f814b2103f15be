// Package report computes the annual and dual (pairwise) chat
// reports. It consumes the store through a narrow source contract,
// merges the SQL extras fast path with a full cursor scan, and
// assembles the final report shapes.
package report

import (
	"context"
	"time"

	"github.com/wesm/chatlens/internal/store"
)

// Cursor is the batched message iterator the engine consumes.
type Cursor interface {
	Fetch(ctx context.Context) ([]store.MessageRow, bool, error)
	Close()
}

// Source is everything the report engine needs from the store.
// *store.Store satisfies it via NewSource; tests substitute fakes.
type Source interface {
	ListSessions(ctx context.Context) ([]store.SessionSummary, error)
	CountMessages(ctx context.Context, ids []string, begin, end int64) (int, error)
	BulkDailyCounts(ctx context.Context, ids []string, begin, end int64,
		loc *time.Location) (map[string]int, error)
	BulkSessionStats(ctx context.Context, ids []string, begin, end int64,
		loc *time.Location) (map[string]*store.SessionStats, error)
	BulkExtras(ctx context.Context, ids []string,
		begin, end, peakBegin, peakEnd int64,
		loc *time.Location) (*store.ExtrasPayload, error)
	OpenCursor(sessionID string, batchSize int, asc bool,
		beginTs, endTs int64) (Cursor, error)
	DisplayName(ctx context.Context, id string) string
	Avatar(ctx context.Context, id string) string
}

// Contact is resolved display metadata attached to ranked entries.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// FriendRank is one entry in the core-friends ranking.
type FriendRank struct {
	Contact
	MessageCount int `json:"message_count"`
	SentCount    int `json:"sent_count"`
	RecvCount    int `json:"recv_count"`
}

// MonthChampion is the most-messaged contact of one calendar month.
type MonthChampion struct {
	Month int `json:"month"` // 1-12
	Contact
	MessageCount int `json:"message_count"`
}

// DayCount pairs a local calendar day with its message count.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// BusiestDay is the single highest-volume calendar day and its top
// contributing contact.
type BusiestDay struct {
	DayCount
	TopContact   *Contact `json:"top_contact,omitempty"`
	ContactCount int      `json:"contact_count,omitempty"`
}

// Streak is the longest run of consecutive active days with one
// contact.
type Streak struct {
	Contact
	Length   int    `json:"length"`
	StartDay string `json:"start_day"`
	EndDay   string `json:"end_day"`
}

// MidnightChampion is the contact with the largest share of messages
// sent between 00:00 and 06:00 local time.
type MidnightChampion struct {
	Contact
	Count   int     `json:"count"`
	Percent float64 `json:"percent"` // share of the global midnight total
}

// MutualBalance is the contact whose sent/received ratio sits closest
// to 1.0, with both directions at least 50 messages.
type MutualBalance struct {
	Contact
	SentCount int     `json:"sent_count"`
	RecvCount int     `json:"recv_count"`
	Ratio     float64 `json:"ratio"`
}

// InitiationStats summarizes who opens conversations.
type InitiationStats struct {
	BySelf   int     `json:"by_self"`
	ByPeer   int     `json:"by_peer"`
	SelfRate float64 `json:"self_rate"` // BySelf / (BySelf + ByPeer)
}

// ResponseSummary describes reply latency across all sessions.
type ResponseSummary struct {
	SampleCount    int      `json:"sample_count"`
	AverageSeconds float64  `json:"average_seconds"`
	Fastest        *Contact `json:"fastest,omitempty"`
	FastestSeconds float64  `json:"fastest_seconds,omitempty"`
}

// Phrase is one ranked frequent phrase.
type Phrase struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// AnnualOverview carries the headline counters of an annual report.
type AnnualOverview struct {
	TotalMessages    int    `json:"total_messages"`
	SentMessages     int    `json:"sent_messages"`
	ReceivedMessages int    `json:"received_messages"`
	ActiveContacts   int    `json:"active_contacts"`
	ActiveGroups     int    `json:"active_groups"`
	ActiveDays       int    `json:"active_days"`
	FirstMessageDate string `json:"first_message_date,omitempty"`
	LastMessageDate  string `json:"last_message_date,omitempty"`
}

// AnnualReport is the full-account yearly report. Year 0 covers all
// time. NoData reports an empty window as a success shape.
type AnnualReport struct {
	Year     int            `json:"year"`
	NoData   bool           `json:"no_data,omitempty"`
	Overview AnnualOverview `json:"overview"`

	CoreFriends      []FriendRank      `json:"core_friends"`
	MonthlyChampions []MonthChampion   `json:"monthly_champions"`
	MonthlyTrend     [12]int           `json:"monthly_trend"`
	Heatmap          [7][24]int        `json:"heatmap"` // Monday = row 0
	MessageTypes     map[string]int    `json:"message_types"`
	BusiestDay       *BusiestDay       `json:"busiest_day,omitempty"`
	BestStreak       *Streak           `json:"best_streak,omitempty"`
	MidnightChampion *MidnightChampion `json:"midnight_champion,omitempty"`
	MutualBalance    *MutualBalance    `json:"mutual_balance,omitempty"`
	Initiation       InitiationStats   `json:"initiation"`
	Response         ResponseSummary   `json:"response"`
	TopPhrases       []Phrase          `json:"top_phrases"`
}

// FirstMessage is one of the earliest messages in a dual report.
type FirstMessage struct {
	CreateTime int64  `json:"create_time"`
	IsSelf     bool   `json:"is_self"`
	Text       string `json:"text"`
}

// SideStats summarizes one participant of a dual report.
type SideStats struct {
	Messages   int     `json:"messages"`
	Characters int     `json:"characters"`
	Words      int     `json:"words"`
	Share      float64 `json:"share"`
	EmojiMD5   string  `json:"emoji_md5,omitempty"`
	EmojiURL   string  `json:"emoji_url,omitempty"`
	EmojiCount int     `json:"emoji_count,omitempty"`
}

// DualReport is the pairwise report for a single session.
type DualReport struct {
	Contact
	Year   int  `json:"year"`
	NoData bool `json:"no_data,omitempty"`

	FirstEver   []FirstMessage `json:"first_ever,omitempty"`
	FirstOfYear []FirstMessage `json:"first_of_year,omitempty"`

	TotalMessages int            `json:"total_messages"`
	ActiveDays    int            `json:"active_days"`
	MediaCounts   map[string]int `json:"media_counts"`
	Self          SideStats      `json:"self"`
	Peer          SideStats      `json:"peer"`

	LongestGapSeconds int64    `json:"longest_gap_seconds"`
	TopPhrases        []Phrase `json:"top_phrases"`
}

// storeSource adapts *store.Store to the Source contract. Only
// OpenCursor needs wrapping, to return the Cursor interface.
type storeSource struct {
	*store.Store
}

func (s storeSource) OpenCursor(
	sessionID string, batchSize int, asc bool, beginTs, endTs int64,
) (Cursor, error) {
	c, err := s.Store.OpenCursor(sessionID, batchSize, asc, beginTs, endTs)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewSource wraps an open store for use by the report engine.
func NewSource(st *store.Store) Source {
	return storeSource{st}
}

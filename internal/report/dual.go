package report

import (
	"context"
	"strings"
	"unicode"

	"github.com/wesm/chatlens/internal/decode"
	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

const (
	dualPhraseMin = 2
	dualPhraseMax = 50
	dualPhraseTop = 50
	firstMsgCount = 3
)

// Dual computes the pairwise report for one session. Unlike the
// annual path it always scans: every metric here needs decoded text
// or per-side attribution that the extras queries do not carry.
func Dual(
	ctx context.Context, src Source, sessionID string, opts Options,
) (*DualReport, error) {
	opts.normalize()
	begin, end := timeutil.YearWindow(opts.Year, opts.Timezone)
	em := newEmitter(opts.RunID, opts.Progress, opts.ScanRangeLo, opts.ScanRangeHi)

	rep := &DualReport{
		Contact:     resolveContact(ctx, src, sessionID),
		Year:        opts.Year,
		MediaCounts: make(map[string]int),
	}

	em.phase("Finding the first message", 5)
	firstEver, err := firstMessages(ctx, src, sessionID, 0, 1<<63-1, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	rep.FirstEver = firstEver
	if opts.Year != 0 {
		rep.FirstOfYear, err = firstMessages(ctx, src, sessionID, begin, end, opts.BatchSize)
		if err != nil {
			return nil, err
		}
	} else {
		rep.FirstOfYear = firstEver
	}

	total, err := src.CountMessages(ctx, []string{sessionID}, begin, end)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		rep.NoData = true
		em.phase("Done", 100)
		return rep, nil
	}

	em.phase("Scanning the conversation", opts.ScanRangeLo)

	var (
		phrases   = newPhraseTracker()
		days      = make(map[int]struct{})
		selfEmoji = newEmojiCounter()
		peerEmoji = newEmojiCounter()
		lastTime  int64
		processed int
	)
	err = scanSession(ctx, src, sessionID, begin, end, &opts,
		func(row store.MessageRow) {
			processed++
			rep.TotalMessages++
			days[timeutil.DayIndex(row.CreateTime, opts.Timezone)] = struct{}{}

			side := &rep.Peer
			emoji := peerEmoji
			if row.IsSelf {
				side = &rep.Self
				emoji = selfEmoji
			}
			side.Messages++

			switch row.Type {
			case store.MessageText:
				text := row.Text()
				side.Characters += len([]rune(text))
				side.Words += countWords(text)
				phrases.observe(text)
			case store.MessageSticker:
				rep.MediaCounts["sticker"]++
				if ref, ok := decode.Emoji(row.Text()); ok {
					emoji.observe(ref)
				}
			case store.MessageImage, store.MessageVoice, store.MessageVideo:
				rep.MediaCounts[row.Type.String()]++
			}

			if lastTime > 0 && row.CreateTime-lastTime > rep.LongestGapSeconds {
				rep.LongestGapSeconds = row.CreateTime - lastTime
			}
			lastTime = row.CreateTime
		},
		func() {
			em.scanned("Scanning the conversation", processed, total)
		},
	)
	if err != nil {
		return nil, err
	}

	rep.ActiveDays = len(days)
	if rep.TotalMessages > 0 {
		rep.Self.Share = float64(rep.Self.Messages) / float64(rep.TotalMessages)
		rep.Peer.Share = float64(rep.Peer.Messages) / float64(rep.TotalMessages)
	}
	selfEmoji.fill(&rep.Self)
	peerEmoji.fill(&rep.Peer)
	rep.TopPhrases = phrases.ranked(dualPhraseMin, dualPhraseMax, dualPhraseTop)

	em.phase("Assembling report", opts.ScanRangeHi)
	return rep, nil
}

// firstMessages returns up to firstMsgCount earliest messages with
// decodable text in the window.
func firstMessages(
	ctx context.Context,
	src Source, sessionID string, begin, end int64, batchSize int,
) ([]FirstMessage, error) {
	cur, err := src.OpenCursor(sessionID, batchSize, true, begin, end)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []FirstMessage
	for {
		rows, hasMore, err := cur.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out = append(out, FirstMessage{
				CreateTime: row.CreateTime,
				IsSelf:     row.IsSelf,
				Text:       row.Text(),
			})
			if len(out) == firstMsgCount {
				return out, nil
			}
		}
		if !hasMore {
			return out, nil
		}
	}
}

// emojiCounter tracks sticker usage by image MD5 with a best-effort
// CDN URL for the winner.
type emojiCounter struct {
	counts map[string]int
	urls   map[string]string
}

func newEmojiCounter() *emojiCounter {
	return &emojiCounter{
		counts: make(map[string]int),
		urls:   make(map[string]string),
	}
}

func (e *emojiCounter) observe(ref decode.EmojiRef) {
	if ref.MD5 == "" {
		return
	}
	e.counts[ref.MD5]++
	if ref.CDNURL != "" {
		e.urls[ref.MD5] = ref.CDNURL
	}
}

func (e *emojiCounter) fill(side *SideStats) {
	var bestMD5 string
	var bestN int
	for md5, n := range e.counts {
		if n > bestN || (n == bestN && md5 < bestMD5) {
			bestMD5, bestN = md5, n
		}
	}
	if bestN == 0 {
		return
	}
	side.EmojiMD5 = bestMD5
	side.EmojiURL = e.urls[bestMD5]
	side.EmojiCount = bestN
}

// countWords counts whitespace-delimited runs for alphabetic text
// and individual ideographs for CJK, so mixed-script messages get a
// sensible total.
func countWords(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			words++
			inWord = false
		case unicode.IsSpace(r) || strings.ContainsRune(",.!?;:，。！？；：", r):
			inWord = false
		default:
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	return words
}

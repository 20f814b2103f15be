package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/chatlens/internal/store"
)

// fakeSource serves canned messages through the Source contract.
// Messages per session must be appended in ascending time order.
type fakeSource struct {
	msgs      map[string][]store.MessageRow
	order     []string
	groups    map[string]bool
	extras    *store.ExtrasPayload
	extrasErr error
	failFetch map[string]bool
	names     map[string]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		msgs:      make(map[string][]store.MessageRow),
		groups:    make(map[string]bool),
		extrasErr: store.ErrExtrasUnavailable,
		failFetch: make(map[string]bool),
		names:     make(map[string]string),
	}
}

func (f *fakeSource) add(session string, ts int64, self bool, text string) {
	f.addTyped(session, ts, self, store.MessageText, text)
}

func (f *fakeSource) addTyped(
	session string, ts int64, self bool, mt store.MessageType, text string,
) {
	if _, ok := f.msgs[session]; !ok {
		f.order = append(f.order, session)
	}
	f.msgs[session] = append(f.msgs[session], store.MessageRow{
		CreateTime:   ts,
		IsSelf:       self,
		Type:         mt,
		Content:      []byte(text),
		ContentPlain: true,
	})
}

func (f *fakeSource) window(
	session string, begin, end int64,
) []store.MessageRow {
	var out []store.MessageRow
	for _, m := range f.msgs[session] {
		if m.CreateTime >= begin && m.CreateTime <= end {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSource) ListSessions(
	ctx context.Context,
) ([]store.SessionSummary, error) {
	var out []store.SessionSummary
	for _, id := range f.order {
		out = append(out, store.SessionSummary{
			ID: id, IsGroup: f.groups[id],
		})
	}
	return out, nil
}

func (f *fakeSource) CountMessages(
	ctx context.Context, ids []string, begin, end int64,
) (int, error) {
	n := 0
	for _, id := range ids {
		n += len(f.window(id, begin, end))
	}
	return n, nil
}

func (f *fakeSource) BulkDailyCounts(
	ctx context.Context, ids []string, begin, end int64,
	loc *time.Location,
) (map[string]int, error) {
	out := make(map[string]int)
	for _, id := range ids {
		for _, m := range f.window(id, begin, end) {
			day := time.Unix(m.CreateTime, 0).In(loc).Format("2006-01-02")
			out[day]++
		}
	}
	return out, nil
}

func (f *fakeSource) BulkSessionStats(
	ctx context.Context, ids []string, begin, end int64,
	loc *time.Location,
) (map[string]*store.SessionStats, error) {
	out := make(map[string]*store.SessionStats)
	for _, id := range ids {
		for _, m := range f.window(id, begin, end) {
			s := out[id]
			if s == nil {
				s = &store.SessionStats{ByType: make(map[store.MessageType]int)}
				out[id] = s
			}
			s.Total++
			if m.IsSelf {
				s.Sent++
			} else {
				s.Recv++
			}
			month := int(time.Unix(m.CreateTime, 0).In(loc).Month())
			s.ByMonth[month-1]++
			s.ByType[m.Type]++
		}
	}
	return out, nil
}

func (f *fakeSource) BulkExtras(
	ctx context.Context, ids []string,
	begin, end, peakBegin, peakEnd int64, loc *time.Location,
) (*store.ExtrasPayload, error) {
	if f.extrasErr != nil {
		return nil, f.extrasErr
	}
	return f.extras, nil
}

type fakeCursor struct {
	rows  []store.MessageRow
	batch int
	pos   int
	fail  bool
}

func (c *fakeCursor) Fetch(
	ctx context.Context,
) ([]store.MessageRow, bool, error) {
	if c.fail {
		return nil, false, errors.New("cursor read failed")
	}
	if c.pos >= len(c.rows) {
		return nil, false, nil
	}
	endPos := c.pos + c.batch
	if endPos > len(c.rows) {
		endPos = len(c.rows)
	}
	batch := c.rows[c.pos:endPos]
	c.pos = endPos
	return batch, c.pos < len(c.rows), nil
}

func (c *fakeCursor) Close() {}

func (f *fakeSource) OpenCursor(
	sessionID string, batchSize int, asc bool, beginTs, endTs int64,
) (Cursor, error) {
	if batchSize <= 0 {
		batchSize = 2
	}
	return &fakeCursor{
		rows:  f.window(sessionID, beginTs, endTs),
		batch: batchSize,
		fail:  f.failFetch[sessionID],
	}, nil
}

func (f *fakeSource) DisplayName(ctx context.Context, id string) string {
	if n, ok := f.names[id]; ok {
		return n
	}
	return id
}

func (f *fakeSource) Avatar(ctx context.Context, id string) string {
	return ""
}

func utcOpts(year int) Options {
	return Options{Year: year, Timezone: time.UTC}
}

func ts(t *testing.T, value string) int64 {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return parsed.Unix()
}

func TestAnnualNoSessions(t *testing.T) {
	rep, err := Annual(context.Background(), newFakeSource(), utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if !rep.NoData {
		t.Error("expected NoData for empty store")
	}
}

func TestAnnualEmptyWindow(t *testing.T) {
	f := newFakeSource()
	f.add("alice", ts(t, "2022-05-01 10:00:00"), true, "hi")
	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if !rep.NoData {
		t.Error("expected NoData for empty year window")
	}
}

func TestStreakScenario(t *testing.T) {
	f := newFakeSource()
	// Three consecutive days, a gap, then one more day.
	f.add("alice", ts(t, "2023-01-01 10:00:00"), true, "a")
	f.add("alice", ts(t, "2023-01-01 11:00:00"), false, "same day again")
	f.add("alice", ts(t, "2023-01-02 10:00:00"), true, "b")
	f.add("alice", ts(t, "2023-01-03 10:00:00"), false, "c")
	f.add("alice", ts(t, "2023-01-10 10:00:00"), true, "d")

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if rep.BestStreak == nil {
		t.Fatal("no streak")
	}
	if rep.BestStreak.Length != 3 ||
		rep.BestStreak.StartDay != "2023-01-01" ||
		rep.BestStreak.EndDay != "2023-01-03" {
		t.Errorf("streak = %+v, want 3 days 01-01..01-03", rep.BestStreak)
	}
	if rep.BestStreak.ID != "alice" {
		t.Errorf("streak session = %q", rep.BestStreak.ID)
	}
}

func TestHeatmapSumEqualsMessageCount(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-03-01 00:00:00")
	n := 0
	for i := range 50 {
		f.add("alice", base+int64(i)*7000, i%3 == 0, fmt.Sprintf("m%d", i))
		n++
	}
	f.addTyped("bob", base+99, false, store.MessageImage, "")
	n++

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	sum := 0
	for _, row := range rep.Heatmap {
		for _, c := range row {
			sum += c
		}
	}
	if sum != n {
		t.Errorf("heatmap sum = %d, want %d", sum, n)
	}
}

func TestResponseScenario(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	// Self at base, peer 500s later (same conversation), self
	// replies 500s after that: one sample of 500.
	f.add("alice", base, true, "ping")
	f.add("alice", base+500, false, "pong")
	f.add("alice", base+1000, true, "reply")
	// A gap of exactly one hour starts a new conversation and must
	// not record a sample.
	f.add("alice", base+1000+3600, true, "new convo")

	stats := newConvTracker()
	for _, m := range f.msgs["alice"] {
		stats.observe("alice", m.CreateTime, m.IsSelf)
	}
	r := stats.response["alice"]
	if r == nil || r.count != 1 || r.sum != 500 {
		t.Fatalf("response = %+v, want one 500s sample", r)
	}
	c := stats.initiated["alice"]
	if c.BySelf != 2 || c.ByPeer != 0 {
		t.Errorf("initiated = %+v, want 2 by self", c)
	}
}

func TestPhraseScenario(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	f.add("alice", base, true, "hello world")
	f.add("alice", base+60, true, "hello world")
	f.add("alice", base+120, false, "hello world") // peer, ineligible
	f.add("alice", base+180, true, "http://spam")  // link, ineligible
	f.add("alice", base+240, true, "<b>markup</b>")
	f.add("alice", base+300, true, "once only")

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if len(rep.TopPhrases) != 1 {
		t.Fatalf("phrases = %+v, want exactly hello world", rep.TopPhrases)
	}
	if rep.TopPhrases[0].Text != "hello world" || rep.TopPhrases[0].Count != 2 {
		t.Errorf("phrase = %+v", rep.TopPhrases[0])
	}
}

func TestFastPathMatchesFullScan(t *testing.T) {
	build := func() *fakeSource {
		f := newFakeSource()
		base := ts(t, "2023-06-05 08:00:00") // a Monday
		f.add("alice", base, false, "hello")
		f.add("alice", base+120, true, "hey")
		f.add("alice", base+7200, true, "lunch?")
		f.add("alice", base+86400, false, "tue")
		f.add("bob", base+60, true, "okok")
		f.add("bob", base+5000, true, "okok")
		return f
	}

	scanned := build() // extras fail, full scan
	viaScan, err := Annual(context.Background(), scanned, utcOpts(2023))
	if err != nil {
		t.Fatalf("full-scan Annual: %v", err)
	}

	// Hand-built extras payload describing the same dataset.
	fast := build()
	fast.extrasErr = nil
	heat := viaScan.Heatmap
	fast.extras = &store.ExtrasPayload{
		Heatmap:           &heat,
		MidnightBySession: map[string]int{},
		ConversationBySession: map[string]store.ConvCounts{
			"alice": {BySelf: 1, ByPeer: 2},
			"bob":   {BySelf: 2},
		},
		ResponseBySession: map[string]store.ResponseAgg{
			"alice": {Count: 1, Sum: 120},
		},
		PeakDayBreakdown: map[string]int{"alice": 3, "bob": 2},
		TopPhrases:       []store.PhraseCount{{Text: "okok", Count: 2}},
		BestStreak: &store.StreakInfo{
			SessionID: "alice", Length: 2,
			StartDay: "2023-06-05", EndDay: "2023-06-06",
		},
	}
	viaFast, err := Annual(context.Background(), fast, utcOpts(2023))
	if err != nil {
		t.Fatalf("fast-path Annual: %v", err)
	}

	if diff := cmp.Diff(viaScan, viaFast); diff != "" {
		t.Errorf("fast path and full scan disagree (-scan +fast):\n%s", diff)
	}

	// A partial payload keeps its supplied fields and the scan
	// fills in only what is missing; the assembled report must
	// still match the pure-scan result.
	partial := build()
	partial.extrasErr = nil
	partial.extras = &store.ExtrasPayload{Heatmap: &heat}
	viaPartial, err := Annual(context.Background(), partial, utcOpts(2023))
	if err != nil {
		t.Fatalf("partial-extras Annual: %v", err)
	}
	if diff := cmp.Diff(viaScan, viaPartial); diff != "" {
		t.Errorf("partial merge and full scan disagree (-scan +partial):\n%s", diff)
	}
}

func TestCursorFailureSkipsSession(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	f.add("broken", base, true, "lost")
	f.add("alice", base+60, true, "kept")
	f.add("alice", base+120, false, "kept too")
	f.failFetch["broken"] = true

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	// Totals come from SQL stats, but scan-derived numbers must
	// still reflect the surviving session.
	sum := 0
	for _, row := range rep.Heatmap {
		for _, c := range row {
			sum += c
		}
	}
	if sum != 2 {
		t.Errorf("heatmap sum = %d, want the 2 rows of alice", sum)
	}
}

func TestCoreFriendsExcludeGroups(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	for i := range 30 {
		f.add("team@chatroom", base+int64(i)*60, i%2 == 0, "chatter")
	}
	f.groups["team@chatroom"] = true
	for i := range 10 {
		f.add("alice", base+int64(i)*60, i%2 == 0, "hi")
	}
	for i := range 5 {
		f.add("bob", base+int64(i)*60, true, "yo")
	}
	f.names["alice"] = "Alice"

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if len(rep.CoreFriends) != 2 {
		t.Fatalf("core friends = %+v, want alice and bob", rep.CoreFriends)
	}
	if rep.CoreFriends[0].ID != "alice" ||
		rep.CoreFriends[0].Name != "Alice" ||
		rep.CoreFriends[0].MessageCount != 10 {
		t.Errorf("top friend = %+v", rep.CoreFriends[0])
	}
	if rep.Overview.ActiveGroups != 1 || rep.Overview.ActiveContacts != 2 {
		t.Errorf("overview = %+v", rep.Overview)
	}
	// Groups still count toward the heatmap and overview totals.
	if rep.Overview.TotalMessages != 45 {
		t.Errorf("total = %d, want 45", rep.Overview.TotalMessages)
	}
}

func TestMutualBalance(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-02-01 08:00:00")
	seed := func(id string, sent, recv int) {
		t.Helper()
		i := 0
		for range sent {
			f.add(id, base+int64(i)*30, true, "s")
			i++
		}
		for range recv {
			f.add(id, base+int64(i)*30, false, "r")
			i++
		}
	}
	seed("balanced", 60, 55)
	seed("lopsided", 200, 50)
	seed("tiny", 10, 10) // below the floor

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if rep.MutualBalance == nil || rep.MutualBalance.ID != "balanced" {
		t.Fatalf("mutual balance = %+v, want balanced", rep.MutualBalance)
	}
	if rep.MutualBalance.SentCount != 60 || rep.MutualBalance.RecvCount != 55 {
		t.Errorf("balance counts = %+v", rep.MutualBalance)
	}
}

func TestMidnightChampion(t *testing.T) {
	f := newFakeSource()
	f.add("owl", ts(t, "2023-07-01 02:30:00"), true, "late 1")
	f.add("owl", ts(t, "2023-07-02 03:15:00"), false, "late 2")
	f.add("owl", ts(t, "2023-07-02 05:59:59"), true, "still late")
	f.add("lark", ts(t, "2023-07-01 01:00:00"), true, "one late")
	f.add("lark", ts(t, "2023-07-01 06:00:00"), true, "not late")
	f.add("lark", ts(t, "2023-07-01 12:00:00"), true, "noon")

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	mc := rep.MidnightChampion
	if mc == nil || mc.ID != "owl" || mc.Count != 3 {
		t.Fatalf("midnight champion = %+v, want owl x3", mc)
	}
	if mc.Percent != 75 {
		t.Errorf("percent = %v, want 75", mc.Percent)
	}
}

func TestMonthlyChampionsAndBusiestDay(t *testing.T) {
	f := newFakeSource()
	// January belongs to alice, February to bob.
	for i := range 4 {
		f.add("alice", ts(t, "2023-01-10 10:00:00")+int64(i)*60, true, "jan")
	}
	f.add("bob", ts(t, "2023-01-11 10:00:00"), false, "jan too")
	for i := range 6 {
		f.add("bob", ts(t, "2023-02-05 09:00:00")+int64(i)*60, false, "feb")
	}

	rep, err := Annual(context.Background(), f, utcOpts(2023))
	if err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if len(rep.MonthlyChampions) != 2 {
		t.Fatalf("champions = %+v", rep.MonthlyChampions)
	}
	if rep.MonthlyChampions[0].Month != 1 ||
		rep.MonthlyChampions[0].ID != "alice" {
		t.Errorf("january champion = %+v", rep.MonthlyChampions[0])
	}
	if rep.MonthlyChampions[1].Month != 2 ||
		rep.MonthlyChampions[1].ID != "bob" ||
		rep.MonthlyChampions[1].MessageCount != 6 {
		t.Errorf("february champion = %+v", rep.MonthlyChampions[1])
	}

	if rep.BusiestDay == nil || rep.BusiestDay.Date != "2023-02-05" ||
		rep.BusiestDay.Count != 6 {
		t.Fatalf("busiest day = %+v", rep.BusiestDay)
	}
	if rep.BusiestDay.TopContact == nil ||
		rep.BusiestDay.TopContact.ID != "bob" ||
		rep.BusiestDay.ContactCount != 6 {
		t.Errorf("busiest day contributor = %+v", rep.BusiestDay)
	}
	if rep.MonthlyTrend[0] != 5 || rep.MonthlyTrend[1] != 6 {
		t.Errorf("trend = %v", rep.MonthlyTrend[:3])
	}
}

func TestProgressMonotonicAndTerminal(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	for i := range 40 {
		f.add("alice", base+int64(i)*60, i%2 == 0, fmt.Sprintf("m%d", i))
	}

	var updates []Progress
	opts := utcOpts(2023)
	opts.Progress = func(p Progress) { updates = append(updates, p) }
	opts.RunID = "run-1"

	if _, err := Annual(context.Background(), f, opts); err != nil {
		t.Fatalf("Annual: %v", err)
	}
	if len(updates) == 0 {
		t.Fatal("no progress emitted")
	}
	last := -1
	for _, p := range updates {
		if p.Percent < last {
			t.Fatalf("progress went backwards: %v", updates)
		}
		last = p.Percent
		if p.RunID != "run-1" {
			t.Errorf("run id = %q", p.RunID)
		}
		if p.StatusText == "" {
			t.Error("empty status text")
		}
	}
	if last > 80 {
		t.Errorf("scan-phase progress exceeded its range: %d", last)
	}
}

func TestRunnerDeliversOneTerminal(t *testing.T) {
	f := newFakeSource()
	f.add("alice", ts(t, "2023-06-01 12:00:00"), true, "hi")

	rn := NewRunner(f)
	run := rn.Annual(context.Background(), utcOpts(2023))
	if run.ID == "" {
		t.Fatal("missing run id")
	}

	out := <-run.Done()
	if out.Err != nil {
		t.Fatalf("outcome err: %v", out.Err)
	}
	if out.Annual == nil || out.Dual != nil {
		t.Fatalf("outcome = %+v, want annual report", out)
	}

	// Progress closes after the terminal; the final update is 100.
	var lastP Progress
	for p := range run.Progress() {
		if p.Percent < lastP.Percent {
			t.Errorf("progress went backwards at %+v", p)
		}
		lastP = p
	}
	if lastP.Percent != 100 {
		t.Errorf("final progress = %d, want 100", lastP.Percent)
	}
	select {
	case extra, ok := <-run.Done():
		if ok {
			t.Fatalf("second terminal: %+v", extra)
		}
	default:
	}
}

func TestRunnerCancellation(t *testing.T) {
	f := newFakeSource()
	base := ts(t, "2023-06-01 12:00:00")
	for i := range 100 {
		f.add("alice", base+int64(i)*60, true, fmt.Sprintf("m%d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rn := NewRunner(f)
	run := rn.Annual(ctx, utcOpts(2023))
	out := <-run.Done()
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("outcome err = %v, want context.Canceled", out.Err)
	}
	if out.Annual != nil {
		t.Error("canceled run still produced a report")
	}
}

func TestPhraseEligibility(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"ok", true},
		{"x", false},
		{strings.Repeat("a", 50), true},
		{strings.Repeat("a", 51), false},
		{"see http://x.co", false},
		{"a < b", false},
		{"[sticker]", false},
		{"<?xml version", false},
		{"普通的中文短语", true},
	}
	for _, tc := range cases {
		if got := phraseEligible(tc.text); got != tc.want {
			t.Errorf("phraseEligible(%q) = %v, want %v",
				tc.text, got, tc.want)
		}
	}
}

package report

import (
	"context"
	"math"
	"sort"

	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

const (
	coreFriendCount = 3
	annualPhraseMin = 2
	annualPhraseMax = 20
	annualPhraseTop = 32

	// mutualBalanceFloor is the minimum sent and received count
	// before a contact qualifies for the balance ranking.
	mutualBalanceFloor = 50
)

// Annual computes the full-account yearly report. Year 0 covers the
// whole history.
func Annual(
	ctx context.Context, src Source, opts Options,
) (*AnnualReport, error) {
	opts.normalize()
	begin, end := timeutil.YearWindow(opts.Year, opts.Timezone)
	em := newEmitter(opts.RunID, opts.Progress, opts.ScanRangeLo, opts.ScanRangeHi)

	em.phase("Listing sessions", 5)
	sessions, err := src.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return &AnnualReport{Year: opts.Year, NoData: true}, nil
	}

	st, err := collect(ctx, src, sessions, begin, end, &opts, em)
	if err != nil {
		return nil, err
	}

	rep := &AnnualReport{
		Year:         opts.Year,
		Heatmap:      st.heatmap,
		MessageTypes: make(map[string]int),
	}

	groups := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		groups[s.ID] = s.IsGroup
	}

	assembleOverview(rep, st, groups)
	if rep.Overview.TotalMessages == 0 {
		return &AnnualReport{Year: opts.Year, NoData: true}, nil
	}

	assembleCoreFriends(ctx, rep, src, st, groups)
	assembleMonthlyChampions(ctx, rep, src, st, groups)
	assembleBusiestDay(ctx, rep, src, st)
	assembleMidnight(ctx, rep, src, st)
	assembleMutualBalance(ctx, rep, src, st, groups)
	assembleInitiation(rep, st)
	assembleResponse(ctx, rep, src, st)

	if st.bestStreak != nil {
		s := *st.bestStreak
		s.Name = src.DisplayName(ctx, s.ID)
		s.Avatar = src.Avatar(ctx, s.ID)
		rep.BestStreak = &s
	}

	if st.phraseCounts != nil {
		rep.TopPhrases = rankPhrases(st.phraseCounts,
			annualPhraseMin, annualPhraseMax, annualPhraseTop)
	} else {
		rep.TopPhrases = clipPhrases(st.phrases,
			annualPhraseMin, annualPhraseMax, annualPhraseTop)
	}
	return rep, nil
}

func assembleOverview(
	rep *AnnualReport, st *scanStats, groups map[string]bool,
) {
	o := &rep.Overview
	for id, s := range st.sessionStats {
		o.TotalMessages += s.Total
		o.SentMessages += s.Sent
		o.ReceivedMessages += s.Recv
		if groups[id] {
			o.ActiveGroups++
		} else {
			o.ActiveContacts++
		}
		for m, n := range s.ByMonth {
			rep.MonthlyTrend[m] += n
		}
		for mt, n := range s.ByType {
			rep.MessageTypes[mt.String()] += n
		}
	}

	o.ActiveDays = len(st.daily)
	for day := range st.daily {
		if o.FirstMessageDate == "" || day < o.FirstMessageDate {
			o.FirstMessageDate = day
		}
		if day > o.LastMessageDate {
			o.LastMessageDate = day
		}
	}
}

// assembleCoreFriends ranks 1:1 contacts by total volume. Groups are
// conversations, not friends, so they stay out of this list.
func assembleCoreFriends(
	ctx context.Context, rep *AnnualReport, src Source,
	st *scanStats, groups map[string]bool,
) {
	type entry struct {
		id string
		s  *store.SessionStats
	}
	var ranked []entry
	for id, s := range st.sessionStats {
		if groups[id] || s.Total == 0 {
			continue
		}
		ranked = append(ranked, entry{id, s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].s.Total != ranked[j].s.Total {
			return ranked[i].s.Total > ranked[j].s.Total
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > coreFriendCount {
		ranked = ranked[:coreFriendCount]
	}
	for _, e := range ranked {
		rep.CoreFriends = append(rep.CoreFriends, FriendRank{
			Contact:      resolveContact(ctx, src, e.id),
			MessageCount: e.s.Total,
			SentCount:    e.s.Sent,
			RecvCount:    e.s.Recv,
		})
	}
}

func assembleMonthlyChampions(
	ctx context.Context, rep *AnnualReport, src Source,
	st *scanStats, groups map[string]bool,
) {
	for m := range 12 {
		var bestID string
		var bestN int
		for id, s := range st.sessionStats {
			if groups[id] {
				continue
			}
			n := s.ByMonth[m]
			if n > bestN || (n == bestN && n > 0 && id < bestID) {
				bestID, bestN = id, n
			}
		}
		if bestN == 0 {
			continue
		}
		rep.MonthlyChampions = append(rep.MonthlyChampions, MonthChampion{
			Month:        m + 1,
			Contact:      resolveContact(ctx, src, bestID),
			MessageCount: bestN,
		})
	}
}

func assembleBusiestDay(
	ctx context.Context, rep *AnnualReport, src Source, st *scanStats,
) {
	if st.peakDay == "" {
		return
	}
	bd := &BusiestDay{
		DayCount: DayCount{Date: st.peakDay, Count: st.peakCount},
	}
	var topID string
	var topN int
	for id, n := range st.peakBreakdown {
		if n > topN || (n == topN && n > 0 && id < topID) {
			topID, topN = id, n
		}
	}
	if topN > 0 {
		c := resolveContact(ctx, src, topID)
		bd.TopContact = &c
		bd.ContactCount = topN
	}
	rep.BusiestDay = bd
}

// assembleMidnight crowns the contact with the largest share of the
// global midnight total. No midnight messages, no champion.
func assembleMidnight(
	ctx context.Context, rep *AnnualReport, src Source, st *scanStats,
) {
	total := 0
	for _, n := range st.midnight {
		total += n
	}
	if total == 0 {
		return
	}
	var bestID string
	var bestN int
	for id, n := range st.midnight {
		if n > bestN || (n == bestN && id < bestID) {
			bestID, bestN = id, n
		}
	}
	rep.MidnightChampion = &MidnightChampion{
		Contact: resolveContact(ctx, src, bestID),
		Count:   bestN,
		Percent: 100 * float64(bestN) / float64(total),
	}
}

func assembleMutualBalance(
	ctx context.Context, rep *AnnualReport, src Source,
	st *scanStats, groups map[string]bool,
) {
	var bestID string
	var bestSent, bestRecv int
	bestDist := math.Inf(1)
	for id, s := range st.sessionStats {
		if groups[id] || s.Sent < mutualBalanceFloor || s.Recv < mutualBalanceFloor {
			continue
		}
		ratio := float64(s.Sent) / float64(s.Recv)
		dist := math.Abs(ratio - 1)
		if dist < bestDist || (dist == bestDist && id < bestID) {
			bestID, bestSent, bestRecv = id, s.Sent, s.Recv
			bestDist = dist
		}
	}
	if bestID == "" {
		return
	}
	rep.MutualBalance = &MutualBalance{
		Contact:   resolveContact(ctx, src, bestID),
		SentCount: bestSent,
		RecvCount: bestRecv,
		Ratio:     float64(bestSent) / float64(bestRecv),
	}
}

func assembleInitiation(rep *AnnualReport, st *scanStats) {
	for _, c := range st.conv {
		rep.Initiation.BySelf += c.BySelf
		rep.Initiation.ByPeer += c.ByPeer
	}
	if total := rep.Initiation.BySelf + rep.Initiation.ByPeer; total > 0 {
		rep.Initiation.SelfRate =
			float64(rep.Initiation.BySelf) / float64(total)
	}
}

// assembleResponse computes the sample-weighted global mean and the
// fastest responder among sessions past the noise floor.
func assembleResponse(
	ctx context.Context, rep *AnnualReport, src Source, st *scanStats,
) {
	var totalCount int
	var totalSum int64
	var bestID string
	bestAvg := math.Inf(1)

	for id, r := range st.response {
		if r.Count < responseNoiseFloor {
			continue
		}
		totalCount += r.Count
		totalSum += r.Sum
		avg := float64(r.Sum) / float64(r.Count)
		if avg < bestAvg || (avg == bestAvg && id < bestID) {
			bestID, bestAvg = id, avg
		}
	}
	rep.Response.SampleCount = totalCount
	if totalCount > 0 {
		rep.Response.AverageSeconds = float64(totalSum) / float64(totalCount)
		c := resolveContact(ctx, src, bestID)
		rep.Response.Fastest = &c
		rep.Response.FastestSeconds = bestAvg
	}
}

// clipPhrases re-applies a length band and cap to an already ranked
// list (the extras path ranks with the wide band).
func clipPhrases(ps []Phrase, minLen, maxLen, n int) []Phrase {
	var out []Phrase
	for _, p := range ps {
		r := len([]rune(p.Text))
		if r < minLen || r > maxLen {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}

func resolveContact(ctx context.Context, src Source, id string) Contact {
	return Contact{
		ID:     id,
		Name:   src.DisplayName(ctx, id),
		Avatar: src.Avatar(ctx, id),
	}
}

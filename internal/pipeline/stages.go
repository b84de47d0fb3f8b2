package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// farFuture stands in for a missing end when ranking duplicates: an open
// ended disruption outlives any bounded one.
var farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// normalise scrubs the text fields and repairs the time fields so the
// later stages can rely on a non-zero pub date and ordered start/end.
func (b *Builder) normalise(events []domain.Event, buildTime time.Time) []domain.Event {
	out := events[:0]
	for _, ev := range events {
		ev.Title = textutil.CollapseWhitespace(textutil.ScrubControl(ev.Title))
		ev.Description = strings.TrimSpace(textutil.ScrubControl(ev.Description))
		if ev.Title == "" {
			b.logger.Warn("event without title dropped", "source", ev.Source, "guid", ev.GUID)
			continue
		}
		if ev.PubDate.IsZero() {
			switch {
			case ev.StartsAt != nil:
				ev.PubDate = *ev.StartsAt
			default:
				if first, ok := b.state.Get(ev.DedupeKey()); ok {
					ev.PubDate = first
				} else {
					ev.PubDate = buildTime
				}
			}
		}
		if ev.StartsAt != nil && ev.EndsAt != nil && ev.EndsAt.Before(*ev.StartsAt) {
			b.logger.Warn("event ends before it starts, dropping the end",
				"source", ev.Source, "guid", ev.GUID)
			ev.EndsAt = nil
		}
		out = append(out, ev)
	}
	return out
}

// prune drops events the feed no longer needs: ended ones past the grace
// window, anything past the absolute age cap, stale ones without a future
// end, and events that have lingered in the feed for longer than the age
// cap no matter what their dates claim.
func (b *Builder) prune(events []domain.Event, buildTime time.Time) []domain.Event {
	staleCutoff := buildTime.AddDate(0, 0, -b.cfg.Pipeline.MaxItemAgeDays)
	absoluteCutoff := buildTime.AddDate(0, 0, -b.cfg.Pipeline.AbsoluteMaxAgeDays)
	graceCutoff := buildTime.Add(-b.cfg.Pipeline.EndsAtGrace)

	var ended, expired, stale, lingering int
	out := events[:0]
	for _, ev := range events {
		switch {
		case ev.EndsAt != nil && !ev.EndsAt.After(graceCutoff):
			ended++
		case ev.PubDate.Before(absoluteCutoff):
			expired++
		case ev.PubDate.Before(staleCutoff) && !endsInFuture(ev, buildTime):
			stale++
		case b.firstSeenBefore(ev, staleCutoff):
			lingering++
		default:
			out = append(out, ev)
		}
	}
	if n := ended + expired + stale + lingering; n > 0 {
		b.logger.Info("events pruned",
			"ended", ended, "expired", expired, "stale", stale, "lingering", lingering,
			"kept", len(out))
	}
	return out
}

func endsInFuture(ev domain.Event, now time.Time) bool {
	return ev.EndsAt != nil && ev.EndsAt.After(now)
}

func (b *Builder) firstSeenBefore(ev domain.Event, cutoff time.Time) bool {
	first, ok := b.state.Get(ev.DedupeKey())
	return ok && first.Before(cutoff)
}

// dedupe collapses events sharing a dedupe key into one survivor and
// folds the losers' unique sentences into its description. First
// occurrence order is kept so the later sort stays stable.
func (b *Builder) dedupe(events []domain.Event) []domain.Event {
	order := make([]string, 0, len(events))
	winners := make(map[string]domain.Event, len(events))
	for _, ev := range events {
		key := ev.DedupeKey()
		cur, seen := winners[key]
		if !seen {
			winners[key] = ev
			order = append(order, key)
			continue
		}
		winner, loser := cur, ev
		if eventOutranks(ev, cur) {
			winner, loser = ev, cur
		}
		winner.Description = mergeUniqueSentences(winner.Description, loser.Description)
		winners[key] = winner
	}
	if len(order) < len(events) {
		b.logger.Info("duplicates merged", "events", len(events), "unique", len(order))
	}
	out := make([]domain.Event, 0, len(order))
	for _, key := range order {
		out = append(out, winners[key])
	}
	return out
}

// eventOutranks reports whether a should replace b as the surviving
// duplicate. The chain prefers the larger end, then the newer pub date,
// the newer start, the longer description and finally the higher ranked
// source; full ties keep the incumbent.
func eventOutranks(a, b domain.Event) bool {
	ae, be := endsRank(a), endsRank(b)
	if !ae.Equal(be) {
		return ae.After(be)
	}
	if !a.PubDate.Equal(b.PubDate) {
		return a.PubDate.After(b.PubDate)
	}
	as, bs := startsRank(a), startsRank(b)
	if !as.Equal(bs) {
		return as.After(bs)
	}
	if len(a.Description) != len(b.Description) {
		return len(a.Description) > len(b.Description)
	}
	return a.SourcePrecedence() > b.SourcePrecedence()
}

func endsRank(ev domain.Event) time.Time {
	if ev.EndsAt == nil {
		return farFuture
	}
	return *ev.EndsAt
}

func startsRank(ev domain.Event) time.Time {
	if ev.StartsAt == nil {
		return time.Time{}
	}
	return *ev.StartsAt
}

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

func splitSentences(s string) []string {
	matches := sentenceRe.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func mergeUniqueSentences(base, extra string) string {
	if strings.TrimSpace(extra) == "" {
		return base
	}
	var add []string
	for _, s := range splitSentences(extra) {
		if !strings.Contains(base, s) {
			add = append(add, s)
		}
	}
	if len(add) == 0 {
		return base
	}
	if strings.TrimSpace(base) == "" {
		return strings.Join(add, " ")
	}
	return base + "\n" + strings.Join(add, " ")
}

// order refreshes the pub date of events the feed has not carried before
// when it falls inside the fresh window, clamps pub dates into the past
// and sorts: newest pub date first, then newest start, then title.
func (b *Builder) order(events []domain.Event, buildTime time.Time) []domain.Event {
	window := b.cfg.Pipeline.FreshPubDateWindow
	for i := range events {
		ev := &events[i]
		if window > 0 && !b.state.Known(ev.DedupeKey()) {
			if d := buildTime.Sub(ev.PubDate); d > -window && d < window {
				ev.PubDate = buildTime
			}
		}
		if ev.PubDate.After(buildTime) {
			b.logger.Debug("pub date in the future, clamping", "guid", ev.GUID)
			ev.PubDate = buildTime
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, c := events[i], events[j]
		if !a.PubDate.Equal(c.PubDate) {
			return a.PubDate.After(c.PubDate)
		}
		as, cs := startsRank(a), startsRank(c)
		if !as.Equal(cs) {
			return as.After(cs)
		}
		return a.Title < c.Title
	})
	return events
}

// clip caps the item count and flattens every description to one clipped
// summary line. The time phrase line is appended later and does not count
// against the character budget.
func (b *Builder) clip(events []domain.Event) []domain.Event {
	if max := b.cfg.Feed.MaxItems; max > 0 && len(events) > max {
		events = events[:max]
	}
	limit := b.cfg.Feed.DescriptionCharLimit
	for i := range events {
		ev := &events[i]
		ev.Description = textutil.Clip(textutil.SingleLine(ev.Description), limit)
	}
	return events
}

// Package wl adapts the municipal realtime API: the disturbance list and
// the news list are fetched, filtered down to actual service restrictions,
// grouped by line set and topic, and emitted as canonical events.
package wl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// endGrace keeps just-ended disruptions visible for a short window, matching
// the feed level grace rule.
const endGrace = 10 * time.Minute

var inactiveMarkers = []string{
	"finished", "inactive", "inaktiv", "done", "closed", "nicht aktiv",
	"ended", "ende", "abgeschlossen", "beendet", "geschlossen",
}

var (
	alphaRe      = regexp.MustCompile(`[A-Za-zÄÖÜäöüß]`)
	haltSuffixRe = regexp.MustCompile(`\(\d+\s+Halt(?:e)?\)$`)
	angleOnlyRe  = regexp.MustCompile(`[<>]+`)
	wordRe       = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// Provider implements the municipal realtime adapter.
type Provider struct {
	cfg     config.WLConfig
	client  *httpclient.Client
	catalog *stations.Catalogue
	logger  *slog.Logger

	now func() time.Time
}

func New(cfg config.WLConfig, client *httpclient.Client, catalog *stations.Catalogue, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: client, catalog: catalog, logger: logger, now: time.Now}
}

func (p *Provider) Name() string      { return "wl" }
func (p *Provider) Enabled() bool     { return p.cfg.Enabled }
func (p *Provider) CachePath() string { return p.cfg.CachePath }

// Refresh pulls both upstream lists. One list failing is tolerated; both
// failing aborts the run so the previous snapshot stays in place.
func (p *Provider) Refresh(ctx context.Context) ([]domain.Event, error) {
	now := p.now().UTC()
	var raw []rawEvent

	infos, errTraffic := p.fetchTrafficInfos(ctx)
	if errTraffic != nil {
		apperr.LogError(p.logger, errTraffic, "wl.trafficInfoList")
	}
	for _, rec := range infos {
		if ev, ok := p.buildRaw(rec, "Störung", "störung", "Meldung", false, now); ok {
			raw = append(raw, ev)
		}
	}

	pois, errNews := p.fetchNews(ctx)
	if errNews != nil {
		apperr.LogError(p.logger, errNews, "wl.newsList")
	}
	for _, rec := range pois {
		if ev, ok := p.buildRaw(rec, "Hinweis", "hinweis", "Hinweis", true, now); ok {
			raw = append(raw, ev)
		}
	}

	if errTraffic != nil && errNews != nil {
		return nil, errTraffic
	}

	events := p.assemble(raw)
	p.logger.Info("municipal realtime lists processed", "raw", len(raw), "events", len(events))
	return events, nil
}

// ---- upstream access ----

type wlTime struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type wlRecord struct {
	Title        string                 `json:"title"`
	Name         string                 `json:"name"`
	Subtitle     string                 `json:"subtitle"`
	Description  string                 `json:"description"`
	Status       string                 `json:"status"`
	Updated      string                 `json:"updated"`
	Timestamp    string                 `json:"timestamp"`
	Time         wlTime                 `json:"time"`
	Attributes   map[string]interface{} `json:"attributes"`
	RelatedLines interface{}            `json:"relatedLines"`
	RelatedStops interface{}            `json:"relatedStops"`
}

type trafficInfoResponse struct {
	Data struct {
		TrafficInfos []wlRecord `json:"trafficInfos"`
	} `json:"data"`
}

type newsResponse struct {
	Data struct {
		POIs []wlRecord `json:"pois"`
	} `json:"data"`
}

func (p *Provider) fetchTrafficInfos(ctx context.Context) ([]wlRecord, error) {
	// The facility feeds (elevators, escalators) are deliberately not
	// requested.
	params := url.Values{}
	params.Add("name", "stoerunglang")
	params.Add("name", "stoerungkurz")
	body, err := p.getJSON(ctx, "trafficInfoList", params)
	if err != nil {
		return nil, err
	}
	var payload trafficInfoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		p.logger.Warn("trafficInfoList payload does not parse", "error", err.Error())
		return nil, nil
	}
	return payload.Data.TrafficInfos, nil
}

func (p *Provider) fetchNews(ctx context.Context) ([]wlRecord, error) {
	body, err := p.getJSON(ctx, "newsList", nil)
	if err != nil {
		return nil, err
	}
	var payload newsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		p.logger.Warn("newsList payload does not parse", "error", err.Error())
		return nil, nil
	}
	return payload.Data.POIs, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	header := http.Header{}
	header.Set("Accept", "application/json")

	resp, err := p.client.Get(ctx, u, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.TransportError("unexpected upstream status", nil,
			map[string]interface{}{"path": path, "status": resp.StatusCode})
	}
	return resp.Body, nil
}

// ---- record filtering and conversion ----

type rawEvent struct {
	category  string
	idCat     string
	title     string
	titleCore string
	topicKey  string
	desc      string
	extras    []string
	pairs     []linePair
	stops     []string
	pubDate   *time.Time
	startsAt  *time.Time
	endsAt    *time.Time
	identity  string
}

func (p *Provider) buildRaw(rec wlRecord, category, idCat, defaultTitle string, isNews bool, now time.Time) (rawEvent, bool) {
	attrs := rec.Attributes

	blob := strings.ToLower(strings.Join([]string{
		rec.Status, attrString(attrs, "status"), attrString(attrs, "state"),
	}, " "))
	for _, marker := range inactiveMarkers {
		if strings.Contains(blob, marker) {
			return rawEvent{}, false
		}
	}

	titleRaw := strings.TrimSpace(rec.Title)
	if titleRaw == "" && !isNews {
		titleRaw = strings.TrimSpace(rec.Name)
	}
	if titleRaw == "" {
		titleRaw = defaultTitle
	}
	title := tidyTitle(titleRaw)

	descRaw := strings.TrimSpace(rec.Description)
	desc := strings.TrimSpace(multiSpaceRe.ReplaceAllString(textutil.HTMLToText(descRaw), " "))

	facilityTexts := []string{titleRaw, descRaw}
	if isNews {
		facilityTexts = append(facilityTexts, rec.Subtitle)
	}
	if isFacilityOnly(facilityTexts...) {
		return rawEvent{}, false
	}

	start := parseISO(rec.Time.Start)
	if start == nil {
		start = bestTimestamp(rec)
	}
	end := parseISO(rec.Time.End)
	if !isActive(start, end, now) {
		return rawEvent{}, false
	}

	if isNews {
		textForFilter := strings.Join([]string{
			titleRaw, rec.Subtitle, descRaw,
			attrString(attrs, "status"), attrString(attrs, "state"),
		}, " ")
		if !kwRestriction.MatchString(textForFilter) {
			return rawEvent{}, false
		}
	} else {
		relevance := titleRaw + " " + descRaw
		if kwExclude.MatchString(relevance) && !kwRestriction.MatchString(relevance) {
			return rawEvent{}, false
		}
	}

	relLines := rec.RelatedLines
	if emptyUpstreamValue(relLines) {
		relLines = attrs["relatedLines"]
	}
	pairs := linePairsFromRelated(relatedStrings(relLines))
	if len(pairs) == 0 {
		pairs = detectLinePairsFromText(titleRaw)
	}

	relStops := rec.RelatedStops
	if emptyUpstreamValue(relStops) {
		relStops = attrs["relatedStops"]
	}
	stops := p.stopNames(relStops)

	var extras []string
	if isNews {
		if sub := strings.TrimSpace(rec.Subtitle); sub != "" {
			extras = append(extras, sub)
		}
		extras = append(extras, labelledExtras(attrs, "station", "location", "towards")...)
	} else {
		extras = append(extras, labelledExtras(attrs, "status", "state", "station", "location", "reason", "towards")...)
	}

	day := "None"
	if start != nil {
		day = start.In(textutil.Vienna()).Format("2006-01-02")
	}
	tokens := lineTokens(pairs)
	sort.Strings(tokens)
	identity := fmt.Sprintf("wl|%s|L=%s|D=%s", idCat, strings.Join(tokens, ","), day)

	return rawEvent{
		category:  category,
		idCat:     idCat,
		title:     title,
		titleCore: titleCore(titleRaw),
		topicKey:  topicKey(titleRaw),
		desc:      desc,
		extras:    extras,
		pairs:     pairs,
		stops:     stops,
		pubDate:   start,
		startsAt:  start,
		endsAt:    end,
		identity:  identity,
	}, true
}

func labelledExtras(attrs map[string]interface{}, keys ...string) []string {
	var out []string
	for _, k := range keys {
		if v := attrString(attrs, k); v != "" {
			out = append(out, strings.ToUpper(k[:1])+k[1:]+": "+v)
		}
	}
	return out
}

func (p *Provider) stopNames(v interface{}) []string {
	dedup := map[string]string{}
	for _, item := range asAnyList(v) {
		var raw string
		switch s := item.(type) {
		case map[string]interface{}:
			for _, key := range []string{"name", "stopName", "title"} {
				if val := attrString(s, key); val != "" && alphaRe.MatchString(val) {
					raw = val
					break
				}
			}
		case string:
			if alphaRe.MatchString(s) {
				raw = strings.TrimSpace(s)
			}
		}
		if raw == "" {
			continue
		}
		final := raw
		if st, ok := p.catalog.Lookup(raw); ok {
			final = st.Name
		}
		final = strings.TrimSpace(multiSpaceRe.ReplaceAllString(final, " "))
		if final == "" {
			continue
		}
		key := strings.ToLower(final)
		if _, dup := dedup[key]; !dup {
			dedup[key] = final
		}
	}
	out := make([]string, 0, len(dedup))
	for _, name := range dedup {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// ---- bucket assembly ----

type bucket struct {
	category  string
	title     string
	titleCore string
	topicKey  string
	descBase  string
	extras    []string
	pairs     []linePair
	stops     map[string]string
	pubDate   *time.Time
	startsAt  *time.Time
	endsAt    *time.Time
	identity  string
}

// assemble groups raw records by line set and topic, merges duplicates and
// produces the final events.
func (p *Provider) assemble(raw []rawEvent) []domain.Event {
	buckets := map[string]*bucket{}
	var order []string

	for _, ev := range raw {
		key := provider.MakeGUID("wl", ev.category, ev.topicKey, sortedTokenKey(ev.pairs))
		b, ok := buckets[key]
		if !ok {
			nb := &bucket{
				category:  ev.category,
				title:     ev.title,
				titleCore: ev.titleCore,
				topicKey:  ev.topicKey,
				descBase:  ev.desc,
				extras:    append([]string(nil), ev.extras...),
				pairs:     append([]linePair(nil), ev.pairs...),
				stops:     map[string]string{},
				pubDate:   ev.pubDate,
				startsAt:  ev.startsAt,
				endsAt:    ev.endsAt,
				identity:  ev.identity,
			}
			for _, s := range ev.stops {
				nb.stops[strings.ToLower(s)] = s
			}
			buckets[key] = nb
			order = append(order, key)
			continue
		}

		baseScore := p.descScore(b.descBase, b.title, stopList(b.stops), b.extras)
		candScore := p.descScore(ev.desc, ev.title, ev.stops, ev.extras)

		if compareTitleQuality(ev.title, ev.titleCore, b.title, b.titleCore) > 0 {
			b.title = ev.title
			b.titleCore = ev.titleCore
		}
		if candScore.greaterThan(baseScore) {
			b.descBase = ev.desc
		}
		b.pairs = mergeLinePairs(b.pairs, ev.pairs)
		for _, s := range ev.stops {
			key := strings.ToLower(s)
			if _, dup := b.stops[key]; !dup {
				b.stops[key] = s
			}
		}
		if ev.pubDate != nil && (b.pubDate == nil || ev.pubDate.Before(*b.pubDate)) {
			b.pubDate = ev.pubDate
		}
		if b.endsAt == nil || ev.endsAt == nil {
			b.endsAt = nil
		} else if ev.endsAt.After(*b.endsAt) {
			b.endsAt = ev.endsAt
		}
		for _, x := range ev.extras {
			if !containsString(b.extras, x) {
				b.extras = append(b.extras, x)
			}
		}
	}

	type assembled struct {
		ev    domain.Event
		lines map[string]struct{}
	}
	var items []assembled

	for _, key := range order {
		b := buckets[key]
		linesDisp := lineDisplays(b.pairs)

		contextSuffix, extrasUsed := p.buildContextSuffix(b, b.title, linesDisp)
		title := ensureLinePrefix(b.title, linesDisp)
		if contextSuffix != "" {
			if title != "" {
				title = title + " – " + contextSuffix
			} else {
				title = contextSuffix
			}
		}

		if n := len(b.stops); n > 0 && !haltSuffixRe.MatchString(title) {
			suffix := "Halte"
			if n == 1 {
				suffix = "Halt"
			}
			title = fmt.Sprintf("%s (%d %s)", title, n, suffix)
		}
		title = strings.TrimSpace(angleQuoteRe.ReplaceAllString(title, ""))

		desc := b.descBase
		var extrasClean []string
		for _, x := range b.extras {
			if strings.HasPrefix(strings.ToLower(x), "linien:") || containsString(extrasUsed, x) {
				continue
			}
			extrasClean = append(extrasClean, x)
		}
		if len(extrasClean) > 0 {
			if desc != "" {
				desc += " • "
			}
			desc += strings.Join(extrasClean, " • ")
		}
		if len(b.stops) > 0 {
			names := stopList(b.stops)
			desc += " • Betroffene Haltestellen: " + strings.Join(names, ", ")
		}
		desc = strings.TrimSpace(multiSpaceRe.ReplaceAllString(angleOnlyRe.ReplaceAllString(desc, ""), " "))

		ev := domain.Event{
			Source:      domain.SourceWL,
			Category:    b.category,
			Title:       title,
			Description: desc,
			Link:        p.cfg.BaseURL,
			GUID:        key,
			StartsAt:    b.startsAt,
			EndsAt:      b.endsAt,
			Identity:    b.identity,
		}
		if b.pubDate != nil {
			ev.PubDate = b.pubDate.UTC()
		}

		lines := map[string]struct{}{}
		for _, tok := range lineTokens(b.pairs) {
			lines[tok] = struct{}{}
		}
		items = append(items, assembled{ev: ev, lines: lines})
	}

	// A bundle covering several lines is dropped once every one of its
	// lines also has a dedicated single line item.
	singleCoverage := map[string]int{}
	for _, it := range items {
		if len(it.lines) == 1 {
			for tok := range it.lines {
				singleCoverage[tok]++
			}
		}
	}
	var events []domain.Event
	for _, it := range items {
		if len(it.lines) >= 2 {
			covered := true
			for tok := range it.lines {
				if singleCoverage[tok] == 0 {
					covered = false
					break
				}
			}
			if covered {
				continue
			}
		}
		events = append(events, it.ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		pi, pj := !events[i].PubDate.IsZero(), !events[j].PubDate.IsZero()
		if pi != pj {
			return pi
		}
		if pi {
			return events[i].PubDate.Before(events[j].PubDate)
		}
		return events[i].GUID < events[j].GUID
	})
	return events
}

func stopList(stops map[string]string) []string {
	keys := make([]string, 0, len(stops))
	for k := range stops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, stops[k])
	}
	return out
}

// ---- title and description quality ----

func compareTitleQuality(aTitle, aCore, bTitle, bCore string) int {
	ai, al, an := titleQualityKey(aTitle, aCore)
	bi, bl, bn := titleQualityKey(bTitle, bCore)
	if ai != bi {
		return ai - bi
	}
	if al != bl {
		return al - bl
	}
	return an - bn
}

func titleQualityKey(title, core string) (informative, coreLen, negTitleLen int) {
	normalized := strings.TrimSpace(multiSpaceRe.ReplaceAllString(title, " "))
	c := strings.TrimSpace(multiSpaceRe.ReplaceAllString(core, " "))
	for _, tok := range strings.Fields(c) {
		if utf8.RuneCountInString(tok) >= 4 {
			informative++
		}
	}
	return informative, utf8.RuneCountInString(c), -utf8.RuneCountInString(normalized)
}

type descQuality struct {
	nonTitle int
	infoHits int
	length   int
	words    int
}

func (a descQuality) greaterThan(b descQuality) bool {
	if a.nonTitle != b.nonTitle {
		return a.nonTitle > b.nonTitle
	}
	if a.infoHits != b.infoHits {
		return a.infoHits > b.infoHits
	}
	if a.length != b.length {
		return a.length > b.length
	}
	return a.words > b.words
}

func (p *Provider) descScore(desc, title string, stops []string, extras []string) descQuality {
	normalized := strings.TrimSpace(multiSpaceRe.ReplaceAllString(desc, " "))
	if normalized == "" {
		return descQuality{}
	}
	descCF := strings.ToLower(normalized)
	titleCF := strings.ToLower(strings.TrimSpace(multiSpaceRe.ReplaceAllString(title, " ")))

	q := descQuality{nonTitle: 1}
	if descCF == titleCF {
		q.nonTitle = 0
	}

	seen := map[string]struct{}{}
	for _, name := range stops {
		clean := strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " "))
		if utf8.RuneCountInString(clean) < 3 {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		if strings.Contains(descCF, key) {
			q.infoHits++
			seen[key] = struct{}{}
		}
	}
	for _, extra := range extras {
		value := extra
		if _, v, ok := splitExtra(extra); ok {
			value = v
		}
		value = strings.TrimSpace(multiSpaceRe.ReplaceAllString(value, " "))
		if utf8.RuneCountInString(value) < 3 {
			continue
		}
		key := strings.ToLower(value)
		if _, dup := seen[key]; dup {
			continue
		}
		if strings.Contains(descCF, key) {
			q.infoHits++
			seen[key] = struct{}{}
		}
	}

	q.length = utf8.RuneCountInString(normalized)
	q.words = len(wordRe.FindAllString(normalized, -1))
	return q
}

// ---- context suffix ----

func splitExtra(extra string) (label, value string, ok bool) {
	i := strings.Index(extra, ":")
	if i < 0 {
		return "", "", false
	}
	label = strings.TrimSpace(extra[:i])
	value = strings.TrimSpace(multiSpaceRe.ReplaceAllString(extra[i+1:], " "))
	if label == "" || value == "" {
		return "", "", false
	}
	return label, value, true
}

func (p *Provider) buildContextSuffix(b *bucket, baseTitle string, linesDisp []string) (string, []string) {
	if len(linesDisp) > 0 {
		return "", nil
	}

	baseCF := strings.ToLower(baseTitle)

	var stopValues []string
	seen := map[string]struct{}{}
	for _, name := range stopList(b.stops) {
		clean := strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " "))
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if strings.Contains(baseCF, key) {
			continue
		}
		stopValues = append(stopValues, clean)
	}
	if len(stopValues) > 0 {
		ctx, _ := formatContext(stopValues, 2)
		if ctx != "" {
			return ctx, nil
		}
	}

	var extraValues []string
	var used []string
	seen = map[string]struct{}{}
	for _, extra := range b.extras {
		label, value, ok := splitExtra(extra)
		if !ok {
			continue
		}
		lower := strings.ToLower(label)
		if lower != "station" && lower != "location" {
			continue
		}
		key := strings.ToLower(value)
		if _, dup := seen[key]; dup {
			continue
		}
		if strings.Contains(baseCF, key) {
			continue
		}
		seen[key] = struct{}{}
		extraValues = append(extraValues, value)
		used = append(used, extra)
	}
	if len(extraValues) > 0 {
		ctx, usedCount := formatContext(extraValues, 2)
		if ctx != "" {
			return ctx, used[:usedCount]
		}
	}
	return "", nil
}

func formatContext(values []string, limit int) (string, int) {
	if len(values) == 0 {
		return "", 0
	}
	trimmed := values
	if len(trimmed) > limit {
		trimmed = trimmed[:limit]
	}
	ctx := strings.Join(trimmed, ", ")
	if len(values) > limit {
		ctx += " …"
	}
	return ctx, len(trimmed)
}

// ---- shared decoding helpers ----

func attrString(attrs map[string]interface{}, key string) string {
	if attrs == nil {
		return ""
	}
	switch v := attrs[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// emptyUpstreamValue reports whether a decoded JSON value carries nothing
// usable, so the attribute level fallback should be consulted.
func emptyUpstreamValue(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []interface{}:
		return len(x) == 0
	case map[string]interface{}:
		return len(x) == 0
	}
	return false
}

func asAnyList(v interface{}) []interface{} {
	switch list := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return list
	default:
		return []interface{}{v}
	}
}

func relatedStrings(v interface{}) []string {
	var out []string
	for _, item := range asAnyList(v) {
		switch s := item.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				out = append(out, t)
			}
		case float64:
			out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
		case map[string]interface{}:
			for _, key := range []string{"name", "displayName", "title"} {
				if val := attrString(s, key); val != "" {
					out = append(out, val)
					break
				}
			}
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// ---- time handling ----

var isoFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// parseISO accepts the timestamp spellings seen in the wild: RFC 3339,
// offsets without a colon and naive local instants (taken as UTC).
func parseISO(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range isoFormats {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func bestTimestamp(rec wlRecord) *time.Time {
	candidates := []string{
		rec.Time.Start,
		rec.Time.End,
		rec.Updated,
		rec.Timestamp,
		attrString(rec.Attributes, "lastUpdate"),
		attrString(rec.Attributes, "created"),
	}
	for _, c := range candidates {
		if t := parseISO(c); t != nil {
			return t
		}
	}
	return nil
}

func isActive(start, end *time.Time, now time.Time) bool {
	if start != nil && start.After(now) {
		return false
	}
	if end != nil && end.Before(now.Add(-endGrace)) {
		return false
	}
	return true
}

// Package vor adapts the eastern region transport authority's REST proxy.
//
// The upstream meters every request against a daily contingent, so the
// adapter never uses transport level retries: each attempt is booked into
// a shared on-disk counter before the connection opens, a per-run ceiling
// bounds the worst case and the configured stations are visited through a
// rotating window so the whole list is covered across consecutive runs.
package vor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/ratelimit"
	"github.com/Origamihase/wien-oepnv/internal/security"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

const sourceLink = "https://www.vor.at/"

// Budget sentinels let the fetch loop distinguish "stop here, keep what
// we have" from errors that abort the whole run.
var (
	errRunCeiling  = apperr.RateLimitError("per-run request ceiling reached", nil)
	errDailyBudget = apperr.RateLimitError("daily request contingent exhausted", nil)
)

// Provider implements the regional authority adapter.
type Provider struct {
	cfg     config.VORConfig
	client  *httpclient.Client
	catalog *stations.Catalogue
	counter *ratelimit.DailyCounter
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.VORConfig, client *httpclient.Client, catalog *stations.Catalogue, counter *ratelimit.DailyCounter, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:     cfg,
		client:  client,
		catalog: catalog,
		counter: counter,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func (p *Provider) Name() string      { return "vor" }
func (p *Provider) Enabled() bool     { return p.cfg.Enabled }
func (p *Provider) CachePath() string { return p.cfg.CachePath }

// Refresh fetches the disruption messages for this run's station window.
// Hitting the daily contingent or the per-run ceiling mid-run stops the
// loop and keeps the stations fetched so far; a run that could not fetch
// a single board fails so the previous snapshot stays in place.
func (p *Provider) Refresh(ctx context.Context) ([]domain.Event, error) {
	if p.cfg.AccessID == "" {
		return nil, apperr.ConfigError("access id for the regional authority API is missing", nil, nil)
	}
	configured := len(p.cfg.StationIDs)
	if configured == 0 {
		configured = len(p.cfg.StationNames)
	}
	if configured == 0 {
		p.logger.Info("no stations configured, nothing to fetch")
		return nil, nil
	}

	// The whole day's projection must fit the contingent before a single
	// request is spent, otherwise later runs would starve.
	perRun := p.cfg.MaxStationsPerRun
	if configured < perRun {
		perRun = configured
	}
	rotations := rotationsPerDay(p.cfg.RotationInterval)
	if projected := rotations * perRun; projected > p.cfg.MaxRequestsPerDay {
		return nil, apperr.RateLimitError("projected daily usage exceeds the request contingent", map[string]interface{}{
			"rotations_per_day": rotations,
			"stations_per_run":  perRun,
			"projected":         projected,
			"contingent":        p.cfg.MaxRequestsPerDay,
		})
	}

	state, err := p.counter.Current()
	if err != nil {
		return nil, err
	}
	if state.Count >= p.cfg.MaxRequestsPerDay {
		return nil, apperr.RateLimitError("daily request contingent already exhausted", map[string]interface{}{
			"used":       state.Count,
			"contingent": p.cfg.MaxRequestsPerDay,
		})
	}

	attempts := 0
	ids := p.cfg.StationIDs
	if len(ids) == 0 {
		ids, err = p.resolveStationIDs(ctx, p.cfg.StationNames, &attempts)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, apperr.ConfigError("none of the configured station names resolved to an id", nil, nil)
		}
	}
	window := rotationWindow(ids, perRun, p.cfg.RotationInterval, p.now())

	byGUID := make(map[string]*boardEvent)
	var order []string
	fetched := 0
	var budgetErr error
	for _, sid := range window {
		msgs, err := p.fetchBoard(ctx, sid, &attempts)
		if err != nil {
			if errors.Is(err, errRunCeiling) || errors.Is(err, errDailyBudget) {
				budgetErr = err
				p.logger.Warn("request budget hit mid-run, keeping what was fetched",
					"fetched", fetched, "window", len(window), "reason", err.Error())
				break
			}
			if apperr.HasCode(err, apperr.ErrCodeRateLimit) {
				// Counter bookkeeping failed; abort before accounting drifts.
				return nil, err
			}
			apperr.LogError(p.logger, err, "vor.departureBoard")
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		fetched++
		for _, ev := range msgs {
			if existing, ok := byGUID[ev.guid]; ok {
				existing.merge(ev)
				continue
			}
			byGUID[ev.guid] = ev
			order = append(order, ev.guid)
		}
	}
	if fetched == 0 {
		if budgetErr != nil {
			return nil, budgetErr
		}
		return nil, apperr.TransportError("no station board could be fetched", nil, map[string]interface{}{
			"window": len(window),
		})
	}

	events := make([]domain.Event, 0, len(order))
	for _, guid := range order {
		events = append(events, byGUID[guid].toEvent())
	}
	sort.SliceStable(events, func(i, j int) bool {
		pi, pj := events[i].PubDate, events[j].PubDate
		if pi.IsZero() != pj.IsZero() {
			return !pi.IsZero()
		}
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return events[i].GUID < events[j].GUID
	})
	p.logger.Info("station boards processed",
		"stations", fetched, "window", len(window), "events", len(events), "requests", attempts)
	return events, nil
}

// resolveStationIDs turns configured station names into board ids. Names
// the catalogue already maps cost nothing; the rest go through the
// location endpoint, deduplicated by folded spelling first so two
// spellings of one stop never buy two requests.
func (p *Provider) resolveStationIDs(ctx context.Context, names []string, attempts *int) ([]string, error) {
	var ids []string
	haveID := make(map[string]struct{})
	seen := make(map[string]struct{})
	appendID := func(id string) {
		if id == "" {
			return
		}
		if _, dup := haveID[id]; dup {
			return
		}
		haveID[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		key := stations.Fold(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if known := p.catalog.RegionalIDs(name); len(known) > 0 {
			for _, id := range known {
				appendID(id)
			}
			continue
		}
		input := name
		if st, ok := p.catalog.Lookup(name); ok {
			input = st.Name
		}
		id, err := p.fetchStopID(ctx, input, attempts)
		if err != nil {
			if errors.Is(err, errRunCeiling) || errors.Is(err, errDailyBudget) {
				return ids, err
			}
			p.logger.Warn("station name did not resolve", "name", name, "err", err.Error())
			continue
		}
		appendID(id)
	}
	return ids, nil
}

func (p *Provider) fetchStopID(ctx context.Context, input string, attempts *int) (string, error) {
	resp, err := p.request(ctx, p.locationURL(input), attempts)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.TransportError(fmt.Sprintf("location lookup answered %d", resp.StatusCode), nil, map[string]interface{}{
			"input": input,
		})
	}
	return parseStopID(resp.Body, input)
}

func (p *Provider) fetchBoard(ctx context.Context, sid string, attempts *int) ([]*boardEvent, error) {
	resp, err := p.request(ctx, p.boardURL(sid), attempts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.TransportError(fmt.Sprintf("departure board answered %d", resp.StatusCode), nil, map[string]interface{}{
			"station": sid,
		})
	}
	return p.parseBoard(resp.Body, sid)
}

// request books one attempt into the shared daily counter, then performs a
// single retry-free GET. A 429 with a usable Retry-After is honoured once;
// the second attempt is booked like the first.
func (p *Provider) request(ctx context.Context, rawURL string, attempts *int) (*httpclient.Response, error) {
	for try := 0; ; try++ {
		if *attempts >= p.cfg.RunRequestCeiling {
			return nil, errRunCeiling
		}
		count, err := p.counter.Increment()
		if err != nil {
			return nil, err
		}
		*attempts++
		if count > p.cfg.MaxRequestsPerDay {
			return nil, errDailyBudget
		}
		resp, err := p.client.GetOnce(ctx, rawURL, p.requestHeader())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || try > 0 {
			return resp, nil
		}
		delay := httpclient.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if delay <= 0 {
			p.logger.Warn("upstream throttled without a usable Retry-After", "url", security.Redact(rawURL))
			return resp, nil
		}
		if delay > httpclient.RetryAfterCap {
			delay = httpclient.RetryAfterCap
		}
		p.logger.Info("upstream throttled, waiting before the retry", "delay", delay.String())
		if err := p.sleep(ctx, delay); err != nil {
			return nil, apperr.TimeoutError("wait before retry interrupted", err, nil)
		}
	}
}

// The credential travels in exactly one place: the Authorization header
// when configured, the accessId query parameter otherwise.
func (p *Provider) requestHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if p.cfg.AccessIDInHeader {
		h.Set("Authorization", "Bearer "+p.cfg.AccessID)
	}
	return h
}

// boardURL assembles the departure board query for one station. Date and
// time are the authority's local clock.
func (p *Provider) boardURL(sid string) string {
	local := p.now().In(textutil.Vienna())
	q := url.Values{}
	if !p.cfg.AccessIDInHeader {
		q.Set("accessId", p.cfg.AccessID)
	}
	q.Set("format", "json")
	q.Set("id", sid)
	q.Set("date", local.Format("2006-01-02"))
	q.Set("time", local.Format("15:04"))
	q.Set("duration", strconv.Itoa(int(p.cfg.BoardDuration.Minutes())))
	q.Set("rtMode", "SERVER_DEFAULT")
	q.Set("requestId", boardRequestID(sid))
	return p.cfg.BaseURL + "/DepartureBoard?" + q.Encode()
}

func (p *Provider) locationURL(input string) string {
	q := url.Values{}
	if !p.cfg.AccessIDInHeader {
		q.Set("accessId", p.cfg.AccessID)
	}
	q.Set("format", "json")
	q.Set("input", input)
	q.Set("type", "stop")
	return p.cfg.BaseURL + "/location.name?" + q.Encode()
}

// boardRequestID tags a request so upstream support can correlate it.
func boardRequestID(sid string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sb-" + sid + "-" + suffix[:12]
}

// rotationsPerDay says how many runs the scheduler fits into one day at
// the configured cadence.
func rotationsPerDay(interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(24 * time.Hour / interval)
	if n < 1 {
		n = 1
	}
	return n
}

// rotationWindow returns this run's slice of the station list. The start
// advances once per rotation interval and wraps, so consecutive runs walk
// the whole list.
func rotationWindow(ids []string, perRun int, interval time.Duration, now time.Time) []string {
	if len(ids) == 0 || perRun <= 0 {
		return nil
	}
	if len(ids) <= perRun {
		return ids
	}
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	start := int((now.Unix() / secs) % int64(len(ids)))
	out := make([]string, 0, perRun)
	for i := 0; i < perRun; i++ {
		out = append(out, ids[(start+i)%len(ids)])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

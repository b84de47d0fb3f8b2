// Package oebb adapts the national railway RSS feed. The upstream endpoint
// has several historically valid spellings, so a list of candidate URLs is
// tried in order and the first parseable document wins. Items pass a
// facility filter and a strict regional filter before they become events.
package oebb

import (
	"context"
	"html"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/security"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

const (
	defaultLink = "https://www.oebb.at/"
	feedBase    = "https://fahrplan.oebb.at/bin/help.exe/dnl"
)

// The parameter order of the upstream template URL has changed more than
// once; all observed spellings stay on the candidate list.
var feedVariants = []string{
	"?protocol=https:&tpl=rss_WI_oebb",
	"?tpl=rss_WI_oebb&protocol=https:",
	"?tpl=rss_WI_oebb",
	"?L=vs_scotty&tpl=rss_WI_oebb",
	"?L=vs_oebb&tpl=rss_WI_oebb",
}

// Provider implements the national railway RSS adapter.
type Provider struct {
	cfg     config.OEBBConfig
	client  *httpclient.Client
	catalog *stations.Catalogue
	logger  *slog.Logger
}

func New(cfg config.OEBBConfig, client *httpclient.Client, catalog *stations.Catalogue, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: client, catalog: catalog, logger: logger}
}

func (p *Provider) Name() string      { return "oebb" }
func (p *Provider) Enabled() bool     { return p.cfg.Enabled }
func (p *Provider) CachePath() string { return p.cfg.CachePath }

// Refresh fetches the first parseable candidate feed and converts its items.
func (p *Provider) Refresh(ctx context.Context) ([]domain.Event, error) {
	feed, source, err := p.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var events []domain.Event
	kept, dropped := 0, 0

	for _, item := range feed.Items {
		ev, ok := p.buildEvent(item)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[ev.GUID]; dup {
			continue
		}
		seen[ev.GUID] = struct{}{}
		events = append(events, ev)
		kept++
	}

	sort.SliceStable(events, func(i, j int) bool {
		pi, pj := !events[i].PubDate.IsZero(), !events[j].PubDate.IsZero()
		if pi != pj {
			return pi
		}
		if pi {
			return events[i].PubDate.After(events[j].PubDate)
		}
		return events[i].GUID < events[j].GUID
	})

	p.logger.Info("railway feed processed",
		"url", security.Redact(source), "items", len(feed.Items), "kept", kept, "dropped", dropped)
	return events, nil
}

// candidateURLs builds the ordered, de-duplicated fetch list. A configured
// feed URL replaces the built-in variants so a broken secret never falls
// back onto the public endpoints; extra URLs are always appended.
func (p *Provider) candidateURLs() []string {
	var urls []string
	if u := strings.TrimSpace(p.cfg.FeedURL); u != "" {
		urls = append(urls, u)
	} else {
		for _, v := range feedVariants {
			urls = append(urls, feedBase+v)
		}
	}
	urls = append(urls, p.cfg.AltURLs...)

	seen := map[string]struct{}{}
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (p *Provider) fetchFeed(ctx context.Context) (*gofeed.Feed, string, error) {
	parser := gofeed.NewParser()
	header := http.Header{}
	header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.1")

	candidates := p.candidateURLs()
	for _, u := range candidates {
		resp, err := p.client.Get(ctx, u, header)
		if err != nil {
			apperr.LogError(p.logger, err, "oebb.fetch")
			continue
		}
		if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
			p.logger.Info("feed candidate rejected",
				"url", security.Redact(u), "status", resp.StatusCode, "bytes", len(resp.Body))
			continue
		}
		feed, err := parser.ParseString(string(resp.Body))
		if err != nil {
			p.logger.Info("feed candidate does not parse", "url", security.Redact(u), "error", err.Error())
			continue
		}
		p.logger.Debug("feed candidate accepted", "url", security.Redact(u), "bytes", len(resp.Body))
		return feed, u, nil
	}
	return nil, "", apperr.ParseError("no feed candidate delivered a parseable document", nil,
		map[string]interface{}{"candidates": len(candidates)})
}

func (p *Provider) buildEvent(item *gofeed.Item) (domain.Event, bool) {
	rawTitle := html.UnescapeString(strings.TrimSpace(item.Title))
	title := tidyTitle(rawTitle)

	descRaw := strings.TrimSpace(item.Description)
	if descRaw == "" {
		descRaw = strings.TrimSpace(item.Content)
	}
	desc := cleanDescription(textutil.HTMLToText(descRaw))
	desc = textutil.SingleLine(desc)

	if isFacilityOnly(title, desc) {
		return domain.Event{}, false
	}
	if !keepByRegion(p.catalog, title, desc, p.cfg.OnlyVienna) {
		return domain.Event{}, false
	}

	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = defaultLink
	}

	var pub *time.Time
	if item.PublishedParsed != nil {
		pub = domain.TimePtr(item.PublishedParsed.UTC())
	} else if item.UpdatedParsed != nil {
		pub = domain.TimePtr(item.UpdatedParsed.UTC())
	}

	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = provider.MakeGUID("oebb_rss", title, item.Published, link)
	}

	ev := domain.Event{
		Source:      domain.SourceOEBB,
		Category:    "Störung",
		Title:       title,
		Description: desc,
		Link:        link,
		GUID:        guid,
		StartsAt:    pub,
	}
	if pub != nil {
		ev.PubDate = *pub
	}
	return ev, true
}

// Package baustellen adapts the municipal open data construction site
// layer, a WFS endpoint serving GeoJSON. Property names vary between
// layer revisions, so every field is read through a fallback key list,
// and coordinates outside the city outline are dropped because the layer
// occasionally carries works on access roads far beyond the city.
package baustellen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

const (
	layerName  = "ogdwien:BAUSTELLEOGD"
	sourceLink = "https://www.wien.gv.at/verkehr/baustellen/"
)

// Provider implements the construction site adapter.
type Provider struct {
	cfg    config.BaustellenConfig
	client *httpclient.Client
	logger *slog.Logger
}

func New(cfg config.BaustellenConfig, client *httpclient.Client, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: client, logger: logger}
}

func (p *Provider) Name() string      { return "baustellen" }
func (p *Provider) Enabled() bool     { return p.cfg.Enabled }
func (p *Provider) CachePath() string { return p.cfg.CachePath }

// Refresh downloads the full layer and converts its features.
func (p *Provider) Refresh(ctx context.Context) ([]domain.Event, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	resp, err := p.client.Get(ctx, p.layerURL(), header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.TransportError(fmt.Sprintf("construction layer answered %d", resp.StatusCode), nil, nil)
	}

	var collection featureCollection
	if err := json.Unmarshal(resp.Body, &collection); err != nil {
		return nil, apperr.ParseError("construction layer does not parse", err, nil)
	}

	events := make([]domain.Event, 0, len(collection.Features))
	seen := make(map[string]struct{})
	dropped := 0
	for _, f := range collection.Features {
		ev, ok := p.buildEvent(f)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[ev.GUID]; dup {
			continue
		}
		seen[ev.GUID] = struct{}{}
		events = append(events, ev)
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
	p.logger.Info("construction layer processed",
		"features", len(collection.Features), "events", len(events), "dropped", dropped)
	return events, nil
}

func (p *Provider) layerURL() string {
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("request", "GetFeature")
	q.Set("version", "1.1.0")
	q.Set("typeName", layerName)
	q.Set("srsName", "EPSG:4326")
	q.Set("outputFormat", "json")
	return p.cfg.WFSURL + "?" + q.Encode()
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         interface{}            `json:"id"`
	Geometry   *geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (p *Provider) buildEvent(f feature) (domain.Event, bool) {
	if f.Geometry != nil {
		if lon, lat, ok := firstCoord(f.Geometry.Coordinates); ok && !stations.IsInViennaCoord(lat, lon) {
			return domain.Event{}, false
		}
	}

	props := normalizeProps(f.Properties)
	title := cleanProp(props, "BEZEICHNUNG", "TITEL", "NAME")
	street := cleanProp(props, "HAUPTSTRASSE", "STRASSE", "ADRESSE")
	from := cleanProp(props, "VON", "ABSCHNITT_VON")
	to := cleanProp(props, "BIS", "ABSCHNITT_BIS")
	info := cleanProp(props, "INFO", "BESCHREIBUNG", "ANMERKUNG")
	measure := cleanProp(props, "MASSNAHME", "BAUSTELLENART", "ART")
	district := cleanProp(props, "BEZIRK")
	startRaw := firstProp(props, "BAUBEGINN", "DATUM_VON", "START", "BEGINN")
	endRaw := firstProp(props, "BAUENDE", "DATUM_BIS", "ENDE", "FERTIGSTELLUNG")

	if title == "" {
		title = street
	}
	if title == "" && info == "" {
		return domain.Event{}, false
	}
	if title == "" {
		title = "Baustelle"
	}

	startsAt := parseLayerDate(startRaw)
	endsAt := parseLayerDate(endRaw)

	var segs []string
	if line := strings.TrimSpace(street + " " + locationPhrase(from, to)); line != "" && line != title {
		segs = append(segs, line)
	}
	if info != "" {
		segs = append(segs, info)
	}
	if startsAt != nil {
		segs = append(segs, "Beginn: "+textutil.GermanDate(*startsAt))
	}
	if endsAt != nil {
		segs = append(segs, "Geplant bis: "+textutil.GermanDate(*endsAt))
	}
	if measure != "" {
		segs = append(segs, "Maßnahme: "+measure)
	}
	if district != "" {
		segs = append(segs, "Bezirk: "+district)
	}

	id := strings.TrimSpace(stringify(f.ID))
	if id == "" {
		id = firstProp(props, "BAUSTELLENID", "OBJECTID", "ID")
	}
	guidParts := []string{"baustellen", id, startRaw, endRaw}
	if id == "" {
		guidParts = []string{"baustellen", title, street, startRaw, endRaw}
	}

	ev := domain.Event{
		Source:      domain.SourceBaustellen,
		Category:    "Baustelle",
		Title:       title,
		Description: strings.Join(segs, "\n"),
		Link:        sourceLink,
		GUID:        provider.MakeGUID(guidParts...),
		StartsAt:    startsAt,
		EndsAt:      endsAt,
	}
	if startsAt != nil {
		ev.PubDate = *startsAt
	}
	return ev, true
}

// locationPhrase renders the cross street pair the way the city's own
// listings phrase it.
func locationPhrase(from, to string) string {
	switch {
	case from != "" && to != "":
		return "zwischen " + from + " und " + to
	case from != "":
		return "auf Höhe " + from
	case to != "":
		return "auf Höhe " + to
	}
	return ""
}

// normalizeProps folds property keys to upper case and stringifies the
// values, so lookups tolerate layer revisions that rename or renumber.
func normalizeProps(props map[string]interface{}) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if _, exists := out[key]; exists {
			continue
		}
		if s := stringify(v); s != "" {
			out[key] = s
		}
	}
	return out
}

func firstProp(props map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := props[k]; v != "" {
			return v
		}
	}
	return ""
}

func cleanProp(props map[string]string, keys ...string) string {
	return textutil.SingleLine(textutil.HTMLToText(firstProp(props, keys...)))
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

var layerDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseLayerDate interprets the layer's date spellings on the city's
// local calendar.
func parseLayerDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range layerDateLayouts {
		if t, err := time.ParseInLocation(layout, s, textutil.Vienna()); err == nil {
			return domain.TimePtr(t.UTC())
		}
	}
	return nil
}

// firstCoord digs the first lon/lat pair out of any GeoJSON geometry.
func firstCoord(raw json.RawMessage) (float64, float64, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, 0, false
	}
	return walkCoord(v)
}

func walkCoord(v interface{}) (float64, float64, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, 0, false
	}
	if lon, ok := arr[0].(float64); ok {
		if len(arr) < 2 {
			return 0, 0, false
		}
		lat, ok := arr[1].(float64)
		if !ok {
			return 0, 0, false
		}
		return lon, lat, true
	}
	return walkCoord(arr[0])
}

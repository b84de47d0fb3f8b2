package baustellen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/provider"
)

// Three features: a fully populated one, one outside the city outline and
// one that exercises the fallback keys and a line geometry.
const layerDoc = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "BAUSTELLEOGD.4711",
      "geometry": {"type": "Point", "coordinates": [16.37, 48.21]},
      "properties": {
        "OBJECTID": 4711,
        "BEZEICHNUNG": "Fahrbahnsanierung Favoritenstraße",
        "HAUPTSTRASSE": "Favoritenstraße",
        "VON": "Gudrunstraße",
        "BIS": "Quellenstraße",
        "MASSNAHME": "Fahrbahnsanierung",
        "BEZIRK": 10,
        "DATUM_VON": "2025-06-01",
        "DATUM_BIS": "2025-09-30"
      }
    },
    {
      "type": "Feature",
      "id": "BAUSTELLEOGD.4712",
      "geometry": {"type": "Point", "coordinates": [15.62, 48.21]},
      "properties": {"BEZEICHNUNG": "Weit draußen"}
    },
    {
      "type": "Feature",
      "geometry": {"type": "LineString", "coordinates": [[16.30, 48.19], [16.31, 48.195]]},
      "properties": {
        "STRASSE": "Linke Wienzeile",
        "INFO": "<p>Gehsteig gesperrt, Umleitung über Stiegengasse.</p>",
        "BAUBEGINN": "2025-07-01T00:00:00",
        "BEZIRK": "6"
      }
    }
  ]
}`

func newTestProvider(t *testing.T, cfg config.BaustellenConfig) *Provider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := httpclient.New(httpclient.Config{
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		AllowLocal: true,
	}, logger)
	cfg.Enabled = true
	return New(cfg, client, logger)
}

func TestRefreshBuildsConstructionEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "WFS", q.Get("service"))
		assert.Equal(t, "GetFeature", q.Get("request"))
		assert.Equal(t, "ogdwien:BAUSTELLEOGD", q.Get("typeName"))
		assert.Equal(t, "EPSG:4326", q.Get("srsName"))
		assert.Equal(t, "json", q.Get("outputFormat"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(layerDoc))
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, config.BaustellenConfig{WFSURL: srv.URL})

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest start first: the Wienzeile works begin in July.
	wienzeile, favoriten := events[0], events[1]

	assert.Equal(t, "Linke Wienzeile", wienzeile.Title)
	assert.Equal(t, domain.SourceBaustellen, wienzeile.Source)
	assert.Equal(t, "Baustelle", wienzeile.Category)
	assert.Equal(t,
		"Gehsteig gesperrt, Umleitung über Stiegengasse.\nBeginn: 01.07.2025\nBezirk: 6",
		wienzeile.Description)
	require.NotNil(t, wienzeile.StartsAt)
	assert.True(t, wienzeile.StartsAt.Equal(time.Date(2025, 6, 30, 22, 0, 0, 0, time.UTC)))
	assert.Nil(t, wienzeile.EndsAt)

	assert.Equal(t, "Fahrbahnsanierung Favoritenstraße", favoriten.Title)
	assert.Equal(t,
		"Favoritenstraße zwischen Gudrunstraße und Quellenstraße\n"+
			"Beginn: 01.06.2025\nGeplant bis: 30.09.2025\n"+
			"Maßnahme: Fahrbahnsanierung\nBezirk: 10",
		favoriten.Description)
	assert.Equal(t, provider.MakeGUID("baustellen", "BAUSTELLEOGD.4711", "2025-06-01", "2025-09-30"), favoriten.GUID)
	require.NotNil(t, favoriten.StartsAt)
	assert.True(t, favoriten.StartsAt.Equal(time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC)))
	require.NotNil(t, favoriten.EndsAt)
	assert.True(t, favoriten.EndsAt.Equal(time.Date(2025, 9, 29, 22, 0, 0, 0, time.UTC)))
	assert.True(t, favoriten.PubDate.Equal(*favoriten.StartsAt))
	assert.Equal(t, sourceLink, favoriten.Link)
}

func TestRefreshRejectsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, config.BaustellenConfig{WFSURL: srv.URL})

	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrCodeTransport))
}

func TestLocationPhrase(t *testing.T) {
	assert.Equal(t, "zwischen A und B", locationPhrase("A", "B"))
	assert.Equal(t, "auf Höhe A", locationPhrase("A", ""))
	assert.Equal(t, "auf Höhe B", locationPhrase("", "B"))
	assert.Equal(t, "", locationPhrase("", ""))
}

func TestParseLayerDate(t *testing.T) {
	cases := []struct {
		in   string
		want *time.Time
	}{
		{"2025-06-01", domain.TimePtr(time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC))},
		{"2025-06-01T10:30:00", domain.TimePtr(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC))},
		{"2025-06-01T10:30:00Z", domain.TimePtr(time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC))},
		{"irgendwann", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := parseLayerDate(tc.in)
		if tc.want == nil {
			assert.Nil(t, got, "input %q", tc.in)
			continue
		}
		require.NotNil(t, got, "input %q", tc.in)
		assert.True(t, got.Equal(*tc.want), "input %q: got %v", tc.in, got)
	}
}

func TestFirstCoordHandlesNestedGeometries(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		lon  float64
		lat  float64
		ok   bool
	}{
		{"point", `[16.37, 48.21]`, 16.37, 48.21, true},
		{"line", `[[16.30, 48.19], [16.31, 48.20]]`, 16.30, 48.19, true},
		{"polygon", `[[[16.30, 48.19], [16.31, 48.20], [16.30, 48.19]]]`, 16.30, 48.19, true},
		{"empty", `[]`, 0, 0, false},
		{"scalar", `16.37`, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lon, lat, ok := firstCoord(json.RawMessage(tc.raw))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.lon, lon, 1e-9)
				assert.InDelta(t, tc.lat, lat, 1e-9)
			}
		})
	}
}

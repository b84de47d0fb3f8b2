package wl

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/stations"
)

const emptyNews = `{"data":{"pois":[]}}`

func testNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestProvider(t *testing.T, traffic, news string) (*Provider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/trafficInfoList", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(traffic))
	})
	mux.HandleFunc("/newsList", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(news))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	catalog, err := stations.Load("", logger)
	require.NoError(t, err)
	client := httpclient.New(httpclient.Config{
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		AllowLocal: true,
	}, logger)

	p := New(config.WLConfig{
		Enabled:   true,
		BaseURL:   srv.URL,
		CachePath: "data/cache/wl/events.json",
	}, client, catalog, logger)
	p.now = testNow
	return p, srv
}

func TestRefreshMergesShortAndLongVariant(t *testing.T) {
	traffic := `{"data":{"trafficInfos":[
		{"name":"stoerungkurz","title":"U4: Unfall",
		 "description":"<p>Wegen eines Unfalls kommt es zu Verspätungen.</p>",
		 "time":{"start":"2025-06-01T08:30:00.000+0200"},
		 "relatedLines":["U4"],
		 "relatedStops":[{"name":"Schwedenplatz"}]},
		{"name":"stoerunglang","title":"Störung: Unfall",
		 "description":"<p>Wegen eines Unfalls kommt es auf der Linie U4 zwischen Schwedenplatz und Landstraße zu Verspätungen.</p>",
		 "time":{"start":"2025-06-01T08:35:00.000+0200"},
		 "relatedLines":["U4"],
		 "relatedStops":[{"name":"Schwedenplatz"},{"name":"Landstraße"}],
		 "attributes":{"reason":"Unfall","towards":"Hütteldorf"}}
	]}}`

	p, srv := newTestProvider(t, traffic, emptyNews)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Wiener Linien", ev.Source)
	assert.Equal(t, "Störung", ev.Category)
	assert.Equal(t, "U4: Unfall (2 Halte)", ev.Title)
	assert.Equal(t,
		"Wegen eines Unfalls kommt es auf der Linie U4 zwischen Schwedenplatz und Landstraße zu Verspätungen."+
			" • Reason: Unfall • Towards: Hütteldorf"+
			" • Betroffene Haltestellen: Landstraße, Schwedenplatz",
		ev.Description)
	assert.Equal(t, srv.URL, ev.Link)
	assert.Equal(t, provider.MakeGUID("wl", "Störung", "unfall", "U4"), ev.GUID)
	assert.Equal(t, "wl|störung|L=U4|D=2025-06-01", ev.Identity)

	// Earliest variant start wins as publication instant.
	assert.True(t, ev.PubDate.Equal(time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)))
	require.NotNil(t, ev.StartsAt)
	assert.True(t, ev.StartsAt.Equal(time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)))
	assert.Nil(t, ev.EndsAt)
}

func TestRefreshFiltersNoise(t *testing.T) {
	traffic := `{"data":{"trafficInfos":[
		{"title":"Aufzugsinfo: Aufzug außer Betrieb",
		 "description":"Der Aufzug ist außer Betrieb.",
		 "time":{"start":"2025-06-01T08:00:00.000+0200"}},
		{"title":"Gewinnspiel zum Jubiläum",
		 "description":"Willkommen bei unserem Gewinnspiel.",
		 "time":{"start":"2025-06-01T08:00:00.000+0200"}},
		{"title":"U1: Störung",
		 "description":"Bereits beendet.",
		 "status":"finished",
		 "time":{"start":"2025-06-01T08:00:00.000+0200"}},
		{"title":"U2: Störung",
		 "description":"Beginnt erst morgen.",
		 "time":{"start":"2025-06-02T08:00:00.000+0200"}},
		{"title":"U3: Störung",
		 "description":"Schon lange vorbei.",
		 "time":{"start":"2025-06-01T08:00:00.000+0200","end":"2025-06-01T09:00:00.000+0200"}}
	]}}`
	news := `{"data":{"pois":[
		{"title":"Neues Kundenzentrum eröffnet",
		 "description":"Besuchen Sie uns."}
	]}}`

	p, _ := newTestProvider(t, traffic, news)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRefreshEndGraceKeepsJustEnded(t *testing.T) {
	// Ended five minutes before the fixed now, inside the grace window.
	traffic := `{"data":{"trafficInfos":[
		{"title":"U6: Störung behoben",
		 "description":"Verspätungen klingen ab.",
		 "relatedLines":["U6"],
		 "time":{"start":"2025-06-01T10:00:00.000+0200","end":"2025-06-01T13:55:00.000+0200"}}
	]}}`

	p, _ := newTestProvider(t, traffic, emptyNews)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].EndsAt)
	assert.True(t, events[0].EndsAt.Equal(time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)))
}

func TestRefreshNewsRequireRestrictionKeyword(t *testing.T) {
	news := `{"data":{"pois":[
		{"title":"Ersatzverkehr für die Linie 31",
		 "subtitle":"Bus statt Bim",
		 "description":"<p>Zwischen Schottenring und Floridsdorf fahren Busse.</p>",
		 "time":{"start":"2025-06-01T06:00:00.000+0200"},
		 "relatedLines":["31"]},
		{"title":"Unser neues Ticketangebot",
		 "description":"Jetzt entdecken."}
	]}}`

	p, _ := newTestProvider(t, `{"data":{"trafficInfos":[]}}`, news)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Hinweis", ev.Category)
	assert.Equal(t, "31: Ersatzverkehr für die Linie 31", ev.Title)
	assert.Contains(t, ev.Description, "Bus statt Bim")
	assert.Equal(t, "wl|hinweis|L=31|D=2025-06-01", ev.Identity)
}

func TestRefreshDropsAggregateWhenSinglesCover(t *testing.T) {
	traffic := `{"data":{"trafficInfos":[
		{"title":"U4: Falschparker","description":"Verspätungen auf der Linie U4.",
		 "time":{"start":"2025-06-01T08:00:00.000+0200"},"relatedLines":["U4"]},
		{"title":"U6: Polizeieinsatz","description":"Verspätungen auf der Linie U6.",
		 "time":{"start":"2025-06-01T08:05:00.000+0200"},"relatedLines":["U6"]},
		{"title":"U4/U6: Umleitung","description":"Beide Linien betroffen.",
		 "time":{"start":"2025-06-01T08:10:00.000+0200"},"relatedLines":["U4","U6"]}
	]}}`

	p, _ := newTestProvider(t, traffic, emptyNews)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Ascending by publication instant.
	assert.Equal(t, "U4: Falschparker", events[0].Title)
	assert.Equal(t, "U6: Polizeieinsatz", events[1].Title)
}

func TestRefreshKeepsAggregateWithoutFullCoverage(t *testing.T) {
	traffic := `{"data":{"trafficInfos":[
		{"title":"U4: Falschparker","description":"Verspätungen auf der Linie U4.",
		 "time":{"start":"2025-06-01T08:00:00.000+0200"},"relatedLines":["U4"]},
		{"title":"U4/U6: Umleitung","description":"Beide Linien betroffen.",
		 "time":{"start":"2025-06-01T08:10:00.000+0200"},"relatedLines":["U4","U6"]}
	]}}`

	p, _ := newTestProvider(t, traffic, emptyNews)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "U4/U6: Umleitung", events[1].Title)
}

func TestRefreshContextSuffixWithoutLines(t *testing.T) {
	traffic := `{"data":{"trafficInfos":[
		{"title":"Polizeieinsatz",
		 "description":"<p>Polizeieinsatz am Stephansplatz.</p>",
		 "time":{"start":"2025-06-01T09:00:00.000+0200"},
		 "relatedStops":[{"name":"Stephansplatz"}]}
	]}}`

	p, _ := newTestProvider(t, traffic, emptyNews)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Polizeieinsatz – Stephansplatz (1 Halt)", ev.Title)
	assert.Equal(t, "Polizeieinsatz am Stephansplatz. • Betroffene Haltestellen: Stephansplatz", ev.Description)
	assert.Equal(t, "wl|störung|L=|D=2025-06-01", ev.Identity)
}

func TestRefreshToleratesOneListFailing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/trafficInfoList", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/newsList", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"pois":[
			{"title":"Ersatzverkehr für die Linie 31",
			 "description":"Busse fahren.",
			 "time":{"start":"2025-06-01T06:00:00.000+0200"},
			 "relatedLines":["31"]}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	catalog, err := stations.Load("", logger)
	require.NoError(t, err)
	client := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, AllowLocal: true}, logger)
	p := New(config.WLConfig{Enabled: true, BaseURL: srv.URL}, client, catalog, logger)
	p.now = testNow

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Hinweis", events[0].Category)
}

func TestRefreshFailsWhenBothListsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	catalog, err := stations.Load("", logger)
	require.NoError(t, err)
	client := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, AllowLocal: true}, logger)
	p := New(config.WLConfig{Enabled: true, BaseURL: srv.URL}, client, catalog, logger)
	p.now = testNow

	_, err = p.Refresh(context.Background())
	require.Error(t, err)
}

func TestRefreshMalformedPayloadYieldsNoEvents(t *testing.T) {
	p, _ := newTestProvider(t, `{"data": 17}`, `not json at all`)

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseISOVariants(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2025-06-01T08:30:00+02:00", time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)},
		{"2025-06-01T08:30:00.000+0200", time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)},
		{"2025-06-01T06:30:00Z", time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)},
		{"2025-06-01T06:30:00", time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := parseISO(tc.in)
		require.NotNil(t, got, tc.in)
		assert.True(t, got.Equal(tc.want), tc.in)
	}

	assert.Nil(t, parseISO(""))
	assert.Nil(t, parseISO("gestern"))
	assert.Nil(t, parseISO("01.06.2025 08:30"))
}

func TestIsActiveWindow(t *testing.T) {
	now := testNow()
	past := now.Add(-2 * time.Hour)
	future := now.Add(2 * time.Hour)
	justEnded := now.Add(-5 * time.Minute)
	longEnded := now.Add(-30 * time.Minute)

	assert.True(t, isActive(&past, nil, now))
	assert.True(t, isActive(nil, nil, now))
	assert.True(t, isActive(&past, &justEnded, now))
	assert.False(t, isActive(&future, nil, now))
	assert.False(t, isActive(&past, &longEnded, now))
}

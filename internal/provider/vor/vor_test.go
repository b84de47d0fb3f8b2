package vor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/ratelimit"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// Station 100 answers with the wrapped envelope and a message list; the
// second and third message exercise the act and category drops.
const boardStation100 = `{
  "DepartureBoard": {
    "Messages": {
      "Message": [
        {
          "id": "212733",
          "act": "true",
          "head": "Schienenersatzverkehr",
          "text": "<p>Busse fahren ab Bahnsteig 1.</p>",
          "category": "1",
          "sDate": "2025-06-01",
          "sTime": "06:00:00",
          "eDate": "2025-06-10",
          "eTime": "22:00:00",
          "products": {"Product": {"name": "S1", "catOutS": "S"}},
          "affectedStops": {"Stop": [{"name": "Wien Meidling"}]}
        },
        {
          "id": "999",
          "act": "false",
          "head": "Alte Meldung",
          "category": "1"
        },
        {
          "id": "777",
          "act": true,
          "head": "Fahrplanhinweis",
          "category": 3
        }
      ]
    }
  }
}`

// Station 200 reports the same disruption with a bare top level board, a
// single message object, a numeric id and no end date.
const boardStation200 = `{
  "Messages": {
    "Message": {
      "id": 212733,
      "head": "Schienenersatzverkehr",
      "text": "Ersatzhaltestelle vor dem Bahnhof.",
      "category": 1,
      "sDate": "2025-06-02",
      "sTime": "06:00",
      "products": {"Product": [{"catOutS": "S", "displayNumber": "2"}]},
      "affectedStops": {"Stop": {"name": "Wien Matzleinsdorfer Platz"}}
    }
  }
}`

func testCatalog(t *testing.T) *stations.Catalogue {
	t.Helper()
	catalog, err := stations.Load("", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return catalog
}

func newTestProvider(t *testing.T, cfg config.VORConfig) (*Provider, *ratelimit.DailyCounter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := httpclient.New(httpclient.Config{
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		AllowLocal: true,
	}, logger)
	cfg.Enabled = true
	if cfg.AccessID == "" {
		cfg.AccessID = "test-token"
	}
	if cfg.CounterPath == "" {
		cfg.CounterPath = filepath.Join(t.TempDir(), "count.json")
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.MaxRequestsPerDay == 0 {
		cfg.MaxRequestsPerDay = 100
	}
	if cfg.MaxStationsPerRun == 0 {
		cfg.MaxStationsPerRun = 2
	}
	if cfg.RunRequestCeiling == 0 {
		cfg.RunRequestCeiling = 10
	}
	if cfg.RotationInterval == 0 {
		cfg.RotationInterval = 30 * time.Minute
	}
	if cfg.BoardDuration == 0 {
		cfg.BoardDuration = time.Hour
	}
	counter := ratelimit.NewDailyCounter(cfg.CounterPath, cfg.LockTimeout, logger)
	return New(cfg, client, testCatalog(t), counter, logger), counter
}

func TestRefreshMergesDuplicateAcrossStations(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/DepartureBoard", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-token", q.Get("accessId"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "SERVER_DEFAULT", q.Get("rtMode"))
		assert.Equal(t, "60", q.Get("duration"))
		assert.NotEmpty(t, q.Get("date"))
		assert.NotEmpty(t, q.Get("time"))
		assert.Empty(t, r.Header.Get("Authorization"))

		sid := q.Get("id")
		assert.True(t, strings.HasPrefix(q.Get("requestId"), "sb-"+sid+"-"))

		calls++
		switch sid {
		case "100":
			_, _ = w.Write([]byte(boardStation100))
		case "200":
			_, _ = w.Write([]byte(boardStation200))
		default:
			t.Errorf("unexpected station id %q", sid)
		}
	}))
	t.Cleanup(srv.Close)

	p, counter := newTestProvider(t, config.VORConfig{
		BaseURL:    srv.URL,
		StationIDs: []string{"100", "200"},
	})

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, calls)

	ev := events[0]
	assert.Equal(t, domain.SourceVOR, ev.Source)
	assert.Equal(t, "Baustelle", ev.Category)
	assert.Equal(t, "VOR-212733", ev.GUID)
	assert.Equal(t, "S1: Schienenersatzverkehr", ev.Title)
	assert.Equal(t, "https://www.vor.at/", ev.Link)

	wantDesc := "Busse fahren ab Bahnsteig 1.\n" +
		"Ersatzhaltestelle vor dem Bahnhof.\n" +
		"Linien: S1, S2\n" +
		"Betroffene Haltestellen: Wien Matzleinsdorfer Platz, Wien Meidling"
	assert.Equal(t, wantDesc, ev.Description)

	// 2025-06-01 06:00 Vienna summer time.
	wantStart := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)
	require.NotNil(t, ev.StartsAt)
	assert.True(t, ev.StartsAt.Equal(wantStart))
	assert.True(t, ev.PubDate.Equal(wantStart))
	// One occurrence has no end date, so the merged event stays open.
	assert.Nil(t, ev.EndsAt)

	state, err := counter.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
}

func TestRefreshSendsCredentialOnlyInHeaderWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("accessId"))
		_, _ = w.Write([]byte(`{"DepartureBoard": {}}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := newTestProvider(t, config.VORConfig{
		BaseURL:          srv.URL,
		AccessIDInHeader: true,
		StationIDs:       []string{"100"},
	})

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRefreshRefusesWhenProjectionExceedsContingent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request may be spent when the projection fails")
	}))
	t.Cleanup(srv.Close)

	// 48 rotations per day at one station per run beats a contingent of 40.
	p, counter := newTestProvider(t, config.VORConfig{
		BaseURL:           srv.URL,
		StationIDs:        []string{"100"},
		MaxStationsPerRun: 1,
		MaxRequestsPerDay: 40,
	})

	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrCodeRateLimit))

	state, err := counter.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
}

func TestRefreshAbortsWhenDailyBudgetAlreadySpent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request may be spent once the budget is exhausted")
	}))
	t.Cleanup(srv.Close)

	counterPath := filepath.Join(t.TempDir(), "count.json")
	today := time.Now().In(textutil.Vienna()).Format("2006-01-02")
	require.NoError(t, os.WriteFile(counterPath, []byte(fmt.Sprintf(`{"day":%q,"count":100}`, today)), 0o644))

	p, _ := newTestProvider(t, config.VORConfig{
		BaseURL:     srv.URL,
		StationIDs:  []string{"100"},
		CounterPath: counterPath,
	})

	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrCodeRateLimit))
}

func TestRefreshStopsAtRunCeilingKeepingPartialResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(boardStation100))
	}))
	t.Cleanup(srv.Close)

	p, counter := newTestProvider(t, config.VORConfig{
		BaseURL:           srv.URL,
		StationIDs:        []string{"100", "200"},
		RunRequestCeiling: 1,
	})

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, calls)

	state, err := counter.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
}

func TestRefreshHonoursRetryAfterOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(boardStation100))
	}))
	t.Cleanup(srv.Close)

	p, counter := newTestProvider(t, config.VORConfig{
		BaseURL:    srv.URL,
		StationIDs: []string{"100"},
	})
	var slept time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	events, err := p.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, calls)
	assert.Equal(t, time.Second, slept)

	// Both attempts count against the contingent.
	state, err := counter.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
}

func TestResolveStationIDs(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/location.name", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "stop", q.Get("type"))
		calls++
		switch q.Get("input") {
		case "Teststation Nord":
			_, _ = w.Write([]byte(`{"StopLocation":[{"id":"900001","name":"Teststation Nord"}]}`))
		case "Nirgendwo Süd":
			_, _ = w.Write([]byte(`{"StopLocation":[]}`))
		default:
			t.Errorf("unexpected lookup input %q", q.Get("input"))
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := newTestProvider(t, config.VORConfig{
		BaseURL: srv.URL,
		StationNames: []string{
			"Wien Hauptbahnhof", // catalogue id, costs nothing
			"Wien Hbf",          // second spelling of the same stop
			"Teststation Nord",  // resolved upstream
			"Nirgendwo Süd",     // unresolvable, skipped
		},
	})

	attempts := 0
	ids, err := p.resolveStationIDs(context.Background(), p.cfg.StationNames, &attempts)
	require.NoError(t, err)
	assert.Equal(t, []string{"490134900", "900001"}, ids)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
}

func TestRotationWindowWalksTheList(t *testing.T) {
	ids := []string{"a", "b", "c"}
	interval := 30 * time.Minute

	assert.Equal(t, []string{"a", "b"}, rotationWindow(ids, 2, interval, time.Unix(0, 0)))
	assert.Equal(t, []string{"b", "c"}, rotationWindow(ids, 2, interval, time.Unix(1800, 0)))
	assert.Equal(t, []string{"c", "a"}, rotationWindow(ids, 2, interval, time.Unix(3600, 0)))

	// A window at least as large as the list returns it unchanged.
	assert.Equal(t, ids, rotationWindow(ids, 5, interval, time.Unix(0, 0)))
	assert.Nil(t, rotationWindow(nil, 2, interval, time.Unix(0, 0)))
}

func TestParseBoardReportsUpstreamErrors(t *testing.T) {
	p, _ := newTestProvider(t, config.VORConfig{StationIDs: []string{"100"}})

	_, err := p.parseBoard([]byte(`{"errorCode":"API_AUTH","errorText":"access denied"}`), "100")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrCodeTransport))

	_, err = p.parseBoard([]byte(`kein json`), "100")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrCodeParse))
}

func TestBoardEventWithoutIDGetsContentHashGUID(t *testing.T) {
	p, _ := newTestProvider(t, config.VORConfig{StationIDs: []string{"100"}})

	events, err := p.parseBoard([]byte(`{
		"Messages": {"Message": {"head": "Umleitung", "text": "Linie fährt anders.", "category": 0}}
	}`), "480100")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, strings.HasPrefix(events[0].guid, "vor:480100:"))
	assert.Equal(t, "Ersatzverkehr", events[0].category)
	assert.Nil(t, events[0].startsAt)
}

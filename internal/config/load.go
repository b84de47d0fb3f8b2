package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Load builds the configuration from defaults and environment overrides,
// then validates it. Invalid individual values keep their default and are
// logged; validation failures are returned as a ConfigError.
func Load(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := defaultConfig()
	loadFromEnv(cfg, logger)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "INFO",
			Format:      "json",
			Dir:         "log",
			MaxBytes:    10 * 1024 * 1024,
			BackupCount: 3,
		},
		Feed: FeedConfig{
			OutPath:              "docs/feed.xml",
			Title:                "ÖPNV Störungen Wien & Umgebung",
			Link:                 "https://github.com/Origamihase/wien-oepnv",
			Description:          "Aktuelle Störungen, Bauarbeiten und Hinweise für Wien und Umgebung",
			TTLMinutes:           15,
			MaxItems:             10,
			DescriptionCharLimit: 170,
		},
		Pipeline: PipelineConfig{
			FreshPubDateWindow: 5 * time.Minute,
			MaxItemAgeDays:     365,
			AbsoluteMaxAgeDays: 540,
			EndsAtGrace:        10 * time.Minute,
		},
		Runtime: RuntimeConfig{
			BaseDir:         ".",
			ProviderTimeout: 25 * time.Second,
			MaxWorkers:      0,
		},
		State: StateConfig{
			Path:          "data/first_seen.json",
			RetentionDays: 540,
			LockTimeout:   10 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:          15 * time.Second,
			MaxResponseBytes: 10 * 1024 * 1024,
			MaxRedirects:     5,
			MaxRetries:       4,
			RetryBaseDelay:   500 * time.Millisecond,
			RetryMaxDelay:    10 * time.Second,
			PerHostInterval:  500 * time.Millisecond,
			UserAgent:        "wien-oepnv/1 (+https://github.com/Origamihase/wien-oepnv)",
			AllowedPorts:     []int{80, 443},
		},
		WL: WLConfig{
			Enabled:   true,
			BaseURL:   "https://www.wienerlinien.at/ogd_realtime",
			CachePath: "data/cache/wl/events.json",
		},
		OEBB: OEBBConfig{
			Enabled:   true,
			CachePath: "data/cache/oebb/events.json",
		},
		VOR: VORConfig{
			Enabled:           false,
			BaseURL:           "https://routenplaner.verkehrsauskunft.at/vao/restproxy/v1.11.0",
			MaxRequestsPerDay: 100,
			MaxStationsPerRun: 2,
			RunRequestCeiling: 10,
			RotationInterval:  30 * time.Minute,
			BoardDuration:     60 * time.Minute,
			CounterPath:       "data/vor_request_count.json",
			LockTimeout:       10 * time.Second,
			CachePath:         "data/cache/vor/events.json",
		},
		Baustellen: BaustellenConfig{
			Enabled:   false,
			WFSURL:    "https://data.wien.gv.at/daten/geo",
			CachePath: "data/cache/baustellen/events.json",
		},
		Stations: StationsConfig{},
		Report: ReportConfig{
			Enabled:      true,
			HealthMDPath: "log/feed_health.md",
			HealthJSON:   "log/feed_health.json",
			MetricsPath:  "log/wien_oepnv.prom",
		},
	}
}

func loadFromEnv(cfg *Config, logger *slog.Logger) {
	loadLogConfig(&cfg.Log, logger)
	loadFeedConfig(&cfg.Feed, logger)
	loadPipelineConfig(&cfg.Pipeline, logger)
	loadRuntimeConfig(&cfg.Runtime, logger)
	loadStateConfig(&cfg.State, logger)
	loadHTTPConfig(&cfg.HTTP, logger)
	loadWLConfig(&cfg.WL, logger)
	loadOEBBConfig(&cfg.OEBB, logger)
	loadVORConfig(&cfg.VOR, logger)
	loadBaustellenConfig(&cfg.Baustellen, logger)
	cfg.Stations.Path = parseStringEnv("STATIONS_PATH", cfg.Stations.Path)
	loadReportConfig(&cfg.Report, logger)
}

func loadLogConfig(c *LogConfig, logger *slog.Logger) {
	c.Level = parseStringEnv("LOG_LEVEL", c.Level)
	c.Format = strings.ToLower(parseStringEnv("LOG_FORMAT", c.Format))
	c.Dir = parseStringEnv("LOG_DIR", c.Dir)
	c.MaxBytes = parseIntEnv(logger, "LOG_MAX_BYTES", c.MaxBytes)
	c.BackupCount = parseIntEnv(logger, "LOG_BACKUP_COUNT", c.BackupCount)
	c.OTelEnabled = parseBoolEnv(logger, "LOG_OTEL_ENABLED", c.OTelEnabled)
}

func loadFeedConfig(c *FeedConfig, logger *slog.Logger) {
	c.OutPath = parseStringEnv("OUT_PATH", c.OutPath)
	c.Title = parseStringEnv("FEED_TITLE", c.Title)
	c.Link = parseStringEnv("FEED_LINK", c.Link)
	c.Description = parseStringEnv("FEED_DESC", c.Description)
	c.TTLMinutes = parseIntEnv(logger, "FEED_TTL", c.TTLMinutes)
	c.MaxItems = parseIntEnv(logger, "MAX_ITEMS", c.MaxItems)
	c.DescriptionCharLimit = parseIntEnv(logger, "DESCRIPTION_CHAR_LIMIT", c.DescriptionCharLimit)
}

func loadPipelineConfig(c *PipelineConfig, logger *slog.Logger) {
	c.FreshPubDateWindow = time.Duration(parseIntEnv(logger, "FRESH_PUBDATE_WINDOW_MIN", int(c.FreshPubDateWindow/time.Minute))) * time.Minute
	c.MaxItemAgeDays = parseIntEnv(logger, "MAX_ITEM_AGE_DAYS", c.MaxItemAgeDays)
	c.AbsoluteMaxAgeDays = parseIntEnv(logger, "ABSOLUTE_MAX_AGE_DAYS", c.AbsoluteMaxAgeDays)
	c.EndsAtGrace = time.Duration(parseIntEnv(logger, "ENDS_AT_GRACE_MINUTES", int(c.EndsAtGrace/time.Minute))) * time.Minute
}

func loadRuntimeConfig(c *RuntimeConfig, logger *slog.Logger) {
	c.BaseDir = parseStringEnv("BASE_DIR", c.BaseDir)
	c.ProviderTimeout = parseDurationEnv(logger, "PROVIDER_TIMEOUT", c.ProviderTimeout)
	c.MaxWorkers = parseIntEnv(logger, "PROVIDER_MAX_WORKERS", c.MaxWorkers)
}

func loadStateConfig(c *StateConfig, logger *slog.Logger) {
	c.Path = parseStringEnv("STATE_PATH", c.Path)
	c.RetentionDays = parseIntEnv(logger, "STATE_RETENTION_DAYS", c.RetentionDays)
	c.LockTimeout = parseDurationEnv(logger, "STATE_LOCK_TIMEOUT", c.LockTimeout)
}

func loadHTTPConfig(c *HTTPConfig, logger *slog.Logger) {
	c.Timeout = parseDurationEnv(logger, "HTTP_TIMEOUT", c.Timeout)
	c.MaxResponseBytes = int64(parseIntEnv(logger, "HTTP_MAX_RESPONSE_BYTES", int(c.MaxResponseBytes)))
	c.MaxRedirects = parseIntEnv(logger, "HTTP_MAX_REDIRECTS", c.MaxRedirects)
	c.MaxRetries = parseIntEnv(logger, "HTTP_MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = parseDurationEnv(logger, "HTTP_RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = parseDurationEnv(logger, "HTTP_RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.PerHostInterval = parseDurationEnv(logger, "HTTP_PER_HOST_INTERVAL", c.PerHostInterval)
	c.UserAgent = parseStringEnv("HTTP_USER_AGENT", c.UserAgent)
	if ports := parsePortsEnv(logger, "HTTP_ALLOWED_PORTS"); ports != nil {
		c.AllowedPorts = ports
	}
}

func loadWLConfig(c *WLConfig, logger *slog.Logger) {
	c.Enabled = parseBoolEnv(logger, "WL_ENABLE", c.Enabled)
	c.BaseURL = parseStringEnv("WL_RSS_URL", c.BaseURL)
	c.CachePath = parseStringEnv("WL_CACHE_PATH", c.CachePath)
}

func loadOEBBConfig(c *OEBBConfig, logger *slog.Logger) {
	c.Enabled = parseBoolEnv(logger, "OEBB_ENABLE", c.Enabled)
	c.FeedURL = parseStringEnv("OEBB_RSS_URL", c.FeedURL)
	c.AltURLs = parseCSVEnv("OEBB_RSS_ALT_URLS")
	c.OnlyVienna = parseBoolEnv(logger, "OEBB_ONLY_VIENNA", c.OnlyVienna)
	c.CachePath = parseStringEnv("OEBB_CACHE_PATH", c.CachePath)
}

func loadVORConfig(c *VORConfig, logger *slog.Logger) {
	c.Enabled = parseBoolEnv(logger, "VOR_ENABLE", c.Enabled)
	c.BaseURL = normalizeBaseURL(parseStringEnv("VOR_BASE_URL", c.BaseURL))
	c.AccessID = getSecret("VOR_ACCESS_ID")
	c.AccessIDInHeader = parseBoolEnv(logger, "VOR_ACCESS_ID_IN_HEADER", c.AccessIDInHeader)
	c.StationIDs = parseCSVEnv("VOR_STATION_IDS")
	c.StationNames = parseCSVEnv("VOR_STATION_NAMES")
	c.MaxRequestsPerDay = parseIntEnv(logger, "VOR_MAX_REQUESTS_PER_DAY", c.MaxRequestsPerDay)
	c.MaxStationsPerRun = parseIntEnv(logger, "VOR_MAX_STATIONS_PER_RUN", c.MaxStationsPerRun)
	c.RunRequestCeiling = parseIntEnv(logger, "VOR_RUN_REQUEST_CEILING", c.RunRequestCeiling)
	c.RotationInterval = parseDurationEnv(logger, "VOR_ROTATION_INTERVAL", c.RotationInterval)
	c.BoardDuration = parseDurationEnv(logger, "VOR_BOARD_DURATION", c.BoardDuration)
	c.CounterPath = parseStringEnv("VOR_COUNTER_PATH", c.CounterPath)
	c.LockTimeout = parseDurationEnv(logger, "VOR_LOCK_TIMEOUT", c.LockTimeout)
	c.CachePath = parseStringEnv("VOR_CACHE_PATH", c.CachePath)
}

func loadBaustellenConfig(c *BaustellenConfig, logger *slog.Logger) {
	c.Enabled = parseBoolEnv(logger, "BAUSTELLEN_ENABLE", c.Enabled)
	c.WFSURL = parseStringEnv("BAUSTELLEN_WFS_URL", c.WFSURL)
	c.CachePath = parseStringEnv("BAUSTELLEN_CACHE_PATH", c.CachePath)
}

func loadReportConfig(c *ReportConfig, logger *slog.Logger) {
	c.Enabled = parseBoolEnv(logger, "REPORT_ENABLE", c.Enabled)
	c.HealthMDPath = parseStringEnv("FEED_HEALTH_MD_PATH", c.HealthMDPath)
	c.HealthJSON = parseStringEnv("FEED_HEALTH_JSON_PATH", c.HealthJSON)
	c.MetricsPath = parseStringEnv("METRICS_TEXTFILE_PATH", c.MetricsPath)
}

func parseStringEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// parseIntEnv keeps the fallback and logs a warning when the value does not
// parse. The raw value is never logged.
func parseIntEnv(logger *slog.Logger, key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn("invalid integer in environment, using default", "key", key, "default", fallback)
		return fallback
	}
	return n
}

var truthy = map[string]bool{"1": true, "true": true, "t": true, "yes": true, "y": true, "on": true}
var falsy = map[string]bool{"0": true, "false": true, "f": true, "no": true, "n": true, "off": true}

func parseBoolEnv(logger *slog.Logger, key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	s := strings.ToLower(strings.TrimSpace(v))
	if truthy[s] {
		return true
	}
	if falsy[s] {
		return false
	}
	logger.Warn("invalid boolean in environment, using default", "key", key, "default", fallback)
	return fallback
}

// parseDurationEnv accepts Go duration strings and, for operator
// convenience, bare integers meaning seconds.
func parseDurationEnv(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	s := strings.TrimSpace(v)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Warn("invalid duration in environment, using default", "key", key, "default", fallback.String())
		return fallback
	}
	return d
}

func parseCSVEnv(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePortsEnv(logger *slog.Logger, key string) []int {
	parts := parseCSVEnv(key)
	if parts == nil {
		return nil
	}
	var out []int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			logger.Warn("invalid port list in environment, using default", "key", key)
			return nil
		}
		out = append(out, n)
	}
	return out
}

// getSecret resolves a credential: environment variable first, then a file
// named after the lowercased key below $CREDENTIALS_DIRECTORY, then below
// /run/secrets.
func getSecret(envKey string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	name := strings.ToLower(envKey)
	if dir := os.Getenv("CREDENTIALS_DIRECTORY"); dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return s
			}
		}
	}
	if data, err := os.ReadFile(filepath.Join("/run/secrets", name)); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s
		}
	}
	return ""
}

func normalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Package config loads the aggregator configuration from environment
// variables. Every setting has a safe default, invalid values fall back to
// that default with a warning, and structural problems (paths outside the
// allowlist, enabled providers without credentials) fail validation.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Log        LogConfig
	Feed       FeedConfig
	Pipeline   PipelineConfig
	Runtime    RuntimeConfig
	State      StateConfig
	HTTP       HTTPConfig
	WL         WLConfig
	OEBB       OEBBConfig
	VOR        VORConfig
	Baustellen BaustellenConfig
	Stations   StationsConfig
	Report     ReportConfig
}

// LogConfig controls log output.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" default:"INFO"`
	Format      string `env:"LOG_FORMAT" default:"json"`
	Dir         string `env:"LOG_DIR" default:"log"`
	MaxBytes    int    `env:"LOG_MAX_BYTES" default:"10485760"`
	BackupCount int    `env:"LOG_BACKUP_COUNT" default:"3"`
	OTelEnabled bool   `env:"LOG_OTEL_ENABLED" default:"false"`
}

// FeedConfig controls the emitted RSS document.
type FeedConfig struct {
	OutPath              string `env:"OUT_PATH" default:"docs/feed.xml"`
	Title                string `env:"FEED_TITLE" default:"ÖPNV Störungen Wien & Umgebung"`
	Link                 string `env:"FEED_LINK" default:"https://github.com/Origamihase/wien-oepnv"`
	Description          string `env:"FEED_DESC" default:"Aktuelle Störungen, Bauarbeiten und Hinweise für Wien und Umgebung"`
	TTLMinutes           int    `env:"FEED_TTL" default:"15"`
	MaxItems             int    `env:"MAX_ITEMS" default:"10"`
	DescriptionCharLimit int    `env:"DESCRIPTION_CHAR_LIMIT" default:"170"`
}

// PipelineConfig controls pruning and ordering.
type PipelineConfig struct {
	FreshPubDateWindow time.Duration `env:"FRESH_PUBDATE_WINDOW_MIN" default:"5m"`
	MaxItemAgeDays     int           `env:"MAX_ITEM_AGE_DAYS" default:"365"`
	AbsoluteMaxAgeDays int           `env:"ABSOLUTE_MAX_AGE_DAYS" default:"540"`
	EndsAtGrace        time.Duration `env:"ENDS_AT_GRACE_MINUTES" default:"10m"`
}

// RuntimeConfig controls process wide behaviour.
type RuntimeConfig struct {
	BaseDir         string        `env:"BASE_DIR" default:"."`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" default:"25s"`
	MaxWorkers      int           `env:"PROVIDER_MAX_WORKERS" default:"0"`
}

// StateConfig controls the first-seen store.
type StateConfig struct {
	Path          string        `env:"STATE_PATH" default:"data/first_seen.json"`
	RetentionDays int           `env:"STATE_RETENTION_DAYS" default:"540"`
	LockTimeout   time.Duration `env:"STATE_LOCK_TIMEOUT" default:"10s"`
}

// HTTPConfig controls the hardened HTTP client.
type HTTPConfig struct {
	Timeout          time.Duration `env:"HTTP_TIMEOUT" default:"15s"`
	MaxResponseBytes int64         `env:"HTTP_MAX_RESPONSE_BYTES" default:"10485760"`
	MaxRedirects     int           `env:"HTTP_MAX_REDIRECTS" default:"5"`
	MaxRetries       int           `env:"HTTP_MAX_RETRIES" default:"4"`
	RetryBaseDelay   time.Duration `env:"HTTP_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `env:"HTTP_RETRY_MAX_DELAY" default:"10s"`
	PerHostInterval  time.Duration `env:"HTTP_PER_HOST_INTERVAL" default:"500ms"`
	UserAgent        string        `env:"HTTP_USER_AGENT" default:"wien-oepnv/1 (+https://github.com/Origamihase/wien-oepnv)"`
	AllowedPorts     []int         `env:"HTTP_ALLOWED_PORTS" default:"80,443"`
}

// WLConfig configures the municipal realtime adapter.
type WLConfig struct {
	Enabled   bool   `env:"WL_ENABLE" default:"true"`
	BaseURL   string `env:"WL_RSS_URL" default:"https://www.wienerlinien.at/ogd_realtime"`
	CachePath string `env:"WL_CACHE_PATH" default:"data/cache/wl/events.json"`
}

// OEBBConfig configures the national railway RSS adapter.
type OEBBConfig struct {
	Enabled    bool     `env:"OEBB_ENABLE" default:"true"`
	FeedURL    string   `env:"OEBB_RSS_URL" default:""`
	AltURLs    []string `env:"OEBB_RSS_ALT_URLS" default:""`
	OnlyVienna bool     `env:"OEBB_ONLY_VIENNA" default:"false"`
	CachePath  string   `env:"OEBB_CACHE_PATH" default:"data/cache/oebb/events.json"`
}

// VORConfig configures the regional authority adapter.
type VORConfig struct {
	Enabled           bool          `env:"VOR_ENABLE" default:"false"`
	BaseURL           string        `env:"VOR_BASE_URL" default:"https://routenplaner.verkehrsauskunft.at/vao/restproxy/v1.11.0"`
	AccessID          string        `env:"VOR_ACCESS_ID" default:""`
	AccessIDInHeader  bool          `env:"VOR_ACCESS_ID_IN_HEADER" default:"false"`
	StationIDs        []string      `env:"VOR_STATION_IDS" default:""`
	StationNames      []string      `env:"VOR_STATION_NAMES" default:""`
	MaxRequestsPerDay int           `env:"VOR_MAX_REQUESTS_PER_DAY" default:"100"`
	MaxStationsPerRun int           `env:"VOR_MAX_STATIONS_PER_RUN" default:"2"`
	RunRequestCeiling int           `env:"VOR_RUN_REQUEST_CEILING" default:"10"`
	RotationInterval  time.Duration `env:"VOR_ROTATION_INTERVAL" default:"30m"`
	BoardDuration     time.Duration `env:"VOR_BOARD_DURATION" default:"60m"`
	CounterPath       string        `env:"VOR_COUNTER_PATH" default:"data/vor_request_count.json"`
	LockTimeout       time.Duration `env:"VOR_LOCK_TIMEOUT" default:"10s"`
	CachePath         string        `env:"VOR_CACHE_PATH" default:"data/cache/vor/events.json"`
}

// BaustellenConfig configures the construction site adapter.
type BaustellenConfig struct {
	Enabled   bool   `env:"BAUSTELLEN_ENABLE" default:"false"`
	WFSURL    string `env:"BAUSTELLEN_WFS_URL" default:"https://data.wien.gv.at/daten/geo"`
	CachePath string `env:"BAUSTELLEN_CACHE_PATH" default:"data/cache/baustellen/events.json"`
}

// ReportConfig controls run reporting artifacts.
type ReportConfig struct {
	Enabled      bool   `env:"REPORT_ENABLE" default:"true"`
	HealthMDPath string `env:"FEED_HEALTH_MD_PATH" default:"log/feed_health.md"`
	HealthJSON   string `env:"FEED_HEALTH_JSON_PATH" default:"log/feed_health.json"`
	MetricsPath  string `env:"METRICS_TEXTFILE_PATH" default:"log/wien_oepnv.prom"`
}

// StationsConfig points at an operator provided station catalogue.
// Empty means use the embedded one.
type StationsConfig struct {
	Path string `env:"STATIONS_PATH" default:""`
}

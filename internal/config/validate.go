package config

import (
	"fmt"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
)

func validateConfig(cfg *Config) error {
	if cfg.Log.Format != "json" && cfg.Log.Format != "plain" {
		return apperr.ConfigError(fmt.Sprintf("LOG_FORMAT must be json or plain, got %q", cfg.Log.Format), nil, nil)
	}
	if cfg.Log.MaxBytes < 0 || cfg.Log.BackupCount < 0 {
		return apperr.ConfigError("log rotation settings must not be negative", nil, nil)
	}
	if cfg.Feed.MaxItems < 0 {
		return apperr.ConfigError("MAX_ITEMS must not be negative", nil, nil)
	}
	if cfg.Feed.DescriptionCharLimit < 0 {
		return apperr.ConfigError("DESCRIPTION_CHAR_LIMIT must not be negative", nil, nil)
	}
	if cfg.Feed.TTLMinutes < 0 {
		return apperr.ConfigError("FEED_TTL must not be negative", nil, nil)
	}
	if cfg.Pipeline.MaxItemAgeDays < 0 || cfg.Pipeline.AbsoluteMaxAgeDays < 0 {
		return apperr.ConfigError("item age limits must not be negative", nil, nil)
	}
	if cfg.Pipeline.FreshPubDateWindow < 0 || cfg.Pipeline.EndsAtGrace < 0 {
		return apperr.ConfigError("pipeline windows must not be negative", nil, nil)
	}
	if cfg.Runtime.ProviderTimeout < 0 {
		return apperr.ConfigError("PROVIDER_TIMEOUT must not be negative", nil, nil)
	}
	if cfg.Runtime.MaxWorkers < 0 {
		return apperr.ConfigError("PROVIDER_MAX_WORKERS must not be negative", nil, nil)
	}
	if cfg.State.RetentionDays < 0 {
		return apperr.ConfigError("STATE_RETENTION_DAYS must not be negative", nil, nil)
	}
	if cfg.State.LockTimeout <= 0 {
		return apperr.ConfigError("STATE_LOCK_TIMEOUT must be positive", nil, nil)
	}
	if cfg.HTTP.Timeout <= 0 {
		return apperr.ConfigError(fmt.Sprintf("HTTP timeout must be positive: %v", cfg.HTTP.Timeout), nil, nil)
	}
	if cfg.HTTP.MaxResponseBytes <= 0 {
		return apperr.ConfigError("HTTP response size cap must be positive", nil, nil)
	}
	if cfg.HTTP.MaxRedirects < 0 || cfg.HTTP.MaxRetries < 0 {
		return apperr.ConfigError("HTTP redirect and retry limits must not be negative", nil, nil)
	}
	if cfg.HTTP.RetryBaseDelay < 0 || cfg.HTTP.RetryMaxDelay < 0 || cfg.HTTP.PerHostInterval < 0 {
		return apperr.ConfigError("HTTP delays must not be negative", nil, nil)
	}
	if len(cfg.HTTP.AllowedPorts) == 0 {
		return apperr.ConfigError("HTTP_ALLOWED_PORTS must not be empty", nil, nil)
	}
	if cfg.VOR.Enabled {
		if cfg.VOR.AccessID == "" {
			return apperr.ConfigError("VOR is enabled but no access id is configured", nil, nil)
		}
		if cfg.VOR.MaxRequestsPerDay <= 0 {
			return apperr.ConfigError("VOR_MAX_REQUESTS_PER_DAY must be positive", nil, nil)
		}
		if cfg.VOR.MaxStationsPerRun <= 0 {
			return apperr.ConfigError("VOR_MAX_STATIONS_PER_RUN must be positive", nil, nil)
		}
		if cfg.VOR.RunRequestCeiling <= 0 {
			return apperr.ConfigError("VOR_RUN_REQUEST_CEILING must be positive", nil, nil)
		}
		if cfg.VOR.RotationInterval <= 0 {
			return apperr.ConfigError("VOR_ROTATION_INTERVAL must be positive", nil, nil)
		}
		if cfg.VOR.BoardDuration <= 0 {
			return apperr.ConfigError("VOR_BOARD_DURATION must be positive", nil, nil)
		}
		if cfg.VOR.LockTimeout <= 0 {
			return apperr.ConfigError("VOR_LOCK_TIMEOUT must be positive", nil, nil)
		}
	}
	return validatePaths(cfg)
}

// validatePaths checks every configured file location against the path
// allowlist and rewrites it to its resolved absolute form.
func validatePaths(cfg *Config) error {
	guard, err := pathguard.New(cfg.Runtime.BaseDir, nil)
	if err != nil {
		return err
	}
	targets := []*string{
		&cfg.Feed.OutPath,
		&cfg.State.Path,
		&cfg.Log.Dir,
		&cfg.WL.CachePath,
		&cfg.OEBB.CachePath,
		&cfg.VOR.CachePath,
		&cfg.VOR.CounterPath,
		&cfg.Baustellen.CachePath,
		&cfg.Report.HealthMDPath,
		&cfg.Report.HealthJSON,
		&cfg.Report.MetricsPath,
	}
	for _, t := range targets {
		resolved, err := guard.Resolve(*t)
		if err != nil {
			return err
		}
		*t = resolved
	}
	if cfg.Stations.Path != "" {
		resolved, err := guard.Resolve(cfg.Stations.Path)
		if err != nil {
			return err
		}
		cfg.Stations.Path = resolved
	}
	return nil
}

// Warnings returns non-fatal advisories about the loaded configuration.
func (c *Config) Warnings() []string {
	var w []string
	if !c.WL.Enabled && !c.OEBB.Enabled && !c.VOR.Enabled && !c.Baustellen.Enabled {
		w = append(w, "no provider is enabled, the feed will be empty")
	}
	if c.Feed.MaxItems == 0 {
		w = append(w, "MAX_ITEMS is 0, the feed will carry no items")
	}
	if c.Feed.DescriptionCharLimit == 0 {
		w = append(w, "DESCRIPTION_CHAR_LIMIT is 0, descriptions are not clipped")
	}
	if c.Feed.TTLMinutes == 0 {
		w = append(w, "FEED_TTL is 0, readers may poll aggressively")
	}
	if c.Runtime.ProviderTimeout == 0 {
		w = append(w, "PROVIDER_TIMEOUT is 0, provider reads are unbounded")
	}
	if c.Pipeline.MaxItemAgeDays > c.Pipeline.AbsoluteMaxAgeDays {
		w = append(w, "MAX_ITEM_AGE_DAYS exceeds ABSOLUTE_MAX_AGE_DAYS, the absolute limit wins")
	}
	if c.VOR.Enabled && len(c.VOR.StationIDs) == 0 && len(c.VOR.StationNames) == 0 {
		w = append(w, "VOR is enabled but no stations are configured")
	}
	return w
}

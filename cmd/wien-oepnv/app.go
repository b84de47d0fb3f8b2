package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/cachestore"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/httpclient"
	"github.com/Origamihase/wien-oepnv/internal/logger"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/provider/baustellen"
	"github.com/Origamihase/wien-oepnv/internal/provider/oebb"
	"github.com/Origamihase/wien-oepnv/internal/provider/vor"
	"github.com/Origamihase/wien-oepnv/internal/provider/wl"
	"github.com/Origamihase/wien-oepnv/internal/ratelimit"
	"github.com/Origamihase/wien-oepnv/internal/stations"
)

// app bundles the components every subcommand needs. Construction fails
// only on configuration problems; nothing touches the network or opens
// state files until a command runs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	guard    *pathguard.Guard
	store    *cachestore.Store
	catalog  *stations.Catalogue
	registry *provider.Registry

	shutdownLogs logger.ShutdownFunc
}

func newApp(ctx context.Context) (*app, error) {
	log := logger.New()

	cfg, err := config.Load(log)
	if err != nil {
		apperr.LogError(log, err, "config.load")
		return nil, err
	}

	var shutdown logger.ShutdownFunc
	if cfg.Log.OTelEnabled {
		shutdown, err = logger.InitLogExport(ctx, "wien-oepnv", version)
		if err != nil {
			log.Warn("log export unavailable, continuing with stdout only", "error", err.Error())
			shutdown = nil
		} else {
			log = logger.NewWithOTel("wien-oepnv")
		}
	}

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	guard, err := pathguard.New(cfg.Runtime.BaseDir, nil)
	if err != nil {
		apperr.LogError(log, err, "config.load")
		return nil, err
	}

	catalog, err := stations.Load(cfg.Stations.Path, log)
	if err != nil {
		apperr.LogError(log, err, "stations.load")
		return nil, err
	}

	client := httpclient.New(httpclient.FromConfig(cfg.HTTP), log)
	counter := ratelimit.NewDailyCounter(cfg.VOR.CounterPath, cfg.VOR.LockTimeout, log)

	registry := provider.NewRegistry(
		wl.New(cfg.WL, client, catalog, log),
		oebb.New(cfg.OEBB, client, catalog, log),
		vor.New(cfg.VOR, client, catalog, counter, log),
		baustellen.New(cfg.Baustellen, client, log),
	)

	return &app{
		cfg:          cfg,
		logger:       log,
		guard:        guard,
		store:        cachestore.New(guard, log),
		catalog:      catalog,
		registry:     registry,
		shutdownLogs: shutdown,
	}, nil
}

// close flushes the log exporter when one is running. A fresh context is
// used so a cancelled run still gets its last records out.
func (a *app) close() {
	if a.shutdownLogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownLogs(ctx); err != nil {
		a.logger.Warn("log exporter shutdown failed", "error", err.Error())
	}
}

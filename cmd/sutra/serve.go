package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/sutra/internal/app"
	"github.com/MrWong99/sutra/internal/config"
	"github.com/MrWong99/sutra/internal/health"
	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/server"
)

// ServeCmd runs the HTTP service.
type ServeCmd struct {
	Listen      string        `help:"Override server.listen_addr."`
	MaxSegments int           `name:"max-segments" help:"Maximum segments per request." default:"1000"`
	Watch       time.Duration `help:"Config file polling interval; 0 disables hot reload." default:"5s"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, lvl, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(prov.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	a, err := app.New(ctx, cfg, app.WithMetrics(metrics))
	if err != nil {
		return err
	}

	if c.Watch > 0 {
		wopts := []config.WatcherOption{config.WithInterval(c.Watch)}
		if cfg.Terms.ReloadEnabled() {
			wopts = append(wopts, config.WithTermFileHandler(a.ReloadTermFile))
		}
		w, err := config.NewWatcher(g.Config, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.Empty() {
				return
			}
			if d.LogLevelChanged && g.LogLevel == "" {
				lvl.Set(d.NewLogLevel.SlogLevel())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if err := a.ApplyDiff(d); err != nil {
				slog.Error("config reload incomplete", "err", err)
			}
		}, wopts...)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	h := server.New(a.Runner(),
		server.WithStats(a.Source().CacheStats),
		server.WithHealth(health.New(a.HealthCheckers()...)),
		server.WithMetrics(metrics),
		server.WithMetricsHandler(prov.MetricsHandler()),
		server.WithMaxSegments(c.MaxSegments),
	)

	addr := cfg.Server.ListenAddr
	if c.Listen != "" {
		addr = c.Listen
	}
	var tls server.TLSFiles
	if cfg.Server.TLS != nil {
		tls = server.TLSFiles{CertFile: cfg.Server.TLS.CertFile, KeyFile: cfg.Server.TLS.KeyFile}
	}

	slog.Info("sutra starting",
		"config", g.Config,
		"listen_addr", addr,
		"term_files", len(cfg.Terms.Files),
		"store", cfg.Terms.Store.Driver,
		"workers", a.Runner().Workers(),
	)
	serveErr := server.ListenAndServe(ctx, addr, tls, h.Routes())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := prov.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return serveErr
}

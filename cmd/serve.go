package main

import (
	"context"
	"fmt"
	"os"

	"pulsebridge/internal/api"
	"pulsebridge/internal/clock"
	"pulsebridge/internal/config"
	"pulsebridge/internal/ha"
	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"
	"pulsebridge/pkg/plugin"

	_ "pulsebridge/internal/plugins/alarmpanel"
	_ "pulsebridge/internal/plugins/sensors"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type serveOptions struct {
	ConfigDir string
	LogLevel  string
	ReadOnly  bool
	NoAPI     bool
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	return cfg.Build()
}

// buildSite creates the in-process site described by the config
func buildSite(cfg *config.PulseConfig, logger *zap.Logger) *pulse.Simulator {
	return pulse.NewSimulator(pulse.SimulatorConfig{
		SiteID:       cfg.Site.ID,
		SiteName:     cfg.Site.Name,
		Manufacturer: cfg.Site.Manufacturer,
		Model:        cfg.Site.Model,
		Status:       pulse.Status(cfg.Simulator.InitialStatus),
		Online:       cfg.Simulator.Online,
		Zones:        cfg.Simulator.SiteZones(),
		Latency:      cfg.Simulator.Latency(),
	}, clock.NewRealClock(), logger)
}

func runServe(ctx context.Context, opts *serveOptions) (err error) {
	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := opts.ReadOnly || os.Getenv("READ_ONLY") == "true"

	if haURL == "" || haToken == "" {
		return fmt.Errorf("HA_URL and HA_TOKEN environment variables must be set")
	}

	loader := config.NewLoader(opts.ConfigDir, logger)
	if err := loader.Load(); err != nil {
		return err
	}
	cfg := loader.Get()

	logger.Info("Starting pulsebridge",
		zap.String("url", haURL),
		zap.String("site", cfg.Site.ID),
		zap.String("entity_prefix", cfg.EntityPrefix),
		zap.Bool("read_only", readOnly))

	site := buildSite(cfg, logger)

	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer func() {
		err = multierr.Append(err, client.Disconnect())
	}()

	tracker := shadowstate.NewTracker()
	pluginCtx := plugin.NewContext(client, site, cfg, tracker, logger, readOnly)

	plugins, err := plugin.CreateAll(pluginCtx)
	if err != nil {
		return err
	}
	if err := plugin.StartAll(plugins); err != nil {
		return err
	}
	defer plugin.StopAll(plugins)
	logger.Info("Plugins started", zap.Strings("plugins", plugin.Names()))

	// helpers may have been reset while we were disconnected
	client.OnConnect(func() {
		if err := plugin.ResetAll(plugins); err != nil {
			logger.Error("Failed to republish after reconnect", zap.Error(err))
		}
	})

	if !opts.NoAPI {
		server, apiErr := startAPI(plugins, tracker, logger, cfg.API.Port)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			err = multierr.Append(err, server.Stop())
		}()
	}

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant or the alarm")
	}
	logger.Info("Application running. Press Ctrl+C to exit.")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	return nil
}

func startAPI(plugins []plugin.Plugin, tracker *shadowstate.Tracker, logger *zap.Logger, port int) (*api.Server, error) {
	for _, p := range plugins {
		if ctrl, ok := p.(api.AlarmController); ok {
			server := api.NewServer(ctrl, tracker, logger, port)
			if err := server.Start(); err != nil {
				return nil, err
			}
			return server, nil
		}
	}
	return nil, fmt.Errorf("no alarm panel plugin registered")
}

package plugin

import (
	"pulsebridge/internal/config"
	"pulsebridge/internal/ha"
	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
type Context struct {
	// HAClient is the presentation side: helper entities are written and
	// watched through it.
	HAClient ha.HAClient

	// Site is the remote alarm client.
	Site pulse.Site

	// Config is the validated pulse_config.yaml.
	Config *config.PulseConfig

	// Shadow collects every plugin's shadow state for the API.
	Shadow *shadowstate.Tracker

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates whether the application is in read-only mode.
	// When true, plugins log what they would write to Home Assistant
	// instead of writing it.
	ReadOnly bool
}

// NewContext creates a new plugin context with all required dependencies.
func NewContext(
	haClient ha.HAClient,
	site pulse.Site,
	cfg *config.PulseConfig,
	shadow *shadowstate.Tracker,
	logger *zap.Logger,
	readOnly bool,
) *Context {
	if shadow == nil {
		shadow = shadowstate.NewTracker()
	}
	return &Context{
		HAClient: haClient,
		Site:     site,
		Config:   cfg,
		Shadow:   shadow,
		Logger:   logger,
		ReadOnly: readOnly,
	}
}

// EntityPrefix returns the configured helper entity prefix.
func (c *Context) EntityPrefix() string {
	if c.Config == nil || c.Config.EntityPrefix == "" {
		return "adt_pulse"
	}
	return c.Config.EntityPrefix
}

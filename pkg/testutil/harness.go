package testutil

import (
	"fmt"
	"time"

	"pulsebridge/internal/clock"
	"pulsebridge/internal/config"
	"pulsebridge/internal/ha"
	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"
	"pulsebridge/pkg/plugin"

	_ "pulsebridge/internal/plugins/alarmpanel"
	_ "pulsebridge/internal/plugins/sensors"

	"go.uber.org/zap"
)

// Token is the access token the test environment's server accepts.
const Token = "test_token_12345"

// DefaultConfig is a one-site configuration with two zones and no
// command latency.
const DefaultConfig = `
site:
  id: "160301"
simulator:
  latency_ms: 0
  zones:
    - {id: 1, name: Front Door, tags: [sensor, doorWindow]}
    - {id: 2, name: Hallway Motion, tags: [sensor, motion]}
`

// EnvOptions tunes NewTestEnv.
type EnvOptions struct {
	// Config is a pulse_config.yaml document. DefaultConfig when empty.
	Config   string
	ReadOnly bool
	// Clock drives the simulated site. A real clock when nil.
	Clock clock.Clock
}

// TestEnv is a mock Home Assistant server with a connected client and
// the registered plugins running against a simulated site.
type TestEnv struct {
	Server  *MockHAServer
	Client  *ha.Client
	Site    *pulse.Simulator
	Config  *config.PulseConfig
	Shadow  *shadowstate.Tracker
	Plugins []plugin.Plugin
	Logger  *zap.Logger
}

// NewTestEnv starts the mock server, connects a client and starts every
// registered plugin.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(testutil.EnvOptions{})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(opts EnvOptions) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	if opts.Config == "" {
		opts.Config = DefaultConfig
	}
	cfg, err := config.NewLoader("", logger).Parse([]byte(opts.Config))
	if err != nil {
		return nil, fmt.Errorf("invalid test config: %w", err)
	}

	server := NewMockHAServer(Token, logger)
	server.Start()

	site := pulse.NewSimulator(pulse.SimulatorConfig{
		SiteID:       cfg.Site.ID,
		SiteName:     cfg.Site.Name,
		Manufacturer: cfg.Site.Manufacturer,
		Model:        cfg.Site.Model,
		Status:       pulse.Status(cfg.Simulator.InitialStatus),
		Online:       cfg.Simulator.Online,
		Zones:        cfg.Simulator.SiteZones(),
		Latency:      cfg.Simulator.Latency(),
	}, opts.Clock, logger)

	client := ha.NewClientWithOptions(server.URL(), Token, ha.Options{
		RequestTimeout: 2 * time.Second,
		MinBackoff:     20 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
	}, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	env := &TestEnv{
		Server: server,
		Client: client,
		Site:   site,
		Config: cfg,
		Shadow: shadowstate.NewTracker(),
		Logger: logger,
	}

	pluginCtx := plugin.NewContext(client, site, cfg, env.Shadow, logger, opts.ReadOnly)
	plugins, err := plugin.CreateAll(pluginCtx)
	if err == nil {
		err = plugin.StartAll(plugins)
	}
	if err != nil {
		client.Disconnect()
		server.Stop()
		return nil, err
	}
	env.Plugins = plugins

	client.OnConnect(func() {
		if err := plugin.ResetAll(plugins); err != nil {
			logger.Error("Failed to republish after reconnect", zap.Error(err))
		}
	})
	return env, nil
}

// Entity returns the full entity id of a helper named with the
// configured prefix, e.g. Entity("input_text", "alarm_state").
func (e *TestEnv) Entity(domain, suffix string) string {
	return fmt.Sprintf("%s.%s_%s", domain, e.Config.EntityPrefix, suffix)
}

// Cleanup stops all components in reverse start order.
func (e *TestEnv) Cleanup() {
	plugin.StopAll(e.Plugins)
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// Package plugin provides the plugin system interfaces and registry.
// Plugins register themselves with the global registry from init()
// functions; a registration with a higher priority replaces one with the
// same name.
package plugin

import "pulsebridge/internal/shadowstate"

// Plugin is the core interface that all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	Name() string

	// Start sets up subscriptions and publishes the initial state.
	Start() error

	// Stop unsubscribes from everything and releases resources.
	Stop()
}

// Resettable is an optional interface for plugins that can re-derive
// everything they publish from the current inputs. It runs after every
// Home Assistant reconnect.
type Resettable interface {
	Reset() error
}

// ShadowStateProvider is an optional interface for plugins that track their
// decision-making for observability.
type ShadowStateProvider interface {
	GetShadowState() shadowstate.PluginShadowState
}

// Factory creates a new plugin instance given a context.
type Factory func(ctx *Context) (Plugin, error)

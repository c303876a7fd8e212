package alarmpanel

import (
	"fmt"

	"pulsebridge/internal/shadowstate"
	"pulsebridge/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "alarmpanel",
		Description: "Alarm control panel presented through Home Assistant helpers",
		Priority:    plugin.PriorityDefault,
		Order:       20,
		Factory:     createPlugin,
	})
}

var (
	_ plugin.Plugin              = (*Manager)(nil)
	_ plugin.Resettable          = (*Manager)(nil)
	_ plugin.ShadowStateProvider = (*Manager)(nil)
)

// createPlugin creates a new alarm panel plugin instance from the plugin context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx.HAClient == nil {
		return nil, fmt.Errorf("alarmpanel plugin requires a Home Assistant client")
	}
	if ctx.Site == nil {
		return nil, fmt.Errorf("alarmpanel plugin requires a site")
	}

	manager := NewManager(ctx.HAClient, ctx.Site, ctx.EntityPrefix(), ctx.Logger, ctx.ReadOnly)
	ctx.Shadow.RegisterPluginProvider(manager.Name(), func() shadowstate.PluginShadowState {
		return manager.GetShadowState()
	})
	return manager, nil
}

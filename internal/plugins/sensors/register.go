package sensors

import (
	"fmt"

	"pulsebridge/internal/shadowstate"
	"pulsebridge/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "sensors",
		Description: "Zone and gateway binary sensors",
		Priority:    plugin.PriorityDefault,
		Order:       30,
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx.HAClient == nil || ctx.Site == nil {
		return nil, fmt.Errorf("sensors plugin requires a Home Assistant client and a site")
	}

	manager := NewManager(ctx.HAClient, ctx.Site, ctx.EntityPrefix(), ctx.Logger, ctx.ReadOnly)
	ctx.Shadow.RegisterPluginProvider(manager.Name(), func() shadowstate.PluginShadowState {
		return manager.GetShadowState()
	})
	return manager, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleConfig = `site:
  id: "1234"
  name: "Lake House"
entity_prefix: lake_house
api:
  port: 9090
simulator:
  latency_ms: 500
  initial_status: stay
  online: false
  zones:
    - id: 1
      name: Front Door
      tags: [sensor, doorWindow]
    - id: 2
      name: Hall Motion
      tags: [sensor, motion]
      state: Motion
      status: Low Battery
`

func setupTestConfigDir(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(content), 0644)
	require.NoError(t, err)
	return tmpDir
}

func TestLoader_Load(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	loader := NewLoader(setupTestConfigDir(t, sampleConfig), logger)

	require.NoError(t, loader.Load())
	cfg := loader.Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "1234", cfg.Site.ID)
	assert.Equal(t, "Lake House", cfg.Site.Name)
	assert.Equal(t, "ADT", cfg.Site.Manufacturer, "default manufacturer")
	assert.Equal(t, "Pulse", cfg.Site.Model, "default model")
	assert.Equal(t, "lake_house", cfg.EntityPrefix)
	assert.Equal(t, 9090, cfg.API.Port)

	assert.Equal(t, 500*time.Millisecond, cfg.Simulator.Latency())
	assert.Equal(t, "stay", cfg.Simulator.InitialStatus)
	assert.False(t, cfg.Simulator.Online, "explicit false survives defaults")

	zones := cfg.Simulator.SiteZones()
	require.Len(t, zones, 2)
	assert.Equal(t, "OK", zones[0].State)
	assert.Equal(t, "Online", zones[0].Status)
	assert.Equal(t, "Motion", zones[1].State)
	assert.Equal(t, "Low Battery", zones[1].Status)
	assert.Equal(t, []string{"sensor", "motion"}, zones[1].Tags)
}

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader(t.TempDir(), zap.NewNop())

	cfg, err := loader.Parse([]byte("site:\n  id: \"42\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "adt_pulse", cfg.EntityPrefix)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 2*time.Second, cfg.Simulator.Latency())
	assert.Equal(t, "off", cfg.Simulator.InitialStatus)
	assert.True(t, cfg.Simulator.Online)
	assert.Empty(t, cfg.Simulator.Zones)
}

func TestLoader_Invalid(t *testing.T) {
	loader := NewLoader(t.TempDir(), zap.NewNop())

	tests := []struct {
		name    string
		content string
	}{
		{"missing site id", "entity_prefix: x\n"},
		{"bad port", "site: {id: \"1\"}\napi: {port: 70000}\n"},
		{"bad status", "site: {id: \"1\"}\nsimulator: {initial_status: armed}\n"},
		{"bad prefix", "site: {id: \"1\"}\nentity_prefix: \"Has Spaces\"\n"},
		{"zone without tags", "site: {id: \"1\"}\nsimulator:\n  zones:\n    - {id: 1, name: Door}\n"},
		{"zone without id", "site: {id: \"1\"}\nsimulator:\n  zones:\n    - {name: Door, tags: [sensor]}\n"},
		{"not yaml", "site: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	configDir := t.TempDir() // Empty directory

	loader := NewLoader(configDir, logger)
	err := loader.Load()
	assert.Error(t, err)
	assert.Nil(t, loader.Get())
}

func TestLoader_ShippedConfig(t *testing.T) {
	loader := NewLoader("../../configs", zap.NewNop())
	require.NoError(t, loader.Load())

	cfg := loader.Get()
	assert.Equal(t, "adt_pulse", cfg.EntityPrefix)
	assert.Equal(t, "off", cfg.Simulator.InitialStatus)
	assert.Len(t, cfg.Simulator.SiteZones(), 5)
}

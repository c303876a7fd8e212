package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pulsebridge/internal/pulse"

	"github.com/creasty/defaults"
	"go.uber.org/zap"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "pulse_config.yaml"

// PulseConfig represents the pulse_config.yaml structure
type PulseConfig struct {
	Site         SiteConfig      `yaml:"site"`
	EntityPrefix string          `yaml:"entity_prefix" default:"adt_pulse" validate:"required,alphanumunder"`
	API          APIConfig       `yaml:"api"`
	Simulator    SimulatorConfig `yaml:"simulator"`
}

// SiteConfig identifies the alarm site
type SiteConfig struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name" default:"Home"`
	Manufacturer string `yaml:"manufacturer" default:"ADT"`
	Model        string `yaml:"model" default:"Pulse"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Port int `yaml:"port" default:"8080" validate:"port"`
}

// SimulatorConfig seeds the in-process site
type SimulatorConfig struct {
	LatencyMS     int          `yaml:"latency_ms" default:"2000" validate:"gte=0,lte=600000"`
	InitialStatus string       `yaml:"initial_status" default:"off" validate:"oneof=arming away disarming stay off unknown night"`
	Online        bool         `yaml:"online" default:"true"`
	Zones         []ZoneConfig `yaml:"zones" validate:"dive"`
}

// ZoneConfig describes one simulated zone
type ZoneConfig struct {
	ID     int      `yaml:"id" validate:"gt=0"`
	Name   string   `yaml:"name" validate:"required"`
	Tags   []string `yaml:"tags" validate:"min=1"`
	State  string   `yaml:"state" default:"OK"`
	Status string   `yaml:"status" default:"Online"`
}

// UnmarshalYAML applies zone defaults before decoding, since list
// elements do not exist yet when the top-level defaults are set.
func (z *ZoneConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(z); err != nil {
		return err
	}
	type plain ZoneConfig
	return value.Decode((*plain)(z))
}

// Latency returns the simulated command latency
func (s SimulatorConfig) Latency() time.Duration {
	return time.Duration(s.LatencyMS) * time.Millisecond
}

// SiteZones converts the configured zones to pulse zones
func (s SimulatorConfig) SiteZones() []pulse.Zone {
	zones := make([]pulse.Zone, 0, len(s.Zones))
	for _, z := range s.Zones {
		zones = append(zones, pulse.Zone{
			ID:     z.ID,
			Name:   z.Name,
			Tags:   append([]string(nil), z.Tags...),
			State:  z.State,
			Status: z.Status,
		})
	}
	return zones
}

// Loader loads and validates the configuration file
type Loader struct {
	configDir string
	logger    *zap.Logger
	validate  *validator.Validate
	config    *PulseConfig
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	v := validator.New()
	registerValidation(v, logger, "port", port)
	registerValidation(v, logger, "alphanumunder", alphanumUnder)

	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
		validate:  v,
	}
}

// Load reads pulse_config.yaml, applies defaults and validates it
func (l *Loader) Load() error {
	path := filepath.Join(l.configDir, FileName)
	l.logger.Debug("Loading pulse config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pulse config: %w", err)
	}

	cfg, err := l.Parse(data)
	if err != nil {
		return err
	}

	l.config = cfg
	l.logger.Info("Pulse config loaded successfully",
		zap.String("site", cfg.Site.ID),
		zap.Int("zones", len(cfg.Simulator.Zones)))
	return nil
}

// Parse decodes and validates a configuration document
func (l *Loader) Parse(data []byte) (*PulseConfig, error) {
	var cfg PulseConfig
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pulse config: %w", err)
	}

	if err := l.validate.Struct(&cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				l.logger.Warn("Validation error",
					zap.String("field", e.Namespace()),
					zap.String("rule", e.Tag()))
			}
		}
		return nil, fmt.Errorf("invalid pulse config: %w", err)
	}
	return &cfg, nil
}

// Get returns the loaded configuration
func (l *Loader) Get() *PulseConfig {
	return l.config
}

func port(fl validator.FieldLevel) bool {
	p := fl.Field().Int()
	return p > 0 && p <= 65535
}

func alphanumUnder(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func registerValidation(v *validator.Validate, logger *zap.Logger, name string, fn validator.Func) {
	if err := v.RegisterValidation(name, fn); err != nil {
		logger.Error("Failed to register validator", zap.String("type", name), zap.Error(err))
	}
}

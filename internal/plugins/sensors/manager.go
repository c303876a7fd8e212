package sensors

import (
	"fmt"
	"sync"

	"pulsebridge/internal/ha"
	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"

	"go.uber.org/zap"
)

// Manager mirrors zone and gateway state into input_boolean helpers
type Manager struct {
	haClient      ha.HAClient
	site          pulse.Site
	logger        *zap.Logger
	readOnly      bool
	prefix        string
	shadowTracker *shadowstate.SensorsTracker

	mu          sync.Mutex
	written     map[string]bool
	unsupported map[int]bool
	unsubscribe func()
}

// NewManager creates a new sensors manager
func NewManager(haClient ha.HAClient, site pulse.Site, prefix string, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		haClient:      haClient,
		site:          site,
		logger:        logger.Named("sensors"),
		readOnly:      readOnly,
		prefix:        prefix,
		shadowTracker: shadowstate.NewSensorsTracker(),
		written:       make(map[string]bool),
		unsupported:   make(map[int]bool),
	}
}

// ZoneEntity is the input_boolean name of a zone's open/closed sensor
func ZoneEntity(prefix string, zoneID int) string {
	return fmt.Sprintf("%s_zone_%d", prefix, zoneID)
}

// ZoneTroubleEntity is the input_boolean name of a zone's trouble sensor
func ZoneTroubleEntity(prefix string, zoneID int) string {
	return fmt.Sprintf("%s_zone_%d_trouble", prefix, zoneID)
}

// GatewayEntity is the input_boolean name of the gateway connectivity sensor
func GatewayEntity(prefix string) string {
	return prefix + "_gateway_online"
}

// Name implements plugin.Plugin
func (m *Manager) Name() string { return "sensors" }

// Start publishes every sensor and follows site pushes
func (m *Manager) Start() error {
	zones := m.site.Zones()
	m.logger.Info("Starting Sensors Manager", zap.Int("zones", len(zones)))
	if len(zones) == 0 {
		m.logger.Error("Site returned no zones", zap.String("site", m.site.ID()))
	}

	m.mu.Lock()
	for _, z := range zones {
		class, err := pulse.ZoneDeviceClass(z)
		if err != nil {
			m.logger.Warn("Ignoring unsupported sensor type", zap.Int("zone", z.ID), zap.Strings("tags", z.Tags))
			m.unsupported[z.ID] = true
			continue
		}
		m.logger.Debug("Adding zone sensor",
			zap.Int("zone", z.ID),
			zap.String("name", z.Name),
			zap.String("device_class", class),
			zap.String("unique_id", pulse.ZoneUniqueID(m.site.ID(), z.ID)))
	}
	m.unsubscribe = m.site.Subscribe(func() { m.publish(false) })
	m.mu.Unlock()

	m.publish(true)
	m.logger.Info("Sensors Manager started successfully")
	return nil
}

// Stop stops following site pushes
func (m *Manager) Stop() {
	m.logger.Info("Stopping Sensors Manager")
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.mu.Unlock()
}

// Reset rewrites every sensor
func (m *Manager) Reset() error {
	m.publish(true)
	return nil
}

// GetShadowState implements plugin.ShadowStateProvider
func (m *Manager) GetShadowState() shadowstate.PluginShadowState {
	return m.shadowTracker.GetState()
}

// desired returns the value every sensor helper should have
func (m *Manager) desired() map[string]bool {
	values := map[string]bool{
		GatewayEntity(m.prefix): m.site.IsOnline(),
	}
	inputs := map[string]interface{}{
		"gateway_online": m.site.IsOnline(),
	}

	m.mu.Lock()
	unsupported := make(map[int]bool, len(m.unsupported))
	for id := range m.unsupported {
		unsupported[id] = true
	}
	m.mu.Unlock()

	siteID := m.site.ID()
	zones := m.site.Zones()
	details := make([]shadowstate.ZoneSensor, 0, len(zones))
	for _, z := range zones {
		inputs[fmt.Sprintf("zone_%d_state", z.ID)] = z.State
		inputs[fmt.Sprintf("zone_%d_status", z.ID)] = z.Status

		detail := zoneDetail(siteID, z)
		values[ZoneTroubleEntity(m.prefix, z.ID)] = detail.Trouble
		if !unsupported[z.ID] {
			values[ZoneEntity(m.prefix, z.ID)] = detail.Open
		} else {
			detail.UniqueID = ""
			detail.DeviceClass = ""
		}
		details = append(details, detail)
	}
	m.shadowTracker.UpdateCurrentInputs(inputs)
	m.shadowTracker.UpdateDetails(details, gatewayDetail(siteID, m.site.Gateway()))
	return values
}

func zoneDetail(siteID string, z pulse.Zone) shadowstate.ZoneSensor {
	class, _ := pulse.ZoneDeviceClass(z)
	detail := shadowstate.ZoneSensor{
		ZoneID:          z.ID,
		Name:            z.Name,
		DeviceID:        fmt.Sprintf("%s-%s", siteID, z.Name),
		UniqueID:        pulse.ZoneUniqueID(siteID, z.ID),
		DeviceClass:     class,
		Open:            pulse.ZoneIsOpen(z),
		Status:          z.Status,
		LastActivity:    z.LastActivity,
		TroubleUniqueID: pulse.ZoneTroubleUniqueID(siteID, z.ID),
		Trouble:         pulse.ZoneIsInTrouble(z),
	}
	if detail.Trouble {
		troubleType := z.State
		detail.TroubleType = &troubleType
	}
	return detail
}

func gatewayDetail(siteID string, gw pulse.Gateway) shadowstate.GatewaySensor {
	return shadowstate.GatewaySensor{
		UniqueID:     pulse.GatewayUniqueID(siteID),
		Online:       gw.Online,
		Manufacturer: gw.Manufacturer,
		Model:        gw.Model,
		SerialNumber: gw.SerialNumber,
		LastUpdate:   gw.LastUpdate,
		NextUpdate:   gw.NextUpdate,
	}
}

// publish writes the helpers whose value changed, or all of them when
// force is set
func (m *Manager) publish(force bool) {
	for name, value := range m.desired() {
		m.mu.Lock()
		previous, seen := m.written[name]
		if !force && seen && previous == value {
			m.mu.Unlock()
			continue
		}
		m.written[name] = value
		m.mu.Unlock()

		entityID := "input_boolean." + name
		m.shadowTracker.RecordWrite(entityID, value)

		if m.readOnly {
			m.logger.Info("READ-ONLY: Would set sensor",
				zap.String("entity_id", entityID),
				zap.Bool("value", value))
			continue
		}
		if err := m.haClient.SetInputBoolean(name, value); err != nil {
			m.logger.Error("Failed to set sensor", zap.String("entity_id", entityID), zap.Error(err))
			// retry on the next push
			m.mu.Lock()
			delete(m.written, name)
			m.mu.Unlock()
		}
	}
}

package alarmpanel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pulsebridge/internal/alarm"
	"pulsebridge/internal/ha"
	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoCommand is the resting option of the command select.
const NoCommand = "none"

// Command sources recorded in the shadow state
const (
	SourceSelect = "input_select"
	SourceAPI    = "api"
)

// ErrReadOnly is returned for requests made while in read-only mode.
var ErrReadOnly = errors.New("read-only mode")

// Entities names the Home Assistant helpers the panel is presented through
type Entities struct {
	State     string // input_text
	Status    string // input_text
	LastError string // input_text
	Command   string // input_select
}

// EntitiesFor returns the helper names for an entity prefix
func EntitiesFor(prefix string) Entities {
	return Entities{
		State:     prefix + "_alarm_state",
		Status:    prefix + "_alarm_status",
		LastError: prefix + "_alarm_last_error",
		Command:   prefix + "_alarm_command",
	}
}

// Snapshot is a read-only view of the panel for outer surfaces
type Snapshot struct {
	State             alarm.DisplayState     `json:"state"`
	Status            pulse.Status           `json:"status"`
	Available         bool                   `json:"available"`
	AssumedState      bool                   `json:"assumed_state"`
	Online            bool                   `json:"online"`
	Armable           bool                   `json:"armable"`
	UniqueID          string                 `json:"unique_id"`
	Name              string                 `json:"name"`
	SupportedFeatures int                    `json:"supported_features"`
	CodeArmRequired   bool                   `json:"code_arm_required"`
	DeviceInfo        alarm.DeviceInfo       `json:"device_info"`
	Attributes        map[string]interface{} `json:"attributes"`
}

// Manager presents the alarm panel through Home Assistant helpers
type Manager struct {
	haClient      ha.HAClient
	site          pulse.Site
	logger        *zap.Logger
	readOnly      bool
	entities      Entities
	panel         *alarm.Panel
	shadowTracker *shadowstate.AlarmTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	subscriptions   []ha.Subscription
	unsubscribeSite func()
	lastState       alarm.DisplayState
	lastStatus      pulse.Status
}

// NewManager creates a new alarm panel manager
func NewManager(haClient ha.HAClient, site pulse.Site, prefix string, logger *zap.Logger, readOnly bool) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		haClient:      haClient,
		site:          site,
		logger:        logger.Named("alarmpanel"),
		readOnly:      readOnly,
		entities:      EntitiesFor(prefix),
		shadowTracker: shadowstate.NewAlarmTracker(),
		ctx:           ctx,
		cancel:        cancel,
	}
	m.panel = alarm.NewPanel(site, m.onPublish, logger)
	return m
}

// Name implements plugin.Plugin
func (m *Manager) Name() string { return "alarmpanel" }

// Start subscribes to the command select and to site pushes, then
// publishes the current state
func (m *Manager) Start() error {
	m.logger.Info("Starting Alarm Panel Manager",
		zap.String("unique_id", m.panel.UniqueID()),
		zap.String("command_entity", "input_select."+m.entities.Command))

	if missing := m.missingHelpers(); len(missing) > 0 {
		m.logger.Warn("Helper entities not found in Home Assistant, create them in configuration.yaml",
			zap.Strings("entity_ids", missing))
	}

	sub, err := m.haClient.SubscribeStateChanges("input_select."+m.entities.Command, m.handleCommandChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.entities.Command, err)
	}

	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.unsubscribeSite = m.site.Subscribe(m.panel.HandleUpdate)
	m.mu.Unlock()

	m.publish(m.panel.State(), true)

	m.logger.Info("Alarm Panel Manager started successfully")
	return nil
}

// missingHelpers returns the helper entities Home Assistant does not know
func (m *Manager) missingHelpers() []string {
	states, err := m.haClient.GetAllStates()
	if err != nil {
		m.logger.Warn("Failed to list Home Assistant states", zap.Error(err))
		return nil
	}
	known := make(map[string]bool, len(states))
	for _, st := range states {
		known[st.EntityID] = true
	}

	var missing []string
	for _, id := range []string{
		"input_text." + m.entities.State,
		"input_text." + m.entities.Status,
		"input_text." + m.entities.LastError,
		"input_select." + m.entities.Command,
	} {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Stop unsubscribes and waits for dispatched commands to return
func (m *Manager) Stop() {
	m.logger.Info("Stopping Alarm Panel Manager")

	m.mu.Lock()
	for _, sub := range m.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	m.subscriptions = nil
	if m.unsubscribeSite != nil {
		m.unsubscribeSite()
		m.unsubscribeSite = nil
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.logger.Info("Alarm Panel Manager stopped")
}

// Reset republishes every helper unconditionally
func (m *Manager) Reset() error {
	m.logger.Info("Resetting alarm panel helpers")
	m.publish(m.panel.State(), true)
	return nil
}

// GetShadowState implements plugin.ShadowStateProvider
func (m *Manager) GetShadowState() shadowstate.PluginShadowState {
	return m.shadowTracker.GetState()
}

// Panel returns the underlying alarm panel
func (m *Manager) Panel() *alarm.Panel {
	return m.panel
}

// Snapshot returns the panel's current presentation
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		State:             m.panel.State(),
		Status:            m.site.Status(),
		Available:         m.panel.Available(),
		AssumedState:      m.panel.AssumedState(),
		Online:            m.site.IsOnline(),
		Armable:           pulse.SystemCanBeArmed(m.site.Zones()),
		UniqueID:          m.panel.UniqueID(),
		Name:              m.panel.Name(),
		SupportedFeatures: m.panel.SupportedFeatures(),
		CodeArmRequired:   m.panel.CodeArmRequired(),
		DeviceInfo:        m.panel.DeviceInfo(),
		Attributes:        m.panel.Attributes(),
	}
}

// Request runs an arming mode against the panel
func (m *Manager) Request(ctx context.Context, mode alarm.ArmingMode, source string) error {
	return m.run(ctx, string(mode), mode, source)
}

// CallService runs one of the panel's extra services
func (m *Manager) CallService(ctx context.Context, service string, source string) error {
	mode, err := alarm.ModeForService(service)
	if err != nil {
		m.recordRejected(service, source, err)
		return err
	}
	return m.run(ctx, service, mode, source)
}

// Command dispatches an option of the command select: a standard alarm
// action or a service name
func (m *Manager) Command(ctx context.Context, option string, source string) error {
	if mode, err := alarm.ParseAction(option); err == nil {
		return m.run(ctx, option, mode, source)
	}
	if _, err := alarm.ModeForService(option); err == nil {
		return m.CallService(ctx, option, source)
	}
	err := fmt.Errorf("%w: %q", alarm.ErrUnknownMode, option)
	m.recordRejected(option, source, err)
	return err
}

func (m *Manager) recordRejected(what, source string, err error) {
	m.recordOutcome(shadowstate.AlarmAction{
		CommandID: uuid.NewString(),
		Source:    source,
		Mode:      what,
		Started:   time.Now(),
	}, err)
}

func (m *Manager) run(ctx context.Context, what string, mode alarm.ArmingMode, source string) error {
	commandID := uuid.NewString()
	ctx = alarm.WithCommandID(ctx, commandID)
	action := shadowstate.AlarmAction{
		CommandID: commandID,
		Source:    source,
		Mode:      what,
		Started:   time.Now(),
	}
	if mode.Valid() {
		action.Target = string(mode.Target())
	}

	m.captureInputs()

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would send alarm command",
			zap.String("command", what),
			zap.String("command_id", commandID))
		m.recordOutcome(action, ErrReadOnly)
		return ErrReadOnly
	}

	sent, err := m.panel.Apply(ctx, mode)
	if err == nil && !sent {
		action.Result = shadowstate.ResultNoop
	}
	m.recordOutcome(action, err)
	return err
}

func (m *Manager) recordOutcome(action shadowstate.AlarmAction, err error) {
	action.Finished = time.Now()
	switch {
	case err == nil:
		if action.Result == "" {
			action.Result = shadowstate.ResultOK
		}
	case errors.Is(err, ErrReadOnly):
		action.Result = shadowstate.ResultReadOnly
		action.Error = err.Error()
	case errors.Is(err, alarm.ErrRemoteCommandFailed):
		action.Result = shadowstate.ResultFailed
		action.Error = err.Error()
	default:
		action.Result = shadowstate.ResultRejected
		action.Error = err.Error()
	}
	m.captureInputs()
	m.shadowTracker.RecordAction(action)

	if errors.Is(err, ErrReadOnly) {
		return
	}
	if setErr := m.haClient.SetInputText(m.entities.LastError, action.Error); setErr != nil {
		m.logger.Error("Failed to write last error", zap.Error(setErr))
	}
}

// handleCommandChange runs on the Home Assistant receive goroutine, so
// the command is dispatched to its own goroutine: publishing waits on
// that same goroutine for service call results.
func (m *Manager) handleCommandChange(entityID string, oldState, newState *ha.State) {
	if newState == nil {
		return
	}
	option := newState.State
	if option == NoCommand || option == "" || option == "unknown" || option == "unavailable" {
		return
	}

	m.logger.Info("Alarm command selected", zap.String("option", option))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if !m.readOnly {
			if err := m.haClient.SelectOption(m.entities.Command, NoCommand); err != nil {
				m.logger.Warn("Failed to reset command select", zap.Error(err))
			}
		}

		if err := m.Command(m.ctx, option, SourceSelect); err != nil {
			m.logger.Warn("Alarm command failed",
				zap.String("option", option),
				zap.Error(err))
		}
	}()
}

// onPublish receives every state the panel wants shown
func (m *Manager) onPublish(state alarm.DisplayState) {
	m.publish(state, false)
}

// publish writes the state and raw status helpers. Unchanged values are
// skipped unless force is set.
func (m *Manager) publish(state alarm.DisplayState, force bool) {
	status := m.site.Status()
	m.shadowTracker.RecordPublished(string(state), m.panel.AssumedState())
	m.captureInputs()

	m.mu.Lock()
	stateChanged := force || state != m.lastState
	statusChanged := force || status != m.lastStatus
	m.lastState = state
	m.lastStatus = status
	m.mu.Unlock()

	if !stateChanged && !statusChanged {
		return
	}

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would publish alarm state",
			zap.String("state", string(state)),
			zap.String("status", string(status)))
		return
	}

	if stateChanged {
		if err := m.haClient.SetInputText(m.entities.State, string(state)); err != nil {
			m.logger.Error("Failed to publish alarm state", zap.Error(err))
		}
	}
	if statusChanged {
		if err := m.haClient.SetInputText(m.entities.Status, string(status)); err != nil {
			m.logger.Error("Failed to publish alarm status", zap.Error(err))
		}
	}
	m.logger.Debug("Published alarm state",
		zap.String("state", string(state)),
		zap.String("status", string(status)))
}

func (m *Manager) captureInputs() {
	m.shadowTracker.UpdateCurrentInputs(map[string]interface{}{
		"status":      string(m.site.Status()),
		"online":      m.site.IsOnline(),
		"armable":     pulse.SystemCanBeArmed(m.site.Zones()),
		"last_update": m.site.LastUpdate(),
	})
}

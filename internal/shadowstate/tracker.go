package shadowstate

import (
	"sync"
	"time"
)

// MaxAlarmHistory bounds the number of alarm actions kept.
const MaxAlarmHistory = 20

// Tracker manages shadow state for all plugins
type Tracker struct {
	mu             sync.RWMutex
	pluginStates   map[string]PluginShadowState
	stateProviders map[string]func() PluginShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		pluginStates:   make(map[string]PluginShadowState),
		stateProviders: make(map[string]func() PluginShadowState),
	}
}

// RegisterPlugin registers a plugin's shadow state
func (t *Tracker) RegisterPlugin(pluginName string, state PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pluginStates[pluginName] = state
}

// RegisterPluginProvider registers a function that provides a plugin's shadow state dynamically
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateProviders[pluginName] = provider
}

// GetPluginState retrieves a plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	provider, hasProvider := t.stateProviders[pluginName]
	state, ok := t.pluginStates[pluginName]
	t.mu.RUnlock()

	// providers are called without the lock held, they take their own
	if hasProvider {
		return provider(), true
	}
	return state, ok
}

// GetAllPluginStates retrieves all plugin shadow states. Providers win
// over static states registered under the same name.
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	states := make(map[string]PluginShadowState, len(t.pluginStates)+len(t.stateProviders))
	for k, v := range t.pluginStates {
		states[k] = v
	}
	providers := make(map[string]func() PluginShadowState, len(t.stateProviders))
	for k, p := range t.stateProviders {
		providers[k] = p
	}
	t.mu.RUnlock()

	for k, provider := range providers {
		states[k] = provider()
	}
	return states
}

// AlarmTracker manages shadow state for the alarm panel plugin
type AlarmTracker struct {
	mu    sync.RWMutex
	state *AlarmShadowState
}

// NewAlarmTracker creates a new alarm shadow state tracker
func NewAlarmTracker() *AlarmTracker {
	return &AlarmTracker{state: NewAlarmShadowState()}
}

// UpdateCurrentInputs updates the current input values
func (at *AlarmTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	at.mu.Lock()
	defer at.mu.Unlock()

	for key, value := range inputs {
		at.state.Inputs.Current[key] = value
	}
	at.state.Metadata.LastUpdated = time.Now()
}

// RecordPublished records the state most recently shown to the host
func (at *AlarmTracker) RecordPublished(state string, assumed bool) {
	at.mu.Lock()
	defer at.mu.Unlock()

	at.state.Outputs.PublishedState = state
	at.state.Outputs.AssumedState = assumed
	at.state.Metadata.LastUpdated = time.Now()
}

// RecordAction snapshots the current inputs and appends action to the
// history, dropping the oldest entries past MaxAlarmHistory.
func (at *AlarmTracker) RecordAction(action AlarmAction) {
	at.mu.Lock()
	defer at.mu.Unlock()

	at.state.Inputs.AtLastAction = make(map[string]interface{}, len(at.state.Inputs.Current))
	for key, value := range at.state.Inputs.Current {
		at.state.Inputs.AtLastAction[key] = value
	}

	last := action
	at.state.Outputs.LastAction = &last
	at.state.Outputs.History = append(at.state.Outputs.History, action)
	if n := len(at.state.Outputs.History); n > MaxAlarmHistory {
		at.state.Outputs.History = append([]AlarmAction(nil), at.state.Outputs.History[n-MaxAlarmHistory:]...)
	}
	at.state.Metadata.LastUpdated = time.Now()
}

// GetState returns the current shadow state (thread-safe copy)
func (at *AlarmTracker) GetState() *AlarmShadowState {
	at.mu.RLock()
	defer at.mu.RUnlock()

	stateCopy := &AlarmShadowState{
		Plugin: at.state.Plugin,
		Inputs: at.state.Inputs.clone(),
		Outputs: AlarmOutputs{
			PublishedState: at.state.Outputs.PublishedState,
			AssumedState:   at.state.Outputs.AssumedState,
			History:        append([]AlarmAction{}, at.state.Outputs.History...),
		},
		Metadata: at.state.Metadata,
	}
	if at.state.Outputs.LastAction != nil {
		last := *at.state.Outputs.LastAction
		stateCopy.Outputs.LastAction = &last
	}
	return stateCopy
}

// SensorsTracker manages shadow state for the zone sensors plugin
type SensorsTracker struct {
	mu    sync.RWMutex
	state *SensorsShadowState
}

// NewSensorsTracker creates a new sensors shadow state tracker
func NewSensorsTracker() *SensorsTracker {
	return &SensorsTracker{state: NewSensorsShadowState()}
}

// UpdateCurrentInputs updates the current input values
func (st *SensorsTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for key, value := range inputs {
		st.state.Inputs.Current[key] = value
	}
	st.state.Metadata.LastUpdated = time.Now()
}

// RecordWrite records a value written to a sensor entity
func (st *SensorsTracker) RecordWrite(entityID string, value bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.state.Inputs.AtLastAction = make(map[string]interface{}, len(st.state.Inputs.Current))
	for key, v := range st.state.Inputs.Current {
		st.state.Inputs.AtLastAction[key] = v
	}
	st.state.Outputs.Entities[entityID] = value
	st.state.Outputs.Writes++
	st.state.Outputs.LastActionTime = now
	st.state.Metadata.LastUpdated = now
}

// UpdateDetails replaces the zone and gateway details
func (st *SensorsTracker) UpdateDetails(zones []ZoneSensor, gateway GatewaySensor) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.state.Outputs.Zones = append([]ZoneSensor(nil), zones...)
	st.state.Outputs.Gateway = &gateway
	st.state.Metadata.LastUpdated = time.Now()
}

// GetState returns the current shadow state (thread-safe copy)
func (st *SensorsTracker) GetState() *SensorsShadowState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stateCopy := &SensorsShadowState{
		Plugin: st.state.Plugin,
		Inputs: st.state.Inputs.clone(),
		Outputs: SensorsOutputs{
			Entities:       make(map[string]bool, len(st.state.Outputs.Entities)),
			Zones:          append([]ZoneSensor(nil), st.state.Outputs.Zones...),
			LastActionTime: st.state.Outputs.LastActionTime,
			Writes:         st.state.Outputs.Writes,
		},
		Metadata: st.state.Metadata,
	}
	for k, v := range st.state.Outputs.Entities {
		stateCopy.Outputs.Entities[k] = v
	}
	if gw := st.state.Outputs.Gateway; gw != nil {
		gwCopy := *gw
		stateCopy.Outputs.Gateway = &gwCopy
	}
	return stateCopy
}

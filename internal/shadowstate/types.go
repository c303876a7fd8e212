package shadowstate

import "time"

// PluginShadowState is the interface that all plugin shadow states must implement
type PluginShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// Inputs tracks current and last-action input values
type Inputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

func newInputs() Inputs {
	return Inputs{
		Current:      make(map[string]interface{}),
		AtLastAction: make(map[string]interface{}),
	}
}

func (in Inputs) clone() Inputs {
	out := newInputs()
	for k, v := range in.Current {
		out.Current[k] = v
	}
	for k, v := range in.AtLastAction {
		out.AtLastAction[k] = v
	}
	return out
}

// Outcome of an alarm request
const (
	ResultOK       = "ok"
	ResultNoop     = "noop"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
	ResultReadOnly = "read_only"
)

// AlarmAction records one request made to the alarm panel
type AlarmAction struct {
	CommandID string    `json:"commandId"`
	Source    string    `json:"source"` // "input_select", "api"
	Mode      string    `json:"mode"`
	Target    string    `json:"target"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// AlarmShadowState represents the shadow state for the alarm panel plugin
type AlarmShadowState struct {
	Plugin   string        `json:"plugin"`
	Inputs   Inputs        `json:"inputs"`
	Outputs  AlarmOutputs  `json:"outputs"`
	Metadata StateMetadata `json:"metadata"`
}

// AlarmOutputs tracks what the alarm panel published and did
type AlarmOutputs struct {
	PublishedState string        `json:"publishedState"`
	AssumedState   bool          `json:"assumedState"`
	LastAction     *AlarmAction  `json:"lastAction,omitempty"`
	History        []AlarmAction `json:"history"`
}

// GetCurrentInputs implements PluginShadowState
func (a *AlarmShadowState) GetCurrentInputs() map[string]interface{} {
	return a.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (a *AlarmShadowState) GetLastActionInputs() map[string]interface{} {
	return a.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (a *AlarmShadowState) GetOutputs() interface{} {
	return a.Outputs
}

// GetMetadata implements PluginShadowState
func (a *AlarmShadowState) GetMetadata() StateMetadata {
	return a.Metadata
}

// NewAlarmShadowState creates a new alarm panel shadow state
func NewAlarmShadowState() *AlarmShadowState {
	return &AlarmShadowState{
		Plugin: "alarmpanel",
		Inputs: newInputs(),
		Outputs: AlarmOutputs{
			History: []AlarmAction{},
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			PluginName:  "alarmpanel",
		},
	}
}

// SensorsShadowState represents the shadow state for the zone sensors plugin
type SensorsShadowState struct {
	Plugin   string         `json:"plugin"`
	Inputs   Inputs         `json:"inputs"`
	Outputs  SensorsOutputs `json:"outputs"`
	Metadata StateMetadata  `json:"metadata"`
}

// SensorsOutputs holds the last value written for every sensor entity
// and the details shown alongside each sensor
type SensorsOutputs struct {
	Entities       map[string]bool `json:"entities"`
	Zones          []ZoneSensor    `json:"zones"`
	Gateway        *GatewaySensor  `json:"gateway,omitempty"`
	LastActionTime time.Time       `json:"lastActionTime"`
	Writes         int             `json:"writes"`
}

// ZoneSensor describes the open/closed and trouble sensors of one zone
type ZoneSensor struct {
	ZoneID          int       `json:"zoneId"`
	Name            string    `json:"name"`
	DeviceID        string    `json:"deviceId"`
	UniqueID        string    `json:"uniqueId,omitempty"`
	DeviceClass     string    `json:"deviceClass,omitempty"`
	Open            bool      `json:"open"`
	Status          string    `json:"status"`
	LastActivity    time.Time `json:"lastActivityTimestamp"`
	TroubleUniqueID string    `json:"troubleUniqueId"`
	Trouble         bool      `json:"trouble"`
	// TroubleType is the zone state while in trouble, null otherwise
	TroubleType *string `json:"troubleType"`
}

// GatewaySensor describes the gateway connectivity sensor
type GatewaySensor struct {
	UniqueID     string    `json:"uniqueId"`
	Online       bool      `json:"online"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serialNumber"`
	LastUpdate   time.Time `json:"lastUpdate"`
	NextUpdate   time.Time `json:"nextUpdate"`
}

// GetCurrentInputs implements PluginShadowState
func (s *SensorsShadowState) GetCurrentInputs() map[string]interface{} {
	return s.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (s *SensorsShadowState) GetLastActionInputs() map[string]interface{} {
	return s.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (s *SensorsShadowState) GetOutputs() interface{} {
	return s.Outputs
}

// GetMetadata implements PluginShadowState
func (s *SensorsShadowState) GetMetadata() StateMetadata {
	return s.Metadata
}

// NewSensorsShadowState creates a new sensors shadow state
func NewSensorsShadowState() *SensorsShadowState {
	return &SensorsShadowState{
		Plugin: "sensors",
		Inputs: newInputs(),
		Outputs: SensorsOutputs{
			Entities: make(map[string]bool),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			PluginName:  "sensors",
		},
	}
}

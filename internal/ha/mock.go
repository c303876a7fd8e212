package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	statesMu sync.RWMutex
	states   map[string]*State

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int
	onConnect   []func()

	connMu    sync.RWMutex
	connected bool

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
	failures     map[string]error
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// EntityID returns the call's entity_id as a string, if it has one.
func (c ServiceCall) EntityID() string {
	id, _ := c.Data["entity_id"].(string)
	return id
}

// mockSubscription implements Subscription interface for MockClient
type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
		failures:    make(map[string]error),
	}
}

// Connect simulates connecting to Home Assistant and runs OnConnect hooks
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	if m.connected {
		m.connMu.Unlock()
		return fmt.Errorf("already connected")
	}
	m.connected = true
	m.connMu.Unlock()

	m.subsMu.RLock()
	hooks := append([]func(){}, m.onConnect...)
	m.subsMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// OnConnect registers a hook run by Connect
func (m *MockClient) OnConnect(fn func()) {
	m.subsMu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.subsMu.Unlock()
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// FailService makes every call to domain.service return err. A nil err
// clears the failure.
func (m *MockClient) FailService(domain, service string, err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	key := domain + "." + service
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// CallService records a service call and applies it to the mock state
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	err := m.failures[domain+"."+service]
	m.callsMu.Unlock()

	if err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok {
		if value, ok := stateFromServiceCall(domain, service, data); ok {
			m.SimulateStateChange(entityID, value)
		}
	}
	return nil
}

// stateFromServiceCall returns the entity state a helper service sets
func stateFromServiceCall(domain, service string, data map[string]interface{}) (string, bool) {
	switch domain {
	case "input_boolean":
		switch service {
		case "turn_on":
			return "on", true
		case "turn_off":
			return "off", true
		}
	case "input_text":
		if value, ok := data["value"].(string); ok {
			return value, true
		}
	case "input_select":
		if option, ok := data["option"].(string); ok {
			return option, true
		}
	}
	return "", false
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})

	return &mockSubscription{entityID: entityID, subID: subID, mock: m}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers[entityID] = removeSubscriber(m.subscribers[entityID], subID)
	if len(m.subscribers[entityID]) == 0 {
		delete(m.subscribers, entityID)
	}
	return nil
}

// SubscriberCount returns how many handlers are registered for entityID
func (m *MockClient) SubscriberCount(entityID string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscribers[entityID])
}

// SetInputBoolean sets a mock input_boolean
func (m *MockClient) SetInputBoolean(name string, value bool) error {
	return m.CallService("input_boolean", inputBooleanService(value), map[string]interface{}{
		"entity_id": "input_boolean." + name,
	})
}

// SetInputText sets a mock input_text
func (m *MockClient) SetInputText(name string, value string) error {
	return m.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": "input_text." + name,
		"value":     value,
	})
}

// SelectOption selects a mock input_select option
func (m *MockClient) SelectOption(name string, option string) error {
	return m.CallService("input_select", "select_option", map[string]interface{}{
		"entity_id": "input_select." + name,
		"option":    option,
	})
}

// SetState sets a mock state with attributes and notifies subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	now := time.Now()
	m.statesMu.Lock()
	oldState := m.states[entityID]
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SimulateStateChange changes an entity's state keeping its attributes
func (m *MockClient) SimulateStateChange(entityID string, newStateValue string) {
	m.statesMu.RLock()
	attributes := make(map[string]interface{})
	if old := m.states[entityID]; old != nil && old.Attributes != nil {
		attributes = old.Attributes
	}
	m.statesMu.RUnlock()

	m.SetState(entityID, newStateValue, attributes)
}

// StateOf returns an entity's state value, or "" when unknown
func (m *MockClient) StateOf(entityID string) string {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	if s, ok := m.states[entityID]; ok {
		return s.State
	}
	return ""
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ServiceCallsFor returns recorded calls targeting entityID
func (m *MockClient) ServiceCallsFor(entityID string) []ServiceCall {
	var calls []ServiceCall
	for _, call := range m.GetServiceCalls() {
		if call.EntityID() == entityID {
			calls = append(calls, call)
		}
	}
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}

// Package testutil provides a mock Home Assistant WebSocket server and a
// test environment that runs the bridge's plugins against it.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"pulsebridge/internal/ha"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper pairs a connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteJSON(msg)
}

// MockHAServer speaks enough of the Home Assistant WebSocket API for the
// bridge: auth, subscribe_events, get_states and call_service on helper
// domains.
type MockHAServer struct {
	server *httptest.Server
	token  string
	logger *zap.Logger

	statesMu sync.RWMutex
	states   map[string]*ha.State

	connsMu     sync.Mutex
	connections []*connWrapper

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
	failures     map[string]string
}

// NewMockHAServer creates a mock server that accepts token
func NewMockHAServer(token string, logger *zap.Logger) *MockHAServer {
	return &MockHAServer{
		token:    token,
		logger:   logger.Named("mock_ha"),
		states:   make(map[string]*ha.State),
		failures: make(map[string]string),
	}
}

// Start starts serving on a random local port
func (s *MockHAServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
}

// URL returns the websocket URL clients should dial
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Stop closes every connection and the listener
func (s *MockHAServer) Stop() {
	s.DropConnections()
	if s.server != nil {
		s.server.Close()
	}
}

// DropConnections closes every client connection, as a Home Assistant
// restart would. The listener keeps accepting new connections.
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()

	for _, w := range conns {
		w.conn.Close()
	}
}

// ConnectionCount returns the number of authenticated connections
func (s *MockHAServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// SetState sets a state and broadcasts a state_changed event
func (s *MockHAServer) SetState(entityID, value string, attributes map[string]interface{}) {
	now := time.Now()
	s.statesMu.Lock()
	oldState := s.states[entityID]
	if attributes == nil && oldState != nil {
		attributes = oldState.Attributes
	}
	newState := &ha.State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState returns an entity's state, or nil when unknown
func (s *MockHAServer) GetState(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// StateOf returns an entity's state value, or "" when unknown
func (s *MockHAServer) StateOf(entityID string) string {
	if st := s.GetState(entityID); st != nil {
		return st.State
	}
	return ""
}

// FailService makes calls to domain.service answer with an error result.
// An empty message clears the failure.
func (s *MockHAServer) FailService(domain, service, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	key := domain + "." + service
	if message == "" {
		delete(s.failures, key)
		return
	}
	s.failures[key] = message
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	wrapper := &connWrapper{conn: conn}
	wrapper.write(ha.Message{Type: "auth_required"})

	var auth ha.AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(ha.Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(ha.Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()
	defer s.removeConnection(wrapper)

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}

		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "get_states":
			s.handleGetStates(wrapper, base.ID)
		case "call_service":
			s.handleCallService(wrapper, raw)
		default:
			// subscribe_events and anything else is acknowledged
			wrapper.write(result(base.ID, true, nil))
		}
	}
}

func (s *MockHAServer) removeConnection(wrapper *connWrapper) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, w := range s.connections {
		if w == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			return
		}
	}
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, id int) {
	s.statesMu.RLock()
	states := make([]*ha.State, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	s.statesMu.RUnlock()

	data, _ := json.Marshal(states)
	wrapper.write(result(id, true, data))
}

func (s *MockHAServer) handleCallService(wrapper *connWrapper, raw json.RawMessage) {
	var req ha.CallServiceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	failure := s.failures[req.Domain+"."+req.Service]
	s.callsMu.Unlock()

	if failure != "" {
		msg := result(req.ID, false, nil)
		msg.Error = &ha.Error{Code: "service_failed", Message: failure}
		wrapper.write(msg)
		return
	}

	// answer before broadcasting so the caller is not left waiting on its
	// own state_changed event
	wrapper.write(result(req.ID, true, nil))

	entityID, _ := req.ServiceData["entity_id"].(string)
	if entityID == "" {
		return
	}
	switch req.Domain {
	case "input_boolean":
		value := "off"
		if req.Service == "turn_on" {
			value = "on"
		}
		s.SetState(entityID, value, nil)
	case "input_text":
		if value, ok := req.ServiceData["value"].(string); ok {
			s.SetState(entityID, value, nil)
		}
	case "input_select":
		if option, ok := req.ServiceData["option"].(string); ok {
			s.SetState(entityID, option, nil)
		}
	}
}

func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *ha.State) {
	data, _ := json.Marshal(ha.StateChangedEvent{
		EntityID: entityID,
		OldState: oldState,
		NewState: newState,
	})
	msg := ha.Message{
		Type: "event",
		Event: &ha.Event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := append([]*connWrapper(nil), s.connections...)
	s.connsMu.Unlock()

	for _, w := range wrappers {
		w.write(msg)
	}
}

func result(id int, success bool, data json.RawMessage) ha.Message {
	return ha.Message{ID: id, Type: "result", Success: &success, Result: data}
}

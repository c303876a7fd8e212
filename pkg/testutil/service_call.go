package testutil

import "time"

// ServiceCall records a service call received by the mock server
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// EntityID returns the call's entity_id, if any
func (c ServiceCall) EntityID() string {
	id, _ := c.ServiceData["entity_id"].(string)
	return id
}

// GetServiceCalls returns all service calls since the last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// FindServiceCall returns the most recent call matching domain, service
// and, when set, entityID
func (s *MockHAServer) FindServiceCall(domain, service, entityID string) *ServiceCall {
	calls := s.GetServiceCalls()
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		if entityID == "" || call.EntityID() == entityID {
			return &call
		}
	}
	return nil
}

// CallsFor returns every call targeting entityID
func (s *MockHAServer) CallsFor(entityID string) []ServiceCall {
	var calls []ServiceCall
	for _, call := range s.GetServiceCalls() {
		if call.EntityID() == entityID {
			calls = append(calls, call)
		}
	}
	return calls
}

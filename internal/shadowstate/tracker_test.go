package shadowstate

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestNewTracker(t *testing.T) {
	tracker := NewTracker()
	if tracker == nil {
		t.Fatal("NewTracker returned nil")
	}
	if tracker.pluginStates == nil {
		t.Error("pluginStates map not initialized")
	}
	if tracker.stateProviders == nil {
		t.Error("stateProviders map not initialized")
	}
}

func TestTrackerRegisterPlugin(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterPlugin("alarmpanel", NewAlarmShadowState())

	retrieved, ok := tracker.GetPluginState("alarmpanel")
	if !ok {
		t.Fatal("Failed to retrieve registered plugin state")
	}
	if retrieved.GetMetadata().PluginName != "alarmpanel" {
		t.Errorf("Expected pluginName alarmpanel, got %s", retrieved.GetMetadata().PluginName)
	}

	if _, ok := tracker.GetPluginState("missing"); ok {
		t.Error("Expected missing plugin to be absent")
	}
}

func TestTrackerProviderTakesPrecedence(t *testing.T) {
	tracker := NewTracker()

	static := NewAlarmShadowState()
	static.Inputs.Current["source"] = "static"
	tracker.RegisterPlugin("alarmpanel", static)

	calls := 0
	tracker.RegisterPluginProvider("alarmpanel", func() PluginShadowState {
		calls++
		s := NewAlarmShadowState()
		s.Inputs.Current["source"] = "provider"
		return s
	})

	state, _ := tracker.GetPluginState("alarmpanel")
	if got := state.GetCurrentInputs()["source"]; got != "provider" {
		t.Errorf("Expected provider state, got %v", got)
	}

	all := tracker.GetAllPluginStates()
	if len(all) != 1 {
		t.Fatalf("Expected 1 state, got %d", len(all))
	}
	if got := all["alarmpanel"].GetCurrentInputs()["source"]; got != "provider" {
		t.Errorf("Expected provider state in GetAllPluginStates, got %v", got)
	}
	if calls != 2 {
		t.Errorf("Expected provider to be called twice, was called %d times", calls)
	}
}

func TestTrackerProviderMayReadTracker(t *testing.T) {
	tracker := NewTracker()
	tracker.RegisterPlugin("sensors", NewSensorsShadowState())
	tracker.RegisterPluginProvider("alarmpanel", func() PluginShadowState {
		// must not deadlock
		_, _ = tracker.GetPluginState("sensors")
		return NewAlarmShadowState()
	})

	if len(tracker.GetAllPluginStates()) != 2 {
		t.Error("Expected both plugin states")
	}
}

func TestAlarmTrackerRecordAction(t *testing.T) {
	at := NewAlarmTracker()
	at.UpdateCurrentInputs(map[string]interface{}{
		"status":  "off",
		"online":  true,
		"armable": false,
	})
	at.RecordAction(AlarmAction{
		CommandID: "c1",
		Source:    "api",
		Mode:      "arm_away",
		Target:    "armed_away",
		Result:    ResultRejected,
		Error:     "alarm not armable",
	})

	// later inputs do not leak into the snapshot
	at.UpdateCurrentInputs(map[string]interface{}{"status": "away"})

	state := at.GetState()
	if state.Outputs.LastAction == nil {
		t.Fatal("Expected last action to be set")
	}
	if state.Outputs.LastAction.CommandID != "c1" {
		t.Errorf("Expected command id c1, got %s", state.Outputs.LastAction.CommandID)
	}
	if state.Inputs.AtLastAction["status"] != "off" {
		t.Errorf("Expected snapshot status off, got %v", state.Inputs.AtLastAction["status"])
	}
	if state.Inputs.Current["status"] != "away" {
		t.Errorf("Expected current status away, got %v", state.Inputs.Current["status"])
	}
	if len(state.Outputs.History) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(state.Outputs.History))
	}
}

func TestAlarmTrackerHistoryIsBounded(t *testing.T) {
	at := NewAlarmTracker()
	for i := 0; i < MaxAlarmHistory+5; i++ {
		at.RecordAction(AlarmAction{CommandID: fmt.Sprintf("c%d", i), Result: ResultOK})
	}

	history := at.GetState().Outputs.History
	if len(history) != MaxAlarmHistory {
		t.Fatalf("Expected %d entries, got %d", MaxAlarmHistory, len(history))
	}
	if history[0].CommandID != "c5" {
		t.Errorf("Expected oldest kept entry c5, got %s", history[0].CommandID)
	}
	if history[len(history)-1].CommandID != fmt.Sprintf("c%d", MaxAlarmHistory+4) {
		t.Errorf("Unexpected newest entry %s", history[len(history)-1].CommandID)
	}
}

func TestAlarmTrackerGetStateIsCopy(t *testing.T) {
	at := NewAlarmTracker()
	at.RecordPublished("disarmed", false)
	at.RecordAction(AlarmAction{CommandID: "c1"})

	state := at.GetState()
	state.Inputs.Current["mutated"] = true
	state.Outputs.LastAction.CommandID = "changed"
	state.Outputs.History[0].CommandID = "changed"

	fresh := at.GetState()
	if _, ok := fresh.Inputs.Current["mutated"]; ok {
		t.Error("Inputs leaked through copy")
	}
	if fresh.Outputs.LastAction.CommandID != "c1" || fresh.Outputs.History[0].CommandID != "c1" {
		t.Error("Outputs leaked through copy")
	}
	if fresh.Outputs.PublishedState != "disarmed" {
		t.Errorf("Expected published state disarmed, got %s", fresh.Outputs.PublishedState)
	}
}

func TestAlarmShadowStateJSON(t *testing.T) {
	at := NewAlarmTracker()
	at.RecordAction(AlarmAction{CommandID: "c1", Mode: "disarm", Result: ResultOK})

	data, err := json.Marshal(at.GetState())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	outputs := decoded["outputs"].(map[string]interface{})
	last := outputs["lastAction"].(map[string]interface{})
	if last["commandId"] != "c1" {
		t.Errorf("Expected commandId c1, got %v", last["commandId"])
	}
	if _, ok := last["error"]; ok {
		t.Error("Expected empty error to be omitted")
	}
}

func TestSensorsTrackerRecordWrite(t *testing.T) {
	st := NewSensorsTracker()
	st.UpdateCurrentInputs(map[string]interface{}{"zone_1_state": "Open"})
	st.RecordWrite("input_boolean.adt_pulse_zone_1", true)
	st.RecordWrite("input_boolean.adt_pulse_zone_1", false)

	state := st.GetState()
	if state.Outputs.Writes != 2 {
		t.Errorf("Expected 2 writes, got %d", state.Outputs.Writes)
	}
	if state.Outputs.Entities["input_boolean.adt_pulse_zone_1"] {
		t.Error("Expected last written value false")
	}
	if state.Inputs.AtLastAction["zone_1_state"] != "Open" {
		t.Error("Expected inputs snapshot at last write")
	}
}

func TestSensorsTrackerUpdateDetails(t *testing.T) {
	st := NewSensorsTracker()
	if st.GetState().Outputs.Gateway != nil {
		t.Error("Expected no gateway details before the first update")
	}

	troubleType := "Open"
	st.UpdateDetails(
		[]ZoneSensor{{ZoneID: 1, Status: "Tamper", Trouble: true, TroubleType: &troubleType}},
		GatewaySensor{UniqueID: "adt_pulse_gateway_1234", Online: true, SerialNumber: "SN1"},
	)

	state := st.GetState()
	state.Outputs.Zones[0].Status = "mutated"
	state.Outputs.Gateway.SerialNumber = "mutated"

	fresh := st.GetState()
	if fresh.Outputs.Zones[0].Status != "Tamper" {
		t.Error("Expected zone details to be copied")
	}
	if fresh.Outputs.Gateway.SerialNumber != "SN1" {
		t.Error("Expected gateway details to be copied")
	}

	data, err := json.Marshal(fresh)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	zone := decoded["outputs"].(map[string]interface{})["zones"].([]interface{})[0].(map[string]interface{})
	if zone["troubleType"] != "Open" {
		t.Errorf("Expected troubleType Open, got %v", zone["troubleType"])
	}
	if _, ok := zone["lastActivityTimestamp"]; !ok {
		t.Error("Expected lastActivityTimestamp to be present")
	}
}

func TestAlarmTrackerConcurrentAccess(t *testing.T) {
	at := NewAlarmTracker()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			at.UpdateCurrentInputs(map[string]interface{}{"n": i})
		}(i)
		go func(i int) {
			defer wg.Done()
			at.RecordAction(AlarmAction{CommandID: fmt.Sprintf("c%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			_ = at.GetState()
		}()
	}
	wg.Wait()

	if len(at.GetState().Outputs.History) != 10 {
		t.Errorf("Expected 10 history entries, got %d", len(at.GetState().Outputs.History))
	}
}

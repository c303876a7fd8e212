package integration

import (
	"testing"
	"time"

	"pulsebridge/internal/pulse"
	"pulsebridge/internal/shadowstate"
	"pulsebridge/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func setupTest(t *testing.T, opts testutil.EnvOptions) *testutil.TestEnv {
	t.Helper()
	env, err := testutil.NewTestEnv(opts)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)
	return env
}

func eventuallyState(t *testing.T, env *testutil.TestEnv, entityID, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return env.Server.StateOf(entityID) == want
	}, waitFor, tick, "%s should become %q, is %q", entityID, want, env.Server.StateOf(entityID))
}

// TestStartup checks every helper is written once plugins are running
func TestStartup(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})

	assert.True(t, env.Client.IsConnected())
	assert.Equal(t, 1, env.Server.ConnectionCount())

	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "disarmed")
	eventuallyState(t, env, env.Entity("input_text", "alarm_status"), "off")
	eventuallyState(t, env, env.Entity("input_boolean", "gateway_online"), "on")
	eventuallyState(t, env, env.Entity("input_boolean", "zone_1"), "off")
	eventuallyState(t, env, env.Entity("input_boolean", "zone_1_trouble"), "off")
	eventuallyState(t, env, env.Entity("input_boolean", "zone_2"), "off")
}

func TestScenario_ArmAwayFromCommandSelect(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})
	command := env.Entity("input_select", "alarm_command")
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "disarmed")

	t.Log("WHEN: arm_away is selected in Home Assistant")
	env.Server.SetState(command, "arm_away", nil)

	t.Log("THEN: the alarm is armed away and the select goes back to none")
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "armed_away")
	eventuallyState(t, env, env.Entity("input_text", "alarm_status"), "away")
	eventuallyState(t, env, command, "none")
	assert.Equal(t, pulse.StatusAway, env.Site.Status())

	t.Log("AND: the panel went through arming on the way")
	var seen []string
	for _, call := range env.Server.CallsFor(env.Entity("input_text", "alarm_state")) {
		seen = append(seen, call.ServiceData["value"].(string))
	}
	assert.Contains(t, seen, "arming")

	t.Log("WHEN: disarm is selected")
	env.Server.SetState(command, "disarm", nil)
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "disarmed")
}

func TestScenario_OpenZoneBlocksArming(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})
	command := env.Entity("input_select", "alarm_command")
	lastError := env.Entity("input_text", "alarm_last_error")

	t.Log("GIVEN: the front door is open")
	door := env.Site.Zones()[0]
	door.State = "Open"
	env.Site.SetZone(door)
	eventuallyState(t, env, env.Entity("input_boolean", "zone_1"), "on")

	t.Log("WHEN: arm_home is selected")
	env.Server.SetState(command, "arm_home", nil)

	t.Log("THEN: the request is rejected and the reason is published")
	assert.Eventually(t, func() bool {
		return env.Server.StateOf(lastError) != ""
	}, waitFor, tick)
	assert.Contains(t, env.Server.StateOf(lastError), "not armable")
	assert.Equal(t, pulse.StatusOff, env.Site.Status())

	t.Log("WHEN: force_stay is selected")
	env.Server.SetState(command, "force_stay", nil)

	t.Log("THEN: the alarm arms home anyway and the error is cleared")
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "armed_home")
	eventuallyState(t, env, lastError, "")
}

func TestScenario_KeypadChangeIsMirrored(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "disarmed")

	env.Site.SetStatus(pulse.StatusNight)
	eventuallyState(t, env, env.Entity("input_text", "alarm_state"), "armed_night")
	eventuallyState(t, env, env.Entity("input_text", "alarm_status"), "night")

	env.Site.SetOnline(false)
	eventuallyState(t, env, env.Entity("input_boolean", "gateway_online"), "off")
}

func TestScenario_ReconnectRepublishes(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})
	state := env.Entity("input_text", "alarm_state")
	zone := env.Entity("input_boolean", "zone_1")
	eventuallyState(t, env, state, "disarmed")

	t.Log("GIVEN: Home Assistant restarts and loses the helper values")
	env.Server.SetState(state, "", nil)
	env.Server.SetState(zone, "unknown", nil)
	env.Server.DropConnections()

	t.Log("THEN: the client reconnects and every helper is written again")
	assert.Eventually(t, env.Client.IsConnected, waitFor, tick)
	eventuallyState(t, env, state, "disarmed")
	eventuallyState(t, env, zone, "off")

	t.Log("AND: the command select still works")
	env.Server.SetState(env.Entity("input_select", "alarm_command"), "arm_night", nil)
	eventuallyState(t, env, state, "armed_night")
}

func TestScenario_ReadOnly(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{ReadOnly: true})
	command := env.Entity("input_select", "alarm_command")

	env.Server.SetState(command, "arm_away", nil)

	// give the handler time to run
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, pulse.StatusOff, env.Site.Status())
	assert.Equal(t, "arm_away", env.Server.StateOf(command), "select is left alone in read-only mode")
	for _, call := range env.Server.GetServiceCalls() {
		assert.NotEqual(t, "input_text", call.Domain, "no helper writes in read-only mode")
		assert.NotEqual(t, "input_boolean", call.Domain, "no helper writes in read-only mode")
	}

	alarmState, ok := env.Shadow.GetPluginState("alarmpanel")
	require.True(t, ok)
	last := alarmState.(*shadowstate.AlarmShadowState).Outputs.LastAction
	require.NotNil(t, last)
	assert.Equal(t, shadowstate.ResultReadOnly, last.Result)
}

func TestScenario_HelperWriteFailureIsRetried(t *testing.T) {
	env := setupTest(t, testutil.EnvOptions{})
	zone := env.Entity("input_boolean", "zone_2")
	eventuallyState(t, env, zone, "off")

	env.Server.FailService("input_boolean", "turn_on", "entity not found")
	motion := env.Site.Zones()[1]
	motion.State = "Motion"
	env.Site.SetZone(motion)

	assert.Eventually(t, func() bool {
		return env.Server.FindServiceCall("input_boolean", "turn_on", zone) != nil
	}, waitFor, tick)
	assert.Equal(t, "off", env.Server.StateOf(zone))

	t.Log("WHEN: the helper exists again and the site pushes another update")
	env.Server.FailService("input_boolean", "turn_on", "")
	env.Site.SetOnline(true)

	eventuallyState(t, env, zone, "on")
}

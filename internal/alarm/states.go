package alarm

import (
	"fmt"

	"pulsebridge/internal/pulse"
)

// DisplayState is the alarm panel state as Home Assistant shows it.
type DisplayState string

const (
	StateArming      DisplayState = "arming"
	StateArmedAway   DisplayState = "armed_away"
	StateDisarming   DisplayState = "disarming"
	StateArmedHome   DisplayState = "armed_home"
	StateDisarmed    DisplayState = "disarmed"
	StateUnavailable DisplayState = "unavailable"
	StateArmedNight  DisplayState = "armed_night"
)

var displayByStatus = map[pulse.Status]DisplayState{
	pulse.StatusArming:    StateArming,
	pulse.StatusAway:      StateArmedAway,
	pulse.StatusDisarming: StateDisarming,
	pulse.StatusHome:      StateArmedHome,
	pulse.StatusOff:       StateDisarmed,
	pulse.StatusUnknown:   StateUnavailable,
	pulse.StatusNight:     StateArmedNight,
}

// DisplayFromStatus translates a remote status. Anything outside the
// table is unavailable.
func DisplayFromStatus(s pulse.Status) DisplayState {
	if d, ok := displayByStatus[s]; ok {
		return d
	}
	return StateUnavailable
}

// ArmingMode is an action requested by the user.
type ArmingMode string

const (
	ModeDisarm        ArmingMode = "disarm"
	ModeArmHome       ArmingMode = "arm_home"
	ModeArmAway       ArmingMode = "arm_away"
	ModeArmNight      ArmingMode = "arm_night"
	ModeArmAwayForced ArmingMode = "arm_away_forced"
	ModeArmHomeForced ArmingMode = "arm_home_forced"
)

var targetByMode = map[ArmingMode]DisplayState{
	ModeDisarm:        StateDisarmed,
	ModeArmHome:       StateArmedHome,
	ModeArmAway:       StateArmedAway,
	ModeArmNight:      StateArmedNight,
	ModeArmAwayForced: StateArmedAway,
	ModeArmHomeForced: StateArmedHome,
}

// ParseArmingMode accepts the mode names plus the Home Assistant action
// name arm_custom_bypass, which is a forced arm away.
func ParseArmingMode(s string) (ArmingMode, error) {
	if s == "arm_custom_bypass" {
		return ModeArmAwayForced, nil
	}
	m := ArmingMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m ArmingMode) Valid() bool {
	_, ok := targetByMode[m]
	return ok
}

// Target is the display state the mode is expected to end in.
func (m ArmingMode) Target() DisplayState {
	return targetByMode[m]
}

// Arming reports whether the mode arms the system.
func (m ArmingMode) Arming() bool {
	return m != ModeDisarm
}

// Forced reports whether the mode bypasses open zones.
func (m ArmingMode) Forced() bool {
	return m == ModeArmAwayForced || m == ModeArmHomeForced
}

// ForcedVariant returns the bypass version of an arming mode. Modes
// without one (disarm, arm_night) fall back to a forced arm away.
func (m ArmingMode) ForcedVariant() ArmingMode {
	switch m {
	case ModeArmHome, ModeArmHomeForced:
		return ModeArmHomeForced
	default:
		return ModeArmAwayForced
	}
}

func (m ArmingMode) String() string { return string(m) }

// Service names registered as extra entry points besides the standard
// alarm panel actions.
const (
	ServiceForceStay = "force_stay"
	ServiceForceAway = "force_away"
)

var modeByService = map[string]ArmingMode{
	ServiceForceStay: ModeArmHomeForced,
	ServiceForceAway: ModeArmAwayForced,
}

// actionModes is the standard alarm panel action vocabulary. Forced stay
// is not part of it and is only reachable through ServiceForceStay.
var actionModes = map[string]ArmingMode{
	"disarm":            ModeDisarm,
	"arm_home":          ModeArmHome,
	"arm_away":          ModeArmAway,
	"arm_night":         ModeArmNight,
	"arm_custom_bypass": ModeArmAwayForced,
}

// ParseAction resolves a standard alarm panel action name.
func ParseAction(s string) (ArmingMode, error) {
	mode, ok := actionModes[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return mode, nil
}

// ModeForService returns the arming mode a service runs.
func ModeForService(service string) (ArmingMode, error) {
	mode, ok := modeByService[service]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return mode, nil
}

// Services returns the registered service names.
func Services() []string {
	return []string{ServiceForceStay, ServiceForceAway}
}

// Feature bits, same values as Home Assistant's AlarmControlPanelEntityFeature.
const (
	FeatureArmHome         = 1
	FeatureArmAway         = 2
	FeatureArmNight        = 4
	FeatureTrigger         = 8
	FeatureArmCustomBypass = 16
)

// Package alarm implements the alarm control panel: it translates the
// remote service's status into Home Assistant alarm states and forwards
// arm/disarm actions, showing an optimistic state while a command is in
// flight.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulsebridge/internal/pulse"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Site is the part of the remote client the panel needs.
type Site interface {
	ID() string
	Status() pulse.Status
	LastUpdate() time.Time
	IsOnline() bool
	Manufacturer() string
	Model() string
	Zones() []pulse.Zone

	Disarm(ctx context.Context) bool
	ArmHome(ctx context.Context, force bool) bool
	ArmAway(ctx context.Context, force bool) bool
	ArmNight(ctx context.Context) bool
}

// StateProvider is what the host needs from an alarm panel.
type StateProvider interface {
	State() DisplayState
	Request(ctx context.Context, mode ArmingMode) error
}

// Publisher receives every state the panel wants shown.
type Publisher func(state DisplayState)

// DeviceInfo groups the panel with its site in the host's device registry.
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	ViaDevice    [2]string   `json:"via_device"`
	Name         string      `json:"name"`
}

// Panel is the alarm control panel for one site.
type Panel struct {
	site    Site
	publish Publisher
	logger  *zap.Logger
	name    string

	// requestMu keeps at most one remote command in flight.
	requestMu sync.Mutex

	mu      sync.RWMutex
	assumed DisplayState
}

var _ StateProvider = (*Panel)(nil)

// NewPanel creates a panel for site. publish may be nil.
func NewPanel(site Site, publish Publisher, logger *zap.Logger) *Panel {
	if publish == nil {
		publish = func(DisplayState) {}
	}
	p := &Panel{
		site:    site,
		publish: publish,
		logger:  logger.Named("alarm"),
		name:    fmt.Sprintf("ADT Alarm Panel - Site %s", site.ID()),
	}
	p.logger.Debug("Adding alarm control panel", zap.String("site", site.ID()))
	return p
}

// State returns the optimistic state while a command is outstanding,
// otherwise the translated remote status.
func (p *Panel) State() DisplayState {
	p.mu.RLock()
	assumed := p.assumed
	p.mu.RUnlock()

	if assumed != "" {
		return assumed
	}
	return DisplayFromStatus(p.site.Status())
}

// AssumedState reports whether State is currently optimistic.
func (p *Panel) AssumedState() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.assumed != ""
}

func (p *Panel) setAssumed(state DisplayState) {
	p.mu.Lock()
	p.assumed = state
	p.mu.Unlock()
}

// Request moves the panel to the mode's target state.
//
// Arming is only allowed from disarmed, and only with all zones closed
// unless the mode is forced. While the remote command runs the panel shows
// arming/disarming, or the target itself when the gateway is offline. The
// optimistic state is dropped once the command returns, before a failure
// is reported.
func (p *Panel) Request(ctx context.Context, mode ArmingMode) error {
	_, err := p.Apply(ctx, mode)
	return err
}

// Apply is Request that also reports whether a remote command was sent.
// sent is false for rejected requests and for no-ops whose target is
// already displayed.
func (p *Panel) Apply(ctx context.Context, mode ArmingMode) (sent bool, err error) {
	if !mode.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	p.requestMu.Lock()
	defer p.requestMu.Unlock()

	target := mode.Target()
	logger := p.logger.With(
		zap.String("command_id", CommandID(ctx)),
		zap.Stringer("mode", mode),
		zap.String("target", string(target)))
	logger.Debug("Setting alarm")

	if mode.Arming() {
		if err := p.checkArmable(mode); err != nil {
			logger.Warn("Alarm cannot be armed", zap.Error(err))
			return false, err
		}
	}

	if p.State() == target {
		logger.Warn("Attempting to set alarm to same state, ignoring")
		return false, nil
	}

	switch {
	case !p.site.IsOnline():
		p.setAssumed(target)
	case mode.Arming():
		p.setAssumed(StateArming)
	default:
		p.setAssumed(StateDisarming)
	}
	p.publish(p.State())

	ok := p.send(context.WithoutCancel(ctx), mode)
	if !ok {
		logger.Warn("Could not set ADT Pulse alarm")
	}

	p.setAssumed("")
	p.publish(p.State())

	if !ok {
		return true, fmt.Errorf("%w: could not set alarm status to %s", ErrRemoteCommandFailed, target)
	}
	logger.Info("Alarm command completed", zap.String("state", string(p.State())))
	return true, nil
}

func (p *Panel) checkArmable(mode ArmingMode) error {
	if current := p.State(); current != StateDisarmed {
		return fmt.Errorf("%w: cannot set alarm to %s because currently set to %s",
			ErrInvalidTransition, mode.Target(), current)
	}
	if !mode.Forced() && !pulse.SystemCanBeArmed(p.site.Zones()) {
		return fmt.Errorf("%w: pulse system cannot be armed due to opened/tripped zone - use %s",
			ErrNotArmable, mode.ForcedVariant())
	}
	return nil
}

func (p *Panel) send(ctx context.Context, mode ArmingMode) bool {
	switch mode {
	case ModeDisarm:
		return p.site.Disarm(ctx)
	case ModeArmHome, ModeArmHomeForced:
		return p.site.ArmHome(ctx, mode.Forced())
	case ModeArmAway, ModeArmAwayForced:
		return p.site.ArmAway(ctx, mode.Forced())
	case ModeArmNight:
		return p.site.ArmNight(ctx)
	}
	return false
}

// Disarm sends a disarm command.
func (p *Panel) Disarm(ctx context.Context) error { return p.Request(ctx, ModeDisarm) }

// ArmHome sends an arm home (stay) command.
func (p *Panel) ArmHome(ctx context.Context) error { return p.Request(ctx, ModeArmHome) }

// ArmAway sends an arm away command.
func (p *Panel) ArmAway(ctx context.Context) error { return p.Request(ctx, ModeArmAway) }

// ArmNight sends an arm night command.
func (p *Panel) ArmNight(ctx context.Context) error { return p.Request(ctx, ModeArmNight) }

// ArmCustomBypass arms away ignoring open zones.
func (p *Panel) ArmCustomBypass(ctx context.Context) error {
	return p.Request(ctx, ModeArmAwayForced)
}

// CallService runs one of the extra service entry points (force_stay,
// force_away).
func (p *Panel) CallService(ctx context.Context, service string) error {
	mode, err := ModeForService(service)
	if err != nil {
		return err
	}
	return p.Request(ctx, mode)
}

// HandleUpdate is called when the remote status changes.
func (p *Panel) HandleUpdate() {
	state := p.State()
	p.logger.Debug("Updating Pulse alarm",
		zap.String("state", string(state)),
		zap.String("site", p.site.ID()))
	p.publish(state)
}

// Name returns the panel's display name.
func (p *Panel) Name() string { return p.name }

// UniqueID returns the host-side unique id.
func (p *Panel) UniqueID() string { return pulse.AlarmUniqueID(p.site.ID()) }

// Available is always true: the panel stays usable while the gateway is
// offline.
func (p *Panel) Available() bool { return true }

// CodeArmRequired is always false.
func (p *Panel) CodeArmRequired() bool { return false }

// CodeFormat is empty, no code is accepted.
func (p *Panel) CodeFormat() string { return "" }

// SupportedFeatures returns the feature bitmask. Forced stay is only
// reachable through CallService.
func (p *Panel) SupportedFeatures() int {
	return FeatureArmAway | FeatureArmCustomBypass | FeatureArmHome | FeatureArmNight
}

// DeviceInfo identifies the panel by site id, via the site's gateway.
func (p *Panel) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{pulse.Domain, p.site.ID()}},
		Manufacturer: p.site.Manufacturer(),
		Model:        p.site.Model(),
		ViaDevice:    [2]string{pulse.Domain, pulse.GatewayUniqueID(p.site.ID())},
		Name:         p.name,
	}
}

// Attributes returns extra state attributes.
func (p *Panel) Attributes() map[string]interface{} {
	return map[string]interface{}{
		"last_update_time": p.site.LastUpdate().Local(),
		"alarm_state":      string(p.site.Status()),
	}
}

type commandIDKey struct{}

// WithCommandID tags ctx with an id used to correlate a request's logs.
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

// CommandID returns the id set by WithCommandID, or a fresh one.
func CommandID(ctx context.Context) string {
	if id, ok := ctx.Value(commandIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

package pulse

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulsebridge/internal/clock"

	"go.uber.org/zap"
)

// SimulatorConfig seeds a Simulator.
type SimulatorConfig struct {
	SiteID       string
	SiteName     string
	Manufacturer string
	Model        string
	Status       Status
	Online       bool
	Zones        []Zone
	// Latency is how long each command stays in its transitional status
	// before the final status is reported.
	Latency time.Duration
	// PollInterval is the gateway's reported update cadence.
	// DefaultPollInterval when zero.
	PollInterval time.Duration
}

// DefaultPollInterval is the simulated gateway update cadence.
const DefaultPollInterval = time.Minute

// Simulator is an in-process Site. Commands walk the status through the
// same transitional values the real service reports and notify
// subscribers on every change.
type Simulator struct {
	cfg    SimulatorConfig
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.RWMutex
	status     Status
	online     bool
	zones      map[int]Zone
	lastUpdate time.Time
	failNext   int

	subsMu    sync.Mutex
	subs      map[int]func()
	nextSubID int
}

// NewSimulator creates a simulated site.
func NewSimulator(cfg SimulatorConfig, c clock.Clock, logger *zap.Logger) *Simulator {
	if c == nil {
		c = clock.NewRealClock()
	}
	if cfg.Status == "" {
		cfg.Status = StatusOff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	s := &Simulator{
		cfg:        cfg,
		clock:      c,
		logger:     logger.Named("simulator"),
		status:     cfg.Status,
		online:     cfg.Online,
		zones:      make(map[int]Zone, len(cfg.Zones)),
		lastUpdate: c.Now(),
		subs:       make(map[int]func()),
	}
	for _, z := range cfg.Zones {
		s.zones[z.ID] = z
	}
	return s
}

func (s *Simulator) ID() string           { return s.cfg.SiteID }
func (s *Simulator) Name() string         { return s.cfg.SiteName }
func (s *Simulator) Manufacturer() string { return s.cfg.Manufacturer }
func (s *Simulator) Model() string        { return s.cfg.Model }

// Status returns the current simulated alarm status.
func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastUpdate returns when the simulated site last changed.
func (s *Simulator) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// IsOnline reports the simulated gateway connectivity.
func (s *Simulator) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Zones returns the zones ordered by id.
func (s *Simulator) Zones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zones := make([]Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}

// Gateway returns the simulated gateway description.
func (s *Simulator) Gateway() Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Gateway{
		Online:       s.online,
		Manufacturer: s.cfg.Manufacturer,
		Model:        s.cfg.Model,
		SerialNumber: "SIM-" + s.cfg.SiteID,
		LastUpdate:   s.lastUpdate,
		NextUpdate:   s.lastUpdate.Add(s.cfg.PollInterval),
	}
}

// Disarm simulates a disarm command.
func (s *Simulator) Disarm(ctx context.Context) bool {
	return s.command(ctx, "disarm", StatusDisarming, StatusOff)
}

// ArmHome simulates an arm stay command. Without force it fails while a
// zone is open or in trouble, like the real service.
func (s *Simulator) ArmHome(ctx context.Context, force bool) bool {
	if !force && !SystemCanBeArmed(s.Zones()) {
		s.logger.Info("Refusing to arm home with open zones")
		return false
	}
	return s.command(ctx, "arm_home", StatusArming, StatusHome)
}

// ArmAway simulates an arm away command.
func (s *Simulator) ArmAway(ctx context.Context, force bool) bool {
	if !force && !SystemCanBeArmed(s.Zones()) {
		s.logger.Info("Refusing to arm away with open zones")
		return false
	}
	return s.command(ctx, "arm_away", StatusArming, StatusAway)
}

// ArmNight simulates an arm night command.
func (s *Simulator) ArmNight(ctx context.Context) bool {
	return s.command(ctx, "arm_night", StatusArming, StatusNight)
}

func (s *Simulator) command(ctx context.Context, name string, transitional, final Status) bool {
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		s.logger.Info("Simulated command failure", zap.String("command", name))
		return false
	}
	previous := s.status
	s.mu.Unlock()

	s.setStatus(transitional)

	select {
	case <-s.clock.After(s.cfg.Latency):
	case <-ctx.Done():
		s.setStatus(previous)
		return false
	}

	s.setStatus(final)
	s.logger.Debug("Simulated command completed",
		zap.String("command", name),
		zap.String("status", string(final)))
	return true
}

// Subscribe registers a push update callback.
func (s *Simulator) Subscribe(fn func()) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// SetStatus changes the remote status as if another keypad changed it.
func (s *Simulator) SetStatus(status Status) {
	s.setStatus(status)
}

// SetOnline changes the simulated gateway connectivity.
func (s *Simulator) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
	s.notify()
}

// SetZone adds or replaces a zone.
func (s *Simulator) SetZone(z Zone) {
	s.mu.Lock()
	z.LastActivity = s.clock.Now()
	s.zones[z.ID] = z
	s.lastUpdate = z.LastActivity
	s.mu.Unlock()
	s.notify()
}

// FailNext makes the next n commands report failure.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *Simulator) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.lastUpdate = s.clock.Now()
	s.mu.Unlock()
	s.notify()
}

func (s *Simulator) notify() {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

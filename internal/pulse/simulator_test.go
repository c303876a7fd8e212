package pulse

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pulsebridge/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSimulator(t *testing.T, zones ...Zone) (*Simulator, *clock.MockClock) {
	t.Helper()
	mc := clock.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if zones == nil {
		zones = []Zone{okZone(1, "Front Door", "sensor", "doorWindow")}
	}
	sim := NewSimulator(SimulatorConfig{
		SiteID:       "1234",
		SiteName:     "Home",
		Manufacturer: "ADT",
		Model:        "Pulse",
		Online:       true,
		Zones:        zones,
		Latency:      5 * time.Second,
	}, mc, zap.NewNop())
	return sim, mc
}

func TestSimulator_Defaults(t *testing.T) {
	sim, _ := newTestSimulator(t)

	assert.Equal(t, "1234", sim.ID())
	assert.Equal(t, "Home", sim.Name())
	assert.Equal(t, StatusOff, sim.Status())
	assert.True(t, sim.IsOnline())
	gw := sim.Gateway()
	assert.Equal(t, "SIM-1234", gw.SerialNumber)
	assert.Equal(t, DefaultPollInterval, gw.NextUpdate.Sub(gw.LastUpdate))
	require.Len(t, sim.Zones(), 1)
}

func TestSimulator_ArmAwayWalksThroughArming(t *testing.T) {
	sim, mc := newTestSimulator(t)

	var seen []Status
	statuses := make(chan Status, 8)
	sim.Subscribe(func() { statuses <- sim.Status() })

	done := make(chan bool, 1)
	go func() { done <- sim.ArmAway(context.Background(), false) }()

	assert.Eventually(t, func() bool { return mc.Pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusArming, sim.Status())

	mc.Advance(5 * time.Second)
	assert.True(t, <-done)
	assert.Equal(t, StatusAway, sim.Status())

	close(statuses)
	for s := range statuses {
		seen = append(seen, s)
	}
	assert.Equal(t, []Status{StatusArming, StatusAway}, seen)
}

func TestSimulator_RefusesOpenZonesUnlessForced(t *testing.T) {
	open := okZone(2, "Back Door", "sensor", "doorWindow")
	open.State = "Open"
	sim, mc := newTestSimulator(t, okZone(1, "Front Door", "sensor", "doorWindow"), open)

	assert.False(t, sim.ArmHome(context.Background(), false))
	assert.Equal(t, StatusOff, sim.Status())

	done := make(chan bool, 1)
	go func() { done <- sim.ArmHome(context.Background(), true) }()
	assert.Eventually(t, func() bool { return mc.Pending() == 1 }, time.Second, 5*time.Millisecond)
	mc.Advance(5 * time.Second)

	assert.True(t, <-done)
	assert.Equal(t, StatusHome, sim.Status())
}

func TestSimulator_FailNext(t *testing.T) {
	sim, _ := newTestSimulator(t)
	sim.SetStatus(StatusAway)
	sim.FailNext(1)

	assert.False(t, sim.Disarm(context.Background()))
	assert.Equal(t, StatusAway, sim.Status())
}

func TestSimulator_CancelRestoresStatus(t *testing.T) {
	sim, mc := newTestSimulator(t)
	sim.SetStatus(StatusAway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- sim.Disarm(ctx) }()

	assert.Eventually(t, func() bool { return mc.Pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusDisarming, sim.Status())

	cancel()
	assert.False(t, <-done)
	assert.Equal(t, StatusAway, sim.Status())
}

func TestSimulator_SubscribeAndUnsubscribe(t *testing.T) {
	sim, mc := newTestSimulator(t)

	var calls atomic.Int32
	unsubscribe := sim.Subscribe(func() { calls.Add(1) })

	mc.Advance(time.Minute)
	sim.SetOnline(false)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, sim.IsOnline())
	assert.Equal(t, mc.Now(), sim.LastUpdate())

	tripped := okZone(1, "Front Door", "sensor", "doorWindow")
	tripped.State = "Open"
	sim.SetZone(tripped)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, ZoneIsOpen(sim.Zones()[0]))

	unsubscribe()
	sim.SetStatus(StatusNight)
	assert.Equal(t, int32(2), calls.Load())
}

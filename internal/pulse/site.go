// Package pulse describes the remote alarm service as seen by the bridge:
// the alarm status vocabulary, zones, the gateway and the Site interface a
// vendor client has to satisfy.
//
// Talking to the vendor's cloud (login, keepalive, polling) is the job of
// the client library behind Site. This package only carries the shared
// vocabulary plus a Simulator used for local runs and tests.
package pulse

import (
	"context"
	"time"
)

// Status is the alarm status reported by the remote service.
type Status string

const (
	StatusArming    Status = "arming"
	StatusAway      Status = "away"
	StatusDisarming Status = "disarming"
	StatusHome      Status = "stay"
	StatusOff       Status = "off"
	StatusUnknown   Status = "unknown"
	StatusNight     Status = "night"
)

// Zone state and status values that mean "nothing to report".
const (
	ZoneStateOK      = "OK"
	ZoneStatusOnline = "Online"
)

// Zone is a single sensor (door, motion, smoke...) known to the site.
type Zone struct {
	ID           int       `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Tags         []string  `json:"tags" yaml:"tags"`
	State        string    `json:"state" yaml:"state"`
	Status       string    `json:"status" yaml:"status"`
	LastActivity time.Time `json:"last_activity" yaml:"-"`
}

// Gateway describes the site's connection to the vendor cloud.
type Gateway struct {
	Online       bool      `json:"online"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serial_number"`
	LastUpdate   time.Time `json:"last_update"`
	NextUpdate   time.Time `json:"next_update"`
}

// Site is the remote alarm client for one installation.
//
// Command methods block until the remote service answers and report
// success as a bool; bounding their latency is up to the implementation.
type Site interface {
	ID() string
	Name() string
	Status() Status
	LastUpdate() time.Time
	IsOnline() bool
	Manufacturer() string
	Model() string
	// Zones returns nil until the zones have been loaded.
	Zones() []Zone
	Gateway() Gateway

	Disarm(ctx context.Context) bool
	ArmHome(ctx context.Context, force bool) bool
	ArmAway(ctx context.Context, force bool) bool
	ArmNight(ctx context.Context) bool

	// Subscribe registers fn to be called whenever the remote status,
	// zones or gateway change. The returned func removes it.
	Subscribe(fn func()) (unsubscribe func())
}

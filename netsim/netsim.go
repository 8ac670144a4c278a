// Package netsim injects artificial packet loss and latency into the
// transport, including a periodic "large stall" mode that degrades the
// network for a bounded time on a repeating timer.
package netsim

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidSettings is returned by Settings.Validate.
var ErrInvalidSettings = errors.New("invalid network simulation settings")

// Settings is the debug network configuration. It is read-only input: the
// simulator derives the conditions to apply from it.
type Settings struct {
	SimulatePacketLoss bool
	PacketLossChance   int // percent, 0-100

	SimulateLatency bool
	MinLatency      time.Duration
	MaxLatency      time.Duration

	SimulateLargeStalls   bool
	LargeStallsInterval   time.Duration
	LargeStallsDuration   time.Duration
	LargeStallsPacketLoss int // percent, 0-100
	LargeStallsLatency    time.Duration
}

// Validate checks chances and durations.
func (s Settings) Validate() error {
	if s.PacketLossChance < 0 || s.PacketLossChance > 100 {
		return fmt.Errorf("%w: packet loss chance %d outside 0-100", ErrInvalidSettings, s.PacketLossChance)
	}
	if s.LargeStallsPacketLoss < 0 || s.LargeStallsPacketLoss > 100 {
		return fmt.Errorf("%w: stall packet loss %d outside 0-100", ErrInvalidSettings, s.LargeStallsPacketLoss)
	}
	if s.MinLatency < 0 || s.MaxLatency < 0 || s.LargeStallsLatency < 0 {
		return fmt.Errorf("%w: negative latency", ErrInvalidSettings)
	}
	if s.MaxLatency < s.MinLatency {
		return fmt.Errorf("%w: max latency %v below min latency %v", ErrInvalidSettings, s.MaxLatency, s.MinLatency)
	}
	if s.SimulateLargeStalls && (s.LargeStallsInterval <= 0 || s.LargeStallsDuration <= 0) {
		return fmt.Errorf("%w: stall interval and duration must be positive", ErrInvalidSettings)
	}
	return nil
}

// Baseline returns the conditions applied outside a stall.
func (s Settings) Baseline() Conditions {
	return Conditions{
		SimulatePacketLoss: s.SimulatePacketLoss,
		PacketLossChance:   s.PacketLossChance,
		SimulateLatency:    s.SimulateLatency,
		MinLatency:         s.MinLatency,
		MaxLatency:         s.MaxLatency,
	}
}

// Stall returns the harsher conditions applied during a stall.
func (s Settings) Stall() Conditions {
	return Conditions{
		SimulatePacketLoss: true,
		PacketLossChance:   s.LargeStallsPacketLoss,
		SimulateLatency:    true,
		MinLatency:         s.LargeStallsLatency,
		MaxLatency:         s.LargeStallsLatency,
	}
}

// Conditions is what the transport actually applies to traffic.
type Conditions struct {
	SimulatePacketLoss bool
	PacketLossChance   int
	SimulateLatency    bool
	MinLatency         time.Duration
	MaxLatency         time.Duration
}

// ShouldDrop rolls for packet loss.
func (c Conditions) ShouldDrop(rng *rand.Rand) bool {
	if !c.SimulatePacketLoss || c.PacketLossChance <= 0 {
		return false
	}
	return rng.Intn(100) < c.PacketLossChance
}

// Delay returns the artificial latency for one packet, zero when latency
// simulation is off.
func (c Conditions) Delay(rng *rand.Rand) time.Duration {
	if !c.SimulateLatency || c.MaxLatency <= 0 {
		return 0
	}
	if c.MaxLatency <= c.MinLatency {
		return c.MinLatency
	}
	return c.MinLatency + time.Duration(rng.Int63n(int64(c.MaxLatency-c.MinLatency)+1))
}

// Target receives the conditions chosen by the simulator.
type Target interface {
	SetConditions(Conditions)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(Conditions)

// SetConditions calls f(c).
func (f TargetFunc) SetConditions(c Conditions) {
	f(c)
}

// Simulator cycles between baseline and stall conditions. It is driven by
// Advance and is not safe for concurrent use.
type Simulator struct {
	settings Settings
	target   Target
	timer    time.Duration
	stalled  bool
	current  Conditions
}

// NewSimulator creates a simulator and immediately applies the baseline
// conditions to target.
func NewSimulator(settings Settings, target Target) *Simulator {
	s := &Simulator{target: target}
	s.Configure(settings)
	return s
}

// Configure replaces the settings, resets the stall timer and reapplies the
// baseline. It may be called at any time while traffic is flowing.
func (s *Simulator) Configure(settings Settings) {
	s.settings = settings
	s.timer = 0
	s.stalled = false
	s.apply(settings.Baseline())

	logrus.WithFields(logrus.Fields{
		"function":     "Simulator.Configure",
		"packet_loss":  settings.SimulatePacketLoss,
		"loss_chance":  settings.PacketLossChance,
		"latency":      settings.SimulateLatency,
		"min_latency":  settings.MinLatency,
		"max_latency":  settings.MaxLatency,
		"large_stalls": settings.SimulateLargeStalls,
		"stall_every":  settings.LargeStallsInterval,
		"stall_for":    settings.LargeStallsDuration,
	}).Debug("Network simulation configured")
}

// Advance moves the stall timer forward by dt and switches phase when a
// boundary is crossed.
func (s *Simulator) Advance(dt time.Duration) {
	s.timer += dt
	if !s.settings.SimulateLargeStalls {
		return
	}

	switch {
	case s.timer >= s.settings.LargeStallsInterval+s.settings.LargeStallsDuration:
		s.timer = 0
		if s.stalled {
			s.stalled = false
			s.apply(s.settings.Baseline())
			logrus.WithFields(logrus.Fields{
				"function": "Simulator.Advance",
			}).Info("Large stall ended")
		}
	case s.timer >= s.settings.LargeStallsInterval:
		if !s.stalled {
			s.stalled = true
			s.apply(s.settings.Stall())
			logrus.WithFields(logrus.Fields{
				"function":    "Simulator.Advance",
				"loss_chance": s.settings.LargeStallsPacketLoss,
				"latency":     s.settings.LargeStallsLatency,
				"duration":    s.settings.LargeStallsDuration,
			}).Info("Large stall started")
		}
	}
}

// Stalled reports whether the stall conditions are currently applied.
func (s *Simulator) Stalled() bool {
	return s.stalled
}

// Current returns the conditions most recently applied.
func (s *Simulator) Current() Conditions {
	return s.current
}

// Settings returns the active settings.
func (s *Simulator) Settings() Settings {
	return s.settings
}

func (s *Simulator) apply(c Conditions) {
	s.current = c
	if s.target != nil {
		s.target.SetConditions(c)
	}
}

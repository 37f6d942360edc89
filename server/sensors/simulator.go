// Package sensors abstracts the tick data source. Real OBD-II and GPS
// acquisition lives outside this node; the simulator stands in for them so
// the pipeline runs end to end on a desk.
package sensors

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// Snapshot is one raw sensor reading set.
type Snapshot struct {
	Speed      float64  `json:"speed"` // km/h
	RPM        float64  `json:"rpm"`
	Throttle   float64  `json:"throttle"`    // percent
	EngineLoad float64  `json:"engine_load"` // percent
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Source produces one snapshot per tick.
type Source interface {
	Read(ctx context.Context) (*Snapshot, error)
}

// Simulator is a random-walk source: speed wanders between stops and
// cruising, rpm/throttle/load follow it, and the position drifts along a
// fixed heading from a configurable origin.
type Simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	speed float64
	lat   float64
	lon   float64
}

func NewSimulator(seed int64, originLat, originLon float64) *Simulator {
	return &Simulator{
		rng:   rand.New(rand.NewSource(seed)),
		speed: 30,
		lat:   originLat,
		lon:   originLon,
	}
}

func (s *Simulator) Read(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speed += s.rng.NormFloat64() * 4
	s.speed = clamp(s.speed, 0, 140)

	throttle := clamp(s.speed/1.4+s.rng.NormFloat64()*8, 0, 100)
	load := clamp(s.speed/1.6+s.rng.NormFloat64()*10, 5, 100)
	rpm := clamp(800+s.speed*38+s.rng.NormFloat64()*150, 700, 6500)

	// ~1 s of travel due north at the current speed.
	s.lat += (s.speed / 3.6) / 111320.0

	lat, lon := s.lat, s.lon
	return &Snapshot{
		Speed:      round1(s.speed),
		RPM:        math.Round(rpm),
		Throttle:   round1(throttle),
		EngineLoad: round1(load),
		Latitude:   &lat,
		Longitude:  &lon,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

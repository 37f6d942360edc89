package behavior

import "math"

// DistanceStats tracks running mean and variance of the assignment-distance
// stream using Welford's recurrence. No raw distances are retained.
type DistanceStats struct {
	count int
	mean  float64
	m2    float64 // sum of squared deltas
}

// Observe folds one distance into the running statistics.
func (s *DistanceStats) Observe(d float64) {
	s.count++
	oldMean := s.mean
	s.mean += (d - s.mean) / float64(s.count)
	s.m2 += (d - oldMean) * (d - s.mean)
}

func (s *DistanceStats) Count() int { return s.count }

func (s *DistanceStats) Mean() float64 { return s.mean }

// StdDev returns the sample standard deviation, or 0 before two observations.
func (s *DistanceStats) StdDev() float64 {
	if s.count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.count-1))
}

package behavior

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// RadarArea is the polygon-area soft sensor over the normalized reading
// tuple [rpm/100, speed, throttle, engine_load]: half the absolute value of
// the dot product of the tuple with its own rotation, scaled by sin(2π/n).
func RadarArea(rpm, speed, throttle, engineLoad float64) float64 {
	v := []float64{rpm / 100, speed, throttle, engineLoad}
	rolled := []float64{v[3], v[0], v[1], v[2]}
	return 0.5 * math.Abs(floats.Dot(v, rolled)*math.Sin(2*math.Pi/float64(len(v))))
}

// FeatureVector builds the 2-dimensional clustering input for one tick.
func FeatureVector(radarArea, engineLoad float64) []float64 {
	return []float64{radarArea, engineLoad}
}

package hazards

import "math"

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371008.8

// Haversine returns the great-circle distance in meters between two
// latitude/longitude pairs given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return EarthRadiusM * 2 * math.Asin(math.Sqrt(a))
}

// degreeBBox returns an approximate lat/lon bounding box around a point for
// a radius in meters, used as a cheap prefilter before exact distances.
func degreeBBox(lat, lon, radiusM float64) (latMin, latMax, lonMin, lonMax float64) {
	dlat := (radiusM / EarthRadiusM) * (180 / math.Pi)
	dlon := dlat / math.Max(math.Cos(lat*math.Pi/180), 1e-6)
	return lat - dlat, lat + dlat, lon - dlon, lon + dlon
}

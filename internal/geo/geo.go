package geo

import "math"

const earthRadiusM = 6371000

// Point is a device-reported coordinate. Accuracy is the GPS accuracy in
// meters as reported by the device; zero means unknown.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether point lies inside radiusMeters of center.
// The point's reported accuracy widens the radius so an imprecise GPS fix
// is not punished for drift the device itself admits to.
func WithinRadius(center, point Point, radiusMeters float64) bool {
	effective := radiusMeters
	if point.Accuracy > 0 {
		effective += point.Accuracy
	}
	return DistanceMeters(center, point) <= effective
}

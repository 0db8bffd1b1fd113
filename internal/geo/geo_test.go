package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 0.001 degrees of latitude is 111.32m on the reference sphere; tests
// lean on that to build points at known distances.
const latDegreeMeters = 111194.9

func TestDistanceMeters_Zero(t *testing.T) {
	p := Point{Latitude: 23.8103, Longitude: 90.4125}
	assert.Equal(t, 0.0, DistanceMeters(p, p))
}

func TestDistanceMeters_KnownOffsets(t *testing.T) {
	center := Point{Latitude: 23.8103, Longitude: 90.4125}

	north200 := Point{Latitude: center.Latitude + 200/latDegreeMeters, Longitude: center.Longitude}
	assert.InDelta(t, 200, DistanceMeters(center, north200), 1.0)

	north50 := Point{Latitude: center.Latitude + 50/latDegreeMeters, Longitude: center.Longitude}
	assert.InDelta(t, 50, DistanceMeters(center, north50), 0.5)

	// Symmetric.
	assert.InDelta(t, DistanceMeters(center, north200), DistanceMeters(north200, center), 1e-9)
}

func TestWithinRadius(t *testing.T) {
	center := Point{Latitude: 23.8103, Longitude: 90.4125}
	at := func(meters, accuracy float64) Point {
		return Point{
			Latitude:  center.Latitude + meters/latDegreeMeters,
			Longitude: center.Longitude,
			Accuracy:  accuracy,
		}
	}

	assert.True(t, WithinRadius(center, at(40, 0), 50))
	assert.False(t, WithinRadius(center, at(60, 0), 50))

	// Reported accuracy widens the effective radius: a point just past
	// the radius is accepted when accuracy covers the overshoot, and
	// rejected once it does not.
	assert.True(t, WithinRadius(center, at(60, 15), 50))
	assert.False(t, WithinRadius(center, at(60, 5), 50))

	// Negative or zero accuracy adds no slack.
	assert.False(t, WithinRadius(center, at(60, -20), 50))
}

// Package units provides shared geographic unit constants and conversions.
package units

import "math"

// MetersPerDegreeLat is the approximate ground distance of one degree of
// latitude. Longitude distance shrinks with latitude; use MetersPerDegreeLon.
const MetersPerDegreeLat = 111320.0

// SquareMetersPerHectare converts pixel areas to hectares.
const SquareMetersPerHectare = 10000.0

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// MetersPerDegreeLon returns the ground distance of one degree of longitude
// at the given latitude.
func MetersPerDegreeLon(latDeg float64) float64 {
	return MetersPerDegreeLat * math.Cos(latDeg*math.Pi/180)
}

// PixelAreaHectares returns the ground area of one square pixel at the given
// resolution in meters per pixel.
func PixelAreaHectares(resolutionM float64) float64 {
	return resolutionM * resolutionM / SquareMetersPerHectare
}

// HaversineKm returns the great-circle distance in kilometers between two
// lon/lat points.
func HaversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusMeters * c / 1000
}

// BearingDegrees returns the compass bearing from one lon/lat point to
// another, normalised to [0, 360).
func BearingDegrees(fromLon, fromLat, toLon, toLat float64) float64 {
	dx := (toLon - fromLon) * math.Cos((fromLat+toLat)/2*math.Pi/180)
	dy := toLat - fromLat
	deg := math.Atan2(dx, dy) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// compassPoints in clockwise order starting from north.
var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// CompassDirection maps a bearing in degrees to an eight-point compass label.
func CompassDirection(bearingDeg float64) string {
	deg := math.Mod(bearingDeg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.Floor(deg/45+0.5)) % len(compassPoints)
	return compassPoints[idx]
}

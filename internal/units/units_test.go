package units

import (
	"math"
	"testing"
)

func TestMetersPerDegreeLon(t *testing.T) {
	// At the equator a degree of longitude matches a degree of latitude.
	if got := MetersPerDegreeLon(0); math.Abs(got-MetersPerDegreeLat) > 1e-6 {
		t.Errorf("MetersPerDegreeLon(0) = %f, want %f", got, MetersPerDegreeLat)
	}
	// At 60°N it should be half.
	if got := MetersPerDegreeLon(60); math.Abs(got-MetersPerDegreeLat/2) > 1 {
		t.Errorf("MetersPerDegreeLon(60) = %f, want ~%f", got, MetersPerDegreeLat/2)
	}
}

func TestPixelAreaHectares(t *testing.T) {
	// A 100m pixel is exactly one hectare.
	if got := PixelAreaHectares(100); got != 1.0 {
		t.Errorf("PixelAreaHectares(100) = %f, want 1.0", got)
	}
	// A 10m pixel is 0.01 hectares.
	if got := PixelAreaHectares(10); math.Abs(got-0.01) > 1e-12 {
		t.Errorf("PixelAreaHectares(10) = %f, want 0.01", got)
	}
}

func TestHaversineKm(t *testing.T) {
	// One degree of latitude is roughly 111km.
	got := HaversineKm(105.0, 10.0, 105.0, 11.0)
	if got < 110 || got > 112 {
		t.Errorf("HaversineKm one degree lat = %f, want ~111", got)
	}
	if got := HaversineKm(105.0, 10.0, 105.0, 10.0); got != 0 {
		t.Errorf("HaversineKm same point = %f, want 0", got)
	}
}

func TestBearingDegrees(t *testing.T) {
	tests := []struct {
		name                   string
		fromLon, fromLat       float64
		toLon, toLat, expected float64
	}{
		{"due north", 105, 10, 105, 11, 0},
		{"due east", 105, 0, 106, 0, 90},
		{"due south", 105, 11, 105, 10, 180},
		{"due west", 106, 0, 105, 0, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDegrees(tt.fromLon, tt.fromLat, tt.toLon, tt.toLat)
			if math.Abs(got-tt.expected) > 0.5 {
				t.Errorf("BearingDegrees = %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestCompassDirection(t *testing.T) {
	tests := []struct {
		deg  float64
		want string
	}{
		{0, "N"}, {45, "NE"}, {90, "E"}, {135, "SE"},
		{180, "S"}, {225, "SW"}, {270, "W"}, {315, "NW"},
		{359, "N"}, {22, "N"}, {23, "NE"}, {-45, "NW"},
	}
	for _, tt := range tests {
		if got := CompassDirection(tt.deg); got != tt.want {
			t.Errorf("CompassDirection(%f) = %q, want %q", tt.deg, got, tt.want)
		}
	}
}

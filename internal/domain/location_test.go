package domain

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestRandomLocationWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for i := 0; i < 10_000; i++ {
		loc := RandomLocation(rng)
		if loc.Latitude < MinSyntheticLatitude || loc.Latitude > MaxSyntheticLatitude {
			t.Fatalf("latitude %f outside [%f, %f]", loc.Latitude, MinSyntheticLatitude, MaxSyntheticLatitude)
		}
		if loc.Longitude < MinSyntheticLongitude || loc.Longitude > MaxSyntheticLongitude {
			t.Fatalf("longitude %f outside [%f, %f]", loc.Longitude, MinSyntheticLongitude, MaxSyntheticLongitude)
		}
		if !hasAtMostDecimals(loc.Latitude, 6) || !hasAtMostDecimals(loc.Longitude, 6) {
			t.Fatalf("location %f,%f not rounded to 6 decimals", loc.Latitude, loc.Longitude)
		}
		if loc.Source != LocationSourceSynthetic {
			t.Fatalf("Source = %q, want synthetic", loc.Source)
		}
	}
}

func TestRandomLocationNilRandUsesGlobalSource(t *testing.T) {
	loc := RandomLocation(nil)
	if loc.Latitude < MinSyntheticLatitude || loc.Latitude > MaxSyntheticLatitude {
		t.Fatalf("latitude %f outside bounds", loc.Latitude)
	}
}

func TestRoundTo(t *testing.T) {
	if got := RoundTo(12.3456789, 2); got != 12.35 {
		t.Fatalf("RoundTo(12.3456789, 2) = %f, want 12.35", got)
	}
	if got := RoundTo(30.1234564, 6); got != 30.123456 {
		t.Fatalf("RoundTo(30.1234564, 6) = %f, want 30.123456", got)
	}
}

func hasAtMostDecimals(value float64, decimals int) bool {
	scaled := value * math.Pow10(decimals)
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

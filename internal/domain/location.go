package domain

import (
	"math"
	"math/rand/v2"
)

const (
	MinSyntheticLatitude  = 18.0
	MaxSyntheticLatitude  = 53.55
	MinSyntheticLongitude = 73.66
	MaxSyntheticLongitude = 135.05
)

type LocationSource string

const (
	LocationSourceIPInfo    LocationSource = "ipinfo"
	LocationSourceGeoLite   LocationSource = "geolite"
	LocationSourceSynthetic LocationSource = "synthetic"
)

type Location struct {
	Latitude  float64
	Longitude float64
	Source    LocationSource
}

// RandomLocation draws latitude and longitude independently from the synthetic bounding box.
func RandomLocation(rng *rand.Rand) Location {
	float := rand.Float64
	if rng != nil {
		float = rng.Float64
	}

	latitude := MinSyntheticLatitude + float()*(MaxSyntheticLatitude-MinSyntheticLatitude)
	longitude := MinSyntheticLongitude + float()*(MaxSyntheticLongitude-MinSyntheticLongitude)

	return Location{
		Latitude:  RoundTo(latitude, 6),
		Longitude: RoundTo(longitude, 6),
		Source:    LocationSourceSynthetic,
	}
}

func RoundTo(value float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(value*scale) / scale
}

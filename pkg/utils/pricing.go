package utils

import "math"

// Distance sources reported with a price suggestion.
const (
	DistanceFromRequest     = "request"
	DistanceFromMaps        = "google_maps"
	DistanceFromCoordinates = "haversine"
)

type PriceSuggestion struct {
	DistanceKm               float64 `json:"distanceKm"`
	PricePerKm               float64 `json:"pricePerKm"`
	SuggestedPrice           float64 `json:"suggestedPrice"`
	EstimatedDurationMinutes int     `json:"estimatedDurationMinutes"`
	Source                   string  `json:"source"`
}

// SuggestPrice is distanceKm × pricePerKm rounded to 2 decimals.
func SuggestPrice(distanceKm, pricePerKm float64) float64 {
	if distanceKm <= 0 || pricePerKm <= 0 {
		return 0
	}
	return Round2(distanceKm * pricePerKm)
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

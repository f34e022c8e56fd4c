package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

var ErrNoResults = errors.New("no results")

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Route struct {
	DistanceKm float64
	Duration   time.Duration
}

// Geocoder resolves place names and driving distances through Google Maps.
type Geocoder struct {
	client *maps.Client
	region string
}

func NewGeocoder(apiKey, region string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &Geocoder{client: client, region: region}, nil
}

func (g *Geocoder) Geocode(ctx context.Context, address string) (LatLng, error) {
	resp, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: g.region})
	if err != nil {
		return LatLng{}, fmt.Errorf("geocoding failed: %w", err)
	}
	if len(resp) == 0 {
		return LatLng{}, fmt.Errorf("geocode %q: %w", address, ErrNoResults)
	}
	loc := resp[0].Geometry.Location
	return LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// DrivingDistance asks the distance matrix for the driving route between two places,
// given as addresses or "lat,lng" strings.
func (g *Geocoder) DrivingDistance(ctx context.Context, origin, destination string) (Route, error) {
	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
	})
	if err != nil {
		return Route{}, fmt.Errorf("distance matrix request failed: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Route{}, ErrNoResults
	}
	el := resp.Rows[0].Elements[0]
	if el == nil {
		return Route{}, ErrNoResults
	}
	if el.Status != "OK" {
		return Route{}, fmt.Errorf("distance matrix element %s: %w", el.Status, ErrNoResults)
	}
	return Route{DistanceKm: float64(el.Distance.Meters) / 1000, Duration: el.Duration}, nil
}

func FormatLatLng(lat, lng float64) string {
	return fmt.Sprintf("%f,%f", lat, lng)
}

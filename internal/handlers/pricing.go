package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/chachabrian/campusride-backend/pkg/utils"
	"github.com/gin-gonic/gin"
)

const averageSpeedKmh = 50

// DistanceRouter measures driving distance between two places.
type DistanceRouter interface {
	DrivingDistance(ctx context.Context, origin, destination string) (services.Route, error)
}

type priceQuery struct {
	DistanceKm     *float64 `form:"distance_km" binding:"omitempty,gt=0"`
	Origin         string   `form:"origin"`
	Destination    string   `form:"destination"`
	OriginLat      *float64 `form:"origin_lat" binding:"omitempty,latitude"`
	OriginLng      *float64 `form:"origin_lng" binding:"omitempty,longitude"`
	DestinationLat *float64 `form:"destination_lat" binding:"omitempty,latitude"`
	DestinationLng *float64 `form:"destination_lng" binding:"omitempty,longitude"`
}

func (q priceQuery) hasCoordinates() bool {
	return q.OriginLat != nil && q.OriginLng != nil && q.DestinationLat != nil && q.DestinationLng != nil
}

// SuggestPrice proposes a seat price from the trip distance. The distance is taken from
// the request, else from the maps distance matrix, else as the crow flies between the
// given coordinates.
func SuggestPrice(router DistanceRouter, pricePerKm float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q priceQuery
		if !bindQuery(c, &q) {
			return
		}

		var (
			distance float64
			minutes  int
			source   string
		)
		switch {
		case q.DistanceKm != nil:
			distance, source = *q.DistanceKm, utils.DistanceFromRequest
		case router != nil && (q.hasCoordinates() || (strings.TrimSpace(q.Origin) != "" && strings.TrimSpace(q.Destination) != "")):
			origin, dest := q.Origin, q.Destination
			if q.hasCoordinates() {
				origin = services.FormatLatLng(*q.OriginLat, *q.OriginLng)
				dest = services.FormatLatLng(*q.DestinationLat, *q.DestinationLng)
			}
			route, err := router.DrivingDistance(c.Request.Context(), origin, dest)
			if err == nil {
				distance, source = route.DistanceKm, utils.DistanceFromMaps
				minutes = int(route.Duration.Minutes() + 0.5)
				break
			}
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			if !q.hasCoordinates() {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not determine the distance between these places"})
				return
			}
			fallthrough
		case q.hasCoordinates():
			distance = utils.HaversineDistance(*q.OriginLat, *q.OriginLng, *q.DestinationLat, *q.DestinationLng)
			source = utils.DistanceFromCoordinates
		default:
			respondValidation(c, "distance_km", "provide distance_km, coordinates, or origin and destination")
			return
		}

		if minutes == 0 {
			minutes = utils.CalculateETA(distance, averageSpeedKmh)
		}
		c.JSON(http.StatusOK, utils.PriceSuggestion{
			DistanceKm:               utils.Round2(distance),
			PricePerKm:               pricePerKm,
			SuggestedPrice:           utils.SuggestPrice(distance, pricePerKm),
			EstimatedDurationMinutes: minutes,
			Source:                   source,
		})
	}
}

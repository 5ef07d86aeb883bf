package services

import (
	"math"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

const earthRadiusMeters = 6371000.0

// HaversineDistance is the default DistanceFunc: great-circle metres between seller and address.
func HaversineDistance(seller domain.Seller, address domain.Address) int {
	lat1 := seller.Latitude * math.Pi / 180
	lat2 := address.Latitude * math.Pi / 180
	dLat := (address.Latitude - seller.Latitude) * math.Pi / 180
	dLon := (address.Longitude - seller.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return int(math.Round(earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))))
}

// DistanceFunc resolves the delivery distance used for the delivery fee.
type DistanceFunc func(seller domain.Seller, address domain.Address) int

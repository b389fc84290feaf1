package dispatch

import (
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
)

const (
	carThresholdGrams    = 50_000
	bikeXLThresholdGrams = 20_000
	bikeXLItemCount      = 10
)

// SelectVehicle picks the smallest vehicle that fits the load: over 50kg a
// car, over 20kg or more than ten items the cargo bike, a regular bike
// otherwise.
func SelectVehicle(totalGrams, itemCount int) enums.VehicleType {
	switch {
	case totalGrams > carThresholdGrams:
		return enums.VehicleTypeCar
	case totalGrams > bikeXLThresholdGrams || itemCount > bikeXLItemCount:
		return enums.VehicleTypeBikeXL
	default:
		return enums.VehicleTypeBike
	}
}

// loadOf sums the parcel weight and piece count of an order. Variable-weight
// lines use the reconciled weight when present, the checkout estimate
// otherwise. Fixed lines carry no recorded weight and count pieces only.
func loadOf(items []models.OrderItem) (totalGrams, itemCount int) {
	for _, item := range items {
		itemCount += item.Quantity
		if !item.IsVariableWeight {
			continue
		}
		qty := item.EstimatedQuantityKg
		if item.FinalQuantityKg != nil {
			qty = item.FinalQuantityKg
		}
		if qty == nil {
			continue
		}
		totalGrams += int(qty.Mul(thousand).IntPart())
	}
	return totalGrams, itemCount
}

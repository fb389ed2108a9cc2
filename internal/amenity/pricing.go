package amenity

import "venuebook/internal/model"

type discountTier struct {
	minQuantity int
	percent     int64
}

// Highest tier first. The middle tier starts above five units.
var discountTiers = []discountTier{
	{minQuantity: 10, percent: 15},
	{minQuantity: 6, percent: 10},
	{minQuantity: 3, percent: 5},
}

// QuantityDiscountPercent returns the bulk discount for quantity units.
func QuantityDiscountPercent(quantity int) int64 {
	for _, tier := range discountTiers {
		if quantity >= tier.minQuantity {
			return tier.percent
		}
	}
	return 0
}

// Quote is the price of quantity units of one amenity, in minor units.
type Quote struct {
	UnitCost        int64 `json:"unit_cost"`
	Quantity        int   `json:"quantity"`
	DiscountPercent int64 `json:"discount_percent"`
	Subtotal        int64 `json:"subtotal"`
	Total           int64 `json:"total_cost"`
	Included        bool  `json:"included"`
}

// Price quotes quantity units of a. Included amenities cost nothing; the
// discount is applied to the subtotal and rounded down.
func Price(a *model.VenueAmenity, quantity int) Quote {
	if quantity < 1 {
		quantity = 1
	}
	if a.IncludedInBooking {
		return Quote{Quantity: quantity, Included: true}
	}
	pct := QuantityDiscountPercent(quantity)
	subtotal := a.AdditionalCost * int64(quantity)
	return Quote{
		UnitCost:        a.AdditionalCost,
		Quantity:        quantity,
		DiscountPercent: pct,
		Subtotal:        subtotal,
		Total:           subtotal * (100 - pct) / 100,
	}
}

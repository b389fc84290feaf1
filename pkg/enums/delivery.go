package enums

// DeliveryMethod selects how the buyer receives the order.
type DeliveryMethod string

const (
	DeliveryMethodPickup   DeliveryMethod = "pickup"
	DeliveryMethodDelivery DeliveryMethod = "delivery"
)

// VehicleType is the courier vehicle class requested from the dispatch gateway.
type VehicleType string

const (
	VehicleTypeBike   VehicleType = "bike"
	VehicleTypeBikeXL VehicleType = "bike_xl"
	VehicleTypeCar    VehicleType = "car"
)

// DeliveryStatus mirrors the dispatch gateway's job states.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusAssigned  DeliveryStatus = "assigned"
	DeliveryStatusPickedUp  DeliveryStatus = "picked_up"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

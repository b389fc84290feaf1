package enums

// ReservationStatus tracks a stock reservation's lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusCommitted ReservationStatus = "committed"
)

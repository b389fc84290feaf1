package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bkouassi/marchefrais-backend/pkg/enums"
)

// StockReservation is a time-bounded hold against SKU stock. It must be
// committed (order completed) or released (cancellation / expiry sweep).
type StockReservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Status    enums.ReservationStatus `gorm:"column:status;type:text;not null;default:'active'"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null;index"`

	Lines []StockReservationLine `gorm:"foreignKey:ReservationID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// StockReservationLine records the reserved quantity per SKU.
type StockReservationLine struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID uuid.UUID `gorm:"column:reservation_id;type:uuid;not null;index"`
	ProductSkuID  uuid.UUID `gorm:"column:product_sku_id;type:uuid;not null"`
	Quantity      int       `gorm:"column:quantity;not null"`
}

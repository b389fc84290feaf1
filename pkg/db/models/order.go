package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bkouassi/marchefrais-backend/pkg/enums"
)

// Order is the settlement aggregate produced by checkout. Rows are never
// deleted; cancelled orders are retained for the audit period.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber   string              `gorm:"column:order_number;not null;unique"`
	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'cash'"`
	Currency      enums.Currency      `gorm:"column:currency;type:text;not null;default:'XOF'"`

	Subtotal    int64 `gorm:"column:subtotal;not null"`
	DeliveryFee int64 `gorm:"column:delivery_fee;not null;default:0"`
	TotalAmount int64 `gorm:"column:total_amount;not null"`
	// EstimatedTotal is the pre-authorization hold. Variable-weight lines
	// are priced with the estimation margin, so it can only shrink once the
	// scale has spoken.
	EstimatedTotal int64  `gorm:"column:estimated_total;not null"`
	FinalTotal     *int64 `gorm:"column:final_total"`

	DeliveryMethod       enums.DeliveryMethod `gorm:"column:delivery_method;type:text;not null"`
	DeliveryAddress      *string              `gorm:"column:delivery_address"`
	DeliveryInstructions *string              `gorm:"column:delivery_instructions"`
	PickupDate           *time.Time           `gorm:"column:pickup_date"`
	PickupSlot           *string              `gorm:"column:pickup_slot"`

	CustomerName  string `gorm:"column:customer_name;not null"`
	CustomerPhone string `gorm:"column:customer_phone;not null"`

	TransactionID *string `gorm:"column:transaction_id;index"`
	PaymentToken  *string `gorm:"column:payment_token"`

	ReservationID *uuid.UUID            `gorm:"column:reservation_id;type:uuid"`
	DeliveryID    *string               `gorm:"column:delivery_id;index"`
	VehicleType   *enums.VehicleType    `gorm:"column:vehicle_type;type:text"`
	CourierStatus *enums.DeliveryStatus `gorm:"column:courier_status;type:text"`

	NeedsReview      bool              `gorm:"column:needs_review;not null;default:false"`
	CancelNote       *string           `gorm:"column:cancel_note"`
	FailedCancelStep *enums.CancelStep `gorm:"column:failed_cancel_step;type:text"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

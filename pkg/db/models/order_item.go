package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem snapshots a catalog line at order time. Fixed items have final
// quantity/price at creation; variable-weight items carry estimates until
// weight reconciliation fills the final columns exactly once.
type OrderItem struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductSkuID uuid.UUID `gorm:"column:product_sku_id;type:uuid;not null"`

	Name      string `gorm:"column:name;not null"`
	SKU       string `gorm:"column:sku;not null"`
	UnitPrice int64  `gorm:"column:unit_price;not null"`

	IsVariableWeight bool `gorm:"column:is_variable_weight;not null;default:false"`

	Quantity int   `gorm:"column:quantity;not null"`
	Price    int64 `gorm:"column:price;not null"`
	Subtotal int64 `gorm:"column:subtotal;not null"`

	EstimatedQuantityKg *decimal.Decimal `gorm:"column:estimated_quantity_kg;type:numeric(10,3)"`
	EstimatedPrice      *int64           `gorm:"column:estimated_price"`
	FinalQuantityKg     *decimal.Decimal `gorm:"column:final_quantity_kg;type:numeric(10,3)"`
	FinalPrice          *int64           `gorm:"column:final_price"`
	WeighedAt           *time.Time       `gorm:"column:weighed_at"`
	ReviewFlag          bool             `gorm:"column:review_flag;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Reconciled reports whether final weight values have been recorded.
func (i OrderItem) Reconciled() bool {
	return i.FinalPrice != nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductSku holds the stock counters the settlement engine owns by contract.
// Catalog metadata (name, pricing) is read-only here. Invariant:
// 0 <= reserved_quantity <= stock_quantity, even under concurrent checkouts.
type ProductSku struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU       string    `gorm:"column:sku;not null;unique"`
	Name      string    `gorm:"column:name;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`

	StockQuantity    int `gorm:"column:stock_quantity;not null;default:0"`
	ReservedQuantity int `gorm:"column:reserved_quantity;not null;default:0"`

	IsVariableWeight bool `gorm:"column:is_variable_weight;not null;default:false"`
	MinWeightGrams   int  `gorm:"column:min_weight_grams;not null;default:0"`
	MaxWeightGrams   int  `gorm:"column:max_weight_grams;not null;default:0"`

	// Version backs the optimistic compare-and-swap path when row locks are
	// disabled (MARCHEFRAIS_STOCK_LOCKING=false).
	Version int64 `gorm:"column:version;not null;default:0"`

	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the quantity still open to new reservations.
func (p ProductSku) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

package weights

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service records actual weights for variable-weight order items. Each item
// is reconciled exactly once; the estimated columns are never rewritten, so
// the customer always sees what they agreed to at checkout next to what the
// scale said.
type Service interface {
	Reconcile(ctx context.Context, orderID, itemID uuid.UUID, grams int) (*models.OrderItem, error)
}

type service struct {
	tx  txRunner
	cfg config.WeightsConfig
}

// NewService builds the weight reconciliation service.
func NewService(tx txRunner, cfg config.WeightsConfig) (Service, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if cfg.EstimationMargin <= 0 {
		cfg.EstimationMargin = 1.2
	}
	if cfg.TolerancePercent <= 0 {
		cfg.TolerancePercent = 20
	}
	return &service{tx: tx, cfg: cfg}, nil
}

func (s *service) Reconcile(ctx context.Context, orderID, itemID uuid.UUID, grams int) (*models.OrderItem, error) {
	if grams <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "measured weight must be positive")
	}

	var item models.OrderItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Where("id = ? AND order_id = ?", itemID, orderID).
			First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
		}

		if !item.IsVariableWeight {
			return pkgerrors.New(pkgerrors.CodeValidation, "item is not sold by weight").
				WithDetails(map[string]any{"item_id": item.ID})
		}
		if item.Reconciled() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item already weighed").
				WithDetails(map[string]any{"item_id": item.ID, "weighed_at": item.WeighedAt})
		}

		var sku models.ProductSku
		if err := tx.WithContext(ctx).
			Where("id = ?", item.ProductSkuID).
			First(&sku).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku bounds")
		}
		if grams < sku.MinWeightGrams || (sku.MaxWeightGrams > 0 && grams > sku.MaxWeightGrams) {
			return pkgerrors.New(pkgerrors.CodeValidation, "weight out of range").
				WithDetails(map[string]any{
					"grams":     grams,
					"min_grams": sku.MinWeightGrams,
					"max_grams": sku.MaxWeightGrams,
				})
		}

		finalKg, finalPrice := FinalPrice(item.UnitPrice, grams)
		flagged := s.exceedsTolerance(item.EstimatedPrice, finalPrice)

		now := time.Now()
		updates := map[string]any{
			"final_quantity_kg": finalKg,
			"final_price":       finalPrice,
			"weighed_at":        now,
			"review_flag":       flagged,
		}
		if err := tx.WithContext(ctx).Model(&models.OrderItem{}).
			Where("id = ?", item.ID).
			Updates(updates).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reconciled weight")
		}
		item.FinalQuantityKg = &finalKg
		item.FinalPrice = &finalPrice
		item.WeighedAt = &now
		item.ReviewFlag = flagged

		if flagged {
			if err := tx.WithContext(ctx).Model(&models.Order{}).
				Where("id = ?", orderID).
				Update("needs_review", true).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag order for review")
			}
		}

		return s.settleOrderTotal(ctx, tx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// exceedsTolerance compares the final price against the checkout estimate.
// An item without an estimate cannot deviate from one, so it is flagged for
// review unconditionally.
func (s *service) exceedsTolerance(estimated *int64, final int64) bool {
	if estimated == nil || *estimated == 0 {
		return true
	}
	deviation := decimal.NewFromInt(final - *estimated).
		Div(decimal.NewFromInt(*estimated)).
		Mul(decimal.NewFromInt(100)).
		Abs()
	return deviation.GreaterThan(decimal.NewFromFloat(s.cfg.TolerancePercent))
}

// settleOrderTotal fills the order's final_total once every variable-weight
// item on it has been weighed.
func (s *service) settleOrderTotal(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	var items []models.OrderItem
	if err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&items).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order items")
	}

	var total int64
	for _, it := range items {
		if !it.IsVariableWeight {
			total += it.Subtotal
			continue
		}
		if !it.Reconciled() {
			return nil
		}
		total += *it.FinalPrice
	}

	var order models.Order
	if err := tx.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for settlement")
	}
	total += order.DeliveryFee

	if err := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("final_total", total).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record final total")
	}
	return nil
}

// EstimatedPrice prices a variable-weight line at checkout: unit price times
// estimated kilograms, inflated by the estimation margin so the payment hold
// covers the usual over-weight case. Rounded to whole francs.
func EstimatedPrice(unitPrice int64, estimatedKg decimal.Decimal, margin float64) int64 {
	return estimatedKg.
		Mul(decimal.NewFromInt(unitPrice)).
		Mul(decimal.NewFromFloat(margin)).
		Round(0).
		IntPart()
}

// EstimatedKg derives the checkout estimate for a SKU from the midpoint of
// its weight bounds, times the ordered count.
func EstimatedKg(sku models.ProductSku, count int) decimal.Decimal {
	mid := decimal.NewFromInt(int64(sku.MinWeightGrams + sku.MaxWeightGrams)).
		Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		mid = decimal.NewFromInt(1000)
	}
	return mid.Mul(decimal.NewFromInt(int64(count))).
		Div(decimal.NewFromInt(1000))
}

// FinalPrice converts a measured weight into the billed quantity and price.
func FinalPrice(unitPrice int64, grams int) (decimal.Decimal, int64) {
	kg := decimal.NewFromInt(int64(grams)).Div(decimal.NewFromInt(1000))
	price := kg.Mul(decimal.NewFromInt(unitPrice)).Round(0).IntPart()
	return kg, price
}

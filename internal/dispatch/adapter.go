package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/courier"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

var thousand = decimal.NewFromInt(1000)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CourierAPI is the outbound dispatch-gateway surface the adapter needs.
type CourierAPI interface {
	CreateDelivery(ctx context.Context, req courier.CreateDeliveryRequest) (*courier.Delivery, error)
	GetDelivery(ctx context.Context, deliveryID string) (*courier.Delivery, error)
	CancelDelivery(ctx context.Context, deliveryID, reason string) (*courier.Delivery, error)
}

// Adapter submits courier jobs for delivery orders and keeps the order's
// courier status in sync with the gateway.
type Adapter interface {
	// CreateDelivery submits the courier job for a delivery order. Calling
	// it again for an order that already has a job returns the recorded job.
	CreateDelivery(ctx context.Context, orderID uuid.UUID) (*courier.Delivery, error)
	// Track fetches the live job state from the gateway.
	Track(ctx context.Context, deliveryID string) (*courier.Delivery, error)
	// Cancel aborts the courier job. Cancelling an already cancelled job is
	// a no-op.
	Cancel(ctx context.Context, deliveryID, reason string) error
	// HandleStatusUpdate applies a verified courier webhook. Duplicates and
	// out-of-order updates are ignored.
	HandleStatusUpdate(ctx context.Context, update StatusUpdate) error
}

// StatusUpdate is a courier webhook payload after signature verification.
type StatusUpdate struct {
	DeliveryID  string               `json:"delivery_id" validate:"required"`
	Status      enums.DeliveryStatus `json:"status" validate:"required"`
	DriverName  string               `json:"driver_name"`
	DriverPhone string               `json:"driver_phone"`
}

type adapter struct {
	tx   txRunner
	api  CourierAPI
	cfg  config.DispatchConfig
	logg *logger.Logger
}

// NewAdapter builds the dispatch adapter.
func NewAdapter(tx txRunner, api CourierAPI, cfg config.DispatchConfig, logg *logger.Logger) (Adapter, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &adapter{tx: tx, api: api, cfg: cfg, logg: logg}, nil
}

func (a *adapter) CreateDelivery(ctx context.Context, orderID uuid.UUID) (*courier.Delivery, error) {
	var order models.Order
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Preload("Items").Where("id = ?", orderID).First(&order).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for dispatch")
	}
	if order.DeliveryMethod != enums.DeliveryMethodDelivery {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pickup orders are not dispatched")
	}
	if order.DeliveryID != nil && *order.DeliveryID != "" {
		return a.Track(ctx, *order.DeliveryID)
	}
	if order.DeliveryAddress == nil || strings.TrimSpace(*order.DeliveryAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery order has no address")
	}
	if a.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway not configured")
	}

	phone, err := NormalizePhone(order.CustomerPhone)
	if err != nil {
		return nil, err
	}

	totalGrams, itemCount := loadOf(order.Items)
	vehicle := SelectVehicle(totalGrams, itemCount)

	req := courier.CreateDeliveryRequest{
		Reference: order.OrderNumber,
		Pickup: courier.Contact{
			Name:    a.cfg.PickupName,
			Phone:   a.cfg.PickupPhone,
			Address: a.cfg.PickupAddress,
		},
		Dropoff: courier.Contact{
			Name:    order.CustomerName,
			Phone:   phone,
			Address: *order.DeliveryAddress,
			Notes:   derefString(order.DeliveryInstructions),
		},
		Items:       courierItems(order.Items),
		VehicleType: vehicle,
	}

	delivery, err := a.api.CreateDelivery(ctx, req)
	if err != nil {
		return nil, err
	}

	status := delivery.Status
	if status == "" {
		status = enums.DeliveryStatusPending
	}
	err = a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{
				"delivery_id":    delivery.ID,
				"vehicle_type":   vehicle,
				"courier_status": status,
			}).Error
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record courier job")
	}

	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"order_number": order.OrderNumber,
		"delivery_id":  delivery.ID,
		"vehicle_type": vehicle,
	}), "courier job created")
	return delivery, nil
}

func (a *adapter) Track(ctx context.Context, deliveryID string) (*courier.Delivery, error) {
	if a.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway not configured")
	}
	return a.api.GetDelivery(ctx, deliveryID)
}

func (a *adapter) Cancel(ctx context.Context, deliveryID, reason string) error {
	if a.api == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway not configured")
	}
	delivery, err := a.api.CancelDelivery(ctx, deliveryID, reason)
	if err != nil {
		return err
	}
	return a.applyStatus(ctx, deliveryID, delivery.Status)
}

func (a *adapter) HandleStatusUpdate(ctx context.Context, update StatusUpdate) error {
	if strings.TrimSpace(update.DeliveryID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "status update requires delivery_id")
	}
	if _, known := statusRank[update.Status]; !known {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery status").
			WithDetails(map[string]any{"status": update.Status})
	}
	return a.applyStatus(ctx, update.DeliveryID, update.Status)
}

// statusRank orders the courier lifecycle so late or duplicate webhooks
// cannot move a job backwards. Cancelled is terminal.
var statusRank = map[enums.DeliveryStatus]int{
	enums.DeliveryStatusPending:   0,
	enums.DeliveryStatusAssigned:  1,
	enums.DeliveryStatusPickedUp:  2,
	enums.DeliveryStatusDelivered: 3,
	enums.DeliveryStatusCancelled: 4,
}

func (a *adapter) applyStatus(ctx context.Context, deliveryID string, status enums.DeliveryStatus) error {
	return a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var order models.Order
		err := tx.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no order for courier job").
					WithDetails(map[string]any{"delivery_id": deliveryID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for courier update")
		}

		if order.CourierStatus != nil {
			current := *order.CourierStatus
			if current == status {
				return nil
			}
			if current == enums.DeliveryStatusCancelled || current == enums.DeliveryStatusDelivered {
				a.logg.Info(a.logg.WithField(ctx, "delivery_id", deliveryID), "courier update after terminal status ignored")
				return nil
			}
			if statusRank[status] < statusRank[current] {
				a.logg.Info(a.logg.WithField(ctx, "delivery_id", deliveryID), "out-of-order courier update ignored")
				return nil
			}
		}

		if err := tx.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("courier_status", status).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update courier status")
		}
		return nil
	})
}

func courierItems(items []models.OrderItem) []courier.Item {
	out := make([]courier.Item, 0, len(items))
	for _, item := range items {
		grams := 0
		if item.IsVariableWeight {
			qty := item.EstimatedQuantityKg
			if item.FinalQuantityKg != nil {
				qty = item.FinalQuantityKg
			}
			if qty != nil {
				grams = int(qty.Mul(thousand).IntPart())
			}
		}
		price := item.Subtotal
		if item.FinalPrice != nil {
			price = *item.FinalPrice
		}
		out = append(out, courier.Item{
			Name:        item.Name,
			WeightGrams: grams,
			Quantity:    item.Quantity,
			Price:       price,
		})
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

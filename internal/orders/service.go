package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/internal/dispatch"
	"github.com/bkouassi/marchefrais-backend/internal/stock"
	"github.com/bkouassi/marchefrais-backend/internal/weights"
	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/courier"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockManager interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []stock.Line) (*models.StockReservation, error)
	Release(ctx context.Context, reservationID uuid.UUID) error
	Commit(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error
}

type feeQuoter interface {
	Quote(ctx context.Context, address string, orderAmount int64) int64
}

type paymentOrchestrator interface {
	Authorize(ctx context.Context, orderID uuid.UUID) error
	Capture(ctx context.Context, orderID uuid.UUID, amount int64) error
	Revert(ctx context.Context, orderID uuid.UUID) error
	ConfirmCash(ctx context.Context, orderID uuid.UUID) error
}

type dispatcher interface {
	CreateDelivery(ctx context.Context, orderID uuid.UUID) (*courier.Delivery, error)
	Cancel(ctx context.Context, deliveryID, reason string) error
}

// CheckoutLine is one cart entry keyed by catalog SKU.
type CheckoutLine struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// CheckoutInput is everything needed to place an order.
type CheckoutInput struct {
	CustomerName  string              `json:"customer_name" validate:"required"`
	CustomerPhone string              `json:"customer_phone" validate:"required"`
	PaymentMethod enums.PaymentMethod `json:"payment_method" validate:"required,oneof=card mobile_money cash"`
	PaymentToken  string              `json:"payment_token"`

	DeliveryMethod       enums.DeliveryMethod `json:"delivery_method" validate:"required,oneof=pickup delivery"`
	DeliveryAddress      string               `json:"delivery_address"`
	DeliveryInstructions string               `json:"delivery_instructions"`
	PickupDate           *time.Time           `json:"pickup_date"`
	PickupSlot           string               `json:"pickup_slot"`

	Lines []CheckoutLine `json:"lines" validate:"required,min=1,dive"`
}

// Service is the order state machine. All writes to an order's status go
// through it.
type Service interface {
	// Checkout validates the cart, prices it, reserves stock and persists
	// the order atomically. Any stock shortage aborts the whole order.
	Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error)
	// Get fetches an order with its items by order number.
	Get(ctx context.Context, orderNumber string) (*models.Order, error)
	// List pages through orders, newest first.
	List(ctx context.Context, filter ListFilter) ([]models.Order, string, error)
	// UpdateStatus advances the order along pending → confirmed →
	// processing → ready → completed, running the side effects each
	// transition owns. Cancellation goes through Cancel, never here.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error)
	// ConfirmCashPayment marks a cash order paid on operator confirmation.
	ConfirmCashPayment(ctx context.Context, orderID uuid.UUID) error
	// Cancel runs the compensation saga: release stock, revert payment,
	// cancel the courier job. A failing step parks the order in cancelling
	// with the step recorded for ResumeCancel.
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) error
	// ResumeCancel re-drives a parked cancellation from the failed step.
	ResumeCancel(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo     *Repository
	tx       txRunner
	stock    stockManager
	fees     feeQuoter
	payments paymentOrchestrator
	courier  dispatcher
	numbers  *numberGenerator
	margin   float64
	logg     *logger.Logger
}

// NewService wires the order state machine.
func NewService(
	repo *Repository,
	tx txRunner,
	stockMgr stockManager,
	fees feeQuoter,
	payments paymentOrchestrator,
	courierAdapter dispatcher,
	counters counterStore,
	weightsCfg config.WeightsConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil || tx == nil {
		return nil, errors.New("repository and transaction runner required")
	}
	if stockMgr == nil {
		return nil, errors.New("stock manager required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	margin := weightsCfg.EstimationMargin
	if margin <= 0 {
		margin = 1.2
	}
	return &service{
		repo:     repo,
		tx:       tx,
		stock:    stockMgr,
		fees:     fees,
		payments: payments,
		courier:  courierAdapter,
		numbers:  newNumberGenerator(counters),
		margin:   margin,
		logg:     logg,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if err := validateCheckout(input); err != nil {
		return nil, err
	}

	phone, err := dispatch.NormalizePhone(input.CustomerPhone)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(input.Lines))
	for _, line := range input.Lines {
		codes = append(codes, line.SKU)
	}
	skus, err := s.repo.SkusByCode(ctx, codes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog snapshot")
	}

	items, subtotal, err := s.priceLines(input.Lines, skus)
	if err != nil {
		return nil, err
	}

	var deliveryFee int64
	if input.DeliveryMethod == enums.DeliveryMethodDelivery && s.fees != nil {
		deliveryFee = s.fees.Quote(ctx, input.DeliveryAddress, subtotal)
	}

	orderNumber, err := s.numbers.Next(ctx, time.Now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
	}

	order := &models.Order{
		ID:             uuid.New(),
		OrderNumber:    orderNumber,
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
		PaymentMethod:  input.PaymentMethod,
		Currency:       enums.CurrencyXOF,
		Subtotal:       subtotal,
		DeliveryFee:    deliveryFee,
		TotalAmount:    subtotal + deliveryFee,
		EstimatedTotal: subtotal + deliveryFee,
		DeliveryMethod: input.DeliveryMethod,
		CustomerName:   strings.TrimSpace(input.CustomerName),
		CustomerPhone:  phone,
	}
	if input.DeliveryMethod == enums.DeliveryMethodDelivery {
		address := strings.TrimSpace(input.DeliveryAddress)
		order.DeliveryAddress = &address
		if instructions := strings.TrimSpace(input.DeliveryInstructions); instructions != "" {
			order.DeliveryInstructions = &instructions
		}
	} else {
		order.PickupDate = input.PickupDate
		slot := strings.TrimSpace(input.PickupSlot)
		order.PickupSlot = &slot
	}
	if token := strings.TrimSpace(input.PaymentToken); token != "" {
		order.PaymentToken = &token
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	order.Items = items

	reserveLines := make([]stock.Line, 0, len(input.Lines))
	for _, line := range input.Lines {
		reserveLines = append(reserveLines, stock.Line{
			ProductSkuID: skus[line.SKU].ID,
			Quantity:     line.Quantity,
		})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reservation, err := s.stock.Reserve(ctx, tx, order.ID, reserveLines)
		if err != nil {
			return err
		}
		order.ReservationID = &reservation.ID
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderNumber(ctx, order.OrderNumber), "order placed")
	return order, nil
}

// priceLines snapshots the catalog into order items. Variable-weight lines
// are priced at the margin-inflated estimate; the scale settles them later.
func (s *service) priceLines(lines []CheckoutLine, skus map[string]models.ProductSku) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(lines))
	var subtotal int64

	for _, line := range lines {
		sku, ok := skus[line.SKU]
		if !ok {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown sku in cart").
				WithDetails(map[string]any{"sku": line.SKU})
		}

		item := models.OrderItem{
			ID:               uuid.New(),
			ProductSkuID:     sku.ID,
			Name:             sku.Name,
			SKU:              sku.SKU,
			UnitPrice:        sku.UnitPrice,
			IsVariableWeight: sku.IsVariableWeight,
			Quantity:         line.Quantity,
		}

		if sku.IsVariableWeight {
			estKg := weights.EstimatedKg(sku, line.Quantity)
			estPrice := weights.EstimatedPrice(sku.UnitPrice, estKg, s.margin)
			item.EstimatedQuantityKg = &estKg
			item.EstimatedPrice = &estPrice
			item.Price = estPrice
			item.Subtotal = estPrice
		} else {
			item.Price = sku.UnitPrice
			item.Subtotal = sku.UnitPrice * int64(line.Quantity)
		}

		subtotal += item.Subtotal
		items = append(items, item)
	}
	return items, subtotal, nil
}

func validateCheckout(input CheckoutInput) error {
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for _, line := range input.Lines {
		if strings.TrimSpace(line.SKU) == "" || line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart lines need a sku and a positive quantity")
		}
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	switch input.DeliveryMethod {
	case enums.DeliveryMethodDelivery:
		if strings.TrimSpace(input.DeliveryAddress) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "delivery orders need an address")
		}
	case enums.DeliveryMethodPickup:
		if input.PickupDate == nil || strings.TrimSpace(input.PickupSlot) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "pickup orders need a date and slot")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery method")
	}
	if input.PaymentMethod.RequiresGateway() && strings.TrimSpace(input.PaymentToken) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway payments need a payment token")
	}
	return nil
}

func (s *service) Get(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.repo.GetByNumber(ctx, orderNumber)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.Order, string, error) {
	rows, next, err := s.repo.List(ctx, filter)
	if err != nil {
		var typed *pkgerrors.Error
		if errors.As(err, &typed) {
			return nil, "", err
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, next, nil
}

// nextStatus maps each non-terminal status to its only forward transition.
var nextStatus = map[enums.OrderStatus]enums.OrderStatus{
	enums.OrderStatusPending:    enums.OrderStatusConfirmed,
	enums.OrderStatusConfirmed:  enums.OrderStatusProcessing,
	enums.OrderStatusProcessing: enums.OrderStatusReady,
	enums.OrderStatusReady:      enums.OrderStatusCompleted,
}

func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if next == enums.OrderStatusCancelled || next == enums.OrderStatusCancelling {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancellation must go through the cancel operation")
	}
	if nextStatus[order.Status] != next {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "status transition disallowed").
			WithDetails(map[string]any{"from": order.Status, "to": next})
	}

	switch next {
	case enums.OrderStatusConfirmed:
		if err := s.confirm(ctx, order); err != nil {
			return nil, err
		}
	case enums.OrderStatusCompleted:
		if err := s.complete(ctx, order); err != nil {
			return nil, err
		}
	default:
		if err := s.repo.Update(ctx, order.ID, map[string]any{"status": next}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
	}

	return s.load(ctx, orderID)
}

// confirm authorizes the payment and, for delivery orders, books the courier.
// A down dispatch gateway must not lose an authorized order: the confirmed
// status sticks, and the booking failure is returned as a retryable
// dependency error so the caller re-drives the confirmation.
func (s *service) confirm(ctx context.Context, order *models.Order) error {
	if s.payments != nil {
		if err := s.payments.Authorize(ctx, order.ID); err != nil {
			return err
		}
	}

	now := time.Now()
	if err := s.repo.Update(ctx, order.ID, map[string]any{
		"status":       enums.OrderStatusConfirmed,
		"confirmed_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
	}

	if order.DeliveryMethod == enums.DeliveryMethodDelivery && s.courier != nil {
		if _, err := s.courier.CreateDelivery(ctx, order.ID); err != nil {
			s.logg.Error(s.logg.WithOrderNumber(ctx, order.OrderNumber), "courier booking failed", err)
			if pkgErr := pkgerrors.As(err); pkgErr != nil {
				return pkgErr
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "book courier").
				WithDetails(map[string]any{"order_number": order.OrderNumber})
		}
	}
	return nil
}

// complete is the settlement step: every scale item must be weighed, an
// authorized hold is captured for the settled amount, and the reservation is
// consumed in the same transaction that flips the status.
func (s *service) complete(ctx context.Context, order *models.Order) error {
	for _, item := range order.Items {
		if item.IsVariableWeight && !item.Reconciled() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "unweighed items remain").
				WithDetails(map[string]any{"item_id": item.ID, "sku": item.SKU})
		}
	}

	if order.PaymentStatus == enums.PaymentStatusAuthorized && s.payments != nil {
		amount := order.EstimatedTotal
		if order.FinalTotal != nil {
			amount = *order.FinalTotal
		}
		if err := s.payments.Capture(ctx, order.ID, amount); err != nil {
			return err
		}
		reloaded, err := s.load(ctx, order.ID)
		if err != nil {
			return err
		}
		order = reloaded
	}

	if order.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if order.ReservationID != nil {
			if err := s.stock.Commit(ctx, tx, *order.ReservationID); err != nil {
				return err
			}
		}
		now := time.Now()
		if err := s.repo.WithTx(tx).Update(ctx, order.ID, map[string]any{
			"status":       enums.OrderStatusCompleted,
			"completed_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
		}
		return nil
	})
}

func (s *service) ConfirmCashPayment(ctx context.Context, orderID uuid.UUID) error {
	if s.payments == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "payment orchestrator not configured")
	}
	return s.payments.ConfirmCash(ctx, orderID)
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

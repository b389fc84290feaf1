package orders

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/internal/stock"
	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/courier"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/pagination"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// stubPayments projects a successful capture onto the order the way the
// real orchestrator does, so completion sees the payment land.
type stubPayments struct {
	db           *gorm.DB
	authorizeErr error
	captureErr   error
	revertErr    error
	calls        []string
	captured     []int64
}

func (s *stubPayments) Authorize(_ context.Context, _ uuid.UUID) error {
	s.calls = append(s.calls, "authorize")
	return s.authorizeErr
}

func (s *stubPayments) Capture(_ context.Context, orderID uuid.UUID, amount int64) error {
	s.calls = append(s.calls, "capture")
	if s.captureErr != nil {
		return s.captureErr
	}
	s.captured = append(s.captured, amount)
	return s.db.Model(&models.Order{}).Where("id = ?", orderID).
		Update("payment_status", enums.PaymentStatusPaid).Error
}

func (s *stubPayments) Revert(_ context.Context, _ uuid.UUID) error {
	s.calls = append(s.calls, "revert")
	return s.revertErr
}

func (s *stubPayments) ConfirmCash(_ context.Context, _ uuid.UUID) error {
	s.calls = append(s.calls, "confirm_cash")
	return nil
}

func (s *stubPayments) count(name string) int {
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

// stubDispatcher records the courier job on the order the way the real
// adapter does, so the cancel saga sees a delivery to abort.
type stubDispatcher struct {
	db        *gorm.DB
	createErr error
	cancelErr error
	created   int
	cancelled []string
}

func (s *stubDispatcher) CreateDelivery(_ context.Context, orderID uuid.UUID) (*courier.Delivery, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created++
	deliveryID := fmt.Sprintf("DLV-%d", s.created)
	if err := s.db.Model(&models.Order{}).Where("id = ?", orderID).
		Updates(map[string]any{"delivery_id": deliveryID, "courier_status": enums.DeliveryStatusPending}).Error; err != nil {
		return nil, err
	}
	return &courier.Delivery{ID: deliveryID, Status: enums.DeliveryStatusPending}, nil
}

func (s *stubDispatcher) Cancel(_ context.Context, deliveryID, _ string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, deliveryID)
	return nil
}

type stubFeeQuoter struct {
	fee int64
}

func (s stubFeeQuoter) Quote(_ context.Context, _ string, _ int64) int64 {
	return s.fee
}

type stubCounter struct {
	mu   sync.Mutex
	vals map[string]int64
}

func newStubCounter() *stubCounter {
	return &stubCounter{vals: map[string]int64{}}
}

func (s *stubCounter) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key]++
	return s.vals[key], nil
}

func (s *stubCounter) CounterKey(name string) string {
	return "test:counter:" + name
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS product_skus (
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  unit_price INTEGER NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0,
  reserved_quantity INTEGER NOT NULL DEFAULT 0,
  is_variable_weight INTEGER NOT NULL DEFAULT 0,
  min_weight_grams INTEGER NOT NULL DEFAULT 0,
  max_weight_grams INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS stock_reservations (
  id TEXT PRIMARY KEY,
  order_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS stock_reservation_lines (
  id TEXT PRIMARY KEY,
  reservation_id TEXT NOT NULL,
  product_sku_id TEXT NOT NULL,
  quantity INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  payment_method TEXT NOT NULL DEFAULT 'cash',
  currency TEXT NOT NULL DEFAULT 'XOF',
  subtotal INTEGER NOT NULL,
  delivery_fee INTEGER NOT NULL DEFAULT 0,
  total_amount INTEGER NOT NULL,
  estimated_total INTEGER NOT NULL,
  final_total INTEGER,
  delivery_method TEXT NOT NULL,
  delivery_address TEXT,
  delivery_instructions TEXT,
  pickup_date DATETIME,
  pickup_slot TEXT,
  customer_name TEXT NOT NULL,
  customer_phone TEXT NOT NULL,
  transaction_id TEXT,
  payment_token TEXT,
  reservation_id TEXT,
  delivery_id TEXT,
  vehicle_type TEXT,
  courier_status TEXT,
  needs_review INTEGER NOT NULL DEFAULT 0,
  cancel_note TEXT,
  failed_cancel_step TEXT,
  confirmed_at DATETIME,
  completed_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_sku_id TEXT NOT NULL,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  unit_price INTEGER NOT NULL,
  is_variable_weight INTEGER NOT NULL DEFAULT 0,
  quantity INTEGER NOT NULL,
  price INTEGER NOT NULL,
  subtotal INTEGER NOT NULL,
  estimated_quantity_kg NUMERIC,
  estimated_price INTEGER,
  final_quantity_kg NUMERIC,
  final_price INTEGER,
  weighed_at DATETIME,
  review_flag INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "orders-test", Level: zerolog.Disabled, Output: io.Discard})
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	payments *stubPayments
	courier  *stubDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	runner := gormTxRunner{db: db}

	stockMgr, err := stock.NewManager(runner, config.StockConfig{
		ReserveDuration: 30 * time.Minute,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		RowLocking:      false,
	})
	require.NoError(t, err)

	payments := &stubPayments{db: db}
	courierStub := &stubDispatcher{db: db}
	svc, err := NewService(
		NewRepository(db),
		runner,
		stockMgr,
		stubFeeQuoter{fee: 1000},
		payments,
		courierStub,
		newStubCounter(),
		config.WeightsConfig{EstimationMargin: 1.2, TolerancePercent: 20},
		testLogger(),
	)
	require.NoError(t, err)

	return &fixture{db: db, svc: svc, payments: payments, courier: courierStub}
}

func (f *fixture) seedSKU(t *testing.T, code string, unitPrice int64, stockQty int, variable bool) models.ProductSku {
	t.Helper()
	sku := models.ProductSku{
		ID:               uuid.New(),
		SKU:              code,
		Name:             "Produit " + code,
		UnitPrice:        unitPrice,
		StockQuantity:    stockQty,
		IsVariableWeight: variable,
	}
	if variable {
		sku.MinWeightGrams = 800
		sku.MaxWeightGrams = 1200
	}
	require.NoError(t, f.db.Create(&sku).Error)
	return sku
}

func deliveryInput(lines ...CheckoutLine) CheckoutInput {
	return CheckoutInput{
		CustomerName:    "Awa Koné",
		CustomerPhone:   "07 01 02 03 04",
		PaymentMethod:   enums.PaymentMethodCard,
		PaymentToken:    "tok_test",
		DeliveryMethod:  enums.DeliveryMethodDelivery,
		DeliveryAddress: "Riviera Palmeraie, Cocody",
		Lines:           lines,
	}
}

var orderNumberPattern = regexp.MustCompile(`^MF-\d{8}-\d{6}$`)

func TestCheckoutCreatesOrderAndReservation(t *testing.T) {
	f := newFixture(t)
	fixed := f.seedSKU(t, "WATER-15L", 500, 20, false)
	variable := f.seedSKU(t, "BEEF-KG", 2000, 10, true)

	order, err := f.svc.Checkout(context.Background(), deliveryInput(
		CheckoutLine{SKU: fixed.SKU, Quantity: 2},
		CheckoutLine{SKU: variable.SKU, Quantity: 1},
	))
	require.NoError(t, err)

	assert.Regexp(t, orderNumberPattern, order.OrderNumber)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "+2250701020304", order.CustomerPhone)

	// 2 × 500 fixed, plus 1kg of beef estimated at 2000 × 1.2.
	assert.Equal(t, int64(1000+2400), order.Subtotal)
	assert.Equal(t, int64(1000), order.DeliveryFee)
	assert.Equal(t, int64(4400), order.TotalAmount)
	assert.Equal(t, order.TotalAmount, order.EstimatedTotal)
	require.Len(t, order.Items, 2)

	require.NotNil(t, order.ReservationID)
	var reservation models.StockReservation
	require.NoError(t, f.db.Preload("Lines").First(&reservation, "id = ?", order.ReservationID).Error)
	assert.Equal(t, enums.ReservationStatusActive, reservation.Status)
	assert.Len(t, reservation.Lines, 2)

	var sku models.ProductSku
	require.NoError(t, f.db.First(&sku, "id = ?", fixed.ID).Error)
	assert.Equal(t, 2, sku.ReservedQuantity)
}

func TestCheckoutInsufficientStockAbortsEverything(t *testing.T) {
	f := newFixture(t)
	plenty := f.seedSKU(t, "WATER-15L", 500, 20, false)
	scarce := f.seedSKU(t, "BEEF-KG", 2000, 1, true)

	_, err := f.svc.Checkout(context.Background(), deliveryInput(
		CheckoutLine{SKU: plenty.SKU, Quantity: 2},
		CheckoutLine{SKU: scarce.SKU, Quantity: 5},
	))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "err=%v", err)

	var orderCount, reservationCount int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orderCount).Error)
	require.NoError(t, f.db.Model(&models.StockReservation{}).Count(&reservationCount).Error)
	assert.Zero(t, orderCount, "a failed reservation must not leave an order behind")
	assert.Zero(t, reservationCount)

	var sku models.ProductSku
	require.NoError(t, f.db.First(&sku, "id = ?", plenty.ID).Error)
	assert.Zero(t, sku.ReservedQuantity, "the other line's hold must be rolled back")
}

func TestCheckoutUnknownSKU(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), deliveryInput(CheckoutLine{SKU: "GHOST", Quantity: 1}))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "err=%v", err)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	sku := f.seedSKU(t, "WATER-15L", 500, 20, false)
	line := CheckoutLine{SKU: sku.SKU, Quantity: 1}

	noAddress := deliveryInput(line)
	noAddress.DeliveryAddress = ""

	noToken := deliveryInput(line)
	noToken.PaymentToken = ""

	pickupNoSlot := deliveryInput(line)
	pickupNoSlot.DeliveryMethod = enums.DeliveryMethodPickup

	for name, input := range map[string]CheckoutInput{
		"empty cart":            deliveryInput(),
		"no delivery address":   noAddress,
		"card without token":    noToken,
		"pickup without a slot": pickupNoSlot,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "err=%v", err)
		})
	}
}

func TestCheckoutPickupSkipsDeliveryFee(t *testing.T) {
	f := newFixture(t)
	sku := f.seedSKU(t, "WATER-15L", 500, 20, false)

	date := time.Now().Add(24 * time.Hour)
	input := deliveryInput(CheckoutLine{SKU: sku.SKU, Quantity: 1})
	input.DeliveryMethod = enums.DeliveryMethodPickup
	input.DeliveryAddress = ""
	input.PickupDate = &date
	input.PickupSlot = "10h-12h"

	order, err := f.svc.Checkout(context.Background(), input)
	require.NoError(t, err)
	assert.Zero(t, order.DeliveryFee)
	assert.Equal(t, int64(500), order.TotalAmount)
}

func checkout(t *testing.T, f *fixture) *models.Order {
	t.Helper()
	fixed := f.seedSKU(t, "SKU-"+uuid.NewString()[:8], 500, 20, false)
	order, err := f.svc.Checkout(context.Background(), deliveryInput(CheckoutLine{SKU: fixed.SKU, Quantity: 2}))
	require.NoError(t, err)
	return order
}

func TestConfirmAuthorizesAndBooksCourier(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)

	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusConfirmed)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)
	assert.Equal(t, 1, f.payments.count("authorize"))
	assert.Equal(t, 1, f.courier.created)
}

func TestConfirmFailedAuthorizationKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	f.payments.authorizeErr = pkgerrors.New(pkgerrors.CodeDependency, "authorization declined")

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusConfirmed)
	require.Error(t, err)

	current, err := f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, current.Status)
	assert.Zero(t, f.courier.created, "no courier job without an authorization")
}

func TestConfirmSurfacesCourierFailureButKeepsConfirmation(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	f.courier.createErr = pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway down")

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusConfirmed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "err=%v", err)

	current, getErr := f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, getErr)
	assert.Equal(t, enums.OrderStatusConfirmed, current.Status, "a failed booking must not lose the authorized order")
	assert.Equal(t, 1, f.payments.count("authorize"))
	assert.Empty(t, current.DeliveryID)
}

func TestUpdateStatusRejectsSkippedSteps(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusReady)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "err=%v", err)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCancelled)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "cancel through UpdateStatus must be refused")
}

func advanceTo(t *testing.T, f *fixture, orderID uuid.UUID, target enums.OrderStatus) {
	t.Helper()
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusConfirmed,
		enums.OrderStatusProcessing,
		enums.OrderStatusReady,
	} {
		_, err := f.svc.UpdateStatus(context.Background(), orderID, status)
		require.NoError(t, err)
		if status == target {
			return
		}
	}
}

func TestCompleteRequiresPayment(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	advanceTo(t, f, order.ID, enums.OrderStatusReady)

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "err=%v", err)
}

func TestCompleteRequiresReconciledWeights(t *testing.T) {
	f := newFixture(t)
	variable := f.seedSKU(t, "BEEF-KG", 2000, 10, true)
	order, err := f.svc.Checkout(context.Background(), deliveryInput(CheckoutLine{SKU: variable.SKU, Quantity: 1}))
	require.NoError(t, err)
	advanceTo(t, f, order.ID, enums.OrderStatusReady)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", enums.PaymentStatusPaid).Error)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unweighed item must block completion: %v", err)

	now := time.Now()
	require.NoError(t, f.db.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).
		Updates(map[string]any{"final_price": 2100, "weighed_at": now}).Error)

	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)

	var reservation models.StockReservation
	require.NoError(t, f.db.First(&reservation, "id = ?", order.ReservationID).Error)
	assert.Equal(t, enums.ReservationStatusCommitted, reservation.Status)

	var sku models.ProductSku
	require.NoError(t, f.db.First(&sku, "id = ?", variable.ID).Error)
	assert.Equal(t, 9, sku.StockQuantity, "completion must consume the hold")
	assert.Zero(t, sku.ReservedQuantity)
}

func TestCompleteCapturesAuthorizedHoldForFinalTotal(t *testing.T) {
	f := newFixture(t)
	variable := f.seedSKU(t, "LAMB-KG", 3000, 10, true)
	order, err := f.svc.Checkout(context.Background(), deliveryInput(CheckoutLine{SKU: variable.SKU, Quantity: 1}))
	require.NoError(t, err)
	advanceTo(t, f, order.ID, enums.OrderStatusReady)

	now := time.Now()
	require.NoError(t, f.db.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).
		Updates(map[string]any{"final_price": 3150, "weighed_at": now}).Error)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusAuthorized,
			"transaction_id": "TXN-COMPLETE",
			"final_total":    4150,
		}).Error)

	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, updated.Status)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, 1, f.payments.count("capture"))
	require.Len(t, f.payments.captured, 1)
	assert.Equal(t, int64(4150), f.payments.captured[0], "capture must settle the weighed total, not the estimate")
}

func TestCompleteCaptureFailureLeavesOrderReady(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	advanceTo(t, f, order.ID, enums.OrderStatusReady)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusAuthorized,
			"transaction_id": "TXN-DOWN",
		}).Error)
	f.payments.captureErr = pkgerrors.New(pkgerrors.CodeDependency, "gateway unreachable")

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "err=%v", err)

	current, err := f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReady, current.Status, "a failed capture must not complete the order")
	assert.Equal(t, enums.PaymentStatusAuthorized, current.PaymentStatus)
}

func TestCancelSagaReleasesEverything(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	advanceTo(t, f, order.ID, enums.OrderStatusConfirmed)

	require.NoError(t, f.svc.Cancel(context.Background(), order.ID, "customer changed their mind"))

	current, err := f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, current.Status)
	assert.NotNil(t, current.CancelledAt)
	assert.Nil(t, current.FailedCancelStep)
	require.NotNil(t, current.CancelNote)
	assert.Equal(t, "customer changed their mind", *current.CancelNote)

	var reservation models.StockReservation
	require.NoError(t, f.db.First(&reservation, "id = ?", order.ReservationID).Error)
	assert.Equal(t, enums.ReservationStatusReleased, reservation.Status)

	assert.Equal(t, 1, f.payments.count("revert"))
	assert.Len(t, f.courier.cancelled, 1)

	require.NoError(t, f.svc.Cancel(context.Background(), order.ID, "again"), "cancelling a cancelled order is a no-op")
	assert.Equal(t, 1, f.payments.count("revert"))
}

func TestCancelParksOnCourierFailureAndResumes(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	advanceTo(t, f, order.ID, enums.OrderStatusConfirmed)
	f.courier.cancelErr = pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway down")

	err := f.svc.Cancel(context.Background(), order.ID, "out of stock at depot")
	require.Error(t, err)

	current, err := f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelling, current.Status, "a failed step parks the order")
	require.NotNil(t, current.FailedCancelStep)
	assert.Equal(t, enums.CancelStepCancelDelivery, *current.FailedCancelStep)

	var reservation models.StockReservation
	require.NoError(t, f.db.First(&reservation, "id = ?", order.ReservationID).Error)
	assert.Equal(t, enums.ReservationStatusReleased, reservation.Status, "earlier steps stay done")

	err = f.svc.Cancel(context.Background(), order.ID, "again")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "a parked order requires resume")

	f.courier.cancelErr = nil
	require.NoError(t, f.svc.ResumeCancel(context.Background(), order.ID))

	current, err = f.svc.Get(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, current.Status)
	assert.Nil(t, current.FailedCancelStep)
	assert.Equal(t, 1, f.payments.count("revert"), "resume must restart at the failed step, not the top")
}

func TestCancelCompletedOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := checkout(t, f)
	advanceTo(t, f, order.ID, enums.OrderStatusReady)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", enums.PaymentStatusPaid).Error)
	_, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCompleted)
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), order.ID, "too late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "err=%v", err)
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		checkout(t, f)
		time.Sleep(2 * time.Millisecond)
	}

	page1, cursor, err := f.svc.List(context.Background(), ListFilter{Page: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, cursor2, err := f.svc.List(context.Background(), ListFilter{Page: pagination.Params{Limit: 2, Cursor: cursor}})
	require.NoError(t, err)
	assert.Len(t, page2, 1)
	assert.Empty(t, cursor2)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(page1, page2...) {
		assert.False(t, seen[o.ID], "orders must not repeat across pages")
		seen[o.ID] = true
	}
}

func TestListStatusFilter(t *testing.T) {
	f := newFixture(t)
	first := checkout(t, f)
	checkout(t, f)
	advanceTo(t, f, first.ID, enums.OrderStatusConfirmed)

	rows, _, err := f.svc.List(context.Background(), ListFilter{
		Status: string(enums.OrderStatusConfirmed),
		Page:   pagination.Params{Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, rows[0].ID)
}

func TestOrderNumbersAreSequentialPerDay(t *testing.T) {
	gen := newNumberGenerator(newStubCounter())
	ctx := context.Background()
	day := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	first, err := gen.Next(ctx, day)
	require.NoError(t, err)
	second, err := gen.Next(ctx, day)
	require.NoError(t, err)

	assert.Equal(t, "MF-20260830-000001", first)
	assert.Equal(t, "MF-20260830-000002", second)
}

func TestOrderNumbersFallBackWithoutCounter(t *testing.T) {
	gen := newNumberGenerator(nil)
	got, err := gen.Next(context.Background(), time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, got)
}

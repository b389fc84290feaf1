package weights

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:weights_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func testConfig() config.WeightsConfig {
	return config.WeightsConfig{EstimationMargin: 1.2, TolerancePercent: 20}
}

type seed struct {
	order models.Order
	item  models.OrderItem
	sku   models.ProductSku
}

// seedWeighableOrder creates an order holding one variable-weight line:
// roughly a kilo of beef at 2000 XOF/kg, estimated at 2400 with the margin.
func seedWeighableOrder(t *testing.T, db *gorm.DB) seed {
	t.Helper()

	sku := models.ProductSku{
		ID:               uuid.New(),
		SKU:              "BEEF-KG",
		Name:             "Boeuf local",
		UnitPrice:        2000,
		StockQuantity:    10,
		IsVariableWeight: true,
		MinWeightGrams:   500,
		MaxWeightGrams:   2000,
	}
	require.NoError(t, db.Create(&sku).Error)

	estimatedKg := decimal.NewFromInt(1)
	estimatedPrice := EstimatedPrice(sku.UnitPrice, estimatedKg, 1.2)

	order := models.Order{
		ID:             uuid.New(),
		OrderNumber:    "MF-20260830-000001",
		DeliveryMethod: "delivery",
		CustomerName:   "Awa Koné",
		CustomerPhone:  "+2250102030405",
		Subtotal:       2000,
		DeliveryFee:    1000,
		TotalAmount:    3000,
		EstimatedTotal: estimatedPrice + 1000,
	}
	require.NoError(t, db.Create(&order).Error)

	item := models.OrderItem{
		ID:                  uuid.New(),
		OrderID:             order.ID,
		ProductSkuID:        sku.ID,
		Name:                sku.Name,
		SKU:                 sku.SKU,
		UnitPrice:           sku.UnitPrice,
		IsVariableWeight:    true,
		Quantity:            1,
		Price:               estimatedPrice,
		Subtotal:            estimatedPrice,
		EstimatedQuantityKg: &estimatedKg,
		EstimatedPrice:      &estimatedPrice,
	}
	require.NoError(t, db.Create(&item).Error)

	return seed{order: order, item: item, sku: sku}
}

func TestEstimatedPriceAppliesMargin(t *testing.T) {
	assert.Equal(t, int64(2400), EstimatedPrice(2000, decimal.NewFromInt(1), 1.2))
	assert.Equal(t, int64(1800), EstimatedPrice(3000, decimal.NewFromFloat(0.5), 1.2))
}

func TestFinalPriceRoundsToWholeFrancs(t *testing.T) {
	kg, price := FinalPrice(2000, 1100)
	assert.True(t, kg.Equal(decimal.NewFromFloat(1.1)), "kg = %s", kg)
	assert.Equal(t, int64(2200), price)

	_, price = FinalPrice(1333, 750)
	assert.Equal(t, int64(1000), price)
}

func TestReconcileWithinTolerance(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	item, err := svc.Reconcile(context.Background(), s.order.ID, s.item.ID, 1100)
	require.NoError(t, err)

	require.NotNil(t, item.FinalPrice)
	assert.Equal(t, int64(2200), *item.FinalPrice)
	assert.False(t, item.ReviewFlag, "8%% deviation stays under the 20%% tolerance")
	require.NotNil(t, item.WeighedAt)

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", s.order.ID).Error)
	assert.False(t, order.NeedsReview)
	require.NotNil(t, order.FinalTotal)
	assert.Equal(t, int64(3200), *order.FinalTotal, "final total = final price + delivery fee")
}

func TestReconcileBeyondToleranceFlagsReview(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	item, err := svc.Reconcile(context.Background(), s.order.ID, s.item.ID, 1600)
	require.NoError(t, err, "deviation beyond tolerance still succeeds")

	require.NotNil(t, item.FinalPrice)
	assert.Equal(t, int64(3200), *item.FinalPrice)
	assert.True(t, item.ReviewFlag, "+33%% deviation must be flagged")

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", s.order.ID).Error)
	assert.True(t, order.NeedsReview)
}

func TestReconcileRejectsWeightOutOfBounds(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	for _, grams := range []int{400, 2100} {
		_, err := svc.Reconcile(context.Background(), s.order.ID, s.item.ID, grams)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "grams=%d err=%v", grams, err)
	}

	var item models.OrderItem
	require.NoError(t, db.First(&item, "id = ?", s.item.ID).Error)
	assert.Nil(t, item.FinalPrice, "rejected weighings must not touch the item")
}

func TestReconcileOnlyOnce(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), s.order.ID, s.item.ID, 1000)
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), s.order.ID, s.item.ID, 1200)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "err=%v", err)

	var item models.OrderItem
	require.NoError(t, db.First(&item, "id = ?", s.item.ID).Error)
	assert.Equal(t, int64(2000), *item.FinalPrice, "first weighing wins")
}

func TestReconcileRejectsFixedItems(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	fixed := models.OrderItem{
		ID:           uuid.New(),
		OrderID:      s.order.ID,
		ProductSkuID: s.sku.ID,
		Name:         "Eau minérale",
		SKU:          "WATER-15L",
		UnitPrice:    500,
		Quantity:     2,
		Price:        500,
		Subtotal:     1000,
	}
	require.NoError(t, db.Create(&fixed).Error)

	_, err = svc.Reconcile(context.Background(), s.order.ID, fixed.ID, 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "err=%v", err)
}

func TestReconcileUnknownItem(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), s.order.ID, uuid.New(), 1000)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "err=%v", err)
}

func TestFinalTotalWaitsForAllWeighings(t *testing.T) {
	db := newTestDB(t)
	s := seedWeighableOrder(t, db)
	svc, err := NewService(gormTxRunner{db: db}, testConfig())
	require.NoError(t, err)

	estimatedKg := decimal.NewFromFloat(0.5)
	estimatedPrice := EstimatedPrice(s.sku.UnitPrice, estimatedKg, 1.2)
	second := models.OrderItem{
		ID:                  uuid.New(),
		OrderID:             s.order.ID,
		ProductSkuID:        s.sku.ID,
		Name:                s.sku.Name,
		SKU:                 s.sku.SKU,
		UnitPrice:           s.sku.UnitPrice,
		IsVariableWeight:    true,
		Quantity:            1,
		Price:               estimatedPrice,
		Subtotal:            estimatedPrice,
		EstimatedQuantityKg: &estimatedKg,
		EstimatedPrice:      &estimatedPrice,
	}
	require.NoError(t, db.Create(&second).Error)

	_, err = svc.Reconcile(context.Background(), s.order.ID, s.item.ID, 1000)
	require.NoError(t, err)

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", s.order.ID).Error)
	assert.Nil(t, order.FinalTotal, "total must not settle with a weighing outstanding")

	_, err = svc.Reconcile(context.Background(), s.order.ID, second.ID, 500)
	require.NoError(t, err)

	require.NoError(t, db.First(&order, "id = ?", s.order.ID).Error)
	require.NotNil(t, order.FinalTotal)
	assert.Equal(t, int64(2000+1000+1000), *order.FinalTotal)
}

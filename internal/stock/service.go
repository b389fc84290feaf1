package stock

import (
	"context"
	"errors"
	"time"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Line is one SKU/quantity pair in a reservation request.
type Line struct {
	ProductSkuID uuid.UUID
	Quantity     int
}

// Manager owns the stock counters. No other component may write
// reserved_quantity or stock_quantity.
type Manager interface {
	// Reserve places an all-or-nothing hold inside the caller's transaction.
	// Insufficient stock on any line aborts the whole reservation.
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (*models.StockReservation, error)
	// Release returns the reserved quantities. Releasing an already
	// released or committed reservation is a no-op.
	Release(ctx context.Context, reservationID uuid.UUID) error
	// ReleaseInTx is Release running inside the caller's transaction.
	ReleaseInTx(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error
	// Commit consumes the hold on order completion, decrementing stock and
	// reserved counters together.
	Commit(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error
	// SweepExpired releases every active reservation past its deadline and
	// returns how many were swept. Scheduling the sweep is the caller's job.
	SweepExpired(ctx context.Context) (int, error)
}

type manager struct {
	tx  txRunner
	cfg config.StockConfig
}

// NewManager builds the stock reservation manager.
func NewManager(tx txRunner, cfg config.StockConfig) (Manager, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ReserveDuration <= 0 {
		cfg.ReserveDuration = 30 * time.Minute
	}
	return &manager{tx: tx, cfg: cfg}, nil
}

func (m *manager) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (*models.StockReservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for reservation")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation requires at least one line")
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
		}
	}

	for _, line := range lines {
		if err := m.holdLine(ctx, tx, line); err != nil {
			return nil, err
		}
	}

	reservation := &models.StockReservation{
		ID:        uuid.New(),
		OrderID:   &orderID,
		Status:    enums.ReservationStatusActive,
		ExpiresAt: time.Now().Add(m.cfg.ReserveDuration),
	}
	for _, line := range lines {
		reservation.Lines = append(reservation.Lines, models.StockReservationLine{
			ID:            uuid.New(),
			ReservationID: reservation.ID,
			ProductSkuID:  line.ProductSkuID,
			Quantity:      line.Quantity,
		})
	}
	if err := tx.WithContext(ctx).Create(reservation).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reservation")
	}
	return reservation, nil
}

// holdLine increments reserved_quantity for one SKU, guarding the
// 0 <= reserved <= stock invariant. With row locking the SKU row is locked
// for the remainder of the transaction; otherwise a version CAS is retried a
// bounded number of times.
func (m *manager) holdLine(ctx context.Context, tx *gorm.DB, line Line) error {
	if m.cfg.RowLocking {
		var sku models.ProductSku
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", line.ProductSkuID).
			First(&sku).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sku not found").
					WithDetails(map[string]any{"sku_id": line.ProductSkuID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku for reservation")
		}
		if sku.Available() < line.Quantity {
			return insufficientStock(line, sku.Available())
		}
		res := tx.WithContext(ctx).Model(&models.ProductSku{}).
			Where("id = ?", sku.ID).
			Updates(map[string]any{
				"reserved_quantity": gorm.Expr("reserved_quantity + ?", line.Quantity),
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment reserved quantity")
		}
		return nil
	}

	backoff := m.cfg.RetryBackoff
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		var sku models.ProductSku
		err := tx.WithContext(ctx).
			Where("id = ?", line.ProductSkuID).
			First(&sku).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "sku not found").
					WithDetails(map[string]any{"sku_id": line.ProductSkuID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku for reservation")
		}
		if sku.Available() < line.Quantity {
			return insufficientStock(line, sku.Available())
		}

		res := tx.WithContext(ctx).Model(&models.ProductSku{}).
			Where("id = ? AND version = ? AND stock_quantity - reserved_quantity >= ?",
				sku.ID, sku.Version, line.Quantity).
			Updates(map[string]any{
				"reserved_quantity": gorm.Expr("reserved_quantity + ?", line.Quantity),
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment reserved quantity")
		}
		if res.RowsAffected == 1 {
			return nil
		}

		// Lost the race: someone moved the counters between read and write.
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "reservation interrupted")
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return pkgerrors.New(pkgerrors.CodeConcurrency, "could not reserve stock after retries").
		WithDetails(map[string]any{"sku_id": line.ProductSkuID})
}

func insufficientStock(line Line, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"sku_id":    line.ProductSkuID,
			"requested": line.Quantity,
			"available": available,
		})
}

func (m *manager) Release(ctx context.Context, reservationID uuid.UUID) error {
	return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return m.ReleaseInTx(ctx, tx, reservationID)
	})
}

func (m *manager) ReleaseInTx(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error {
	reservation, err := m.loadForUpdate(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if reservation.Status != enums.ReservationStatusActive {
		return nil
	}

	for _, line := range reservation.Lines {
		res := tx.WithContext(ctx).Model(&models.ProductSku{}).
			Where("id = ? AND reserved_quantity >= ?", line.ProductSkuID, line.Quantity).
			Updates(map[string]any{
				"reserved_quantity": gorm.Expr("reserved_quantity - ?", line.Quantity),
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release reserved quantity")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrency, "reserved counter drifted below reservation").
				WithDetails(map[string]any{"sku_id": line.ProductSkuID})
		}
	}

	return m.updateStatus(ctx, tx, reservation.ID, enums.ReservationStatusReleased)
}

func (m *manager) Commit(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required for commit")
	}
	reservation, err := m.loadForUpdate(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	switch reservation.Status {
	case enums.ReservationStatusCommitted:
		return nil
	case enums.ReservationStatusReleased:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already released")
	}

	for _, line := range reservation.Lines {
		res := tx.WithContext(ctx).Model(&models.ProductSku{}).
			Where("id = ? AND reserved_quantity >= ? AND stock_quantity >= ?",
				line.ProductSkuID, line.Quantity, line.Quantity).
			Updates(map[string]any{
				"stock_quantity":    gorm.Expr("stock_quantity - ?", line.Quantity),
				"reserved_quantity": gorm.Expr("reserved_quantity - ?", line.Quantity),
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit reserved quantity")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrency, "stock counters drifted below reservation").
				WithDetails(map[string]any{"sku_id": line.ProductSkuID})
		}
	}

	return m.updateStatus(ctx, tx, reservation.ID, enums.ReservationStatusCommitted)
}

func (m *manager) SweepExpired(ctx context.Context) (int, error) {
	swept := 0
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var expired []models.StockReservation
		err := tx.WithContext(ctx).
			Where("status = ? AND expires_at < ?", enums.ReservationStatusActive, time.Now()).
			Find(&expired).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
		}
		for _, reservation := range expired {
			if err := m.ReleaseInTx(ctx, tx, reservation.ID); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}

func (m *manager) loadForUpdate(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	query := tx.WithContext(ctx).Preload("Lines")
	if m.cfg.RowLocking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("id = ?", reservationID).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return &reservation, nil
}

func (m *manager) updateStatus(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, status enums.ReservationStatus) error {
	res := tx.WithContext(ctx).Model(&models.StockReservation{}).
		Where("id = ?", reservationID).
		Update("status", status)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update reservation status")
	}
	return nil
}

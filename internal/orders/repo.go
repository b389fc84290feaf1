package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/pagination"
)

// Repository is the persistence layer for orders. It returns raw gorm errors
// for the service to map; the exception is pagination decoding which has no
// storage equivalent.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository over the shared connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SkusByCode loads the catalog snapshot for a checkout cart.
func (r *Repository) SkusByCode(ctx context.Context, codes []string) (map[string]models.ProductSku, error) {
	var skus []models.ProductSku
	err := r.db.WithContext(ctx).
		Where("sku IN ?", codes).
		Find(&skus).Error
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]models.ProductSku, len(skus))
	for _, sku := range skus {
		byCode[sku.SKU] = sku
	}
	return byCode, nil
}

// ListFilter narrows and pages the order listing.
type ListFilter struct {
	Status        string
	PaymentStatus string
	NeedsReview   *bool
	Page          pagination.Params
}

// List returns one page of orders, newest first, plus the cursor for the
// next page when more rows exist.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Order, string, error) {
	limit := pagination.Clamp(filter.Page.Limit)

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.NeedsReview != nil {
		query = query.Where("needs_review = ?", *filter.NeedsReview)
	}

	cursor, err := pagination.DecodeCursor(filter.Page.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC, id DESC").
		Limit(pagination.FetchSize(filter.Page.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return rows, next, nil
}

// IsNotFound reports whether err is the storage layer's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bkouassi/marchefrais-backend/pkg/enums"
)

// PaymentLog is the append-only payment ledger: one row per gateway action,
// written before the orchestrator returns, success or not. Rows are never
// updated in place; the order's payment_status is a projection of the latest
// successful action.
type PaymentLog struct {
	ID      uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	Action  enums.PaymentAction    `gorm:"column:action;type:text;not null"`
	Status  enums.PaymentLogStatus `gorm:"column:status;type:text;not null;default:'pending'"`

	Amount   int64          `gorm:"column:amount;not null"`
	Currency enums.Currency `gorm:"column:currency;type:text;not null;default:'XOF'"`

	TransactionID   *string `gorm:"column:transaction_id;index:idx_payment_logs_txn_action"`
	ReferenceNumber string  `gorm:"column:reference_number;not null"`

	RequestPayload  json.RawMessage `gorm:"column:request_payload;type:jsonb"`
	ResponsePayload json.RawMessage `gorm:"column:response_payload;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

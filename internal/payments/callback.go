package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

const (
	callbackScope   = "payment_callback"
	callbackDupeTTL = 24 * time.Hour
)

// Callback is a gateway notification after signature verification. Action
// names match the gateway's, Status is "approved" or "failed".
type Callback struct {
	TransactionID string          `json:"transaction_id" validate:"required"`
	Action        string          `json:"action" validate:"required,oneof=preauth capture refund void"`
	Status        string          `json:"status" validate:"required"`
	Amount        int64           `json:"amount"`
	Reference     string          `json:"reference"`
	Raw           json.RawMessage `json:"-"`
}

func (cb Callback) approved() bool {
	status := strings.ToLower(strings.TrimSpace(cb.Status))
	return status == "approved" || status == "success"
}

func (o *orchestrator) HandleCallback(ctx context.Context, cb Callback) error {
	if strings.TrimSpace(cb.TransactionID) == "" || strings.TrimSpace(cb.Action) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "callback requires transaction_id and action")
	}
	action := enums.PaymentAction(strings.ToLower(strings.TrimSpace(cb.Action)))

	// First dedupe layer: redis. Best effort; the ledger below is the
	// durable one.
	var dedupeKey string
	if o.idem != nil {
		dedupeKey = o.idem.IdempotencyKey(callbackScope, cb.TransactionID+":"+string(action))
		fresh, err := o.idem.SetNX(ctx, dedupeKey, "1", callbackDupeTTL)
		if err != nil {
			o.logg.Warn(o.logg.WithTransactionID(ctx, cb.TransactionID), "callback dedupe store unavailable")
		} else if !fresh {
			o.logg.Info(o.logg.WithTransactionID(ctx, cb.TransactionID), "duplicate payment callback ignored")
			return nil
		}
	}

	err := o.applyCallback(ctx, cb, action)
	if err != nil && dedupeKey != "" {
		// Release the fast-path key so the gateway's redelivery is not
		// swallowed while the failure lasts.
		if delErr := o.idem.Del(ctx, dedupeKey); delErr != nil {
			o.logg.Warn(o.logg.WithTransactionID(ctx, cb.TransactionID), "callback dedupe key not released")
		}
	}
	return err
}

func (o *orchestrator) applyCallback(ctx context.Context, cb Callback, action enums.PaymentAction) error {
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var existing models.PaymentLog
		err := tx.WithContext(ctx).
			Where("transaction_id = ? AND action = ?", cb.TransactionID, enums.PaymentActionCallback).
			Where("reference_number = ?", string(action)+":"+cb.TransactionID).
			First(&existing).Error
		switch {
		case err == nil:
			sameOutcome := (existing.Status == enums.PaymentLogStatusSuccess) == cb.approved()
			if sameOutcome {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeIntegrity, "callback replay with conflicting outcome").
				WithDetails(map[string]any{"transaction_id": cb.TransactionID, "action": action})
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First delivery of this (transaction, action) pair.
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query callback ledger")
		}

		var order models.Order
		err = tx.WithContext(ctx).
			Where("transaction_id = ?", cb.TransactionID).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no order for callback transaction").
					WithDetails(map[string]any{"transaction_id": cb.TransactionID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for callback")
		}

		status := enums.PaymentLogStatusFailed
		if cb.approved() {
			status = enums.PaymentLogStatusSuccess
		}
		entry := &models.PaymentLog{
			ID:       uuid.New(),
			OrderID:  order.ID,
			Action:   enums.PaymentActionCallback,
			Status:   status,
			Amount:   cb.Amount,
			Currency: order.Currency,
			// ReferenceNumber doubles as the dedupe discriminator so two
			// callbacks for different actions of one transaction both land.
			ReferenceNumber: string(action) + ":" + cb.TransactionID,
			TransactionID:   &cb.TransactionID,
			ResponsePayload: cb.Raw,
		}
		if err := o.appendLog(ctx, tx, entry); err != nil {
			return err
		}

		target, ok := callbackProjection(action, cb.approved())
		if !ok {
			return nil
		}
		if order.PaymentStatus == target || !canTransition(order.PaymentStatus, target) {
			// Out-of-order or late callback; the ledger row is enough.
			o.logg.Info(o.logg.WithTransactionID(ctx, cb.TransactionID), "callback did not advance payment status")
			return nil
		}
		return o.project(ctx, tx, order.ID, target, nil)
	})
}

// callbackProjection maps a gateway action outcome onto the payment status
// machine.
func callbackProjection(action enums.PaymentAction, approved bool) (enums.PaymentStatus, bool) {
	switch action {
	case enums.PaymentActionPreauth:
		if approved {
			return enums.PaymentStatusAuthorized, true
		}
		return enums.PaymentStatusFailed, true
	case enums.PaymentActionCapture:
		if approved {
			return enums.PaymentStatusPaid, true
		}
		return enums.PaymentStatusFailed, true
	case enums.PaymentActionRefund:
		if approved {
			return enums.PaymentStatusRefunded, true
		}
		return "", false
	case enums.PaymentActionVoid:
		if approved {
			return enums.PaymentStatusFailed, true
		}
		return "", false
	default:
		return "", false
	}
}

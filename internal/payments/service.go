package payments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/paygate"
	redisclient "github.com/bkouassi/marchefrais-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the outbound payment API surface the orchestrator needs.
type Gateway interface {
	Preauthorize(ctx context.Context, req paygate.Request) (*paygate.Result, error)
	Capture(ctx context.Context, req paygate.Request) (*paygate.Result, error)
	Void(ctx context.Context, req paygate.Request) (*paygate.Result, error)
	Refund(ctx context.Context, req paygate.Request) (*paygate.Result, error)
}

// AttemptCounter receives one increment per gateway call.
type AttemptCounter interface {
	IncAttempt(action, outcome string)
}

// Orchestrator owns the order's payment_status and the payment ledger. Every
// gateway interaction appends a PaymentLog row before the call returns,
// success or failure, so the ledger is the source of truth when the gateway
// and the order disagree.
type Orchestrator interface {
	// Authorize places a hold for the order's estimated total. Cash orders
	// skip the gateway and stay pending until the operator confirms receipt.
	Authorize(ctx context.Context, orderID uuid.UUID) error
	// Capture settles a previously authorized amount. Amounts above the
	// authorized hold are rejected before the gateway is called.
	Capture(ctx context.Context, orderID uuid.UUID, amount int64) error
	// Void releases an authorization without moving funds.
	Void(ctx context.Context, orderID uuid.UUID) error
	// Refund returns captured funds, up to the captured amount.
	Refund(ctx context.Context, orderID uuid.UUID, amount int64) error
	// Revert is the cancellation step: void when authorized, refund when
	// paid, no-op otherwise.
	Revert(ctx context.Context, orderID uuid.UUID) error
	// ConfirmCash marks a cash-on-delivery order paid on operator confirm.
	ConfirmCash(ctx context.Context, orderID uuid.UUID) error
	// HandleCallback applies an already signature-verified gateway callback.
	// Replays are accepted without changing state.
	HandleCallback(ctx context.Context, cb Callback) error
}

type orchestrator struct {
	tx      txRunner
	gateway Gateway
	idem    redisclient.IdempotencyStore
	metrics AttemptCounter
	logg    *logger.Logger
}

// NewOrchestrator builds the payment orchestrator. The gateway may be nil in
// cash-only deployments; gateway-backed methods then fail with a dependency
// error.
func NewOrchestrator(tx txRunner, gateway Gateway, idem redisclient.IdempotencyStore, metrics AttemptCounter, logg *logger.Logger) (Orchestrator, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &orchestrator{tx: tx, gateway: gateway, idem: idem, metrics: metrics, logg: logg}, nil
}

func (o *orchestrator) Authorize(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.PaymentMethod.RequiresGateway() {
		return nil
	}
	if order.PaymentStatus != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting authorization").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	if order.PaymentToken == nil || *order.PaymentToken == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment token required for gateway authorization")
	}

	req := paygate.Request{
		Reference:    order.OrderNumber,
		Amount:       order.EstimatedTotal,
		Currency:     order.Currency,
		PaymentToken: *order.PaymentToken,
	}
	result, gwErr := o.callGateway(ctx, enums.PaymentActionPreauth, req)

	entry := o.newLogEntry(order, enums.PaymentActionPreauth, order.EstimatedTotal, req, result)
	if gwErr != nil {
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, "", nil); err != nil {
			return err
		}
		return gwErr
	}
	if !result.Approved {
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusFailed, nil); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeDependency, "authorization declined").
			WithDetails(map[string]any{"order_number": order.OrderNumber})
	}
	entry.Status = enums.PaymentLogStatusSuccess
	return o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusAuthorized, &result.TransactionID)
}

func (o *orchestrator) Capture(ctx context.Context, orderID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture amount must be positive")
	}
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus != enums.PaymentStatusAuthorized {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not authorized").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	authorized, err := o.ledgerAmount(ctx, orderID, enums.PaymentActionPreauth)
	if err != nil {
		return err
	}
	if amount > authorized {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "capture exceeds authorized amount").
			WithDetails(map[string]any{"amount": amount, "authorized": authorized})
	}

	req := paygate.Request{
		Reference:     order.OrderNumber,
		TransactionID: deref(order.TransactionID),
		Amount:        amount,
		Currency:      order.Currency,
	}
	result, gwErr := o.callGateway(ctx, enums.PaymentActionCapture, req)

	entry := o.newLogEntry(order, enums.PaymentActionCapture, amount, req, result)
	if gwErr != nil {
		// A timeout here is ambiguous: the gateway may or may not have
		// settled. Record failed and leave the authorization in place
		// for ledger reconciliation.
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, "", nil); err != nil {
			return err
		}
		return gwErr
	}
	if !result.Approved {
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusFailed, nil); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeDependency, "capture declined").
			WithDetails(map[string]any{"order_number": order.OrderNumber})
	}
	entry.Status = enums.PaymentLogStatusSuccess
	return o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusPaid, nil)
}

func (o *orchestrator) Void(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus != enums.PaymentStatusAuthorized {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only authorized payments can be voided").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	req := paygate.Request{
		Reference:     order.OrderNumber,
		TransactionID: deref(order.TransactionID),
		Amount:        order.EstimatedTotal,
		Currency:      order.Currency,
	}
	result, gwErr := o.callGateway(ctx, enums.PaymentActionVoid, req)

	entry := o.newLogEntry(order, enums.PaymentActionVoid, order.EstimatedTotal, req, result)
	if gwErr != nil {
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, "", nil); err != nil {
			return err
		}
		return gwErr
	}
	entry.Status = enums.PaymentLogStatusCancelled
	return o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusFailed, nil)
}

func (o *orchestrator) Refund(ctx context.Context, orderID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be refunded").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	captured, err := o.ledgerAmount(ctx, orderID, enums.PaymentActionCapture)
	if err != nil {
		return err
	}
	if amount > captured {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund exceeds captured amount").
			WithDetails(map[string]any{"amount": amount, "captured": captured})
	}

	req := paygate.Request{
		Reference:     order.OrderNumber,
		TransactionID: deref(order.TransactionID),
		Amount:        amount,
		Currency:      order.Currency,
	}
	result, gwErr := o.callGateway(ctx, enums.PaymentActionRefund, req)

	entry := o.newLogEntry(order, enums.PaymentActionRefund, amount, req, result)
	if gwErr != nil {
		entry.Status = enums.PaymentLogStatusFailed
		if err := o.persistOutcome(ctx, entry, order.ID, "", nil); err != nil {
			return err
		}
		return gwErr
	}
	entry.Status = enums.PaymentLogStatusSuccess
	return o.persistOutcome(ctx, entry, order.ID, enums.PaymentStatusRefunded, nil)
}

func (o *orchestrator) Revert(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.PaymentStatus {
	case enums.PaymentStatusAuthorized:
		if !order.PaymentMethod.RequiresGateway() {
			return nil
		}
		return o.Void(ctx, orderID)
	case enums.PaymentStatusPaid:
		if !order.PaymentMethod.RequiresGateway() {
			// Cash already collected; the refund happens at the counter.
			return nil
		}
		captured, err := o.ledgerAmount(ctx, orderID, enums.PaymentActionCapture)
		if err != nil {
			return err
		}
		return o.Refund(ctx, orderID, captured)
	default:
		return nil
	}
}

func (o *orchestrator) ConfirmCash(ctx context.Context, orderID uuid.UUID) error {
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentMethod != enums.PaymentMethodCash {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not cash on delivery").
			WithDetails(map[string]any{"payment_method": order.PaymentMethod})
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil
	}
	if order.PaymentStatus != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cash order is not awaiting payment").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	amount := order.EstimatedTotal
	if order.FinalTotal != nil {
		amount = *order.FinalTotal
	}

	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry := &models.PaymentLog{
			ID:              uuid.New(),
			OrderID:         order.ID,
			Action:          enums.PaymentActionCapture,
			Status:          enums.PaymentLogStatusSuccess,
			Amount:          amount,
			Currency:        order.Currency,
			ReferenceNumber: order.OrderNumber,
		}
		if err := o.appendLog(ctx, tx, entry); err != nil {
			return err
		}
		return o.project(ctx, tx, order.ID, enums.PaymentStatusPaid, nil)
	})
}

// callGateway wraps one outbound call with the attempt counter.
func (o *orchestrator) callGateway(ctx context.Context, action enums.PaymentAction, req paygate.Request) (*paygate.Result, error) {
	if o.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	var (
		result *paygate.Result
		err    error
	)
	switch action {
	case enums.PaymentActionPreauth:
		result, err = o.gateway.Preauthorize(ctx, req)
	case enums.PaymentActionCapture:
		result, err = o.gateway.Capture(ctx, req)
	case enums.PaymentActionVoid:
		result, err = o.gateway.Void(ctx, req)
	case enums.PaymentActionRefund:
		result, err = o.gateway.Refund(ctx, req)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unknown gateway action")
	}

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case !result.Approved:
		outcome = "declined"
	}
	if o.metrics != nil {
		o.metrics.IncAttempt(string(action), outcome)
	}
	if err != nil {
		o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
			"action":    action,
			"reference": req.Reference,
		}), "payment gateway call failed")
	}
	return result, err
}

func (o *orchestrator) newLogEntry(order *models.Order, action enums.PaymentAction, amount int64, req paygate.Request, result *paygate.Result) *models.PaymentLog {
	entry := &models.PaymentLog{
		ID:              uuid.New(),
		OrderID:         order.ID,
		Action:          action,
		Amount:          amount,
		Currency:        order.Currency,
		ReferenceNumber: order.OrderNumber,
	}
	if raw, err := json.Marshal(req); err == nil {
		entry.RequestPayload = raw
	}
	if result != nil {
		entry.ResponsePayload = result.Raw
		if result.TransactionID != "" {
			entry.TransactionID = &result.TransactionID
		}
	}
	if entry.TransactionID == nil && order.TransactionID != nil {
		entry.TransactionID = order.TransactionID
	}
	return entry
}

// persistOutcome commits the ledger row, plus the status projection when one
// is given, in its own transaction. Failure paths call it before returning
// the gateway error so the failed attempt is never rolled back with it.
func (o *orchestrator) persistOutcome(ctx context.Context, entry *models.PaymentLog, orderID uuid.UUID, projectTo enums.PaymentStatus, transactionID *string) error {
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.appendLog(ctx, tx, entry); err != nil {
			return err
		}
		if projectTo == "" {
			return nil
		}
		return o.project(ctx, tx, orderID, projectTo, transactionID)
	})
}

func (o *orchestrator) appendLog(ctx context.Context, tx *gorm.DB, entry *models.PaymentLog) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append payment log")
	}
	return nil
}

// project writes the order's payment_status, guarded by the allowed
// transition table.
func (o *orchestrator) project(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.PaymentStatus, transactionID *string) error {
	var order models.Order
	if err := tx.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for projection")
	}
	if order.PaymentStatus == status {
		return nil
	}
	if !canTransition(order.PaymentStatus, status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status transition disallowed").
			WithDetails(map[string]any{"from": order.PaymentStatus, "to": status})
	}

	updates := map[string]any{"payment_status": status}
	if transactionID != nil && *transactionID != "" {
		updates["transaction_id"] = *transactionID
	}
	if err := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	return nil
}

// canTransition encodes the payment state machine: pending → authorized →
// paid; failed is reachable from pending and authorized; refunded only from
// paid.
func canTransition(from, to enums.PaymentStatus) bool {
	switch from {
	case enums.PaymentStatusPending:
		return to == enums.PaymentStatusAuthorized || to == enums.PaymentStatusPaid || to == enums.PaymentStatusFailed
	case enums.PaymentStatusAuthorized:
		return to == enums.PaymentStatusPaid || to == enums.PaymentStatusFailed
	case enums.PaymentStatusPaid:
		return to == enums.PaymentStatusRefunded
	default:
		return false
	}
}

// ledgerAmount returns the amount of the latest successful log row for the
// action, zero when none exists.
func (o *orchestrator) ledgerAmount(ctx context.Context, orderID uuid.UUID, action enums.PaymentAction) (int64, error) {
	var amount int64
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var entry models.PaymentLog
		err := tx.WithContext(ctx).
			Where("order_id = ? AND action = ? AND status = ?", orderID, action, enums.PaymentLogStatusSuccess).
			Order("created_at DESC").
			First(&entry).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query payment ledger")
		}
		amount = entry.Amount
		return nil
	})
	return amount, err
}

func (o *orchestrator) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

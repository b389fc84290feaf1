package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bkouassi/marchefrais-backend/pkg/db/models"
	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

// cancelSteps is the compensation order: stock first so shelves reopen
// immediately, then money, then the courier.
var cancelSteps = []enums.CancelStep{
	enums.CancelStepReleaseStock,
	enums.CancelStepRevertPayment,
	enums.CancelStepCancelDelivery,
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case enums.OrderStatusCancelled:
		return nil
	case enums.OrderStatusCompleted:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "completed orders cannot be cancelled")
	case enums.OrderStatusCancelling:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cancellation already in progress, resume it").
			WithDetails(map[string]any{"failed_step": order.FailedCancelStep})
	}

	fields := map[string]any{"status": enums.OrderStatusCancelling}
	if note := strings.TrimSpace(reason); note != "" {
		fields["cancel_note"] = note
		order.CancelNote = &note
	}
	if err := s.repo.Update(ctx, order.ID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "park order for cancellation")
	}

	return s.driveCancel(ctx, order, cancelSteps[0])
}

func (s *service) ResumeCancel(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil
	}
	if order.Status != enums.OrderStatusCancelling {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no cancellation to resume").
			WithDetails(map[string]any{"status": order.Status})
	}

	from := cancelSteps[0]
	if order.FailedCancelStep != nil {
		from = *order.FailedCancelStep
	}
	return s.driveCancel(ctx, order, from)
}

// driveCancel runs the saga from the given step. Every step is idempotent,
// so resuming re-runs the failed step safely. The first failure records the
// step and leaves the order in cancelling for the operator.
func (s *service) driveCancel(ctx context.Context, order *models.Order, from enums.CancelStep) error {
	started := false
	for _, step := range cancelSteps {
		if step == from {
			started = true
		}
		if !started {
			continue
		}
		if err := s.runCancelStep(ctx, order, step); err != nil {
			if markErr := s.repo.Update(ctx, order.ID, map[string]any{"failed_cancel_step": step}); markErr != nil {
				s.logg.Error(s.logg.WithOrderNumber(ctx, order.OrderNumber), "recording failed cancel step", markErr)
			}
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"order_number": order.OrderNumber,
				"cancel_step":  step,
			}), "cancellation parked", err)
			return err
		}
	}

	now := time.Now()
	if err := s.repo.Update(ctx, order.ID, map[string]any{
		"status":             enums.OrderStatusCancelled,
		"cancelled_at":       now,
		"failed_cancel_step": nil,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize cancellation")
	}
	s.logg.Info(s.logg.WithOrderNumber(ctx, order.OrderNumber), "order cancelled")
	return nil
}

func (s *service) runCancelStep(ctx context.Context, order *models.Order, step enums.CancelStep) error {
	switch step {
	case enums.CancelStepReleaseStock:
		if order.ReservationID == nil {
			return nil
		}
		return s.stock.Release(ctx, *order.ReservationID)
	case enums.CancelStepRevertPayment:
		if s.payments == nil {
			return nil
		}
		return s.payments.Revert(ctx, order.ID)
	case enums.CancelStepCancelDelivery:
		if order.DeliveryID == nil || *order.DeliveryID == "" || s.courier == nil {
			return nil
		}
		if order.CourierStatus != nil && *order.CourierStatus == enums.DeliveryStatusCancelled {
			return nil
		}
		reason := "order cancelled"
		if order.CancelNote != nil {
			reason = *order.CancelNote
		}
		return s.courier.Cancel(ctx, *order.DeliveryID, reason)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown cancel step")
	}
}

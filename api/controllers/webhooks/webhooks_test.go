package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkouassi/marchefrais-backend/internal/dispatch"
	"github.com/bkouassi/marchefrais-backend/internal/payments"
	"github.com/bkouassi/marchefrais-backend/pkg/courier"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/security"
)

const testSecret = "whsec_test"

type stubOrchestrator struct {
	handled []payments.Callback
	err     error
}

func (s *stubOrchestrator) Authorize(ctx context.Context, orderID uuid.UUID) error { return nil }
func (s *stubOrchestrator) Capture(ctx context.Context, orderID uuid.UUID, amount int64) error {
	return nil
}
func (s *stubOrchestrator) Void(ctx context.Context, orderID uuid.UUID) error { return nil }
func (s *stubOrchestrator) Refund(ctx context.Context, orderID uuid.UUID, amount int64) error {
	return nil
}
func (s *stubOrchestrator) Revert(ctx context.Context, orderID uuid.UUID) error      { return nil }
func (s *stubOrchestrator) ConfirmCash(ctx context.Context, orderID uuid.UUID) error { return nil }

func (s *stubOrchestrator) HandleCallback(ctx context.Context, cb payments.Callback) error {
	s.handled = append(s.handled, cb)
	return s.err
}

type stubAdapter struct {
	updates []dispatch.StatusUpdate
	err     error
}

func (s *stubAdapter) CreateDelivery(ctx context.Context, orderID uuid.UUID) (*courier.Delivery, error) {
	return nil, nil
}
func (s *stubAdapter) Track(ctx context.Context, deliveryID string) (*courier.Delivery, error) {
	return nil, nil
}
func (s *stubAdapter) Cancel(ctx context.Context, deliveryID, reason string) error { return nil }

func (s *stubAdapter) HandleStatusUpdate(ctx context.Context, update dispatch.StatusUpdate) error {
	s.updates = append(s.updates, update)
	return s.err
}

type recordingMetrics struct {
	rejected []string
}

func (m *recordingMetrics) IncWebhookRejected(source, reason string) {
	m.rejected = append(m.rejected, source+":"+reason)
}

func signedRequest(t *testing.T, target, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(payload))
	req.Header.Set(signatureHeader, security.SignPayload([]byte(payload), testSecret))
	return req
}

func TestPaymentWebhookAcceptsSignedPayload(t *testing.T) {
	orch := &stubOrchestrator{}
	handler := PaymentWebhook(orch, testSecret, nil, nil)

	payload := `{"transaction_id": "TXN-1", "action": "capture", "status": "approved", "amount": 9500}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "/api/v1/webhooks/payment", payload))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, orch.handled, 1)
	assert.Equal(t, "TXN-1", orch.handled[0].TransactionID)
	assert.Equal(t, "capture", orch.handled[0].Action)
	assert.JSONEq(t, payload, string(orch.handled[0].Raw))
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	orch := &stubOrchestrator{}
	m := &recordingMetrics{}
	handler := PaymentWebhook(orch, testSecret, m, nil)

	payload := `{"transaction_id": "TXN-1", "action": "capture", "status": "approved"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(payload))
	req.Header.Set(signatureHeader, "deadbeef")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, orch.handled, "rejected payloads must never reach the orchestrator")
	assert.Equal(t, []string{"payment:bad_signature"}, m.rejected)
}

func TestPaymentWebhookRejectsMissingSignature(t *testing.T) {
	orch := &stubOrchestrator{}
	m := &recordingMetrics{}
	handler := PaymentWebhook(orch, testSecret, m, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, orch.handled)
	assert.Equal(t, []string{"payment:missing_signature"}, m.rejected)
}

func TestPaymentWebhookTamperedPayload(t *testing.T) {
	orch := &stubOrchestrator{}
	handler := PaymentWebhook(orch, testSecret, nil, nil)

	// sign one payload, send another
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{"amount": 999999}`))
	req.Header.Set(signatureHeader, security.SignPayload([]byte(`{"amount": 1}`), testSecret))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, orch.handled)
}

func TestPaymentWebhookPropagatesHandlerError(t *testing.T) {
	orch := &stubOrchestrator{err: pkgerrors.New(pkgerrors.CodeIntegrity, "conflicting replay")}
	handler := PaymentWebhook(orch, testSecret, nil, nil)

	payload := `{"transaction_id": "TXN-1", "action": "capture", "status": "approved"}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "/api/v1/webhooks/payment", payload))

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestDeliveryWebhookAppliesUpdate(t *testing.T) {
	adapter := &stubAdapter{}
	handler := DeliveryWebhook(adapter, testSecret, nil, nil)

	payload := `{"delivery_id": "DLV-7", "status": "picked_up", "driver_name": "Kone"}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "/api/v1/webhooks/delivery", payload))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, adapter.updates, 1)
	assert.Equal(t, "DLV-7", adapter.updates[0].DeliveryID)
	assert.Equal(t, "Kone", adapter.updates[0].DriverName)
}

func TestDeliveryWebhookRejectsBadSignature(t *testing.T) {
	adapter := &stubAdapter{}
	m := &recordingMetrics{}
	handler := DeliveryWebhook(adapter, testSecret, m, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/delivery", strings.NewReader(`{"delivery_id": "DLV-7"}`))
	req.Header.Set(signatureHeader, "deadbeef")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, adapter.updates)
	assert.Equal(t, []string{"delivery:bad_signature"}, m.rejected)
}

package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bkouassi/marchefrais-backend/api/responses"
	"github.com/bkouassi/marchefrais-backend/internal/payments"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/security"
)

const signatureHeader = "X-Webhook-Signature"

type webhookMetrics interface {
	IncWebhookRejected(source, reason string)
}

// PaymentWebhook verifies the gateway signature over the raw payload and
// hands the callback to the payment orchestrator. Rejected payloads
// never reach the ledger.
func PaymentWebhook(orch payments.Orchestrator, secret string, metrics webhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if orch == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment orchestrator unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			if metrics != nil {
				metrics.IncWebhookRejected("payment", "missing_signature")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "webhook signature missing"))
			return
		}
		if !security.VerifySignature(payload, sig, secret) {
			if metrics != nil {
				metrics.IncWebhookRejected("payment", "bad_signature")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "webhook signature mismatch"))
			return
		}

		var cb payments.Callback
		if err := json.Unmarshal(payload, &cb); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback payload"))
			return
		}
		cb.Raw = payload

		if err := orch.HandleCallback(ctx, cb); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

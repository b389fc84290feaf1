package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bkouassi/marchefrais-backend/api/responses"
	"github.com/bkouassi/marchefrais-backend/internal/dispatch"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/security"
)

// DeliveryWebhook verifies the courier signature and applies the status
// update. Replays and out-of-order updates are absorbed by the adapter.
func DeliveryWebhook(adapter dispatch.Adapter, secret string, metrics webhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if adapter == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatch adapter unavailable"))
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
				metrics.IncWebhookRejected("delivery", "missing_signature")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "webhook signature missing"))
			return
		}
		if !security.VerifySignature(payload, sig, secret) {
			if metrics != nil {
				metrics.IncWebhookRejected("delivery", "bad_signature")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIntegrity, "webhook signature mismatch"))
			return
		}

		var update dispatch.StatusUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status payload"))
			return
		}

		if err := adapter.HandleStatusUpdate(ctx, update); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

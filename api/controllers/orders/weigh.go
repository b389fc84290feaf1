package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bkouassi/marchefrais-backend/api/responses"
	"github.com/bkouassi/marchefrais-backend/api/validators"
	"github.com/bkouassi/marchefrais-backend/internal/weights"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

type weighRequest struct {
	Grams int `json:"grams" validate:"required,gt=0"`
}

// Weigh records the scale reading for a variable-weight line and settles
// its final price. Each line can be weighed exactly once.
func Weigh(svc weights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "weights service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rawItemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
		if rawItemID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
			return
		}
		itemID, err := uuid.Parse(rawItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id"))
			return
		}

		var req weighRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.Reconcile(r.Context(), orderID, itemID, req.Grams)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, item)
	}
}

package controllers

import (
	"net/http"

	"github.com/bkouassi/marchefrais-backend/api/responses"
	"github.com/bkouassi/marchefrais-backend/internal/stock"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

// StockSweepExpired releases every reservation past its deadline and
// reports how many were swept.
func StockSweepExpired(mgr stock.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock manager unavailable"))
			return
		}

		released, err := mgr.SweepExpired(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int{"released": released})
	}
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/bkouassi/marchefrais-backend/api/responses"
	"github.com/bkouassi/marchefrais-backend/pkg/config"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MarcheFrais-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every wired dependency. Nil pingers are skipped so
// partial deployments (no redis in tests, for example) stay ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, pingers ...pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MarcheFrais-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for _, p := range pingers {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bkouassi/marchefrais-backend/api/controllers"
	ordercontrollers "github.com/bkouassi/marchefrais-backend/api/controllers/orders"
	webhookcontrollers "github.com/bkouassi/marchefrais-backend/api/controllers/webhooks"
	"github.com/bkouassi/marchefrais-backend/api/middleware"
	"github.com/bkouassi/marchefrais-backend/internal/dispatch"
	internalorders "github.com/bkouassi/marchefrais-backend/internal/orders"
	"github.com/bkouassi/marchefrais-backend/internal/payments"
	"github.com/bkouassi/marchefrais-backend/internal/stock"
	"github.com/bkouassi/marchefrais-backend/internal/weights"
	"github.com/bkouassi/marchefrais-backend/pkg/config"
	"github.com/bkouassi/marchefrais-backend/pkg/db"
	"github.com/bkouassi/marchefrais-backend/pkg/logger"
	"github.com/bkouassi/marchefrais-backend/pkg/metrics"
	"github.com/bkouassi/marchefrais-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ordersRepo *internalorders.Repository,
	ordersSvc internalorders.Service,
	weightsSvc weights.Service,
	paymentsOrch payments.Orchestrator,
	dispatchAdapter dispatch.Adapter,
	stockMgr stock.Manager,
	paymentMetrics *metrics.PaymentMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.PaymentWebhook(paymentsOrch, cfg.Payment.WebhookSecret, paymentMetrics, logg))
		r.Post("/delivery", webhookcontrollers.DeliveryWebhook(dispatchAdapter, cfg.Dispatch.WebhookSecret, paymentMetrics, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", ordercontrollers.Checkout(ordersSvc, logg))
		r.Get("/", ordercontrollers.List(ordersSvc, logg))
		r.Get("/number/{orderNumber}", ordercontrollers.Detail(ordersSvc, logg))
		r.Get("/{orderId}", ordercontrollers.DetailByID(ordersRepo, logg))
		r.Post("/{orderId}/status", ordercontrollers.UpdateStatus(ordersSvc, logg))
		r.Post("/{orderId}/items/{itemId}/weigh", ordercontrollers.Weigh(weightsSvc, logg))
		r.Post("/{orderId}/confirm-cash", ordercontrollers.ConfirmCash(ordersSvc, logg))
		r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
		r.Post("/{orderId}/cancel/resume", ordercontrollers.ResumeCancel(ordersSvc, logg))
	})

	r.Route("/api/admin/v1/stock", func(r chi.Router) {
		r.Post("/sweep-expired", controllers.StockSweepExpired(stockMgr, logg))
	})

	return r
}

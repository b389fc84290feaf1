package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts gateway attempts and webhook outcomes.
type PaymentMetrics struct {
	attempts        *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_attempts",
		Help: "Payment gateway calls by action and outcome.",
	}, []string{"action", "outcome"})
	webhookRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected",
		Help: "Inbound webhooks rejected before processing.",
	}, []string{"source", "reason"})
	reg.MustRegister(attempts, webhookRejected)
	return &PaymentMetrics{
		attempts:        attempts,
		webhookRejected: webhookRejected,
	}
}

// IncAttempt increments the attempt counter for the given action/outcome pair.
func (p *PaymentMetrics) IncAttempt(action, outcome string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// IncWebhookRejected increments the rejected-webhook counter.
func (p *PaymentMetrics) IncWebhookRejected(source, reason string) {
	if p == nil || p.webhookRejected == nil {
		return
	}
	p.webhookRejected.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(NewRegistry),
	fx.Provide(New),
)

// Metrics holds the engine's prometheus collectors. Every counter is
// registered against the provided registry so tests can use isolated ones.
type Metrics struct {
	WebhookEvents    *prometheus.CounterVec
	CreditsConsumed  prometheus.Counter
	CreditsGranted   prometheus.Counter
	ConsumeRejected  prometheus.Counter
	GrantReplays     prometheus.Counter
	StaleEventsDrops prometheus.Counter
}

func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditengine_webhook_events_total",
			Help: "Webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CreditsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditengine_credits_consumed_total",
			Help: "Credits debited from user balances.",
		}),
		CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditengine_credits_granted_total",
			Help: "Credits credited to user balances.",
		}),
		ConsumeRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditengine_consume_rejected_total",
			Help: "Consume attempts rejected for insufficient balance.",
		}),
		GrantReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditengine_grant_replays_total",
			Help: "Grants skipped because their idempotency key was already applied.",
		}),
		StaleEventsDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditengine_stale_webhook_events_total",
			Help: "Subscription events discarded by the out-of-order guard.",
		}),
	}

	reg.MustRegister(
		m.WebhookEvents,
		m.CreditsConsumed,
		m.CreditsGranted,
		m.ConsumeRejected,
		m.GrantReplays,
		m.StaleEventsDrops,
	)
	return m
}

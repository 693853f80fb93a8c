package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhook_events_total",
		Help: "Inbound webhook deliveries by outcome",
	}, []string{"outcome"})

	NotificationDispatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_notification_dispatches_total",
		Help: "Notification job dispatch attempts by result",
	}, []string{"result"})

	DeferredReprocessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_deferred_reprocess_total",
		Help: "Deferred event reprocessing attempts by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		WebhookEventsTotal,
		NotificationDispatchesTotal,
		DeferredReprocessTotal,
	)
}

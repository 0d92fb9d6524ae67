package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_deliveries_total",
			Help: "Outbound webhook delivery outcomes by result and event type",
		},
		[]string{"result", "event"}, // sent|failed|exhausted , tenant.*
	)

	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_webhooks_received_total",
			Help: "Inbound webhook outcomes by result and event type",
		},
		[]string{"result", "event"}, // applied|noop|illegal_transition|ignored|rejected
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantsync_commands_total",
			Help: "Command API operations by op and result",
		},
		[]string{"op", "result"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		WebhooksReceivedTotal,
		CommandsTotal,
	)
}

package edge

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesInboundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wa_gateway_messages_inbound_total",
		Help: "Inbound WhatsApp messages processed from the webhook.",
	})
	messagesOutboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_gateway_messages_outbound_total",
		Help: "Outbound messages accepted by the REST send endpoints, by kind.",
	}, []string{"kind"})
	websocketSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wa_gateway_websocket_sessions_active",
		Help: "Currently open duplex /ws/{user_id} sessions.",
	})
)

func init() {
	prometheus.MustRegister(messagesInboundTotal, messagesOutboundTotal, websocketSessionsActive)
}

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slateroom_messages_routed_total",
			Help: "Envelopes delivered to at least one recipient",
		},
		[]string{"type"},
	)

	messagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slateroom_messages_dropped_total",
			Help: "Envelopes dropped because no recipient could be resolved",
		},
		[]string{"type"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slateroom_ws_active_connections",
			Help: "Active websocket connections on the relay",
		},
	)

	peerLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slateroom_peer_links_active",
			Help: "PeerLinks currently held by the local mesh",
		},
	)

	strokesCommittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slateroom_strokes_committed_total",
			Help: "Strokes committed by the local participant",
		},
	)
)

func RecordMessageRouted(msgType string) {
	messagesRoutedTotal.WithLabelValues(msgType).Inc()
}

func RecordMessageDropped(msgType string) {
	messagesDroppedTotal.WithLabelValues(msgType).Inc()
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func SetActivePeerLinks(count int) {
	peerLinksActive.Set(float64(count))
}

func RecordStrokeCommitted() {
	strokesCommittedTotal.Inc()
}

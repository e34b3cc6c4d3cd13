// Package metrics exposes the engine's Prometheus instrumentation, in the
// same package-level-vars-plus-Register() shape as
// internal/metrics/metrics.go (pobradovic08-route-beacon-ri), adapted from
// Kafka-ingest counters/histograms to per-peer BGP session counters and
// gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsEstablished counts FSM transitions into Established, labeled
	// by peer address.
	SessionsEstablished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgpd",
		Name:      "sessions_established_total",
		Help:      "Number of times a peer session reached the Established state.",
	}, []string{"peer"})

	// SessionState is a gauge encoding the FSM state of each configured
	// peer (0=Idle,1=Connect,2=Active,3=OpenSent,4=OpenConfirm,5=Established).
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgpd",
		Name:      "session_state",
		Help:      "Current FSM state of the peer session.",
	}, []string{"peer"})

	// NotificationsTotal counts sent/received NOTIFICATION messages broken
	// down by error code and subcode.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgpd",
		Name:      "notifications_total",
		Help:      "NOTIFICATION messages exchanged, by direction, code and subcode.",
	}, []string{"peer", "direction", "code", "subcode"})

	// MessagesTotal counts PDUs exchanged by message type.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgpd",
		Name:      "messages_total",
		Help:      "BGP messages exchanged, by direction and message type.",
	}, []string{"peer", "direction", "type"})

	// BacklogDepth is a gauge tracking the outbound write queue length
	// (spec.md's bounded-backlog invariant).
	BacklogDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgpd",
		Name:      "write_backlog_depth",
		Help:      "Number of encoded PDUs queued for write to the peer.",
	}, []string{"peer"})

	// RIBRoutes is a gauge of routes currently held per peer's adjacency.
	RIBRoutes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgpd",
		Name:      "rib_routes",
		Help:      "Routes currently present in the per-peer adjacency RIB.",
	}, []string{"peer", "afi", "safi"})

	// HoldTimer reports the negotiated hold time in seconds per peer.
	HoldTimer = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgpd",
		Name:      "hold_time_seconds",
		Help:      "Negotiated hold time for the peer session.",
	}, []string{"peer"})
)

// Register adds every collector to the default registry. Called once at
// startup, the way rib-ingester's main.go calls metrics.Register() before
// starting the HTTP listener.
func Register() {
	prometheus.MustRegister(
		SessionsEstablished,
		SessionState,
		NotificationsTotal,
		MessagesTotal,
		BacklogDepth,
		RIBRoutes,
		HoldTimer,
	)
}

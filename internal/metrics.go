package internal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 協調器的 Prometheus 指標
//
// nil *Metrics 是合法的空實作（測試不需要註冊指標）。
type Metrics struct {
	roomsActive       prometheus.Gauge
	connectionsActive prometheus.Gauge
	matchesStarted    prometheus.Counter
	matchesEnded      *prometheus.CounterVec
	messagesRelayed   prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	heartbeatEvicted  prometheus.Counter
	deleteFailures    prometheus.Counter
}

// 丟棄原因
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropNoRoom      = "no_room"
)

// NewMetrics 建立並註冊指標
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_rooms_active",
			Help: "Rooms currently held in the registry.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_connections_active",
			Help: "Open websocket connections.",
		}),
		matchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_matches_started_total",
			Help: "Matches started across all rooms.",
		}),
		matchesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_matches_ended_total",
			Help: "Matches ended, by reason.",
		}, []string{"reason"}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_messages_relayed_total",
			Help: "Gameplay messages delivered to peers.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_messages_dropped_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		heartbeatEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_heartbeat_evictions_total",
			Help: "Connections terminated by the heartbeat supervisor.",
		}),
		deleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_room_delete_failures_total",
			Help: "Failed best-effort room record deletions.",
		}),
	}

	reg.MustRegister(
		m.roomsActive,
		m.connectionsActive,
		m.matchesStarted,
		m.matchesEnded,
		m.messagesRelayed,
		m.messagesDropped,
		m.heartbeatEvicted,
		m.deleteFailures,
	)
	return m
}

func (m *Metrics) roomCreated() {
	if m != nil {
		m.roomsActive.Inc()
	}
}

func (m *Metrics) roomDestroyed() {
	if m != nil {
		m.roomsActive.Dec()
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) matchStarted() {
	if m != nil {
		m.matchesStarted.Inc()
	}
}

func (m *Metrics) matchEnded(reason EndReason) {
	if m != nil {
		m.matchesEnded.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) relayed(n int) {
	if m != nil {
		m.messagesRelayed.Add(float64(n))
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.heartbeatEvicted.Inc()
	}
}

func (m *Metrics) deleteFailed() {
	if m != nil {
		m.deleteFailures.Inc()
	}
}

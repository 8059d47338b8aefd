package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active",
		Help: "Rooms currently held in the registry",
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_state_transitions_total",
		Help: "Room lifecycle transitions",
	}, []string{"from", "to"})

	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "Signaling messages forwarded between participants",
	}, []string{"type"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_dropped_total",
		Help: "Signaling messages dropped for lack of a counterpart",
	}, []string{"type"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_chat_messages_total",
		Help: "Chat messages broadcast to rooms",
	})

	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_role_evictions_total",
		Help: "Participants displaced by a same-role rejoin",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric this broker exports, so they sit next to
// any other "broker_*" exporter on a shared Prometheus instance without
// colliding on bare "mqtt_*" names.
const namespace = "broker"

var (
	// ClientsConnected is the number of sessions currently registered with
	// the broker (internal/broker.Broker.AddClient/RemoveClient).
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients_connected",
		Help:      "Number of client sessions currently registered with the broker",
	})

	// MessagesReceived counts PUBLISH packets handed to Broker.Publish,
	// before they are validated, labeled by packet type so future
	// non-publish traffic can share it.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages accepted by the broker, by packet type",
		},
		[]string{"type"},
	)

	// MessagesSent counts messages handed to a session for delivery, labeled
	// by packet type.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages delivered to subscribers, by packet type",
		},
		[]string{"type"},
	)

	// BytesReceived tracks the encoded size of every packet read off a
	// client connection.
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_received_total",
		Help:      "Total bytes read from client connections",
	})

	// BytesSent tracks the encoded size of every packet written to a client
	// connection.
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_sent_total",
		Help:      "Total bytes written to client connections",
	})

	// ConnectionsTotal counts every client that has ever registered with the
	// broker, including ones later overridden by a reconnect.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Total number of client connections accepted since startup",
	})

	// SubscriptionsActive is the current size of the subscription trie,
	// counted per Subscribe/Unsubscribe call.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions_active",
		Help:      "Number of filters currently held in the subscription tree",
	})

	// RetainedMessages mirrors retainstore.Store.Count, the number of topics
	// currently holding a retained value.
	RetainedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retained_messages",
		Help:      "Number of topics currently holding a retained message",
	})

	// QoSMessagesInflight tracks QoS 1/2 deliveries awaiting their PUBACK or
	// PUBREC/PUBCOMP handshake, labeled by QoS level.
	QoSMessagesInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "qos_messages_inflight",
			Help:      "Number of QoS 1/2 deliveries awaiting acknowledgment, by QoS level",
		},
		[]string{"qos"},
	)
)

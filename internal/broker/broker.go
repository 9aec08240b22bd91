// Package broker ties the subscription trie, retained tree and routing
// engine together: it owns connected clients, accepts publishes and
// subscription changes, and drives the single broadcast worker that fans
// rows out to subscribers.
package broker

import (
	"log"
	"sync"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/metrics"
	"github.com/tidalmq/broker/internal/retainstore"
	"github.com/tidalmq/broker/internal/router"
	"github.com/tidalmq/broker/internal/topic"
)

// broadcastQueueSize bounds how many publish batches can be pending
// routing before Publish starts blocking the caller.
const broadcastQueueSize = 256

// ClientHandle is the narrow surface the broker needs from a connected
// client, letting this package stay independent of internal/session.
type ClientHandle interface {
	ID() string
	Deliver(message.OutgoingMessage)
	// Override is called on the previous holder of a client id when a new
	// CONNECT with the same id arrives; it must close the old connection.
	Override()
}

// Broker owns the clients map, the subscription trie, the retained store
// and the broadcast queue, and runs the single broadcast worker.
type Broker struct {
	clientsMu sync.Mutex
	clients   map[string]ClientHandle

	subsMu sync.RWMutex
	subs   *topic.SubTrie

	retained *retainstore.Store

	broadcast chan []message.Row
	done      chan struct{}
}

// New constructs a Broker over an already-opened retained store and starts
// its broadcast worker.
func New(retained *retainstore.Store) *Broker {
	b := &Broker{
		clients:   make(map[string]ClientHandle),
		subs:      topic.NewSubTrie(),
		retained:  retained,
		broadcast: make(chan []message.Row, broadcastQueueSize),
		done:      make(chan struct{}),
	}
	go b.broadcastLoop()
	return b
}

// AddClient registers c, evicting and overriding any prior client with the
// same id.
func (b *Broker) AddClient(c ClientHandle) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	if prev, ok := b.clients[c.ID()]; ok {
		prev.Override()
	} else {
		metrics.ClientsConnected.Inc()
	}
	b.clients[c.ID()] = c
	metrics.ConnectionsTotal.Inc()
}

// RemoveClient drops c from the clients map, but only if it is still the
// registered holder of that id (a connection overridden by a newer CONNECT
// must not remove the new client's entry when it finishes tearing down).
func (b *Broker) RemoveClient(c ClientHandle) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	if cur, ok := b.clients[c.ID()]; ok && cur == c {
		delete(b.clients, c.ID())
		metrics.ClientsConnected.Dec()
	}
}

// Publish applies a retain update (if any) and enqueues the resulting rows
// for the broadcast worker.
func (b *Broker) Publish(msg message.IncomingMessage) error {
	metrics.MessagesReceived.WithLabelValues("publish").Inc()

	rows, err := b.retained.Rows(msg)
	if err != nil {
		return err
	}
	if msg.Retain {
		b.retained.Put(rows)
		metrics.RetainedMessages.Set(float64(b.retained.Count()))
	}

	b.broadcast <- rows
	return nil
}

// Subscribe registers client for topicStr at qos. If sync is set, it first
// pushes an immediate dump of the matching retained sub-tree, matching
// spec's "push the dump before recording the subscription" order.
func (b *Broker) Subscribe(client ClientHandle, topicStr string, qos byte, sync bool) error {
	t := topic.Parse(topicStr)

	if sync {
		item := b.retained.Sync(t.Nodes())
		// The dump is keyed from the first wildcard node on, so it is
		// delivered under the literal prefix before that node.
		prefix := t.Nodes()
		for i, n := range prefix {
			if topic.ClassifyNode(n) != topic.KindLiteral {
				prefix = prefix[:i]
				break
			}
		}
		out, err := message.FromTreeItem(topic.FromNodes(prefix).String(), qos, item)
		if err != nil {
			return err
		}
		client.Deliver(out)
	}

	b.subsMu.Lock()
	b.subs.Subscribe(client.ID(), t.Nodes(), qos)
	b.subsMu.Unlock()
	metrics.SubscriptionsActive.Inc()
	return nil
}

// Unsubscribe removes client's subscriptions for the given filters, logging
// (not failing) any filter the client wasn't subscribed to.
func (b *Broker) Unsubscribe(client ClientHandle, filters ...string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for _, f := range filters {
		t := topic.Parse(f)
		if !b.subs.Unsubscribe(client.ID(), t.Nodes()) {
			log.Printf("broker: subscription %q not found for client %s", f, client.ID())
			continue
		}
		metrics.SubscriptionsActive.Dec()
	}
}

// broadcastLoop is the single consumer of the broadcast queue: it takes the
// subscription read lock, runs the routing engine, and delivers each
// resulting OutgoingMessage to its target client's outbox.
func (b *Broker) broadcastLoop() {
	defer close(b.done)
	for rows := range b.broadcast {
		b.routeAndDeliver(rows)
	}
}

func (b *Broker) routeAndDeliver(rows []message.Row) {
	b.subsMu.RLock()
	deliveries := router.Route(b.subs, rows)
	b.subsMu.RUnlock()

	for _, d := range deliveries {
		out, err := message.FromTreeItem(joinTopic(d.Topic), 0, d.Payload)
		if err != nil {
			log.Printf("broker: dropping undeliverable payload for %v: %v", d.Topic, err)
			continue
		}

		b.clientsMu.Lock()
		targets := make([]ClientHandle, 0, len(d.Clients))
		qosByTarget := make([]byte, 0, len(d.Clients))
		for clientID, qos := range d.Clients {
			if c, ok := b.clients[clientID]; ok {
				targets = append(targets, c)
				qosByTarget = append(qosByTarget, qos)
			}
		}
		b.clientsMu.Unlock()

		for i, c := range targets {
			deliver := out
			deliver.QoS = qosByTarget[i]
			c.Deliver(deliver)
			metrics.MessagesSent.WithLabelValues("publish").Inc()
		}
	}
}

// Close stops the broadcast worker and closes the retained store.
func (b *Broker) Close() error {
	close(b.broadcast)
	<-b.done
	return b.retained.Close()
}

func joinTopic(nodes []string) string {
	s := ""
	for i, n := range nodes {
		if i > 0 {
			s += topic.Separator
		}
		s += n
	}
	return s
}

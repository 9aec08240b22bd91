// Package message holds the row model that bridges the packet codec, the
// retained tree, and the routing engine: a published packet becomes an
// IncomingMessage, a delivery to a subscriber becomes an OutgoingMessage, and
// the unit that actually flows through the broadcast queue and the
// persistence channel is a Row.
package message

import (
	"encoding/json"
	"strings"

	"github.com/tidalmq/broker/internal/topic"
)

// Row is the expanded (nodes, data, qos) unit accepted by the broadcast
// queue and the persistence channel. An empty Data is a retain tombstone.
type Row struct {
	Nodes []string
	Data  []byte
	QoS   byte
}

// Topic renders the row's node list in canonical "/"-joined form.
func (r Row) Topic() string { return strings.Join(r.Nodes, topic.Separator) }

// IsDelete reports whether the row represents a retain-delete.
func (r Row) IsDelete() bool { return len(r.Data) == 0 }

// IncomingMessage is what a handler builds out of a decoded PUBLISH before
// handing it to the broker.
type IncomingMessage struct {
	Topic  topic.Topic
	QoS    byte
	Retain bool
	Tree   bool
	Data   []byte
}

// FromRawData builds an IncomingMessage from a PUBLISH packet's fields. The
// tree flag is only meaningful for retained publishes: a raw topic ending in
// a trailing separator on a retain publish means "this payload is a document
// to graft", and the separator is stripped before parsing. Non-retain
// publishes never carry tree semantics, matching a trailing separator there
// literally: it becomes an empty trailing node, which is not a wildcard, so
// the publish is routed to that literal topic.
func FromRawData(rawTopic string, data []byte, qos byte, retain bool) IncomingMessage {
	if !retain {
		return IncomingMessage{
			Topic: topic.FromNodes(strings.Split(rawTopic, topic.Separator)),
			QoS:   qos,
			Data:  data,
		}
	}
	tree := false
	s := rawTopic
	if len(s) > 1 && strings.HasSuffix(s, topic.Separator) {
		s = s[:len(s)-len(topic.Separator)]
		tree = true
	}
	return IncomingMessage{
		Topic:  topic.FromNodes(strings.Split(s, topic.Separator)),
		QoS:    qos,
		Retain: true,
		Tree:   tree,
		Data:   data,
	}
}

// OutgoingMessage is a fully resolved delivery: a concrete topic string (the
// actual delivered topic after wildcard resolution, not a filter), a qos,
// and a payload. Produced either by the routing engine or by a
// subscribe-sync read of the retained tree.
type OutgoingMessage struct {
	Topic string
	QoS   byte
	Data  []byte
}

// FromTreeItem builds an OutgoingMessage from whatever the routing engine
// or a sync-subscribe dump produced for this topic: a single retained leaf
// travels as-is, while a nested tree dump (map[string]any, built by the
// retained tree's Sync/dump helpers) is JSON-encoded, decoding any []byte
// leaf to a plain string first so the wire payload stays human-readable.
func FromTreeItem(t string, qos byte, item any) (OutgoingMessage, error) {
	if data, ok := item.([]byte); ok {
		return OutgoingMessage{Topic: t, QoS: qos, Data: data}, nil
	}
	encoded, err := json.Marshal(jsonifyBytes(item))
	if err != nil {
		return OutgoingMessage{}, err
	}
	return OutgoingMessage{Topic: t, QoS: qos, Data: encoded}, nil
}

// jsonifyBytes recursively turns every []byte leaf in a nested
// map[string]any into a string, so json.Marshal emits it literally instead
// of base64-encoding it.
func jsonifyBytes(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = jsonifyBytes(vv)
		}
		return out
	default:
		return v
	}
}

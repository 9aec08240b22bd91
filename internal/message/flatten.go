package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidalmq/broker/internal/topic"
)

// treeTombstoneMarker is the reserved key inside a tree-publish JSON
// document whose value, if equal to topic.MultiWildcard, means "the keys
// present in this document are the complete set below here" — any retained
// key at this level absent from the document is emitted as a tombstone row.
const treeTombstoneMarker = "#"

// ErrInvalidEverything is returned when a tree publish's topic uses the "*"
// everything marker, which is valid only on a sync-subscribe filter. Other
// publishes match "*" as a literal node.
var ErrInvalidEverything = errors.New("message: * is not a valid publish topic node")

// ErrDynamicMessage is returned when a non-retained publish topic contains
// a wildcard; only retained publishes may expand against the trie.
var ErrDynamicMessage = errors.New("message: non-retained publish topic must not contain a wildcard")

// Rows expands the message into the set of rows it produces, given the
// current retained tree (consulted for wildcard expansion and for the
// tombstone-diff rule; it is not consulted for a plain non-retain publish).
func (m IncomingMessage) Rows(retained *topic.RetainTrie) ([]Row, error) {
	if err := m.Topic.Validate(); err != nil {
		return nil, err
	}
	nodes := m.Topic.Nodes()

	if !m.Retain {
		if m.Topic.HasWildcard() {
			return nil, ErrDynamicMessage
		}
		return []Row{{Nodes: nodes, Data: m.Data, QoS: m.QoS}}, nil
	}

	if m.Tree {
		doc, err := decodeDocument(m.Data)
		if err != nil {
			return nil, err
		}
		return flattenTree(nodes, doc, m.QoS, retained.Root())
	}

	matched := retained.Walk(nodes)
	rows := make([]Row, len(matched))
	for i, row := range matched {
		rows[i] = Row{Nodes: row.Nodes, Data: m.Data, QoS: m.QoS}
	}
	return rows, nil
}

// flattenTree recursively consumes topic nodes against the document tree.
// The document is grafted under the topic, so literal nodes descend only
// the retained tree and pass the document through unchanged; a + node fans
// out over the document's keys, descending into each key's value; reaching
// the end of the topic, or a terminal #, hands off to flattenLeaf.
func flattenTree(nodes []string, data any, qos byte, branch *topic.RetainNode) ([]Row, error) {
	if len(nodes) == 0 {
		return flattenLeaf(nil, data, qos, branch), nil
	}
	head, rest := nodes[0], nodes[1:]
	switch topic.ClassifyNode(head) {
	case topic.KindEverything:
		return nil, ErrInvalidEverything
	case topic.KindMultiWildcard:
		return flattenLeaf(nil, data, qos, branch), nil
	case topic.KindSingleWildcard:
		doc, ok := data.(map[string]any)
		if !ok {
			return nil, nil
		}
		var out []Row
		for key, val := range doc {
			if key == treeTombstoneMarker {
				continue
			}
			var child *topic.RetainNode
			if branch != nil {
				child, _ = branch.Child(key)
			}
			sub, err := flattenTree(rest, val, qos, child)
			if err != nil {
				return nil, err
			}
			out = append(out, prefixRows(key, sub)...)
		}
		return out, nil
	default:
		var child *topic.RetainNode
		if branch != nil {
			child, _ = branch.Child(head)
		}
		sub, err := flattenTree(rest, data, qos, child)
		if err != nil {
			return nil, err
		}
		return prefixRows(head, sub), nil
	}
}

// flattenLeaf handles the document payload once the topic is exhausted (or
// hit a terminal #): a plain string is one row; a map is the
// immediate-children case, where every key with a string value becomes one
// row (a key whose value is a nested map, a number or any other JSON type
// produces no row, so only one level of the document is flattened) and the reserved
// tombstone marker, if set to "#", triggers a diff against the existing
// retained children to emit delete rows for keys the document dropped.
func flattenLeaf(base []string, data any, qos byte, branch *topic.RetainNode) []Row {
	switch v := data.(type) {
	case string:
		return []Row{{Nodes: base, Data: []byte(v), QoS: qos}}
	case map[string]any:
		var out []Row
		seen := make(map[string]struct{}, len(v))
		for key, val := range v {
			if key == treeTombstoneMarker {
				continue
			}
			if s, ok := val.(string); ok {
				out = append(out, Row{Nodes: append(appendKey(base, key)), Data: []byte(s), QoS: qos})
				seen[key] = struct{}{}
			}
		}
		if marker, ok := v[treeTombstoneMarker]; ok {
			if s, ok := marker.(string); ok && s == topic.MultiWildcard && branch != nil {
				for key, child := range branch.Children() {
					if _, present := seen[key]; present {
						continue
					}
					if child.HasLeaf() {
						out = append(out, Row{Nodes: appendKey(base, key), QoS: qos})
					}
				}
			}
		}
		return out
	default:
		return nil
	}
}

func prefixRows(key string, rows []Row) []Row {
	for i := range rows {
		rows[i].Nodes = appendKey([]string{key}, rows[i].Nodes...)
	}
	return rows
}

// decodeDocument parses a tree-publish payload into the generic shape
// flattenTree walks: a JSON object becomes map[string]any, a JSON string
// becomes a plain string leaf.
func decodeDocument(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("message: invalid tree-publish payload: %w", err)
	}
	return v, nil
}

func appendKey(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	out = append(out, extra...)
	return out
}

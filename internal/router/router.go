// Package router implements the depth-first match of a batch of rows
// against the subscription trie, producing the Deliveries for every
// subscription leaf the batch touches.
package router

import (
	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/topic"
)

// Delivery is one resolved fan-out target: the client set that matched,
// the concrete delivered topic (after wildcard resolution, never the
// subscription filter string), and the payload to send. Payload is either
// []byte (one row matched) or map[string]any (more than one row matched
// through a wildcard, combined into a nested document).
type Delivery struct {
	Clients topic.ClientQoS
	Topic   []string
	Payload any
}

// Route walks rows against trie and returns the Deliveries for every matched
// leaf. One leaf can yield several: each node a + resolves to is routed
// separately, and rows that reach a leaf without crossing a wildcard are
// delivered one per row (see buildDeliveries).
func Route(trie *topic.SubTrie, rows []message.Row) []Delivery {
	return route(trie.Root(), rows, nil, nil, false)
}

func route(node *topic.SubNode, rows []message.Row, base []string, wildcardAt []bool, sawWildcard bool) []Delivery {
	depth := len(base)
	var leafRows []message.Row
	byNode := map[string][]message.Row{}
	for _, r := range rows {
		switch {
		case len(r.Nodes) == depth:
			leafRows = append(leafRows, r)
		case len(r.Nodes) > depth:
			key := r.Nodes[depth]
			byNode[key] = append(byNode[key], r)
		}
	}

	var out []Delivery
	for key, child := range node.Children() {
		switch topic.ClassifyNode(key) {
		case topic.KindMultiWildcard:
			if clients, ok := child.Leaf(); ok && len(rows) > 0 {
				out = append(out, buildDeliveries(clients, base, wildcardAt, true, rows)...)
			}
		case topic.KindSingleWildcard:
			for nodeValue, matched := range byNode {
				out = append(out, route(
					child, matched,
					appendStr(base, nodeValue),
					appendBool(wildcardAt, true),
					true,
				)...)
			}
		default:
			if matched, ok := byNode[key]; ok {
				out = append(out, route(
					child, matched,
					appendStr(base, key),
					appendBool(wildcardAt, false),
					sawWildcard,
				)...)
			}
		}
	}

	if clients, ok := node.Leaf(); ok && len(leafRows) > 0 {
		out = append(out, buildDeliveries(clients, base, wildcardAt, sawWildcard, leafRows)...)
	}
	return out
}

// buildDeliveries turns the rows that reached one subscription leaf into
// Delivery values. Exactly one row always yields a single plain delivery
// carrying that row's own resolved topic, regardless of whether a wildcard
// was crossed to get here (this is what keeps a "+" match reporting its
// real topic, e.g. a/b/c, instead of wrapping a lone value in a document).
// More than one row reaching the same leaf without ever crossing a
// wildcard are duplicate writes to the same literal topic within one
// batch: emit them one per row, preserving batch order. Only when more
// than one row reaches the leaf *through* a wildcard are they combined
// into a single nested-document delivery, keyed by the node each row
// resolved at every wildcard position walked (literal positions
// contribute nothing to the key, mirroring how the original broker's
// subscription fan-out built its tree payloads).
func buildDeliveries(clients topic.ClientQoS, base []string, wildcardAt []bool, sawWildcard bool, rows []message.Row) []Delivery {
	if len(rows) == 1 {
		return []Delivery{{Clients: clients, Topic: append([]string{}, rows[0].Nodes...), Payload: rows[0].Data}}
	}
	if !sawWildcard {
		out := make([]Delivery, len(rows))
		for i, r := range rows {
			out[i] = Delivery{Clients: clients, Topic: append([]string{}, r.Nodes...), Payload: r.Data}
		}
		return out
	}
	return []Delivery{{Clients: clients, Topic: append([]string{}, base...), Payload: buildTree(base, wildcardAt, rows)}}
}

// buildTree nests rows into a document keyed only by the nodes each row
// resolved at wildcard positions in base; any node beyond the end of base
// (reached by descending through a terminal #) is treated as one more
// wildcard position per row.
func buildTree(base []string, wildcardAt []bool, rows []message.Row) map[string]any {
	tree := map[string]any{}
	for _, r := range rows {
		var ref any = tree
		var refKey string
		haveKey := false
		for i := range base {
			if i < len(wildcardAt) && !wildcardAt[i] {
				continue
			}
			if haveKey {
				ref = descend(ref, refKey)
			}
			refKey = r.Nodes[i]
			haveKey = true
		}
		for i := len(base); i < len(r.Nodes); i++ {
			if haveKey {
				ref = descend(ref, refKey)
			}
			refKey = r.Nodes[i]
			haveKey = true
		}
		if haveKey {
			ref.(map[string]any)[refKey] = r.Data
		}
	}
	return tree
}

func descend(ref any, key string) map[string]any {
	m := ref.(map[string]any)
	next, ok := m[key].(map[string]any)
	if !ok {
		next = map[string]any{}
		m[key] = next
	}
	return next
}

func appendStr(base []string, extra string) []string {
	out := make([]string, len(base), len(base)+1)
	copy(out, base)
	return append(out, extra)
}

func appendBool(base []bool, extra bool) []bool {
	out := make([]bool, len(base), len(base)+1)
	copy(out, base)
	return append(out, extra)
}

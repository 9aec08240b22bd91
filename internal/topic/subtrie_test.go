package topic

import "testing"

func TestSubscribeUnsubscribeCascade(t *testing.T) {
	trie := NewSubTrie()
	trie.Subscribe("c1", []string{"a", "b"}, 1)

	root := trie.Root()
	a, ok := root.Children()["a"]
	if !ok {
		t.Fatalf("expected child a")
	}
	b, ok := a.Children()["b"]
	if !ok {
		t.Fatalf("expected child b")
	}
	leaf, ok := b.Leaf()
	if !ok || leaf["c1"] != 1 {
		t.Fatalf("expected c1 at qos 1, got %v ok=%v", leaf, ok)
	}

	if !trie.Unsubscribe("c1", []string{"a", "b"}) {
		t.Fatalf("expected unsubscribe to report success")
	}
	if _, ok := trie.Root().Children()["a"]; ok {
		t.Fatalf("expected cascade delete to remove the now-empty a/b branch")
	}
}

func TestUnsubscribeUnknownClientIsNoop(t *testing.T) {
	trie := NewSubTrie()
	trie.Subscribe("c1", []string{"a"}, 0)
	if trie.Unsubscribe("c2", []string{"a"}) {
		t.Fatalf("c2 was never subscribed")
	}
	if _, ok := trie.Root().Children()["a"].Leaf(); !ok {
		t.Fatalf("c1's subscription should be untouched")
	}
}

func TestSubscribeSharedSiblingSurvivesUnsubscribe(t *testing.T) {
	trie := NewSubTrie()
	trie.Subscribe("c1", []string{"a", "b"}, 0)
	trie.Subscribe("c1", []string{"a", "c"}, 0)
	trie.Unsubscribe("c1", []string{"a", "b"})

	a, ok := trie.Root().Children()["a"]
	if !ok {
		t.Fatalf("expected a to survive since a/c is still subscribed")
	}
	if _, ok := a.Children()["b"]; ok {
		t.Fatalf("expected a/b to be pruned")
	}
	if _, ok := a.Children()["c"]; !ok {
		t.Fatalf("expected a/c to remain")
	}
}

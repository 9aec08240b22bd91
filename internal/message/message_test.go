package message

import "testing"

func TestFromRawDataRetainTrailingSeparatorSetsTree(t *testing.T) {
	m := FromRawData("a/b/", []byte(`{"c":"1"}`), 0, true)
	if !m.Tree {
		t.Fatalf("expected tree flag to be set")
	}
	if got := m.Topic.Nodes(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected nodes: %v", got)
	}
}

func TestFromRawDataNonRetainIgnoresTrailingSeparator(t *testing.T) {
	m := FromRawData("a/b/", []byte("x"), 0, false)
	if m.Tree {
		t.Fatalf("non-retain publishes never carry tree semantics")
	}
}

func TestRowIsDelete(t *testing.T) {
	if !(Row{}).IsDelete() {
		t.Fatalf("an empty-data row is a tombstone")
	}
	if (Row{Data: []byte("x")}).IsDelete() {
		t.Fatalf("a non-empty row is not a tombstone")
	}
}

package message

import (
	"testing"

	"github.com/tidalmq/broker/internal/topic"
)

func TestRowsNonRetainLiteral(t *testing.T) {
	m := FromRawData("a/b", []byte("hello"), 0, false)
	rows, err := m.Rows(topic.NewRetainTrie())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || string(rows[0].Data) != "hello" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestRowsNonRetainWildcardIsDynamicMessageError(t *testing.T) {
	m := FromRawData("a/+", []byte("x"), 0, false)
	if _, err := m.Rows(topic.NewRetainTrie()); err != ErrDynamicMessage {
		t.Fatalf("expected ErrDynamicMessage, got %v", err)
	}
}

func TestRowsRetainNonTreePlusExpandsOverExistingChildren(t *testing.T) {
	rt := topic.NewRetainTrie()
	rt.Put([]string{"a", "x", "c"}, []byte("old1"))
	rt.Put([]string{"a", "y", "c"}, []byte("old2"))

	m := FromRawData("a/+/c", []byte("new"), 0, true)
	rows, err := m.Rows(rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	for _, r := range rows {
		if string(r.Data) != "new" {
			t.Fatalf("expected the incoming payload to overwrite every matched row, got %q", r.Data)
		}
	}
}

func TestRowsRetainLiteralNotYetRetained(t *testing.T) {
	rt := topic.NewRetainTrie()
	m := FromRawData("test/retained", []byte("first"), 0, true)
	rows, err := m.Rows(rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || string(rows[0].Data) != "first" {
		t.Fatalf("expected a retained publish to a brand-new literal topic to produce one row, got %+v", rows)
	}
}

func TestRowsTreeGraftFlattensDocument(t *testing.T) {
	rt := topic.NewRetainTrie()
	m := FromRawData("a/b/", []byte(`{"x":"1","y":"2"}`), 0, true)
	rows, err := m.Rows(rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	byTopic := map[string]string{}
	for _, r := range rows {
		byTopic[r.Topic()] = string(r.Data)
	}
	if byTopic["a/b/x"] != "1" || byTopic["a/b/y"] != "2" {
		t.Fatalf("unexpected flattened rows: %+v", byTopic)
	}
}

func TestRowsTreeGraftTombstonesDroppedKeys(t *testing.T) {
	rt := topic.NewRetainTrie()
	rt.Put([]string{"a", "b", "x"}, []byte("1"))
	rt.Put([]string{"a", "b", "stale"}, []byte("old"))

	m := FromRawData("a/b/", []byte(`{"x":"1","#":"#"}`), 0, true)
	rows, err := m.Rows(rt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawTombstone bool
	for _, r := range rows {
		if r.Topic() == "a/b/stale" && r.IsDelete() {
			sawTombstone = true
		}
	}
	if !sawTombstone {
		t.Fatalf("expected a tombstone row for the dropped 'stale' key, got %+v", rows)
	}
}

func TestRowsEverythingMarkerIsInvalidOnPublish(t *testing.T) {
	m := FromRawData("a/*/", []byte(`{}`), 0, true)
	if _, err := m.Rows(topic.NewRetainTrie()); err != ErrInvalidEverything {
		t.Fatalf("expected ErrInvalidEverything, got %v", err)
	}
}

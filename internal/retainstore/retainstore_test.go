package retainstore

import (
	"testing"
	"time"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/store"
)

// waitForLen polls back's LoadAll until it returns n records or the timeout
// expires, since the writer goroutine applies tasks asynchronously.
func waitForLen(t *testing.T, back store.Store, n int) []store.Record {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		records, err := back.LoadAll()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(records) == n {
			return records
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d records, have %d", n, len(records))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenLoadsExistingRecords(t *testing.T) {
	back := store.NewMemoryStore()
	back.UpsertMany([]store.Record{{Topic: "a/b", Data: []byte("1")}})

	s, err := Open(back)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data, _ := s.trie.Get([]string{"a", "b"})
	if string(data) != "1" {
		t.Fatalf("expected loaded retained value, got %q", data)
	}
}

func TestPutUpsertsAndDeletes(t *testing.T) {
	back := store.NewMemoryStore()
	s, err := Open(back)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Put([]message.Row{{Nodes: []string{"a", "b"}, Data: []byte("1")}})
	waitForLen(t, back, 1)

	got := s.Walk([]string{"a", "b"})
	if len(got) != 1 || string(got[0].Data) != "1" {
		t.Fatalf("unexpected walk result: %+v", got)
	}

	s.Put([]message.Row{{Nodes: []string{"a", "b"}, Data: nil}})
	waitForLen(t, back, 0)
}

func TestCloseDrainsPendingTasks(t *testing.T) {
	back := store.NewMemoryStore()
	s, err := Open(back)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.Put([]message.Row{{Nodes: []string{"x"}, Data: []byte("v")}})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records, _ := back.LoadAll()
	if len(records) != 1 {
		t.Fatalf("expected the single topic to end up upserted once, got %d", len(records))
	}
}

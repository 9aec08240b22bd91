package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/retainstore"
	"github.com/tidalmq/broker/internal/store"
)

type fakeClient struct {
	id         string
	mu         sync.Mutex
	received   []message.OutgoingMessage
	overridden bool
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Deliver(m message.OutgoingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, m)
}

func (c *fakeClient) Override() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overridden = true
}

func (c *fakeClient) messages() []message.OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.OutgoingMessage{}, c.received...)
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	rs, err := retainstore.Open(store.NewMemoryStore())
	if err != nil {
		t.Fatalf("open retainstore: %v", err)
	}
	return New(rs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAddClientOverridesPrior(t *testing.T) {
	b := newTestBroker(t)
	defer b.Close()

	c1 := newFakeClient("c1")
	c2 := newFakeClient("c1")
	b.AddClient(c1)
	b.AddClient(c2)

	if !c1.overridden {
		t.Fatal("expected prior client to be overridden")
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBroker(t)
	defer b.Close()

	sub := newFakeClient("sub")
	b.AddClient(sub)
	if err := b.Subscribe(sub, "a/b", 0, false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := message.FromRawData("a/b", []byte("hello"), 0, false)
	if err := b.Publish(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(sub.messages()) == 1 })
	got := sub.messages()[0]
	if got.Topic != "a/b" || string(got.Data) != "hello" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}

func TestSubscribeSyncDeliversRetainedImmediately(t *testing.T) {
	b := newTestBroker(t)
	defer b.Close()

	pub := newFakeClient("pub")
	b.AddClient(pub)
	retainMsg := message.FromRawData("a/b", []byte("1"), 0, true)
	if err := b.Publish(retainMsg); err != nil {
		t.Fatalf("retain publish: %v", err)
	}
	waitFor(t, func() bool {
		rows := b.retained.Walk([]string{"a", "b"})
		return len(rows) == 1
	})

	sub := newFakeClient("sub")
	b.AddClient(sub)
	if err := b.Subscribe(sub, "a/b", 0, true); err != nil {
		t.Fatalf("sync subscribe: %v", err)
	}

	msgs := sub.messages()
	if len(msgs) != 1 || string(msgs[0].Data) != "1" {
		t.Fatalf("expected immediate sync delivery, got %+v", msgs)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	defer b.Close()

	sub := newFakeClient("sub")
	b.AddClient(sub)
	b.Subscribe(sub, "a/b", 0, false)
	b.Unsubscribe(sub, "a/b")

	msg := message.FromRawData("a/b", []byte("x"), 0, false)
	b.Publish(msg)

	time.Sleep(20 * time.Millisecond)
	if len(sub.messages()) != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %+v", sub.messages())
	}
}

func TestRemoveClientOnlyIfCurrentHolder(t *testing.T) {
	b := newTestBroker(t)
	defer b.Close()

	c1 := newFakeClient("c1")
	c2 := newFakeClient("c1")
	b.AddClient(c1)
	b.AddClient(c2)
	b.RemoveClient(c1)

	b.clientsMu.Lock()
	_, stillPresent := b.clients["c1"]
	b.clientsMu.Unlock()
	if !stillPresent {
		t.Fatal("expected current client c2 to remain registered")
	}
}

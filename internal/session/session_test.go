package session

import (
	"net"
	"testing"
	"time"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/packet"
	"github.com/tidalmq/broker/internal/retainstore"
	"github.com/tidalmq/broker/internal/store"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	rs, err := retainstore.Open(store.NewMemoryStore())
	if err != nil {
		t.Fatalf("open retainstore: %v", err)
	}
	return broker.New(rs)
}

// connectAndRun starts a Session over one half of a net.Pipe, returning the
// other half (the "client" side the test drives) and the Run() result
// channel.
func connectAndRun(br *broker.Broker) (net.Conn, chan error) {
	serverConn, clientConn := net.Pipe()
	s := New(serverConn, br)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return clientConn, done
}

func writeClientConnect(t *testing.T, conn net.Conn, clientID string) {
	t.Helper()
	pkt := &packet.ConnectPacket{
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		CleanSession:    true,
		KeepAlive:       30,
		ClientID:        clientID,
	}
	if _, err := conn.Write(pkt.Encode()); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
}

func readPacket(t *testing.T, conn net.Conn) packet.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	p, err := packet.Decode(conn)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	return p
}

func TestConnectHandshakeThenCleanDisconnect(t *testing.T) {
	br := newTestBroker(t)
	defer br.Close()

	conn, done := connectAndRun(br)
	writeClientConnect(t, conn, "c1")

	ack := readPacket(t, conn).(*packet.ConnackPacket)
	if ack.ReturnCode != packet.ConnectAccepted {
		t.Fatalf("expected accepted, got %d", ack.ReturnCode)
	}

	if _, err := conn.Write((&packet.DisconnectPacket{}).Encode()); err != nil {
		t.Fatalf("write DISCONNECT: %v", err)
	}

	select {
	case err := <-done:
		if err != errCleanDisconnect {
			t.Fatalf("expected clean disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestFirstPacketMustBeConnect(t *testing.T) {
	br := newTestBroker(t)
	defer br.Close()

	conn, done := connectAndRun(br)
	if _, err := conn.Write((&packet.PingreqPacket{}).Encode()); err != nil {
		t.Fatalf("write PINGREQ: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected protocol violation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestSubscribeThenPublishDeliversQoS0(t *testing.T) {
	br := newTestBroker(t)
	defer br.Close()

	subConn, subDone := connectAndRun(br)
	writeClientConnect(t, subConn, "subscriber")
	readPacket(t, subConn) // CONNACK

	if _, err := subConn.Write((&packet.SubscribePacket{
		PacketID: 1,
		Subs:     []packet.Subscription{{Filter: "a/b", QoS: 0}},
	}).Encode()); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	suback := readPacket(t, subConn).(*packet.SubackPacket)
	if len(suback.ReturnCodes) != 1 || suback.ReturnCodes[0] != 0 {
		t.Fatalf("unexpected suback: %+v", suback)
	}

	pubConn, pubDone := connectAndRun(br)
	writeClientConnect(t, pubConn, "publisher")
	readPacket(t, pubConn) // CONNACK

	if _, err := pubConn.Write((&packet.PublishPacket{
		Topic:   "a/b",
		Payload: []byte("hi"),
	}).Encode()); err != nil {
		t.Fatalf("write PUBLISH: %v", err)
	}

	delivered := readPacket(t, subConn).(*packet.PublishPacket)
	if delivered.Topic != "a/b" || string(delivered.Payload) != "hi" {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}

	subConn.Close()
	pubConn.Close()
	<-subDone
	<-pubDone
}

func TestPacketIDAllocationReturnsSmallestFree(t *testing.T) {
	s := &Session{usedIDs: make(map[uint16]struct{})}

	id0, err := s.allocateID()
	if err != nil || id0 != 0 {
		t.Fatalf("expected id 0, got %d err %v", id0, err)
	}
	id1, err := s.allocateID()
	if err != nil || id1 != 1 {
		t.Fatalf("expected id 1, got %d err %v", id1, err)
	}
	s.releaseID(id0)
	id2, err := s.allocateID()
	if err != nil || id2 != 0 {
		t.Fatalf("expected freed id 0 reused, got %d err %v", id2, err)
	}
}

func TestSubscribeRejectsInvalidFilter(t *testing.T) {
	br := newTestBroker(t)
	defer br.Close()

	conn, done := connectAndRun(br)
	writeClientConnect(t, conn, "c1")
	readPacket(t, conn) // CONNACK

	if _, err := conn.Write((&packet.SubscribePacket{
		PacketID: 5,
		Subs:     []packet.Subscription{{Filter: "a/#/b", QoS: 0}},
	}).Encode()); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	suback := readPacket(t, conn).(*packet.SubackPacket)
	if suback.ReturnCodes[0] != packet.SubFailure {
		t.Fatalf("expected SubFailure for mid-filter #, got %d", suback.ReturnCodes[0])
	}

	conn.Close()
	<-done
}

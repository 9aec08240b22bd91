package transport

import (
	"net"
	"testing"
	"time"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/packet"
	"github.com/tidalmq/broker/internal/retainstore"
	"github.com/tidalmq/broker/internal/store"
)

func TestTCPListenerAcceptsConnectHandshake(t *testing.T) {
	rs, err := retainstore.Open(store.NewMemoryStore())
	if err != nil {
		t.Fatalf("open retainstore: %v", err)
	}
	br := broker.New(rs)
	defer br.Close()

	l := NewTCPListener("test-tcp", "127.0.0.1:0", nil, br)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn, err := net.Dial("tcp", l.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pkt := &packet.ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 4, CleanSession: true, KeepAlive: 30, ClientID: "t1"}
	if _, err := conn.Write(pkt.Encode()); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	p, err := packet.Decode(conn)
	if err != nil {
		t.Fatalf("decode connack: %v", err)
	}
	ack, ok := p.(*packet.ConnackPacket)
	if !ok || ack.ReturnCode != packet.ConnectAccepted {
		t.Fatalf("unexpected response: %+v", p)
	}
}

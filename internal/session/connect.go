package session

import (
	"fmt"
	"time"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/metrics"
	"github.com/tidalmq/broker/internal/packet"
)

// handleConnect reads the mandatory first packet, rejects anything else,
// acknowledges it, registers the client with the broker, and records the
// last will (if any) for teardown.
func (s *Session) handleConnect() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(connectTimeout)); err != nil {
		return fmt.Errorf("session: set connect deadline: %w", err)
	}

	p, err := packet.Decode(s.conn)
	if err != nil {
		return fmt.Errorf("session: reading CONNECT: %w", err)
	}
	connect, ok := p.(*packet.ConnectPacket)
	if !ok {
		return fmt.Errorf("%w: first packet must be CONNECT, got %s", ErrProtocolViolation, p.Type())
	}

	s.id = connect.ClientID
	s.keepAlive = time.Duration(connect.KeepAlive+1) * time.Second

	if connect.WillFlag {
		will := message.FromRawData(connect.WillTopic, connect.WillMessage, connect.WillQoS, connect.WillRetain)
		s.lastWill = &will
	}

	ack := &packet.ConnackPacket{ReturnCode: packet.ConnectAccepted}
	if err := s.writePacket(ack); err != nil {
		return fmt.Errorf("session: writing CONNACK: %w", err)
	}

	s.broker.AddClient(s)
	s.setState(stateConnected)
	return nil
}

// writePacket encodes and writes p directly to the connection. CONNACK is
// written with it before the writer goroutine starts; after that only the
// writer goroutine calls it, for both queued packets and outbox deliveries.
func (s *Session) writePacket(p packet.Packet) error {
	data := p.Encode()
	if _, err := s.conn.Write(data); err != nil {
		return err
	}
	metrics.BytesSent.Add(float64(len(data)))
	return nil
}

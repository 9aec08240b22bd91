package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidalmq/broker/internal/metrics"
	"github.com/tidalmq/broker/internal/packet"
)

// errCleanDisconnect is returned by readLoop when the client sent a
// DISCONNECT packet, distinguishing it from a dropped connection so
// teardown knows not to publish the last will.
var errCleanDisconnect = errors.New("session: clean disconnect")

// readLoop is the connection's single reader: it enforces the keep-alive
// deadline, decodes one packet at a time, and dispatches each to its
// handler. It returns the error that ended the connection.
func (s *Session) readLoop() error {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.keepAlive)); err != nil {
			return fmt.Errorf("session: set read deadline: %w", err)
		}

		p, err := packet.Decode(s.conn)
		if err != nil {
			return err
		}

		metrics.BytesReceived.Add(float64(len(p.Encode())))
		if err := s.handlePacket(p); err != nil {
			return err
		}
		if _, ok := p.(*packet.DisconnectPacket); ok {
			return errCleanDisconnect
		}
	}
}

// handlePacket dispatches a decoded packet by type. Any packet arriving
// before CONNECT completes is rejected by readLoop never calling this
// before handleConnect returns; everything here assumes stateConnected.
func (s *Session) handlePacket(p packet.Packet) error {
	switch pkt := p.(type) {
	case *packet.PingreqPacket:
		s.sendCh <- &packet.PingrespPacket{}
		return nil
	case *packet.DisconnectPacket:
		return nil
	case *packet.PublishPacket:
		return s.handleInboundPublish(pkt)
	case *packet.PubackPacket:
		return s.notifyWaiter(packet.PUBACK, pkt.PacketID, pkt)
	case *packet.PubrecPacket:
		return s.notifyWaiter(packet.PUBREC, pkt.PacketID, pkt)
	case *packet.PubrelPacket:
		return s.handlePubrel(pkt)
	case *packet.PubcompPacket:
		return s.notifyWaiter(packet.PUBCOMP, pkt.PacketID, pkt)
	case *packet.SubscribePacket:
		return s.handleSubscribe(pkt)
	case *packet.UnsubscribePacket:
		return s.handleUnsubscribe(pkt)
	default:
		return fmt.Errorf("%w: unexpected packet %s in connected state", ErrProtocolViolation, p.Type())
	}
}

// writeLoop is the connection's single writer: it multiplexes between
// fire-and-forget reply packets (sendCh) and outbound deliveries that need
// the full QoS handshake (outbox), so every byte on the wire is serialized
// through this one goroutine.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case p, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := s.writePacket(p); err != nil {
				return
			}
		case m, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.deliverOutbound(m); err != nil {
				return
			}
		}
	}
}

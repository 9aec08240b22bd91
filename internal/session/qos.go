package session

import (
	"fmt"
	"sync"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/metrics"
	"github.com/tidalmq/broker/internal/packet"
)

// pendingInbound tracks QoS 2 PUBLISH packets received but not yet
// released: the reader parks them here on PUBREC and forwards to the
// broker only once the matching PUBREL arrives.
type pendingInbound struct {
	mu   sync.Mutex
	byID map[uint16]message.IncomingMessage
}

func (p *pendingInbound) put(id uint16, m message.IncomingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byID == nil {
		p.byID = make(map[uint16]message.IncomingMessage)
	}
	p.byID[id] = m
}

func (p *pendingInbound) take(id uint16) (message.IncomingMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[id]
	delete(p.byID, id)
	return m, ok
}

// handleInboundPublish runs the inbound QoS 0/1/2 state machine for one
// received PUBLISH.
func (s *Session) handleInboundPublish(pkt *packet.PublishPacket) error {
	msg := message.FromRawData(pkt.Topic, pkt.Payload, pkt.QoS, pkt.Retain)

	switch pkt.QoS {
	case 0:
		return s.broker.Publish(msg)
	case 1:
		if err := s.broker.Publish(msg); err != nil {
			return err
		}
		s.sendCh <- &packet.PubackPacket{PacketID: pkt.PacketID}
		return nil
	case 2:
		s.inbound.put(pkt.PacketID, msg)
		s.sendCh <- &packet.PubrecPacket{PacketID: pkt.PacketID}
		return nil
	default:
		return fmt.Errorf("%w: invalid PUBLISH qos %d", ErrProtocolViolation, pkt.QoS)
	}
}

// handlePubrel completes the inbound QoS 2 handshake: the original PUBLISH
// is finally handed to the broker, then PUBCOMP is sent.
func (s *Session) handlePubrel(pkt *packet.PubrelPacket) error {
	msg, ok := s.inbound.take(pkt.PacketID)
	if !ok {
		return fmt.Errorf("%w: PUBREL for unknown id %d", ErrProtocolViolation, pkt.PacketID)
	}
	if err := s.broker.Publish(msg); err != nil {
		return err
	}
	s.sendCh <- &packet.PubcompPacket{PacketID: pkt.PacketID}
	return nil
}

// deliverOutbound runs the outbound QoS 0/1/2 state machine for one
// broker-originated delivery, run from the writer goroutine so it may
// block waiting for the peer's ack without stalling any other connection.
func (s *Session) deliverOutbound(m message.OutgoingMessage) error {
	if m.QoS == 0 {
		return s.writePacket(&packet.PublishPacket{Topic: m.Topic, Payload: m.Data, QoS: 0})
	}

	id, err := s.allocateID()
	if err != nil {
		return err
	}
	defer s.releaseID(id)

	qosLabel := fmt.Sprintf("%d", m.QoS)
	metrics.QoSMessagesInflight.WithLabelValues(qosLabel).Inc()
	defer metrics.QoSMessagesInflight.WithLabelValues(qosLabel).Dec()

	if m.QoS == 1 {
		ackCh, err := s.register(packet.PUBACK, id)
		if err != nil {
			return err
		}
		defer s.release(packet.PUBACK, id)

		if err := s.writePacket(&packet.PublishPacket{Topic: m.Topic, Payload: m.Data, QoS: 1, PacketID: id}); err != nil {
			return err
		}
		if _, ok := <-ackCh; !ok {
			return errConnectionClosing
		}
		return nil
	}

	recCh, err := s.register(packet.PUBREC, id)
	if err != nil {
		return err
	}
	defer s.release(packet.PUBREC, id)

	if err := s.writePacket(&packet.PublishPacket{Topic: m.Topic, Payload: m.Data, QoS: 2, PacketID: id}); err != nil {
		return err
	}
	if _, ok := <-recCh; !ok {
		return errConnectionClosing
	}

	compCh, err := s.register(packet.PUBCOMP, id)
	if err != nil {
		return err
	}
	defer s.release(packet.PUBCOMP, id)

	if err := s.writePacket(&packet.PubrelPacket{PacketID: id}); err != nil {
		return err
	}
	if _, ok := <-compCh; !ok {
		return errConnectionClosing
	}
	return nil
}

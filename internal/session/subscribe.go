package session

import (
	"log"
	"strings"

	"github.com/tidalmq/broker/internal/packet"
	"github.com/tidalmq/broker/internal/topic"
)

// handleSubscribe processes every request in a SUBSCRIBE in order, sending
// one SUBACK with the accepted qos (or SubFailure) per request.
func (s *Session) handleSubscribe(pkt *packet.SubscribePacket) error {
	codes := make([]byte, len(pkt.Subs))

	for i, sub := range pkt.Subs {
		filterStr := sub.Filter
		sync := false
		if strings.HasPrefix(filterStr, topic.Separator) {
			sync = true
			filterStr = filterStr[len(topic.Separator):]
		}

		t := topic.Parse(filterStr)
		if err := t.Validate(); err != nil {
			log.Printf("session %s: rejecting subscribe %q: %v", s.id, sub.Filter, err)
			codes[i] = packet.SubFailure
			continue
		}

		if err := s.broker.Subscribe(s, filterStr, sub.QoS, sync); err != nil {
			log.Printf("session %s: subscribe %q failed: %v", s.id, sub.Filter, err)
			codes[i] = packet.SubFailure
			continue
		}

		s.subsMu.Lock()
		s.subs[filterStr] = struct{}{}
		s.subsMu.Unlock()
		codes[i] = sub.QoS
	}

	s.sendCh <- &packet.SubackPacket{PacketID: pkt.PacketID, ReturnCodes: codes}
	return nil
}

// handleUnsubscribe removes each requested filter and sends a single
// UNSUBACK once all have been processed.
func (s *Session) handleUnsubscribe(pkt *packet.UnsubscribePacket) error {
	s.broker.Unsubscribe(s, pkt.Filters...)

	s.subsMu.Lock()
	for _, f := range pkt.Filters {
		delete(s.subs, f)
	}
	s.subsMu.Unlock()

	s.sendCh <- &packet.UnsubackPacket{PacketID: pkt.PacketID}
	return nil
}

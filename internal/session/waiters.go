package session

import (
	"log"

	"github.com/tidalmq/broker/internal/packet"
)

// register parks a waiter for the next packet of the given type and id,
// returning ErrDuplicateWaiter if one is already parked for that key (an
// internal invariant violation, fatal to the connection per the protocol's
// error handling rules).
func (s *Session) register(t packet.Type, id uint16) (chan packet.Packet, error) {
	key := waiterKey{Type: t, ID: id}

	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	if _, exists := s.waiters[key]; exists {
		return nil, ErrDuplicateWaiter
	}
	ch := make(chan packet.Packet, 1)
	s.waiters[key] = ch
	return ch, nil
}

func (s *Session) release(t packet.Type, id uint16) {
	key := waiterKey{Type: t, ID: id}
	s.waitersMu.Lock()
	delete(s.waiters, key)
	s.waitersMu.Unlock()
}

// notifyWaiter hands pkt to whatever goroutine is waiting for (t, id). An
// ack with no matching waiter (stale retransmit, or a ack for an id this
// side never allocated) is logged and otherwise ignored.
func (s *Session) notifyWaiter(t packet.Type, id uint16, pkt packet.Packet) error {
	key := waiterKey{Type: t, ID: id}

	s.waitersMu.Lock()
	ch, ok := s.waiters[key]
	s.waitersMu.Unlock()

	if !ok {
		log.Printf("session %s: no waiter for %s id=%d", s.id, t, id)
		return nil
	}
	ch <- pkt
	return nil
}

// allocateID returns the smallest packet id in [0, 65535) not currently in
// use, marking it used.
func (s *Session) allocateID() (uint16, error) {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()

	var id uint16
	for {
		if _, used := s.usedIDs[id]; !used {
			s.usedIDs[id] = struct{}{}
			return id, nil
		}
		if id == 65534 {
			return 0, ErrPacketIDExhausted
		}
		id++
	}
}

func (s *Session) releaseID(id uint16) {
	s.idsMu.Lock()
	delete(s.usedIDs, id)
	s.idsMu.Unlock()
}

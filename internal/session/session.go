// Package session implements the per-connection protocol state machine: a
// reader goroutine, a writer goroutine, a bounded outbox between them, and
// the QoS 0/1/2 handshakes described by the wire protocol.
package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/packet"
)

// Conn is the minimal surface a transport must offer a Session: both a raw
// TCP connection and a WebSocket-framed adapter satisfy it.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

type state int

const (
	stateInitial state = iota
	stateAwaitConnect
	stateConnected
	stateDisconnecting
	stateClosed
)

// connectTimeout bounds how long a new connection has to send its CONNECT
// packet before it's dropped.
const connectTimeout = 5 * time.Second

// outboxSize bounds how many outbound deliveries can queue before Deliver
// blocks the broadcast worker.
const outboxSize = 64

var (
	// ErrProtocolViolation covers any packet arriving out of turn for the
	// connection's current state.
	ErrProtocolViolation = errors.New("session: protocol violation")
	// ErrPacketIDExhausted is returned when every packet id is in use.
	ErrPacketIDExhausted = errors.New("session: packet id space exhausted")
	// ErrDuplicateWaiter signals an internal invariant violation: two
	// waiters registered for the same (type, id) pair.
	ErrDuplicateWaiter = errors.New("session: duplicate waiter")
	// errConnectionClosing is returned internally when a pending-ack
	// waiter channel is closed out from under a handshake in progress,
	// i.e. the connection is tearing down.
	errConnectionClosing = errors.New("session: connection closing")
)

// Session owns one client connection end to end: CONNECT handshake, the
// reader/writer goroutine pair, QoS bookkeeping and disconnect cleanup.
type Session struct {
	conn   Conn
	broker *broker.Broker

	stateMu sync.Mutex
	state   state

	id        string
	keepAlive time.Duration
	lastWill  *message.IncomingMessage

	outbox chan message.OutgoingMessage
	// sendCh carries packets that bypass the QoS-handshake machinery
	// (acks, PINGRESP) straight to the writer goroutine, which is the
	// connection's sole writer once it starts.
	sendCh chan packet.Packet

	waitersMu sync.Mutex
	waiters   map[waiterKey]chan packet.Packet

	idsMu   sync.Mutex
	usedIDs map[uint16]struct{}

	subsMu sync.Mutex
	subs   map[string]struct{}

	inbound pendingInbound

	closeOnce sync.Once
	closed    chan struct{}
}

type waiterKey struct {
	Type packet.Type
	ID   uint16
}

// New wraps conn in a Session bound to br. Call Run to drive it to
// completion; Run returns once the connection is fully torn down.
func New(conn Conn, br *broker.Broker) *Session {
	return &Session{
		conn:    conn,
		broker:  br,
		state:   stateAwaitConnect,
		outbox:  make(chan message.OutgoingMessage, outboxSize),
		sendCh:  make(chan packet.Packet, outboxSize),
		waiters: make(map[waiterKey]chan packet.Packet),
		usedIDs: make(map[uint16]struct{}),
		subs:    make(map[string]struct{}),
		closed:  make(chan struct{}),
	}
}

// ID returns the client id negotiated at CONNECT. Empty until then.
func (s *Session) ID() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.id
}

// Deliver queues an outbound message for the writer goroutine.
func (s *Session) Deliver(m message.OutgoingMessage) {
	select {
	case s.outbox <- m:
	case <-s.closed:
	}
}

// Override is invoked by the broker on the prior holder of a client id when
// a new CONNECT with that id arrives; it forces the connection closed,
// which unwinds Run's reader/writer loops and runs cleanup.
func (s *Session) Override() {
	s.conn.Close()
}

// Run performs the CONNECT handshake, then drives the reader and writer
// goroutines until the connection ends, and finally runs disconnect
// cleanup. It returns the error that ended the connection, if any.
func (s *Session) Run() error {
	if err := s.handleConnect(); err != nil {
		s.teardown(false)
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		s.writeLoop()
		close(writerDone)
	}()

	readErr := s.readLoop()

	s.closeOnce.Do(func() { close(s.closed) })
	<-writerDone

	clean := errors.Is(readErr, errCleanDisconnect)
	s.teardown(!clean)
	return readErr
}

// teardown cancels pending waiters, unsubscribes every filter this session
// held, removes it from the broker, and publishes the last will unless the
// disconnect was clean.
func (s *Session) teardown(publishWill bool) {
	s.setState(stateClosed)

	s.waitersMu.Lock()
	for k, ch := range s.waiters {
		close(ch)
		delete(s.waiters, k)
	}
	s.waitersMu.Unlock()

	s.subsMu.Lock()
	filters := make([]string, 0, len(s.subs))
	for f := range s.subs {
		filters = append(filters, f)
	}
	s.subs = make(map[string]struct{})
	s.subsMu.Unlock()

	if len(filters) > 0 {
		s.broker.Unsubscribe(s, filters...)
	}
	s.broker.RemoveClient(s)

	if publishWill && s.lastWill != nil {
		if err := s.broker.Publish(*s.lastWill); err != nil {
			log.Printf("session %s: publishing last will: %v", s.id, err)
		}
	}

	s.conn.Close()
}

func (s *Session) setState(st state) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Package transport hosts the listener servers that accept raw connections
// and hand them off to internal/session: a plain TCP listener and a
// WebSocket listener carrying the same byte stream inside binary frames.
package transport

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/session"
)

// TCPListener accepts raw (optionally TLS-wrapped) MQTT connections and
// runs one session.Session per connection.
type TCPListener struct {
	name     string
	addr     string
	tlsConf  *tls.Config
	broker   *broker.Broker
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPListener prepares a listener bound to addr. tlsConf may be nil for
// a plaintext listener.
func NewTCPListener(name, addr string, tlsConf *tls.Config, br *broker.Broker) *TCPListener {
	return &TCPListener{name: name, addr: addr, tlsConf: tlsConf, broker: br}
}

// Start opens the listening socket and begins accepting connections in the
// background. It returns once the listener is bound.
func (l *TCPListener) Start() error {
	var ln net.Listener
	var err error
	if l.tlsConf != nil {
		ln, err = tls.Listen("tcp", l.addr, l.tlsConf)
	} else {
		ln, err = net.Listen("tcp", l.addr)
	}
	if err != nil {
		return fmt.Errorf("transport: %s: listen on %s: %w", l.name, l.addr, err)
	}
	l.listener = ln

	log.Printf("%s listening on %s", l.name, l.addr)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

func (l *TCPListener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			log.Printf("%s: accept: %v", l.name, err)
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serve(conn)
		}()
	}
}

func (l *TCPListener) serve(conn net.Conn) {
	s := session.New(conn, l.broker)
	if err := s.Run(); err != nil {
		log.Printf("%s: connection from %s ended: %v", l.name, conn.RemoteAddr(), err)
	}
}

// Addr returns the listener's bound address. Valid only after Start.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting new connections and then waits for every in-flight
// session to end. It does not close those sessions itself, so it returns
// only after each connected client has disconnected.
func (l *TCPListener) Close() error {
	if l.listener == nil {
		return nil
	}
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/session"
)

// wsUpgrader negotiates the mqtt sub-protocol on every upgrade request.
var wsUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"mqtt"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketListener serves the same MQTT byte stream as TCPListener, but
// framed inside binary WebSocket messages on path.
type WebSocketListener struct {
	name    string
	addr    string
	path    string
	tlsConf *tls.Config
	broker  *broker.Broker
	server  *http.Server
}

// NewWebSocketListener prepares a listener bound to addr, serving upgrades
// at path. tlsConf may be nil for a plaintext listener.
func NewWebSocketListener(name, addr, path string, tlsConf *tls.Config, br *broker.Broker) *WebSocketListener {
	return &WebSocketListener{name: name, addr: addr, path: path, tlsConf: tlsConf, broker: br}
}

// Start binds the HTTP server and begins serving upgrade requests in the
// background.
func (l *WebSocketListener) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleUpgrade)
	l.server = &http.Server{Addr: l.addr, Handler: mux, TLSConfig: l.tlsConf}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("transport: %s: listen on %s: %w", l.name, l.addr, err)
	}
	if l.tlsConf != nil {
		ln = tls.NewListener(ln, l.tlsConf)
	}

	log.Printf("%s listening on %s%s", l.name, l.addr, l.path)

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("%s: serve: %v", l.name, err)
		}
	}()
	return nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("%s: upgrade from %s failed: %v", l.name, r.RemoteAddr, err)
		return
	}

	s := session.New(&wsConn{Conn: conn}, l.broker)
	if err := s.Run(); err != nil {
		log.Printf("%s: connection from %s ended: %v", l.name, r.RemoteAddr, err)
	}
}

// Close shuts the HTTP server down, waiting for in-flight upgrades to
// finish handling their current request (not their whole session).
func (l *WebSocketListener) Close() error {
	if l.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// wsConn adapts a *websocket.Conn to session.Conn: every Read drains one
// binary message at a time into the caller's buffer, and every Write sends
// one binary message, which is how the codec's plain byte-stream framing
// maps onto WebSocket's message framing.
type wsConn struct {
	*websocket.Conn
	readBuf []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.readBuf = data
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error { return c.Conn.Close() }

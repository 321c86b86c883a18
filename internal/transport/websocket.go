// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"
	"timbre/internal/projection"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketPath is the endpoint visualisers connect to.
	WebSocketPath = "/features"

	broadcastQueue = 64
	writeTimeout   = 250 * time.Millisecond
)

var wsLog = log.For("WebSocket")

// WebSocketSink broadcasts each record as JSON to every connected client.
//
// Thread Safety:
// - Send only enqueues; a single goroutine writes to clients
// - The client map is guarded by clientsMu
// - A full queue drops the frame
type WebSocketSink struct {
	upgrader  websocket.Upgrader
	server    *http.Server
	listener  net.Listener
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	limiter   rateLimiter
	projector *projection.Projector
	seq       uint64
	closed    atomic.Bool
}

var _ Sink = (*WebSocketSink)(nil)

// NewWebSocketSink listens on addr and starts serving immediately. Frames
// arriving less than minInterval after the previous broadcast are dropped.
// projector may be nil, in which case messages carry no point.
func NewWebSocketSink(addr string, minInterval time.Duration, projector *projection.Projector) (*WebSocketSink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &WebSocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualisers are served from anywhere.
			},
		},
		listener:  ln,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, broadcastQueue),
		done:      make(chan struct{}),
		limiter:   rateLimiter{interval: minInterval},
		projector: projector,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		wsLog.Infof("Listening on ws://%s%s", ln.Addr(), WebSocketPath)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wsLog.Errorf("Server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.handleBroadcasts()
	}()

	return s, nil
}

// Addr is the address the server is bound to.
func (s *WebSocketSink) Addr() net.Addr {
	return s.listener.Addr()
}

// ClientCount returns the number of connected clients.
func (s *WebSocketSink) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *WebSocketSink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLog.Warnf("Upgrade error: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	wsLog.Infof("Client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients only listen; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *WebSocketSink) drop(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	total := len(s.clients)
	s.clientsMu.Unlock()

	if ok {
		conn.Close()
		wsLog.Infof("Client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

func (s *WebSocketSink) handleBroadcasts() {
	for {
		select {
		case msg := <-s.broadcast:
			s.clientsMu.Lock()
			for client := range s.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteJSON(msg); err != nil {
					wsLog.Warnf("Error sending to %s: %v", client.RemoteAddr(), err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.clientsMu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Send queues rec for broadcast. It never blocks.
func (s *WebSocketSink) Send(rec analysis.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	now := time.Now()
	if !s.limiter.allow(now) {
		return nil
	}

	s.seq++
	msg := NewMessage(s.seq, rec, now)
	if s.projector != nil {
		pt := s.projector.Project(rec)
		msg.Point = &pt
	}

	select {
	case s.broadcast <- msg:
	default:
		wsLog.Debugf("Broadcast queue full, dropping frame %d", s.seq)
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (s *WebSocketSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.server.Close()

		s.clientsMu.Lock()
		for client := range s.clients {
			client.Close()
		}
		clear(s.clients)
		s.clientsMu.Unlock()

		s.wg.Wait()
		wsLog.Infof("Server closed")
	})
	return err
}

package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser and terminal clients alike are accepted
		return true
	},
}

// peer is one connected WebSocket client
type peer struct {
	id   uint64
	name string // guarded by Server.mu; empty until registered

	ws        *websocket.Conn
	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(ws *websocket.Conn, queueSize int) *peer {
	return &peer{
		ws:   ws,
		send: make(chan string, queueSize),
		done: make(chan struct{}),
	}
}

// enqueue hands text to the writer without blocking
func (p *peer) enqueue(text string) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- text:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.ws.Close()
	})
}

func (p *peer) remoteAddr() net.Addr {
	return p.ws.RemoteAddr()
}

// HandleWebSocket upgrades the HTTP connection and serves it until the client
// disconnects
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	p := newPeer(ws, s.config.SendQueueSize)
	if !s.addPeer(p) {
		ws.Close()
		return
	}
	defer s.wg.Done()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(p)
	}()

	s.readLoop(p)
	p.close()
	s.removePeer(p)
}

// readLoop reads frames until the connection fails
func (s *Server) readLoop(p *peer) {
	p.ws.SetReadLimit(maxFrameSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-p.done:
				default:
					debugLog.Printf("Session %d read error: %v", p.id, err)
				}
			}
			return
		}
		s.handleFrame(p, string(data))
	}
}

// writeLoop drains the peer's queue and keeps the connection alive
func (s *Server) writeLoop(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case text := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				debugLog.Printf("Session %d write error: %v", p.id, err)
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeolun/ripplechat/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server relays chat envelopes between WebSocket clients. It keeps the
// roster of registered usernames and broadcasts it on every change.
type Server struct {
	config     Config
	registry   *prometheus.Registry
	metrics    *Metrics
	transcript *Transcript

	mu     sync.Mutex
	peers  []*peer // in connection order
	nextID uint64

	httpServer *http.Server
	listener   net.Listener
	shutdown   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a server. When config.TranscriptDB is set, relayed messages are
// recorded there.
func New(config Config) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:   config,
		registry: registry,
		metrics:  NewMetrics(registry),
		shutdown: make(chan struct{}),
	}

	if config.TranscriptDB != "" {
		path, err := config.GetTranscriptPath()
		if err != nil {
			return nil, err
		}
		transcript, err := OpenTranscript(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript: %w", err)
		}
		s.transcript = transcript
	}

	return s, nil
}

// EnableDebugLogging routes debug output to stderr
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Handler returns the HTTP handler serving the WebSocket, metrics and
// transcript endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WebSocketPath, s.HandleWebSocket)
	mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/transcript", s.TranscriptHandler)
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("WebSocket server listening on %s (ws://%s%s)", listener.Addr(), listener.Addr(), s.config.WebSocketPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server and disconnects every client
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.shutdown)
		s.mu.Unlock()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
				err = shutdownErr
			}
		}

		// Hijacked connections are not closed by Shutdown
		s.mu.Lock()
		peers := append([]*peer(nil), s.peers...)
		s.mu.Unlock()
		for _, p := range peers {
			p.close()
		}

		// Handlers and writers, so nothing touches the transcript after this
		s.wg.Wait()

		if s.transcript != nil {
			if closeErr := s.transcript.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	})
	return err
}

// Roster returns the registered usernames in join order
func (s *Server) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *Server) rosterLocked() []string {
	names := make([]string, 0, len(s.peers))
	for _, p := range s.peers {
		if p.name != "" {
			names = append(names, p.name)
		}
	}
	return names
}

// Transcript returns the transcript store, or nil when disabled
func (s *Server) Transcript() *Transcript {
	return s.transcript
}

// addPeer tracks p until removePeer. It returns false once Stop has begun;
// otherwise the caller holds a wait group slot it must release.
func (s *Server) addPeer(p *peer) bool {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return false
	default:
	}
	s.wg.Add(1)
	s.nextID++
	p.id = s.nextID
	s.peers = append(s.peers, p)
	s.mu.Unlock()

	s.metrics.RecordSessionCreated()
	debugLog.Printf("Session %d connected from %s", p.id, p.remoteAddr())
	return true
}

func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	wasRegistered := p.name != ""
	for i, other := range s.peers {
		if other == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.metrics.RecordSessionDisconnected()
	debugLog.Printf("Session %d (%q) disconnected", p.id, p.name)

	if wasRegistered {
		s.broadcastRoster()
	}
}

// handleFrame processes one frame from p
func (s *Server) handleFrame(p *peer, text string) {
	env, err := protocol.Decode(text)
	if err != nil {
		s.metrics.RecordMessageRejected("decode")
		debugLog.Printf("Session %d sent undecodable frame: %v", p.id, err)
		return
	}
	s.metrics.RecordMessageReceived(env.MessageType.String())

	switch env.MessageType {
	case protocol.TypeRegister:
		s.handleRegister(p, env.DataString())
	case protocol.TypeMessage:
		s.handleMessage(p, env.DataString())
	default:
		s.metrics.RecordMessageRejected("unexpected_type")
		debugLog.Printf("Session %d sent unexpected %s envelope", p.id, env.MessageType)
	}
}

func (s *Server) handleRegister(p *peer, username string) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > s.config.MaxUsernameLength {
		s.metrics.RecordMessageRejected("invalid_username")
		debugLog.Printf("Session %d sent invalid username %q", p.id, username)
		return
	}

	s.mu.Lock()
	p.name = username
	s.mu.Unlock()

	debugLog.Printf("Session %d registered as %q", p.id, username)
	s.broadcastRoster()
}

func (s *Server) handleMessage(p *peer, data string) {
	s.mu.Lock()
	name := p.name
	s.mu.Unlock()

	if name == "" {
		s.metrics.RecordMessageRejected("unregistered")
		return
	}

	payload, err := protocol.DecodeChatPayload(data)
	if err != nil {
		s.metrics.RecordMessageRejected("decode")
		debugLog.Printf("Session %d sent bad chat payload: %v", p.id, err)
		return
	}
	if len(payload.Message) > s.config.MaxMessageLength {
		s.metrics.RecordMessageRejected("too_long")
		return
	}

	// The registered name is authoritative
	payload.From = name

	if s.transcript != nil {
		if err := s.transcript.Record(payload.From, payload.Message, time.Now()); err != nil {
			errorLog.Printf("Failed to record message from %q: %v", payload.From, err)
		}
	}

	env, err := protocol.NewMessage(payload)
	if err != nil {
		errorLog.Printf("Failed to build message envelope: %v", err)
		return
	}
	s.broadcast(env)
}

func (s *Server) broadcastRoster() {
	s.mu.Lock()
	names := s.rosterLocked()
	s.mu.Unlock()

	s.metrics.RecordRegisteredUsers(len(names))
	s.broadcast(protocol.NewUsers(names))
}

// broadcast sends env to every registered peer, including the sender
func (s *Server) broadcast(env protocol.Envelope) {
	text, err := protocol.Encode(env)
	if err != nil {
		errorLog.Printf("Failed to encode %s broadcast: %v", env.MessageType, err)
		return
	}

	s.mu.Lock()
	recipients := 0
	for _, p := range s.peers {
		if p.name == "" {
			continue
		}
		if p.enqueue(text) {
			recipients++
		} else {
			s.metrics.RecordDeliveryDropped()
			debugLog.Printf("Dropped %s for session %d (queue full)", env.MessageType, p.id)
		}
	}
	s.mu.Unlock()

	s.metrics.RecordBroadcast(env.MessageType.String(), recipients)
}

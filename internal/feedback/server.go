// ABOUTME: Feedback websocket server for animation renderers
// ABOUTME: Broadcasts per-tick snapshots and accepts renderer-driven triggers
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neurobridge/mitrain/internal/discovery"
	"github.com/neurobridge/mitrain/internal/training"
	"github.com/neurobridge/mitrain/internal/version"
)

const (
	// DefaultPort is the feedback server's default TCP port
	DefaultPort = 8930

	// WebSocketPath is where renderers connect
	WebSocketPath = "/ws/feedback"

	clientQueueSize = 32
	helloTimeout    = 5 * time.Second
	writeDeadline   = 5 * time.Second
	pingInterval    = 30 * time.Second
)

// ServerConfig holds feedback server configuration
type ServerConfig struct {
	Name       string
	SessionID  string
	Port       int
	EnableMDNS bool
}

// Server broadcasts snapshots to connected renderers
type Server struct {
	config   ServerConfig
	serverID string
	upgrader websocket.Upgrader
	router   chi.Router

	httpServer *http.Server
	mdns       *discovery.Manager

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	latest   []byte
	latestMu sync.RWMutex

	triggers chan training.Trigger

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// client is one connected renderer
type client struct {
	name      string
	finalizes bool
	conn      *websocket.Conn
	sendChan  chan []byte
	closeOnce sync.Once
}

// NewServer creates a feedback server. Call Start to listen.
func NewServer(config ServerConfig) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "mitrain"
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		upgrader: websocket.Upgrader{
			// renderers run on the lab network, often from file:// pages
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*client]struct{}),
		triggers: make(chan training.Trigger, 16),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Get(WebSocketPath, s.handleWebSocket)
	r.Get("/api/snapshot", s.handleSnapshot)
	s.router = r

	return s
}

// Handler exposes the router, for embedding or httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("feedback server listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Feedback server error: %v", err)
		}
	}()
	log.Printf("Feedback server listening on %s%s", addr, WebSocketPath)

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        WebSocketPath,
			SessionID:   s.config.SessionID,
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		}
	}

	return nil
}

// Stop closes all clients and shuts the HTTP server down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.mdns != nil {
			s.mdns.Stop()
		}

		s.clientsMu.Lock()
		for c := range s.clients {
			delete(s.clients, c)
			c.close()
			c.conn.Close()
		}
		s.clientsMu.Unlock()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Printf("Feedback server shutdown error: %v", err)
			}
		}

		s.wg.Wait()
		log.Printf("Feedback server stopped")
	})
}

// Triggers delivers triggers requested by renderers
func (s *Server) Triggers() <-chan training.Trigger {
	return s.triggers
}

// Publish broadcasts a snapshot. Slow clients miss snapshots rather than
// delaying the tick loop.
func (s *Server) Publish(snap training.Snapshot) {
	msg, err := NewMessage(TypeSnapshot, FromTraining(snap))
	if err != nil {
		log.Printf("Feedback: %v", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Feedback: marshal snapshot: %v", err)
		return
	}

	s.latestMu.Lock()
	s.latest = data
	s.latestMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.sendChan <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected renderers
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// RendererFinalizes reports whether a connected renderer owns trial
// finalization
func (s *Server) RendererFinalizes() bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if c.finalizes {
			return true
		}
	}
	return false
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.latestMu.RLock()
	data := s.latest
	s.latestMu.RUnlock()

	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New feedback connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection runs the hello exchange, then reads client messages
// until the connection closes
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		log.Printf("Error reading renderer hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != TypeRendererHello {
		log.Printf("Expected %s, got %s", TypeRendererHello, msg.Type)
		return
	}

	var hello RendererHello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		log.Printf("Error unmarshaling renderer hello: %v", err)
		return
	}
	if hello.Name == "" {
		hello.Name = conn.RemoteAddr().String()
	}

	c := &client{
		name:      hello.Name,
		finalizes: hello.Finalizes,
		conn:      conn,
		sendChan:  make(chan []byte, clientQueueSize),
	}

	reply, err := NewMessage(TypeServerHello, ServerHello{
		ServerID:  s.serverID,
		SessionID: s.config.SessionID,
		Name:      s.config.Name,
		Version:   version.Version,
	})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(reply); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	// the newest snapshot goes out first so a late renderer is not blank
	s.latestMu.RLock()
	if s.latest != nil {
		c.sendChan <- s.latest
	}
	s.latestMu.RUnlock()

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	log.Printf("Renderer connected: %s (finalizes=%t)", c.name, c.finalizes)

	defer func() {
		s.removeClient(c)
		log.Printf("Renderer disconnected: %s", c.name)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		s.handleClientMessage(c, data)
	}
}

// clientWriter sends queued snapshots and keepalive pings
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message from %s: %v", c.name, err)
		return
	}

	switch msg.Type {
	case TypeFinish:
		s.enqueueTrigger(training.TriggerFinish, c.name)

	case TypeTrigger:
		var req TriggerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			log.Printf("Bad trigger request from %s: %v", c.name, err)
			return
		}
		t, err := training.ParseTrigger(req.Trigger)
		if err != nil {
			log.Printf("Bad trigger request from %s: %v", c.name, err)
			return
		}
		s.enqueueTrigger(t, c.name)

	default:
		log.Printf("Unknown message type from %s: %s", c.name, msg.Type)
	}
}

func (s *Server) enqueueTrigger(t training.Trigger, from string) {
	select {
	case s.triggers <- t:
		log.Printf("Trigger %s from %s", t, from)
	default:
		log.Printf("Trigger queue full, dropping %s from %s", t, from)
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.sendChan)
	})
}

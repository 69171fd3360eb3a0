// ABOUTME: WebSocket client for the feedback feed
// ABOUTME: Used by monitors and renderers to receive snapshots and send triggers
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConfig holds client configuration
type ClientConfig struct {
	ServerAddr string // host:port
	Path       string
	Name       string
	Finalizes  bool
}

// Client receives snapshots from a trainer
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Snapshots delivers every snapshot received
	Snapshots chan Snapshot

	hello     ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a feedback client
func NewClient(config ClientConfig) *Client {
	if config.Path == "" {
		config.Path = WebSocketPath
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:    config,
		Snapshots: make(chan Snapshot, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials the trainer and performs the hello exchange
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

func (c *Client) handshake() error {
	msg, err := NewMessage(TypeRendererHello, RendererHello{
		Name:      c.config.Name,
		Finalizes: c.config.Finalizes,
	})
	if err != nil {
		return err
	}
	if err := c.sendJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", TypeRendererHello, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply Message
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read %s: %w", TypeServerHello, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	if reply.Type != TypeServerHello {
		return fmt.Errorf("expected %s, got %s", TypeServerHello, reply.Type)
	}
	if err := json.Unmarshal(reply.Payload, &c.hello); err != nil {
		return fmt.Errorf("failed to parse %s: %w", TypeServerHello, err)
	}

	log.Printf("Connected to trainer %s (session %s, version %s)", c.hello.Name, c.hello.SessionID, c.hello.Version)
	return nil
}

// Hello returns the trainer's hello
func (c *Client) Hello() ServerHello {
	return c.hello
}

func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) readMessages() {
	defer c.Close()
	defer close(c.Snapshots)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case TypeSnapshot:
			snap, err := DecodeSnapshot(msg)
			if err != nil {
				log.Printf("%v", err)
				continue
			}
			select {
			case c.Snapshots <- snap:
			case <-c.ctx.Done():
				return
			}
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// SendFinish tells the trainer the success animation has completed
func (c *Client) SendFinish() error {
	return c.sendJSON(Message{Type: TypeFinish})
}

// SendTrigger asks the trainer to apply a named trigger
func (c *Client) SendTrigger(name string) error {
	msg, err := NewMessage(TypeTrigger, TriggerRequest{Trigger: name})
	if err != nil {
		return err
	}
	return c.sendJSON(msg)
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Package client connects to a toninas server and streams its game events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/toninas/internal/game"
	"github.com/lox/toninas/internal/server"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
	queueSize  = 256
)

var (
	ErrNotConnected   = errors.New("client not connected")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Event is a game event as received over the wire. Value stays raw until
// one of the typed accessors decodes it.
type Event struct {
	Signal game.Signal     `json:"signal"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Status decodes the connection state of a status event.
func (e Event) Status() ([]int, error) {
	var state []int
	err := e.decode(game.SignalStatus, &state)
	return state, err
}

// Health decodes the payload of a health_check event.
func (e Event) Health() (game.HealthValue, error) {
	var h game.HealthValue
	err := e.decode(game.SignalHealthCheck, &h)
	return h, err
}

// Config decodes the session snapshot of a config event.
func (e Event) Config() (game.Snapshot, error) {
	var snap game.Snapshot
	err := e.decode(game.SignalConfig, &snap)
	return snap, err
}

// ErrorMessage returns the text of an error event.
func (e Event) ErrorMessage() (string, error) {
	var msg string
	err := e.decode(server.SignalError, &msg)
	return msg, err
}

func (e Event) decode(want game.Signal, v any) error {
	if e.Signal != want {
		return fmt.Errorf("event is %s, not %s", e.Signal, want)
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Signal, err)
	}
	return nil
}

// Client is a watcher connection to a server's event stream.
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan server.Command
	events    chan Event
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

// NewClient creates a client for the server at serverURL (http or ws
// scheme).
func NewClient(serverURL string, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		serverURL: serverURL,
		send:      make(chan server.Command, queueSize),
		events:    make(chan Event, queueSize),
		logger:    logger.WithPrefix("client"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WebSocketURL maps a server URL to its event stream endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Connect dials the server and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := WebSocketURL(c.serverURL)
	if err != nil {
		return err
	}
	c.logger.Info("Connecting to server", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Debug("Connected to server")
	return nil
}

// Events delivers every event from the server. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// IsConnected reports whether the websocket is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// StartGame asks the server to start a new game with o applied.
func (c *Client) StartGame(o server.Overrides) error {
	value, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.queue(server.Command{Signal: server.CommandStart, Value: value})
}

// StopGame asks the server to stop the current game.
func (c *Client) StopGame() error {
	return c.queue(server.Command{Signal: server.CommandStop})
}

func (c *Client) queue(cmd server.Command) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	select {
	case c.send <- cmd:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return ErrSendBufferFull
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connected = false
	})
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.events)
		c.cancel()
	}()

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.logger.Debug("Received event", "signal", ev.Signal)

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(cmd); err != nil {
				c.logger.Error("Failed to write command", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

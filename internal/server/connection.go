package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/toninas/internal/game"
)

const (
	writeWait = 10 * time.Second

	// A watcher that misses pongs for this long is dropped.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Commands are tiny; anything larger is a misbehaving peer.
	maxMessageSize = 4096

	// A game emits a status event per tick, so the queue absorbs bursts
	// while a slow watcher catches up.
	sendQueueSize = 256

	commandTimeout = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

// Inbound command signals.
const (
	CommandStart = "start"
	CommandStop  = "stop"

	// SignalError answers a command that failed.
	SignalError game.Signal = "error"
)

// Command is a message from a watcher. Value carries Overrides for start.
type Command struct {
	Signal string          `json:"signal"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Connection is one watcher's websocket.
type Connection struct {
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket.
func NewConnection(conn *websocket.Conn, hub *Hub, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendQueueSize),
		logger: logger.WithPrefix("conn").With("remote", conn.RemoteAddr().String()),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the read and write pumps until the connection closes.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close ends both pumps and closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Send queues an encoded event. A watcher that lets its queue fill up is
// disconnected.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Send queue full, closing connection")
		_ = c.Close()
		return ErrSendQueueFull
	}
}

func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.handleCommand(cmd)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
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

func (c *Connection) handleCommand(cmd Command) {
	c.logger.Debug("Received command", "signal", cmd.Signal)

	commander := c.hub.getCommander()
	if commander == nil {
		c.sendError("game service not available")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	switch cmd.Signal {
	case CommandStart:
		var o Overrides
		if len(cmd.Value) > 0 {
			if err := json.Unmarshal(cmd.Value, &o); err != nil {
				c.sendError("invalid start overrides: " + err.Error())
				return
			}
		}
		if _, err := commander.StartGame(ctx, o); err != nil {
			c.sendError(err.Error())
		}

	case CommandStop:
		if _, err := commander.StopGame(ctx); err != nil {
			c.sendError(err.Error())
		}

	default:
		c.sendError("unknown command: " + cmd.Signal)
	}
}

func (c *Connection) sendError(message string) {
	data, err := json.Marshal(game.Event{Signal: SignalError, Value: message})
	if err != nil {
		return
	}
	_ = c.Send(data)
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/toninas/internal/game"
)

// Commander handles the commands watchers send over their websocket.
type Commander interface {
	StartGame(ctx context.Context, o Overrides) (game.Snapshot, error)
	StopGame(ctx context.Context) (game.Snapshot, error)
}

// Hub fans game events out to every connected watcher. It implements
// game.Publisher.
type Hub struct {
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	commander   Commander
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a hub. Call Start before serving connections.
func NewHub(logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		upgrader: websocket.Upgrader{
			// Watchers are dashboards on the venue LAN.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("hub"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetCommander sets who handles start and stop requests from watchers.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commander = c
}

func (h *Hub) getCommander() Commander {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.commander
}

// Start runs the registration loop until Stop.
func (h *Hub) Start() {
	go h.run()
}

// Stop closes every connection and ends the registration loop.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		_ = conn.Close()
		delete(h.connections, conn)
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			total := len(h.connections)
			h.mu.Unlock()
			h.logger.Info("Watcher connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				_ = conn.Close()
			}
			total := len(h.connections)
			h.mu.Unlock()
			h.logger.Info("Watcher disconnected", "total", total)

		case <-h.ctx.Done():
			return
		}
	}
}

// Count returns the number of registered watchers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Publish encodes ev once and queues it on every watcher.
func (h *Hub) Publish(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Signal, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		if err := conn.Send(data); err != nil {
			h.logger.Debug("Dropped event for watcher", "signal", ev.Signal, "error", err)
		}
	}
	return nil
}

// serve upgrades the request and registers the watcher. greeting, when
// not nil, is queued before any broadcast reaches the new watcher.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, greeting *game.Event) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := NewConnection(ws, h, h.logger)
	if greeting != nil {
		if data, err := json.Marshal(greeting); err == nil {
			_ = conn.Send(data)
		}
	}

	select {
	case h.register <- conn:
	case <-h.ctx.Done():
		_ = conn.Close()
		return
	}
	conn.Start()

	go func() {
		<-conn.ctx.Done()
		select {
		case h.unregister <- conn:
		case <-h.ctx.Done():
		}
	}()
}

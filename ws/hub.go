// Package ws mirrors display frames to websocket clients. Each new client
// first receives the current frame, then every frame after it.
package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harveysanders/lcdtext/refresh"
)

const writeWait = 5 * time.Second

// Hub tracks connected clients and the most recent frame.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  *refresh.Frame
}

type client struct {
	conn *websocket.Conn
	send chan refresh.Frame
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Read-only mirror; any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast records f as the latest frame and queues it for every client.
// Clients that are behind drop the frame.
func (h *Hub) Broadcast(f refresh.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &f
	for c := range h.clients {
		refresh.Send(c.send, f)
	}
}

// Run broadcasts frames until ctx is done or frames is closed.
func (h *Hub) Run(ctx context.Context, frames <-chan refresh.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			h.Broadcast(f)
		}
	}
}

// ServeHTTP upgrades the request and streams frames as JSON text messages.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws:upgrade-failed", slog.Any("reason", err))
		return
	}
	c := &client{conn: conn, send: make(chan refresh.Frame, 4)}

	h.mu.Lock()
	if h.latest != nil {
		c.send <- *h.latest
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("ws:connected", slog.String("remote", r.RemoteAddr))

	go h.readPump(c)
	h.writePump(c)
}

// readPump discards client messages and closes send when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(f); err != nil {
			h.logger.Debug("ws:write-failed", slog.Any("reason", err))
			return
		}
	}
}

// ListenAndServe serves the hub at "/" on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.logger.Info("ws:listening", slog.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.closeAll()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

// closeAll disconnects every client. Shutdown does not track hijacked
// connections.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

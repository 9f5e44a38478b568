// Package viewer streams utterance records from the Kafka utterance topic to
// browsers over websocket.
package viewer

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

const writeTimeout = 5 * time.Second

// Hub fans records out to connected websocket clients. The client set is
// owned by the Run goroutine.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	broadcast  chan models.UtteranceRecord
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan models.UtteranceRecord, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			// Local viewer; any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("viewer-hub"),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				h.drop(conn)
			}
			return

		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Info().Int("clients", len(h.clients)).Msg("Client connected")

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				h.drop(conn)
				h.log.Info().Int("clients", len(h.clients)).Msg("Client disconnected")
			}

		case rec := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(rec); err != nil {
					h.log.Warn().Err(err).Msg("Write error, dropping client")
					h.drop(conn)
				}
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	delete(h.clients, conn)
	h.count.Store(int64(len(h.clients)))
	conn.Close()
}

// Publish queues rec for every client. It blocks while the broadcast buffer
// is full, until ctx is done.
func (h *Hub) Publish(ctx context.Context, rec models.UtteranceRecord) error {
	select {
	case h.broadcast <- rec:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and registers the connection. The reader
// loop only detects disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Handler serves the viewer page at / and the websocket at /ws.
func Handler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	staticFS, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}

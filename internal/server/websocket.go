package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/config"
	"github.com/gungiarena/gungi-server-go/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans boundary events out to connected websocket observers. It
// implements session.Publisher; Publish never blocks the game path, slow
// clients are dropped.
type Broadcaster struct {
	logger *zap.Logger

	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewBroadcaster creates an event broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:     logger,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]bool),
	}
}

// Publish serializes the event and queues it for broadcast. If the
// broadcast queue is full the event is dropped; observers are best effort.
func (b *Broadcaster) Publish(event session.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("event marshal failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	select {
	case b.broadcast <- payload:
	default:
		b.logger.Warn("broadcast queue full, event dropped", zap.String("type", event.Type))
	}
}

// Run pumps events to clients until the context is canceled. After it
// returns no new clients are accepted; in-flight register and unregister
// attempts unblock against the done channel.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				close(client.send)
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.send)
			}
			b.mu.Unlock()

		case message := <-b.broadcast:
			b.mu.Lock()
			for client := range b.clients {
				select {
				case client.send <- message:
				default:
					delete(b.clients, client)
					close(client.send)
				}
			}
			b.mu.Unlock()
		}
	}
}

// add hands a client to the run loop. It reports false when the broadcaster
// has shut down and the client was not registered.
func (b *Broadcaster) add(client *wsClient) bool {
	select {
	case b.register <- client:
		return true
	case <-b.done:
		return false
	}
}

// remove hands a client back to the run loop for unregistration. After
// shutdown this is a no-op; Run already closed every send channel.
func (b *Broadcaster) remove(client *wsClient) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// ServeWS upgrades an HTTP request to a websocket observer connection.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	if !b.add(client) {
		conn.Close()
		return
	}

	go b.writePump(client)
	go b.readPump(client)
}

func (b *Broadcaster) writePump(client *wsClient) {
	defer client.conn.Close()
	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains inbound frames so control messages are processed and a
// closed connection unregisters its client.
func (b *Broadcaster) readPump(client *wsClient) {
	defer func() {
		b.remove(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StartWebSocketServer serves the event stream at /events and the gateway
// JSON endpoints until the listener fails.
func StartWebSocketServer(cfg config.WebSocketConfig, broadcaster *Broadcaster, svc *Service, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", broadcaster.ServeWS)
	RegisterRoutes(mux, svc, logger)

	logger.Info("starting websocket server", zap.String("address", cfg.Address))
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

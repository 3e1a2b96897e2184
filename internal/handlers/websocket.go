package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/common"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"golang.org/x/time/rate"
)

// writeTimeout bounds a single WebSocket write so one dead peer cannot
// back up the event stream for everyone else.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard is served same-origin; allow local development
	},
}

// WebSocketHandler pushes reprocess tracking events to connected
// dashboard clients so progress updates arrive without status polling
// from the browser side.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	progressThrottler *rate.Limiter // Collapses bursts of progress events
	serverInstanceID  string        // Clients use this to detect server restarts
}

// wsMessage is the envelope sent to dashboard clients.
type wsMessage struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewWebSocketHandler creates the handler and subscribes it to the
// reprocess event stream.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: common.NewInstanceID(),
	}

	if config != nil {
		if interval := config.ProgressThrottleDuration(); interval > 0 {
			h.progressThrottler = rate.NewLimiter(rate.Every(interval), 1)
		}
	}

	forward := func(ctx context.Context, event interfaces.Event) error {
		h.Broadcast(string(event.Type), event.Payload)
		return nil
	}
	for _, eventType := range []interfaces.EventType{
		interfaces.EventReprocessStarted,
		interfaces.EventReprocessProgress,
		interfaces.EventReprocessCompleted,
		interfaces.EventReprocessFailed,
		interfaces.EventReprocessFetchError,
		interfaces.EventReprocessTimeout,
	} {
		if err := eventService.Subscribe(eventType, forward); err != nil {
			logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket forwarder")
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades the connection and registers the client.
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	// Tell the client which server instance it is talking to
	h.send(conn, wsMessage{
		ID:        common.NewEventID(),
		Type:      "connected",
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   map[string]string{"server_instance_id": h.serverInstanceID},
	})

	// Read loop exists only to detect disconnects; clients do not send
	// anything the server acts on.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to all connected clients. Progress events
// are throttled; terminal events always go out.
func (h *WebSocketHandler) Broadcast(eventType string, payload interface{}) {
	if eventType == string(interfaces.EventReprocessProgress) && h.progressThrottler != nil {
		if !h.progressThrottler.Allow() {
			return
		}
	}

	message := wsMessage{
		ID:        common.NewEventID(),
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   payload,
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, message)
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// send writes one message to one client under its write mutex.
func (h *WebSocketHandler) send(conn *websocket.Conn, message wsMessage) {
	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to marshal WebSocket message")
		return
	}

	mutex.Lock()
	// A dead peer must not stall publishers waiting on the broadcast.
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.removeClient(conn)
	}
}

// removeClient unregisters and closes a client connection.
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	clientCount := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
}

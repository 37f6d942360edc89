package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler pushes telemetry payloads to every connected
// dashboard client. Clients are mostly passive; the only inbound
// message handled is a ping.
type WebSocketHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan ServerMessage
}

type ClientMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan ServerMessage),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Broadcast queues a payload for every connected client. Slow clients
// drop messages instead of stalling the tick loop.
func (h *WebSocketHandler) Broadcast(messageType string, data any) {
	message := ServerMessage{Type: messageType, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, out := range h.clients {
		select {
		case out <- message:
		default:
			h.logger.Warn("Dropping message for slow websocket client",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.String("type", messageType))
		}
	}
}

func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	clientID := uuid.NewString()
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", clientID),
		zap.String("client_ip", clientIP))

	out := make(chan ServerMessage, 64)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", clientID))
	}()

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go h.writeRoutine(conn, out, done)

	for {
		var message ClientMessage
		err := conn.ReadJSON(&message)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("Websocket error: ", zap.Error(err))
			}
			close(done)
			return
		}
		h.handleMessage(conn, &message)
	}
}

func (h *WebSocketHandler) handleMessage(conn *websocket.Conn, message *ClientMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(conn, "pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(conn, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) writeRoutine(conn *websocket.Conn, out chan ServerMessage, done chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message := <-out:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(message); err != nil {
				h.logger.Error("Failed to send WebSocket message", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) sendMessage(conn *websocket.Conn, messageType string, data any) {
	h.mu.RLock()
	out, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case out <- ServerMessage{Type: messageType, Data: data}:
	default:
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, errorMsg string) {
	h.sendMessage(conn, "error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

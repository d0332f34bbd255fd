// internal/handler/websocket_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"psu-service/internal/session"
	"psu-service/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketHandler streams polled measurements to connected clients
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	manager  *session.Manager
	logger   *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(manager *session.Manager, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// In production, implement proper origin checking
			return true
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		manager:  manager,
		logger:   utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// HandleMeasurements upgrades the connection and streams measurement samples
// until the client disconnects. A slow client misses samples rather than
// backing up the poller.
func (h *WebSocketHandler) HandleMeasurements(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	samples, cancel := h.manager.Subscribe()

	h.logger.Info("Measurement stream client connected",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	closed := make(chan struct{})

	// Read pump: drain control frames, detect client disconnect.
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump.
	go func() {
		defer func() {
			cancel()
			conn.Close()
			h.logger.Info("Measurement stream client disconnected",
				zap.String("client_id", clientID),
			)
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case sample, ok := <-samples:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(sample); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

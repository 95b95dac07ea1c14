package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/repository"
)

// Handler is the ingestion front-end: externally produced canonical
// events arrive over HTTP POST (JSON array) or WebSocket (one JSON
// event per text message) and are forwarded to the event buffer.
type Handler struct {
	buffer   repository.EventBuffer
	router   *gin.Engine
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates the ingestion handler and registers its routes.
func NewHandler(buffer repository.EventBuffer, log *zap.Logger) *Handler {
	h := &Handler{
		buffer: buffer,
		router: gin.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/events", h.ingestEvents)
	h.router.GET("/ws", h.handleWebSocket)
}

// healthCheck reports liveness and buffer reachability.
func (h *Handler) healthCheck(c *gin.Context) {
	if err := h.buffer.Ping(c.Request.Context()); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "buffer_unavailable",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ingestEvents handles POST /events with a JSON array of canonical
// events. Events with an invalid type are rejected individually; the
// rest are stored.
func (h *Handler) ingestEvents(c *gin.Context) {
	var events []*domain.Event

	if err := c.ShouldBindJSON(&events); err != nil {
		h.log.Warn("Invalid ingest request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	accepted := 0
	rejected := 0
	for _, event := range events {
		if !domain.ValidType(event.Type) {
			rejected++
			continue
		}
		if err := h.buffer.Store(c.Request.Context(), event); err != nil {
			h.log.Error("Failed to store event",
				zap.String("event_id", event.ID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: err.Error(),
			})
			return
		}
		accepted++
	}

	h.log.Info("Events ingested",
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected))

	c.JSON(http.StatusAccepted, IngestResponse{
		Accepted: accepted,
		Rejected: rejected,
	})
}

// handleWebSocket upgrades the connection and stores one event per
// text message. Malformed messages are logged and skipped; the
// connection stays open until the client closes it.
func (h *Handler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var event domain.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			h.log.Warn("Skipping malformed WebSocket event", zap.Error(err))
			continue
		}

		if !domain.ValidType(event.Type) {
			h.log.Warn("Skipping event with invalid type",
				zap.String("type", event.Type))
			continue
		}

		if err := h.buffer.Store(c.Request.Context(), &event); err != nil {
			h.log.Error("Failed to store WebSocket event",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
}

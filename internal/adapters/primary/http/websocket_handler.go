package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	mw "github.com/lorrc/receipt-relay/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/receipt-relay/internal/adapters/primary/websocket"
	"github.com/lorrc/receipt-relay/internal/config"
	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
)

// WebSocketHandler accepts inbound connection requests: it performs
// the upgrade handshake, registers the new client with the hub, and
// starts its read/keepalive loops. A failed handshake registers
// nothing and leaks nothing.
type WebSocketHandler struct {
	hub      *wsAdapter.Hub
	tuning   wsAdapter.Tuning
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *wsAdapter.Hub, cfg *config.Config, logger *slog.Logger) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub: hub,
		tuning: wsAdapter.Tuning{
			WriteWait:  cfg.WebSocket.WriteWait,
			PongWait:   cfg.WebSocket.PongWait,
			PingPeriod: cfg.WebSocket.PingInterval,
			SendBuffer: cfg.WebSocket.SendBufferSize,
		},
		logger: logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := mw.GetRequestID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; nothing was registered.
		h.logger.Warn("websocket upgrade failed",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	client := wsAdapter.NewClient(h.hub, conn, h.tuning, h.logger)

	if err := h.hub.Register(client); err != nil {
		if errors.Is(err, apperrors.ErrRegistryFull) {
			h.logger.Warn("websocket connection rejected: at capacity",
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
			)
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
		}
		_ = conn.Close()
		return
	}

	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"connection_id", client.ID,
		"remote_addr", r.RemoteAddr,
	)

	go client.WritePump()
	go client.ReadPump()
}

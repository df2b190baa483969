package handlers

import (
	"companion-backend/internal/realtime"
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// RealtimeHandler upgrades HTTP requests to websocket connections on the hub.
type RealtimeHandler struct {
	hub       *realtime.Hub
	submitter realtime.Submitter
	cfg       realtime.ClientConfig
	upgrader  websocket.Upgrader

	// Connections are served on this context so shutdown can close them.
	ctx context.Context
}

// NewRealtimeHandler creates a handler. allowedOrigin "" or "*" accepts any origin.
func NewRealtimeHandler(ctx context.Context, hub *realtime.Hub, submitter realtime.Submitter, cfg realtime.ClientConfig, allowedOrigin string) *RealtimeHandler {
	allowedOrigin = strings.TrimRight(strings.TrimSpace(allowedOrigin), "/")
	return &RealtimeHandler{
		hub:       hub,
		submitter: submitter,
		cfg:       cfg,
		ctx:       ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || strings.EqualFold(strings.TrimRight(origin, "/"), allowedOrigin)
			},
		},
	}
}

// HandleWebSocket handles GET /ws.
func (h *RealtimeHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Printf("WARN [RealtimeHandler]: Upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	client := realtime.NewClient(conn, h.hub, h.submitter, h.cfg)
	log.Printf("[RealtimeHandler] Client %s connected from %s", client.ID(), r.RemoteAddr)
	client.Run(h.ctx)
}

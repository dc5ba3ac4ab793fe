package handlers

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/isdelr/ender-watch/internal/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The chat adapter may run anywhere; auth happens via JWT, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades connections and registers them with the notifier hub.
type WebSocketHandler struct {
	hub *websocket.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Serve handles websocket requests from notifier clients.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &websocket.Client{Hub: h.hub, Conn: conn, Send: make(chan []byte, 256)}
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

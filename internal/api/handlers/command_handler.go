package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/ender-watch/internal/dispatcher"
	"github.com/isdelr/ender-watch/internal/watchdog"
)

// CommandHandler exposes the chat command surface over HTTP. The chat
// platform adapter (an external process) forwards slash commands here and
// relays the reply text back to the user.
type CommandHandler struct {
	dispatcher *dispatcher.Dispatcher
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(d *dispatcher.Dispatcher) *CommandHandler {
	return &CommandHandler{dispatcher: d}
}

type commandReply struct {
	Reply string `json:"reply"`
}

// List handles the request to list all configured servers.
func (h *CommandHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.dispatcher.Servers())
}

// Status handles a status command for one server.
func (h *CommandHandler) Status(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reply, err := h.dispatcher.HandleStatus(name, originChannel(r))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeReply(w, reply)
}

// PerformAction handles start, stop, and backup commands.
func (h *CommandHandler) PerformAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	channel := originChannel(r)
	var reply string
	var err error
	switch payload.Action {
	case "start":
		reply, err = h.dispatcher.HandleStart(name, channel)
	case "stop":
		reply, err = h.dispatcher.HandleStop(name, channel)
	case "backup":
		reply, err = h.dispatcher.HandleBackup(name, channel)
	default:
		http.Error(w, "Unknown action: "+payload.Action, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeReply(w, reply)
}

// originChannel is the chat channel the command came from, forwarded by the
// adapter for allow-list enforcement.
func originChannel(r *http.Request) string {
	return r.Header.Get("X-Channel-ID")
}

func writeReply(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(commandReply{Reply: reply})
}

// writeCommandError maps dispatcher errors onto HTTP statuses while keeping
// the body a plain, user-relayable message.
func writeCommandError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, dispatcher.ErrUnknownServer):
		status = http.StatusNotFound
	case errors.Is(err, dispatcher.ErrChannelNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, watchdog.ErrShuttingDown):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

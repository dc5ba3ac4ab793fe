package services

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/ender-watch/internal/models"
	"github.com/isdelr/ender-watch/internal/websocket"
	"github.com/rs/zerolog/log"
)

// EventServiceProvider defines the interface for event services. This is the
// notifier surface: the watchdog and dispatcher emit events through it and
// never talk to the chat platform directly.
type EventServiceProvider interface {
	CreateEvent(kind, level, message string, serverName *string) error
	GetRecentEvents(limit int) ([]models.Event, error)
}

// EventService persists notifier events, logs them, and broadcasts them to
// connected websocket clients.
type EventService struct {
	db  *sql.DB
	hub *websocket.Hub
}

// NewEventService creates a new EventService. The hub may be nil in tests.
func NewEventService(db *sql.DB, hub *websocket.Hub) *EventService {
	return &EventService{db: db, hub: hub}
}

// CreateEvent records a new event and fans it out to notifier clients.
func (s *EventService) CreateEvent(kind, level, message string, serverName *string) error {
	event := models.Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Level:      level,
		Message:    message,
		ServerName: serverName,
		CreatedAt:  time.Now(),
	}

	logEvent(event)

	// Persistence failures must not mute the notifier: the broadcast happens
	// regardless, and the error is logged here because most emitters cannot
	// do anything useful with it.
	err := s.persist(event)
	if err != nil {
		log.Error().Err(err).Str("kind", event.Kind).Msg("Failed to persist event")
	}
	s.broadcast(event)
	return err
}

func (s *EventService) persist(event models.Event) error {
	stmt, err := s.db.Prepare("INSERT INTO events (id, kind, level, message, server_name, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(event.ID, event.Kind, event.Level, event.Message, event.ServerName, event.CreatedAt)
	return err
}

// GetRecentEvents retrieves the most recent events from the database.
func (s *EventService) GetRecentEvents(limit int) ([]models.Event, error) {
	rows, err := s.db.Query("SELECT id, kind, level, message, server_name, created_at FROM events ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(&event.ID, &event.Kind, &event.Level, &event.Message, &event.ServerName, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *EventService) broadcast(event models.Event) {
	if s.hub == nil {
		return
	}
	msg := websocket.Message{Action: "event", Payload: event}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Error marshalling event for broadcast")
		return
	}
	select {
	case s.hub.Broadcast <- jsonMsg:
	default:
		log.Warn().Str("kind", event.Kind).Msg("Notifier broadcast channel full, dropping event")
	}
}

func logEvent(event models.Event) {
	logCtx := log.Info()
	switch event.Level {
	case "warn":
		logCtx = log.Warn()
	case "error":
		logCtx = log.Error()
	}
	if event.ServerName != nil {
		logCtx = logCtx.Str("server_name", *event.ServerName)
	}
	logCtx.Str("kind", event.Kind).Msg(event.Message)
}

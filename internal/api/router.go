package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/ender-watch/internal/api/handlers"
	"github.com/isdelr/ender-watch/internal/auth"
	"github.com/isdelr/ender-watch/internal/dispatcher"
	"github.com/isdelr/ender-watch/internal/services"
	"github.com/isdelr/ender-watch/internal/websocket"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(hub *websocket.Hub, d *dispatcher.Dispatcher, eventService services.EventServiceProvider, adminPasswordHash string) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Channel-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(adminPasswordHash)
	commandHandler := handlers.NewCommandHandler(d)
	eventHandler := handlers.NewEventHandler(eventService)
	systemHandler := handlers.NewSystemHandler()
	wsHandler := handlers.NewWebSocketHandler(hub)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Everything else requires an operator token.
		r.Group(func(r chi.Router) {
			r.Use(auth.JWTMiddleware())

			// Event stream for the chat-platform adapter.
			r.Get("/ws", wsHandler.Serve)

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", commandHandler.List)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/status", commandHandler.Status)
					r.Post("/action", commandHandler.PerformAction)
				})
			})

			r.Get("/events", eventHandler.GetRecent)
			r.Get("/system", systemHandler.Get)
		})
	})

	return r
}

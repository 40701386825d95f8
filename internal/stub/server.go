package stub

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server bundles the stub backend: the REST message store and the socket
// relay, on one router. It implements the exact contracts the client
// consumes, so it backs both local development and the end-to-end tests.
type Server struct {
	store  *Store
	hub    *Hub
	log    *slog.Logger
	router chi.Router
}

// NewServer creates a stub backend over the given store and starts its
// relay hub.
func NewServer(store *Store, log *slog.Logger) *Server {
	s := &Server{
		store: store,
		hub:   NewHub(log),
		log:   log,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/shop", s.handleShops)
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", s.handleCreateMessage)
			r.Get("/conversation/{customerID}/{adminID}/{shopID}", s.handleConversation)
		})
	})

	r.Get("/ws", s.handleWS)

	s.router = r
	go s.hub.Run()
	return s
}

// Handler returns the stub's HTTP handler for mounting or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the relay hub.
func (s *Server) Close() {
	s.hub.Stop()
}

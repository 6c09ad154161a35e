package apigateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cheildo/nexus-clash-matchmaker/internal/auth"
	"github.com/cheildo/nexus-clash-matchmaker/internal/matchmaking"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/respond"
)

// requestTimeout bounds the short request/response routes. The join routes stream
// for as long as the participant waits and are not covered by it.
const requestTimeout = 60 * time.Second

// Handlers are the endpoints served by the gateway.
type Handlers struct {
	Auth      *auth.HTTPHandler
	Join      *matchmaking.HTTPHandler
	WebSocket *matchmaking.WebsocketHandler
	Verifier  auth.Verifier
}

// NewRouter builds the gateway's HTTP routes.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(respond.Recoverer)
	r.NotFound(respond.NotFound)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Group routes under a `/api/v1` prefix.
		r.Route("/api/v1/auth", func(r chi.Router) {
			r.Post("/guest", h.Auth.HandleGuest)
			r.Post("/register", h.Auth.HandleRegister)
			r.Post("/login", h.Auth.HandleLogin)
		})
	})

	r.Route("/api/v1/matchmaking", func(r chi.Router) {
		r.Use(auth.Middleware(h.Verifier))
		r.Post("/join", h.Join.HandleJoin)
		r.Method(http.MethodGet, "/ws", h.WebSocket)
	})

	return r
}

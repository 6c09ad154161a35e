package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/respond"
)

type participantKey struct{}

// Verifier turns a bearer token into a trusted participant id.
type Verifier interface {
	Verify(token string) (string, error)
}

// WithParticipant returns a copy of ctx carrying the authenticated participant id.
func WithParticipant(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, participantKey{}, participantID)
}

// ParticipantFromContext returns the id stored by the middleware.
func ParticipantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(participantKey{}).(string)
	return id, ok && id != ""
}

// Middleware rejects requests without a valid token with 401 and stores the
// participant id in the request context otherwise.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			participantID, err := v.Verify(bearerToken(r))
			if err != nil {
				slog.Info("Rejected unauthenticated request", "path", r.URL.Path, "error", err)
				respond.Message(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), participantID)))
		})
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on a
// WebSocket handshake, so upgrades may pass the token as ?token= instead.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

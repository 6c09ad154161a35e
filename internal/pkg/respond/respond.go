// Package respond holds the JSON response helpers shared by the HTTP handlers.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSON writes data as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Warn("Failed to write JSON response", "error", err)
		}
	}
}

// Message writes a {"message": ...} body, the shape used for every error response.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"message": message})
}

func NotFound(w http.ResponseWriter, _ *http.Request) {
	Message(w, http.StatusNotFound, "not found")
}

func InternalError(w http.ResponseWriter) {
	Message(w, http.StatusInternalServerError, "something went wrong")
}

// Recoverer turns a panic in a handler into the standard 500 body. Like chi's
// middleware.Recoverer it re-panics on http.ErrAbortHandler.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				slog.Error("Recovered from panic in HTTP handler", "panic", rvr, "path", r.URL.Path)
				InternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

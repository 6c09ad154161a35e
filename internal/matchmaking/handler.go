package matchmaking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cheildo/nexus-clash-matchmaker/internal/auth"
	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/respond"
)

// HTTPStream pushes newline-terminated frames over a streamed HTTP response and
// flushes each one immediately.
type HTTPStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	opened bool
}

func NewHTTPStream(w http.ResponseWriter) *HTTPStream {
	return &HTTPStream{w: w, rc: http.NewResponseController(w)}
}

// Open commits the response headers. Nothing is buffered or cached along the way.
func (s *HTTPStream) Open() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.opened = true
	return s.rc.Flush()
}

// Opened reports whether the status line has been written.
func (s *HTTPStream) Opened() bool {
	return s.opened
}

func (s *HTTPStream) WritePulse(n int) error {
	return s.writeFrame([]byte(strconv.Itoa(n)))
}

func (s *HTTPStream) WriteResult(result MatchResult) error {
	frame, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.writeFrame(frame)
}

func (s *HTTPStream) writeFrame(frame []byte) error {
	if _, err := s.w.Write(append(frame, '\n')); err != nil {
		return err
	}
	return s.rc.Flush()
}

// HTTPHandler serves the streamed join endpoint.
type HTTPHandler struct {
	joiner *Joiner
}

func NewHTTPHandler(joiner *Joiner) *HTTPHandler {
	return &HTTPHandler{joiner: joiner}
}

// HandleJoin is the HTTP handler for POST /matchmaking/join. It must sit behind
// auth.Middleware.
func (h *HTTPHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	participantID, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	stream := NewHTTPStream(w)
	err := h.joiner.Join(r.Context(), participantID, stream)
	switch {
	case err == nil:
	case IsDisconnect(err):
		slog.Debug("Join stream closed by caller", "participantID", participantID)
	case !stream.Opened():
		slog.Error("Join request could not be started", "participantID", participantID, "error", err)
		if errors.Is(err, broker.ErrBrokerUnavailable) {
			respond.Message(w, http.StatusServiceUnavailable, "matchmaking unavailable")
			return
		}
		respond.InternalError(w)
	default:
		slog.Warn("Join stream ended with error", "participantID", participantID, "error", err)
	}
}

package matchmaking

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cheildo/nexus-clash-matchmaker/internal/auth"
	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/respond"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// upgrader is used to upgrade an HTTP connection to a persistent WebSocket connection.
var upgrader = websocket.Upgrader{
	// Allow connections from any origin (for development).
	// In production, you should restrict this to your game client's origin.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketStream pushes pulses as text messages and the result as a JSON text
// message followed by a normal close.
type WebSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	return &WebSocketStream{conn: conn}
}

// Open is a no-op: the handshake already opened the channel.
func (s *WebSocketStream) Open() error { return nil }

func (s *WebSocketStream) WritePulse(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(strconv.Itoa(n)))
}

func (s *WebSocketStream) WriteResult(result MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(result)
}

// Close sends a close frame describing how the join ended and closes the connection.
func (s *WebSocketStream) Close(joinErr error) {
	code, text := websocket.CloseNormalClosure, "match found"
	switch {
	case joinErr == nil:
	case errors.Is(joinErr, broker.ErrBrokerUnavailable):
		code, text = websocket.CloseTryAgainLater, "matchmaking unavailable"
	default:
		code, text = websocket.CloseInternalServerErr, "something went wrong"
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.conn.Close()
}

// WebsocketHandler serves the WebSocket flavour of the join endpoint.
type WebsocketHandler struct {
	joiner *Joiner
}

func NewWebsocketHandler(joiner *Joiner) *WebsocketHandler {
	return &WebsocketHandler{joiner: joiner}
}

// ServeHTTP upgrades the connection and runs the join for its whole lifetime. It must
// sit behind auth.Middleware.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	participantID, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	slog.Info("WebSocket connection established", "participantID", participantID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream := NewWebSocketStream(conn)
	go readPump(conn, participantID, cancel)
	go pingLoop(ctx, conn)

	err = h.joiner.Join(ctx, participantID, stream)
	if IsDisconnect(err) {
		conn.Close()
		return
	}
	if err != nil {
		slog.Warn("WebSocket join ended with error", "participantID", participantID, "error", err)
	}
	stream.Close(err)
}

// readPump detects the caller going away. We don't expect messages from the client,
// but reading is the only way to notice a closed or dead connection.
func readPump(conn *websocket.Conn, participantID string, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection closed unexpectedly", "participantID", participantID, "error", err)
			}
			return
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

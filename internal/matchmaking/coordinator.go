package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
)

var (
	ErrMalformedPayload = errors.New("malformed join request")
	ErrAlreadyStarted   = errors.New("coordinator already started")
)

// handleTimeout bounds the broker calls made for a single join request. It is not
// tied to Stop so that the request in flight can finish.
const handleTimeout = 5 * time.Second

// joinPayload is the body of a join request on the queue. The reply address and the
// correlation token travel as message metadata.
type joinPayload struct {
	ParticipantID string `json:"participantId"`
}

// Coordinator drains the join queue and drives the waiting room. It is the only
// writer of the room and processes one request at a time, to completion, before the
// broker hands it the next one.
type Coordinator struct {
	responder broker.Responder
	room      *WaitingRoom
	queue     string
	publisher EventPublisher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Coordinator)

// WithEventPublisher announces every match through p.
func WithEventPublisher(p EventPublisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

func NewCoordinator(responder broker.Responder, room *WaitingRoom, queue string, opts ...Option) *Coordinator {
	c := &Coordinator{
		responder: responder,
		room:      room,
		queue:     queue,
		publisher: nopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins consuming the join queue in a separate goroutine. It fails if the
// broker refuses the subscription.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	deliveries, err := c.responder.Consume(ctx, c.queue)
	if err != nil {
		cancel()
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	slog.Info("Matchmaking coordinator started", "queue", c.queue)
	go c.run(ctx, deliveries, c.done)
	return nil
}

// Stop stops consuming and waits for the request in flight, if any. A participant
// still parked in the room is dropped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the consume loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Coordinator) run(ctx context.Context, deliveries <-chan *broker.Delivery, done chan struct{}) {
	defer close(done)
	for d := range deliveries {
		c.handle(ctx, d)
	}
	if w, ok := c.room.Waiting(); ok {
		slog.Warn("Coordinator stopped with a participant still waiting", "participantID", w.ParticipantID)
	}
	slog.Info("Matchmaking coordinator stopped", "queue", c.queue)
}

// handle processes one delivery and always acknowledges it: malformed requests are
// never requeued, and a failed reply is not retried because a retried join would
// re-enter the room.
func (c *Coordinator) handle(ctx context.Context, d *broker.Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			slog.Error("Failed to acknowledge join request", "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic while processing join request", "panic", r)
		}
	}()

	joinsProcessed.WithLabelValues().Inc()

	req, err := parseJoinRequest(d.Message)
	if err != nil {
		malformedJoins.WithLabelValues().Inc()
		slog.Warn("Dropping malformed join request", "error", err)
		return
	}

	notifications, matched := c.room.OnJoin(req)
	waitingParticipants.WithLabelValues().Set(float64(c.room.Len()))
	if !matched {
		slog.Info("Participant parked in waiting room", "participantID", req.ParticipantID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()
	c.dispatch(ctx, notifications)
}

func parseJoinRequest(msg broker.Message) (JoinRequest, error) {
	var payload joinPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return JoinRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	switch {
	case payload.ParticipantID == "":
		return JoinRequest{}, fmt.Errorf("%w: missing participant id", ErrMalformedPayload)
	case msg.ReplyTo == "":
		return JoinRequest{}, fmt.Errorf("%w: missing reply address", ErrMalformedPayload)
	case msg.CorrelationID == "":
		return JoinRequest{}, fmt.Errorf("%w: missing correlation token", ErrMalformedPayload)
	}
	return JoinRequest{
		ParticipantID:    payload.ParticipantID,
		ReplyAddress:     msg.ReplyTo,
		CorrelationToken: msg.CorrelationID,
	}, nil
}

// dispatch sends the match to each participant, tagged with that participant's own
// correlation token, then announces it.
func (c *Coordinator) dispatch(ctx context.Context, notifications []Notification) {
	match := notifications[0].Match
	matchesCreated.WithLabelValues().Inc()
	slog.Info("Match found", "player1", match.Player1, "player2", match.Player2)

	body, err := json.Marshal(match)
	if err != nil {
		slog.Error("Failed to marshal match", "error", err)
		return
	}

	for _, n := range notifications {
		err := c.responder.Reply(ctx, n.ReplyAddress, broker.Message{
			Body:          body,
			CorrelationID: n.CorrelationToken,
		})
		switch {
		case errors.Is(err, broker.ErrDeliveryLost):
			matchDeliveries.WithLabelValues(deliveryLost).Inc()
			slog.Warn("Match reply had no listener", "replyAddress", n.ReplyAddress)
		case err != nil:
			matchDeliveries.WithLabelValues(deliveryFailed).Inc()
			slog.Error("Failed to deliver match reply", "replyAddress", n.ReplyAddress, "error", err)
		default:
			matchDeliveries.WithLabelValues(deliveryOK).Inc()
		}
	}

	event := MatchFoundEvent{
		MatchID:   uuid.NewString(),
		PlayerIDs: []string{match.Player1, match.Player2},
	}
	if err := c.publisher.PublishMatchFound(ctx, event); err != nil {
		slog.Error("Failed to publish match_found event", "matchID", event.MatchID, "error", err)
	}
}

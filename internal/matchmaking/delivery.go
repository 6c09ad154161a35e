package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
)

// MatchFoundMessage is the message of every terminal result frame.
const MatchFoundMessage = "Match found"

// MatchResult is the terminal frame pushed to a caller.
type MatchResult struct {
	Message string `json:"message"`
	Self    string `json:"self"`
	Data    Match  `json:"data"`
}

// Stream is the push channel to one waiting caller. Open is called once the join
// request has been published; WriteResult is always the last write.
type Stream interface {
	Open() error
	WritePulse(n int) error
	WriteResult(result MatchResult) error
}

type JoinerConfig struct {
	// Queue is the work queue the coordinator consumes.
	Queue string
	// PulseInterval is the period of the keep-alive counter frames.
	PulseInterval time.Duration
	// ResultDelay holds the result back after the reply arrives so that the caller
	// sees at least some pulses.
	ResultDelay time.Duration
}

// Joiner runs the caller side of a join: it publishes the request, keeps the stream
// alive and forwards the match once the coordinator replies.
type Joiner struct {
	requester broker.Requester
	cfg       JoinerConfig
}

func NewJoiner(requester broker.Requester, cfg JoinerConfig) *Joiner {
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = time.Second
	}
	if cfg.ResultDelay < 0 {
		cfg.ResultDelay = 0
	}
	return &Joiner{requester: requester, cfg: cfg}
}

// Join blocks until the match has been written to stream, the caller goes away (ctx is
// cancelled) or the stream fails. The published request is never retracted: a caller
// that leaves may still be matched, and that reply is simply lost.
func (j *Joiner) Join(ctx context.Context, participantID string, stream Stream) error {
	replies, err := j.requester.OpenReplyChannel(ctx)
	if err != nil {
		return fmt.Errorf("open reply channel: %w", err)
	}
	defer replies.Close()

	token := uuid.NewString()
	body, err := json.Marshal(joinPayload{ParticipantID: participantID})
	if err != nil {
		return err
	}
	err = j.requester.Request(ctx, j.cfg.Queue, broker.Message{
		Body:          body,
		CorrelationID: token,
		ReplyTo:       replies.Address(),
	})
	if err != nil {
		return fmt.Errorf("publish join request: %w", err)
	}
	slog.Info("Join request published", "participantID", participantID, "replyAddress", replies.Address())

	if err := stream.Open(); err != nil {
		finishedStreams.WithLabelValues(streamFailed).Inc()
		return fmt.Errorf("open stream: %w", err)
	}

	activeStreams.WithLabelValues().Inc()
	defer activeStreams.WithLabelValues().Dec()

	pulse := time.NewTicker(j.cfg.PulseInterval)
	defer pulse.Stop()

	var (
		counter     int
		match       *Match
		resultReady <-chan time.Time
		messages    = replies.Messages()
	)
	for {
		select {
		case <-ctx.Done():
			finishedStreams.WithLabelValues(streamDisconnected).Inc()
			slog.Info("Caller left before a match was delivered", "participantID", participantID)
			return ctx.Err()

		case <-pulse.C:
			counter++
			if err := stream.WritePulse(counter); err != nil {
				finishedStreams.WithLabelValues(streamFailed).Inc()
				return fmt.Errorf("write pulse: %w", err)
			}

		case msg, ok := <-messages:
			if !ok {
				finishedStreams.WithLabelValues(streamFailed).Inc()
				return fmt.Errorf("reply channel closed: %w", broker.ErrBrokerUnavailable)
			}
			if msg.CorrelationID != token {
				slog.Debug("Ignoring reply for another request", "participantID", participantID)
				continue
			}
			if match != nil {
				continue
			}
			var m Match
			if err := json.Unmarshal(msg.Body, &m); err != nil {
				slog.Warn("Ignoring unreadable match reply", "participantID", participantID, "error", err)
				continue
			}
			match = &m
			timer := time.NewTimer(j.cfg.ResultDelay)
			defer timer.Stop()
			resultReady = timer.C

		case <-resultReady:
			err := stream.WriteResult(MatchResult{
				Message: MatchFoundMessage,
				Self:    participantID,
				Data:    *match,
			})
			if err != nil {
				finishedStreams.WithLabelValues(streamFailed).Inc()
				return fmt.Errorf("write result: %w", err)
			}
			finishedStreams.WithLabelValues(streamMatched).Inc()
			slog.Info("Match delivered to caller", "participantID", participantID, "player1", match.Player1, "player2", match.Player2)
			return nil
		}
	}
}

// IsDisconnect reports whether err from Join only means the caller went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

package matchmaking

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MatchFoundEvent is published for downstream services (game orchestration) once a
// match has been delivered to both players.
type MatchFoundEvent struct {
	MatchID   string   `json:"matchID"`
	PlayerIDs []string `json:"playerIDs"`
}

// EventPublisher announces matches to the rest of the platform.
type EventPublisher interface {
	PublishMatchFound(ctx context.Context, event MatchFoundEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishMatchFound(context.Context, MatchFoundEvent) error { return nil }

// KafkaEventPublisher writes MatchFoundEvents to a Kafka topic keyed by match id.
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) PublishMatchFound(ctx context.Context, event MatchFoundEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.MatchID),
		Value: eventBytes,
	})
	if err != nil {
		return err
	}
	slog.Debug("Published match_found event", "matchID", event.MatchID)
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPollTimeout = time.Second
	retryBackoff       = 500 * time.Millisecond
)

// envelope is the wire form of a Message inside Redis.
type envelope struct {
	Body          []byte `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// Redis implements Broker on top of Redis lists (work queues) and pub/sub channels
// (reply addresses).
//
// A consumer moves one entry at a time from the queue into "<queue>:processing" and
// only removes it from there on Ack. Entries left behind by a crashed consumer are
// put back at the head of the queue the next time Consume starts.
type Redis struct {
	rdb         *redis.Client
	replyPrefix string
	pollTimeout time.Duration
}

func NewRedis(rdb *redis.Client, replyPrefix string) *Redis {
	return &Redis{
		rdb:         rdb,
		replyPrefix: replyPrefix,
		pollTimeout: defaultPollTimeout,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, op, err)
}

func processingKey(queue string) string {
	return queue + ":processing"
}

func (r *Redis) Request(ctx context.Context, queue string, msg Message) error {
	data, err := json.Marshal(envelope(msg))
	if err != nil {
		return err
	}
	if err := r.rdb.LPush(ctx, queue, data).Err(); err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return nil, unavailable("ping", err)
	}
	if err := r.requeueUnacked(ctx, queue); err != nil {
		return nil, err
	}

	out := make(chan *Delivery)
	go r.consumeLoop(ctx, queue, out)
	return out, nil
}

// requeueUnacked puts messages a dead consumer took but never acknowledged back at
// the consuming end of the queue, oldest last out of processing so it is first in.
func (r *Redis) requeueUnacked(ctx context.Context, queue string) error {
	for {
		raw, err := r.rdb.LMove(ctx, processingKey(queue), queue, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return unavailable("requeue", err)
		}
		slog.Warn("Requeued unacknowledged message", "queue", queue, "size", len(raw))
	}
}

func (r *Redis) consumeLoop(ctx context.Context, queue string, out chan<- *Delivery) {
	defer close(out)
	processing := processingKey(queue)

	for ctx.Err() == nil {
		raw, err := r.rdb.BLMove(ctx, queue, processing, "RIGHT", "LEFT", r.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Error reading from Redis queue", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		acked := make(chan struct{})
		d := NewDelivery(decodeEnvelope(raw), func() error {
			defer close(acked)
			if err := r.rdb.LRem(context.Background(), processing, 1, raw).Err(); err != nil {
				return unavailable("ack", err)
			}
			return nil
		})

		select {
		case out <- d:
		case <-ctx.Done():
			// Never handed out, so put it back where the next consumer will read it first.
			if err := r.rdb.LMove(context.Background(), processing, queue, "LEFT", "RIGHT").Err(); err != nil {
				slog.Error("Failed to requeue undelivered message", "queue", queue, "error", err)
			}
			return
		}

		select {
		case <-acked:
		case <-ctx.Done():
			return
		}
	}
}

// decodeEnvelope never fails: a payload that is not an envelope is passed through as
// the body so the consumer can reject it and still acknowledge it.
func decodeEnvelope(raw string) Message {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Message{Body: []byte(raw)}
	}
	return Message(env)
}

func (r *Redis) Reply(ctx context.Context, replyTo string, msg Message) error {
	data, err := json.Marshal(envelope(msg))
	if err != nil {
		return err
	}
	receivers, err := r.rdb.Publish(ctx, replyTo, data).Result()
	if err != nil {
		return unavailable("publish", err)
	}
	if receivers == 0 {
		return ErrDeliveryLost
	}
	return nil
}

func (r *Redis) OpenReplyChannel(ctx context.Context) (ReplyChannel, error) {
	address := fmt.Sprintf("%s:reply:%s", r.replyPrefix, uuid.NewString())
	ps := r.rdb.Subscribe(ctx, address)
	// Wait for the subscription confirmation so that no reply can be published first.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, unavailable("subscribe", err)
	}

	rc := &redisReplyChannel{
		address: address,
		ps:      ps,
		out:     make(chan Message),
		done:    make(chan struct{}),
	}
	go rc.pump()
	return rc, nil
}

type redisReplyChannel struct {
	address string
	ps      *redis.PubSub
	out     chan Message
	done    chan struct{}
	once    sync.Once
	err     error
}

func (rc *redisReplyChannel) pump() {
	defer close(rc.out)
	for m := range rc.ps.Channel() {
		select {
		case rc.out <- decodeEnvelope(m.Payload):
		case <-rc.done:
			return
		}
	}
}

func (rc *redisReplyChannel) Address() string { return rc.address }

func (rc *redisReplyChannel) Messages() <-chan Message { return rc.out }

func (rc *redisReplyChannel) Close() error {
	rc.once.Do(func() {
		close(rc.done)
		rc.err = rc.ps.Close()
	})
	return rc.err
}

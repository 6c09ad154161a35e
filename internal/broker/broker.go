// Package broker provides the correlated request/response channel used between the
// api gateway and the matchmaking coordinator. Requests go onto named work queues,
// replies go to private, short-lived reply addresses owned by a single caller.
package broker

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBrokerUnavailable is returned when the underlying transport cannot be reached.
	ErrBrokerUnavailable = errors.New("message broker unavailable")
	// ErrDeliveryLost is returned by Reply when nobody is listening on the reply address.
	ErrDeliveryLost = errors.New("reply delivery lost: no active subscriber")
)

// Message is a payload stamped with the metadata needed to route its reply.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// Requester is the caller side of the channel.
type Requester interface {
	// OpenReplyChannel allocates a private reply address and starts receiving on it
	// before returning, so a reply can never race ahead of the subscription.
	OpenReplyChannel(ctx context.Context) (ReplyChannel, error)
	// Request publishes msg onto the named queue without waiting for a reply.
	Request(ctx context.Context, queue string, msg Message) error
}

// ReplyChannel is a subscription to one reply address.
type ReplyChannel interface {
	Address() string
	// Messages yields every message delivered to the address. The consumer is
	// expected to filter on CorrelationID.
	Messages() <-chan Message
	Close() error
}

// Responder is the worker side of the channel.
type Responder interface {
	// Consume streams deliveries from queue one at a time. The next delivery is not
	// fetched until the current one has been acknowledged.
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)
	// Reply publishes msg to a reply address. Returns ErrDeliveryLost if the address
	// has no live subscriber; the message is dropped in that case.
	Reply(ctx context.Context, replyTo string, msg Message) error
}

// Broker bundles both sides; the gateway and the coordinator each use one half.
type Broker interface {
	Requester
	Responder
}

// Delivery is a message taken from a work queue that must be acknowledged exactly once.
type Delivery struct {
	Message

	ack  func() error
	once sync.Once
	err  error
}

// NewDelivery wraps msg with the acknowledgement callback of its transport.
func NewDelivery(msg Message, ack func() error) *Delivery {
	return &Delivery{Message: msg, ack: ack}
}

// Ack marks the delivery as consumed. Repeated calls return the first result.
func (d *Delivery) Ack() error {
	d.once.Do(func() {
		if d.ack != nil {
			d.err = d.ack()
		}
	})
	return d.err
}

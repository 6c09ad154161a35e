package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const memoryReplyBuffer = 16

// Memory is an in-process broker with the same delivery semantics as the Redis one.
type Memory struct {
	mu      sync.Mutex
	queues  map[string]*memoryQueue
	replies map[string]chan Message
	closed  bool
}

type memoryQueue struct {
	items  []Message
	notify chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		queues:  make(map[string]*memoryQueue),
		replies: make(map[string]chan Message),
	}
}

// Close makes every further operation fail with ErrBrokerUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// queue must be called with m.mu held.
func (m *Memory) queue(name string) *memoryQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memoryQueue{notify: make(chan struct{}, 1)}
		m.queues[name] = q
	}
	return q
}

// Pending reports how many messages wait on the named queue.
func (m *Memory) Pending(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue(name).items)
}

func (m *Memory) Request(ctx context.Context, queue string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBrokerUnavailable
	}
	q := m.queue(queue)
	q.items = append(q.items, msg)
	signal(q.notify)
	return nil
}

func (m *Memory) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	q := m.queue(queue)
	m.mu.Unlock()

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			msg, ok := m.pop(q)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-q.notify:
					continue
				}
			}

			acked := make(chan struct{})
			d := NewDelivery(msg, func() error {
				close(acked)
				return nil
			})
			select {
			case out <- d:
			case <-ctx.Done():
				m.requeue(q, msg)
				return
			}
			select {
			case <-acked:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Memory) pop(q *memoryQueue) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		signal(q.notify)
	}
	return msg, true
}

func (m *Memory) requeue(q *memoryQueue, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.items = append([]Message{msg}, q.items...)
	signal(q.notify)
}

func (m *Memory) OpenReplyChannel(ctx context.Context) (ReplyChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrBrokerUnavailable
	}
	rc := &memoryReplyChannel{
		broker:  m,
		address: "memory:reply:" + uuid.NewString(),
		ch:      make(chan Message, memoryReplyBuffer),
	}
	m.replies[rc.address] = rc.ch
	return rc, nil
}

func (m *Memory) Reply(ctx context.Context, replyTo string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBrokerUnavailable
	}
	ch, ok := m.replies[replyTo]
	if !ok {
		return ErrDeliveryLost
	}
	select {
	case ch <- msg:
		return nil
	default:
		return ErrDeliveryLost
	}
}

type memoryReplyChannel struct {
	broker  *Memory
	address string
	ch      chan Message
	once    sync.Once
}

func (rc *memoryReplyChannel) Address() string { return rc.address }

func (rc *memoryReplyChannel) Messages() <-chan Message { return rc.ch }

func (rc *memoryReplyChannel) Close() error {
	rc.once.Do(func() {
		rc.broker.mu.Lock()
		defer rc.broker.mu.Unlock()
		delete(rc.broker.replies, rc.address)
		close(rc.ch)
	})
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

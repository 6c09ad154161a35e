package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every Broker implementation must share.
func runContract(t *testing.T, newBroker func(t *testing.T) Broker) {
	t.Run("deliveries keep enqueue order and metadata", func(t *testing.T) {
		req := require.New(t)
		b := newBroker(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, id := range []string{"a", "b", "c"} {
			req.NoError(b.Request(ctx, "jobs", Message{Body: []byte(id), CorrelationID: "corr-" + id, ReplyTo: "reply-" + id}))
		}

		deliveries, err := b.Consume(ctx, "jobs")
		req.NoError(err)
		for _, id := range []string{"a", "b", "c"} {
			d := receive(t, deliveries)
			req.Equal(id, string(d.Body))
			req.Equal("corr-"+id, d.CorrelationID)
			req.Equal("reply-"+id, d.ReplyTo)
			req.NoError(d.Ack())
		}
	})

	t.Run("next delivery waits for the ack", func(t *testing.T) {
		req := require.New(t)
		b := newBroker(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req.NoError(b.Request(ctx, "jobs", Message{Body: []byte("first")}))
		req.NoError(b.Request(ctx, "jobs", Message{Body: []byte("second")}))

		deliveries, err := b.Consume(ctx, "jobs")
		req.NoError(err)
		first := receive(t, deliveries)
		req.Equal("first", string(first.Body))

		select {
		case d := <-deliveries:
			req.Failf("prefetch exceeded", "got %q before ack", d.Body)
		case <-time.After(150 * time.Millisecond):
		}

		req.NoError(first.Ack())
		req.Equal("second", string(receive(t, deliveries).Body))
	})

	t.Run("reply reaches the open channel only", func(t *testing.T) {
		req := require.New(t)
		b := newBroker(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rc, err := b.OpenReplyChannel(ctx)
		req.NoError(err)
		other, err := b.OpenReplyChannel(ctx)
		req.NoError(err)
		defer other.Close()
		req.NotEqual(rc.Address(), other.Address())

		req.NoError(b.Reply(ctx, rc.Address(), Message{Body: []byte("hello"), CorrelationID: "token"}))
		select {
		case m := <-rc.Messages():
			req.Equal("hello", string(m.Body))
			req.Equal("token", m.CorrelationID)
		case <-time.After(2 * time.Second):
			req.Fail("reply not received")
		}
		select {
		case m := <-other.Messages():
			req.Failf("unexpected reply", "%q", m.Body)
		case <-time.After(100 * time.Millisecond):
		}

		req.NoError(rc.Close())
		req.Eventually(func() bool {
			return errors.Is(b.Reply(ctx, rc.Address(), Message{Body: []byte("late")}), ErrDeliveryLost)
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("reply to unknown address is lost", func(t *testing.T) {
		b := newBroker(t)
		err := b.Reply(context.Background(), "nobody-listens-here", Message{Body: []byte("x")})
		require.ErrorIs(t, err, ErrDeliveryLost)
	})
}

func receive(t *testing.T, deliveries <-chan *Delivery) *Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no delivery received")
		return nil
	}
}

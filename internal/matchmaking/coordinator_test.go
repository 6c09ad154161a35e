package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cheildo/nexus-clash-matchmaker/internal/broker"
)

const testQueue = "matchmaking-queue"

type sentReply struct {
	replyTo string
	msg     broker.Message
}

// recordingBroker remembers every reply the coordinator sends.
type recordingBroker struct {
	*broker.Memory

	mu      sync.Mutex
	replies []sentReply
	panics  int
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{Memory: broker.NewMemory()}
}

func (b *recordingBroker) Reply(ctx context.Context, replyTo string, msg broker.Message) error {
	b.mu.Lock()
	if b.panics > 0 {
		b.panics--
		b.mu.Unlock()
		panic("reply exploded")
	}
	b.replies = append(b.replies, sentReply{replyTo: replyTo, msg: msg})
	b.mu.Unlock()
	return b.Memory.Reply(ctx, replyTo, msg)
}

func (b *recordingBroker) sent() []sentReply {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentReply(nil), b.replies...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MatchFoundEvent
}

func (p *recordingPublisher) PublishMatchFound(_ context.Context, event MatchFoundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []MatchFoundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MatchFoundEvent(nil), p.events...)
}

func startCoordinator(t *testing.T, b broker.Responder, opts ...Option) (*Coordinator, *WaitingRoom) {
	t.Helper()
	room := NewWaitingRoom()
	c := NewCoordinator(b, room, testQueue, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c, room
}

func enqueueJoin(t *testing.T, b broker.Requester, req JoinRequest) {
	t.Helper()
	body, err := json.Marshal(joinPayload{ParticipantID: req.ParticipantID})
	require.NoError(t, err)
	require.NoError(t, b.Request(context.Background(), testQueue, broker.Message{
		Body:          body,
		CorrelationID: req.CorrelationToken,
		ReplyTo:       req.ReplyAddress,
	}))
}

func waitForReplies(t *testing.T, b *recordingBroker, n int) []sentReply {
	t.Helper()
	require.Eventually(t, func() bool { return len(b.sent()) >= n }, 2*time.Second, 5*time.Millisecond)
	return b.sent()
}

func TestCoordinator_DeliversMatchToBothParticipants(t *testing.T) {
	req := require.New(t)
	b := newRecordingBroker()
	publisher := &recordingPublisher{}
	_, room := startCoordinator(t, b, WithEventPublisher(publisher))

	enqueueJoin(t, b, join("alice"))
	req.Eventually(func() bool { return room.Len() == 1 }, time.Second, 5*time.Millisecond)
	req.Empty(b.sent())

	enqueueJoin(t, b, join("bob"))
	replies := waitForReplies(t, b, 2)

	req.Len(replies, 2)
	req.Equal("reply-alice", replies[0].replyTo)
	req.Equal("token-alice", replies[0].msg.CorrelationID)
	req.Equal("reply-bob", replies[1].replyTo)
	req.Equal("token-bob", replies[1].msg.CorrelationID)
	req.JSONEq(`{"player1":"alice","player2":"bob"}`, string(replies[0].msg.Body))
	req.Equal(replies[0].msg.Body, replies[1].msg.Body)
	req.Equal(0, room.Len())

	req.Eventually(func() bool { return len(publisher.published()) == 1 }, time.Second, 5*time.Millisecond)
	event := publisher.published()[0]
	req.NotEmpty(event.MatchID)
	req.Equal([]string{"alice", "bob"}, event.PlayerIDs)
}

func TestCoordinator_FIFOUnderConcurrentArrival(t *testing.T) {
	req := require.New(t)
	b := newRecordingBroker()
	_, room := startCoordinator(t, b)

	const n = 9
	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Recording under the same lock as the enqueue keeps order == queue order.
			mu.Lock()
			defer mu.Unlock()
			enqueueJoin(t, b, join(id))
			order = append(order, id)
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()

	replies := waitForReplies(t, b, 2*(n/2))
	req.Eventually(func() bool { return room.Len() == 1 }, time.Second, 5*time.Millisecond)

	var got []Match
	for i := 0; i < len(replies); i += 2 {
		var m Match
		req.NoError(json.Unmarshal(replies[i].msg.Body, &m))
		got = append(got, m)
	}
	var want []Match
	for i := 0; i+1 < n; i += 2 {
		want = append(want, Match{Player1: order[i], Player2: order[i+1]})
	}
	req.Equal(want, got)

	waiting, ok := room.Waiting()
	req.True(ok)
	req.Equal(order[n-1], waiting.ParticipantID)
}

func TestCoordinator_MalformedRequestsAreDropped(t *testing.T) {
	req := require.New(t)
	b := newRecordingBroker()
	_, room := startCoordinator(t, b)
	before := testutil.ToFloat64(malformedJoins.WithLabelValues())

	ctx := context.Background()
	req.NoError(b.Request(ctx, testQueue, broker.Message{Body: []byte("{not json"), CorrelationID: "c", ReplyTo: "r"}))
	req.NoError(b.Request(ctx, testQueue, broker.Message{Body: []byte(`{"participantId":""}`), CorrelationID: "c", ReplyTo: "r"}))
	req.NoError(b.Request(ctx, testQueue, broker.Message{Body: []byte(`{"participantId":"x"}`), ReplyTo: "r"}))
	req.NoError(b.Request(ctx, testQueue, broker.Message{Body: []byte(`{"participantId":"x"}`), CorrelationID: "c"}))

	enqueueJoin(t, b, join("alice"))
	enqueueJoin(t, b, join("bob"))
	replies := waitForReplies(t, b, 2)

	req.JSONEq(`{"player1":"alice","player2":"bob"}`, string(replies[0].msg.Body))
	req.Equal(4.0, testutil.ToFloat64(malformedJoins.WithLabelValues())-before)
	req.Equal(0, room.Len())
	req.Equal(0, b.Pending(testQueue))
}

func TestCoordinator_LostDeliveryIsStillAcknowledged(t *testing.T) {
	req := require.New(t)
	b := newRecordingBroker()
	_, room := startCoordinator(t, b)
	lostBefore := testutil.ToFloat64(matchDeliveries.WithLabelValues(deliveryLost))

	// Nobody listens on these reply addresses.
	enqueueJoin(t, b, join("alice"))
	enqueueJoin(t, b, join("bob"))
	waitForReplies(t, b, 2)

	req.Eventually(func() bool {
		return testutil.ToFloat64(matchDeliveries.WithLabelValues(deliveryLost))-lostBefore == 2
	}, time.Second, 5*time.Millisecond)

	// The coordinator moved on: the next join is parked.
	enqueueJoin(t, b, join("carol"))
	req.Eventually(func() bool {
		w, ok := room.Waiting()
		return ok && w.ParticipantID == "carol"
	}, time.Second, 5*time.Millisecond)
	req.Len(b.sent(), 2)
}

func TestCoordinator_SurvivesPanicWhileDispatching(t *testing.T) {
	req := require.New(t)
	b := newRecordingBroker()
	b.panics = 1
	_, room := startCoordinator(t, b)

	enqueueJoin(t, b, join("alice"))
	enqueueJoin(t, b, join("bob"))
	enqueueJoin(t, b, join("carol"))
	enqueueJoin(t, b, join("dave"))

	replies := waitForReplies(t, b, 2)
	req.JSONEq(`{"player1":"carol","player2":"dave"}`, string(replies[0].msg.Body))
	req.Equal(0, room.Len())
	req.Equal(0, b.Pending(testQueue))
}

func TestCoordinator_StartStop(t *testing.T) {
	req := require.New(t)
	b := broker.NewMemory()
	room := NewWaitingRoom()
	c := NewCoordinator(b, room, testQueue)

	req.NoError(c.Start(context.Background()))
	req.ErrorIs(c.Start(context.Background()), ErrAlreadyStarted)

	enqueueJoin(t, b, join("alice"))
	req.Eventually(func() bool { return room.Len() == 1 }, time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case <-c.Done():
	default:
		req.Fail("consume loop still running after Stop")
	}

	// Nothing is consumed any more.
	enqueueJoin(t, b, join("bob"))
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, b.Pending(testQueue))
	c.Stop()
}

// gatedBroker holds every reply until release is closed.
type gatedBroker struct {
	*broker.Memory
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	sent []string
}

func (b *gatedBroker) Reply(ctx context.Context, replyTo string, msg broker.Message) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	b.mu.Lock()
	b.sent = append(b.sent, replyTo)
	b.mu.Unlock()
	return b.Memory.Reply(ctx, replyTo, msg)
}

func TestCoordinator_StopFinishesMatchInFlight(t *testing.T) {
	req := require.New(t)
	b := &gatedBroker{
		Memory:  broker.NewMemory(),
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	room := NewWaitingRoom()
	c := NewCoordinator(b, room, testQueue)
	req.NoError(c.Start(context.Background()))

	enqueueJoin(t, b, join("alice"))
	enqueueJoin(t, b, join("bob"))
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		req.FailNow("match was never dispatched")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		req.FailNow("Stop returned while a match was being delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(b.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		req.FailNow("Stop did not return after the match was delivered")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	req.Equal([]string{"reply-alice", "reply-bob"}, b.sent)
	req.Equal(0, room.Len())
	req.Equal(0, b.Pending(testQueue))
}

func TestCoordinator_StartFailsWhenBrokerIsDown(t *testing.T) {
	b := broker.NewMemory()
	require.NoError(t, b.Close())

	c := NewCoordinator(b, NewWaitingRoom(), testQueue)
	require.ErrorIs(t, c.Start(context.Background()), broker.ErrBrokerUnavailable)
}

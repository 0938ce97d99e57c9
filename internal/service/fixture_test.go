package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/queue"
	"github.com/unclebandit/communitybot-admin/internal/repository/memstore"
	"github.com/unclebandit/communitybot-admin/internal/service"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// stepClock returns t0, t0+1s, t0+2s, ...
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

// fakeTransport answers per user: ok by default, a rejection description,
// a transport error, or a hang until the context ends.
type fakeTransport struct {
	mu     sync.Mutex
	reject map[int64]string
	fail   map[int64]error
	hang   map[int64]bool
	calls  []int64
	onSend func(userID int64)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reject: map[int64]string{}, fail: map[int64]error{}, hang: map[int64]bool{}}
}

func (f *fakeTransport) Send(ctx context.Context, userID int64, text string) (transport.Ack, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	desc, rejected := f.reject[userID]
	err := f.fail[userID]
	hang := f.hang[userID]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(userID)
	}
	switch {
	case hang:
		<-ctx.Done()
		return transport.Ack{}, ctx.Err()
	case err != nil:
		return transport.Ack{}, err
	case rejected:
		return transport.Ack{OK: false, Description: desc}, nil
	}
	return transport.Ack{OK: true}, nil
}

func (f *fakeTransport) set(userID int64, desc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc == "" {
		delete(f.reject, userID)
		return
	}
	f.reject[userID] = desc
}

func (f *fakeTransport) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

type fixture struct {
	store      *memstore.Store
	clock      *stepClock
	tr         *fakeTransport
	queue      *queue.InMemoryQueue
	audience   *service.AudienceResolver
	logs       *service.DeliveryLogStore
	broadcasts *service.BroadcastService
	view       *service.ReconciliationView
	retry      *service.RetryCoordinator
	dispatcher *service.Dispatcher
}

const requeueTopic = "broadcast_requeued"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clock := &stepClock{cur: t0}
	store.SetClock(clock.Now)
	tr := newFakeTransport()
	q := queue.NewInMemoryQueue(zerolog.Nop())
	q.Backoff = time.Millisecond

	audience := &service.AudienceResolver{Repo: store.Audience()}
	logs := &service.DeliveryLogStore{Repo: store.Logs(), Now: clock.Now}
	broadcasts := &service.BroadcastService{Repo: store.Broadcasts(), Audience: audience, Log: zerolog.Nop()}

	return &fixture{
		store:      store,
		clock:      clock,
		tr:         tr,
		queue:      q,
		audience:   audience,
		logs:       logs,
		broadcasts: broadcasts,
		view:       &service.ReconciliationView{Broadcasts: store.Broadcasts(), Audience: audience, Logs: logs},
		retry: &service.RetryCoordinator{
			Lifecycle: broadcasts,
			Logs:      logs,
			Transport: tr,
			Timeout:   time.Second,
			Queue:     q,
			Topic:     requeueTopic,
			Log:       zerolog.Nop(),
		},
		dispatcher: &service.Dispatcher{
			Lifecycle: broadcasts,
			Audience:  audience,
			Logs:      logs,
			Transport: tr,
			Timeout:   time.Second,
			BatchSize: 10,
			Now:       func() time.Time { return t0.Add(time.Hour) },
			Log:       zerolog.Nop(),
		},
	}
}

// user adds a profile subscribed (actively) to the given interests.
func (f *fixture) user(id int64, name string, interests ...int64) {
	f.store.AddProfile(id, name)
	for _, i := range interests {
		f.store.Subscribe(id, i, true)
	}
}

// broadcast inserts a broadcast directly in the given state, due at t0.
func (f *fixture) broadcast(t *testing.T, state model.BroadcastState, interests ...int64) *model.Broadcast {
	t.Helper()
	b := &model.Broadcast{
		MessageText:   "hello <b>members</b>",
		InterestIDs:   interests,
		ScheduledTime: t0,
		Status:        state,
		CreatedBy:     1,
	}
	require.NoError(t, f.store.Broadcasts().Create(context.Background(), b))
	return b
}

func (f *fixture) state(t *testing.T, id int64) model.BroadcastState {
	t.Helper()
	b, err := f.store.Broadcasts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func (f *fixture) record(t *testing.T, broadcastID, userID int64, status model.DeliveryStatus, detail string) {
	t.Helper()
	require.NoError(t, f.logs.RecordAttempt(context.Background(), broadcastID, userID, status, detail))
}

// logged returns the broadcast's delivery log rows, newest first.
func (f *fixture) logged(t *testing.T, broadcastID int64) []model.DeliveryLog {
	t.Helper()
	logs, err := f.logs.List(context.Background(), broadcastID)
	require.NoError(t, err)
	return logs
}

var errNetwork = errors.New("dial tcp: connection refused")

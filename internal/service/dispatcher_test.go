package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/service"
)

func TestSweepDeliversDueBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.user(2, "bob", 10)
	f.tr.set(2, "Forbidden: user is deactivated")
	b := f.broadcast(t, model.StatePending, 10)

	results, err := f.dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Attempted)
	assert.Equal(t, 1, results[0].Succeeded)
	assert.Equal(t, model.StateSent, results[0].State)
	assert.Equal(t, model.StateSent, f.state(t, b.ID))

	rows, err := f.view.Reconcile(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]model.DeliveryStatus{1: model.DeliverySuccess, 2: model.DeliveryFailed}, statuses(rows))
}

func TestSweepMarksAllFailedBroadcastFailed(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.tr.fail[1] = errNetwork
	b := f.broadcast(t, model.StatePending, 10)

	_, err := f.dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, f.state(t, b.ID))
}

func TestSweepEmptyAudienceIsSent(t *testing.T) {
	f := newFixture(t)
	b := f.broadcast(t, model.StatePending, 99)

	_, err := f.dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateSent, f.state(t, b.ID))
	assert.Empty(t, f.tr.sentTo())
}

func TestSweepSkipsFutureAndFinalBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	future := &model.Broadcast{MessageText: "later", InterestIDs: []int64{10}, ScheduledTime: t0.Add(48 * time.Hour), Status: model.StatePending}
	require.NoError(t, f.store.Broadcasts().Create(context.Background(), future))
	f.broadcast(t, model.StateCancelled, 10)
	f.broadcast(t, model.StateSent, 10)

	results, err := f.dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.tr.sentTo())
	assert.Equal(t, model.StatePending, f.state(t, future.ID))
}

func TestRequeueThenDispatchResendsOnlyFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(1, "ann", 10)
	f.user(2, "bob", 10)
	f.user(3, "cid", 10)
	f.tr.set(2, "Too Many Requests")
	b := f.broadcast(t, model.StatePending, 10)

	_, err := f.dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StateSent, f.state(t, b.ID))

	f.tr.set(2, "")
	_, err = f.retry.RetryAllFailed(ctx, b.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.DispatchByID(ctx, b.ID))

	assert.Equal(t, []int64{1, 2, 3, 2}, f.tr.sentTo())
	assert.Equal(t, model.StateSent, f.state(t, b.ID))
	rows, err := f.view.Reconcile(ctx, b.ID)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, model.DeliverySuccess, r.Status, "user %d", r.UserID)
	}
}

func TestCancelRefusedOnceDispatchStarted(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.user(2, "bob", 10)
	b := f.broadcast(t, model.StatePending, 10)

	var cancelled []bool
	f.tr.onSend = func(userID int64) {
		if userID != 2 {
			return
		}
		ok, err := f.broadcasts.Cancel(context.Background(), b.ID, nil)
		assert.NoError(t, err)
		cancelled = append(cancelled, ok)
	}

	res, err := f.dispatcher.Dispatch(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, cancelled)
	assert.Equal(t, model.StateSent, res.State)
	assert.Equal(t, model.StateSent, f.state(t, b.ID))

	listed, err := f.broadcasts.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, b.ID, listed[0].ID)
}

func TestDispatchSkipsBroadcastCancelledBeforeClaim(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	b := f.broadcast(t, model.StatePending, 10)

	ok, err := f.broadcasts.Cancel(context.Background(), b.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// b is the stale pending copy a sweep would hold
	res, err := f.dispatcher.Dispatch(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, res.State)
	assert.Empty(t, f.tr.sentTo())
	assert.Equal(t, model.StateCancelled, f.state(t, b.ID))
}

func TestDispatchFailedPassCanBeRequeued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(1, "ann", 10)
	f.tr.fail[1] = errNetwork
	b := f.broadcast(t, model.StatePending, 10)

	res, err := f.dispatcher.Dispatch(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, res.State)

	ok, err := f.broadcasts.Cancel(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	delete(f.tr.fail, 1)
	_, err = f.retry.RetryAllFailed(ctx, b.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.DispatchByID(ctx, b.ID))
	assert.Equal(t, model.StateSent, f.state(t, b.ID))
	assert.Equal(t, []int64{1, 1}, f.tr.sentTo())
}

func TestDispatchByIDIgnoresNotDue(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	b := f.broadcast(t, model.StatePending, 10)
	f.dispatcher.Now = func() time.Time { return t0.Add(-time.Minute) }

	require.NoError(t, f.dispatcher.DispatchByID(context.Background(), b.ID))
	assert.Empty(t, f.tr.sentTo())
	assert.Equal(t, model.StatePending, f.state(t, b.ID))
}

func TestDispatchInterruptedStaysSentUntilRequeued(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.user(2, "bob", 10)
	b := f.broadcast(t, model.StatePending, 10)

	ctx, cancel := context.WithCancel(context.Background())
	f.tr.onSend = func(int64) { cancel() }

	_, err := f.dispatcher.Dispatch(ctx, b)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StateSent, f.state(t, b.ID))
	assert.Equal(t, []int64{1}, f.tr.sentTo())

	f.tr.onSend = nil
	_, err = f.broadcasts.Requeue(context.Background(), b.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.DispatchByID(context.Background(), b.ID))
	assert.Equal(t, []int64{1, 2}, f.tr.sentTo())
	assert.Equal(t, model.StateSent, f.state(t, b.ID))
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingDispatcher) DispatchByID(_ context.Context, id int64) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	return nil
}

func (r *recordingDispatcher) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func TestWorker(t *testing.T) {
	d := &recordingDispatcher{}
	jobs := make(chan int64, 2)
	jobs <- 3
	jobs <- 5
	close(jobs)

	w := service.NewWorker(d, jobs, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after channel closed")
	}
	assert.Equal(t, []int64{3, 5}, d.seen())
}

func TestWorkerStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := service.NewWorker(&recordingDispatcher{}, make(chan int64), zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker ignored cancellation")
	}
}

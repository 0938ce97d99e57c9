package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/service"
)

func validInput() service.CreateBroadcastInput {
	return service.CreateBroadcastInput{
		MessageText:   "Meetup tonight",
		InterestIDs:   []int64{10},
		ScheduledTime: t0.Format(time.RFC3339),
		CreatedBy:     42,
	}
}

func TestCreateBroadcastValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*service.CreateBroadcastInput)
		field  string
	}{
		{"empty message", func(in *service.CreateBroadcastInput) { in.MessageText = "" }, "message_text"},
		{"too long", func(in *service.CreateBroadcastInput) { in.MessageText = strings.Repeat("a", 4097) }, "message_text"},
		{"no interests", func(in *service.CreateBroadcastInput) { in.InterestIDs = nil }, "interest_ids"},
		{"bad interest id", func(in *service.CreateBroadcastInput) { in.InterestIDs = []int64{10, 0} }, "interest_ids[1]"},
		{"no schedule", func(in *service.CreateBroadcastInput) { in.ScheduledTime = "" }, "scheduled_time"},
		{"bad schedule", func(in *service.CreateBroadcastInput) { in.ScheduledTime = "next friday" }, "scheduled_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tt.mutate(&in)

			_, err := f.broadcasts.Create(context.Background(), in)
			var ve *appErrors.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)

			all, err := f.broadcasts.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestCreateBroadcastAcceptsWhitespaceMessage(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.MessageText = " "

	b, err := f.broadcasts.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, " ", b.MessageText)
}

func TestCreateBroadcastScheduleFormats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-05-01", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01T09:30", time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)},
		{"2026-05-01T09:30:15.250", time.Date(2026, 5, 1, 9, 30, 15, 250e6, time.UTC)},
		{"2026-05-01T12:00:00+03:00", time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			in.ScheduledTime = tt.in

			b, err := f.broadcasts.Create(context.Background(), in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(b.ScheduledTime), "got %s", b.ScheduledTime)
		})
	}
}

func TestCreateBroadcastCountsCharactersNotBytes(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.MessageText = strings.Repeat("я", 4096)

	b, err := f.broadcasts.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, b.Status)
}

func TestCreateBroadcastIsPending(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.InterestIDs = []int64{20, 10, 20}

	b, err := f.broadcasts.Create(context.Background(), in)
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	assert.Equal(t, model.StatePending, b.Status)
	assert.False(t, b.IsCancelled())
	assert.Equal(t, []int64{10, 20}, b.InterestIDs)
	assert.Equal(t, int64(42), b.CreatedBy)
}

func TestCancelGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := int64(7)

	sent := f.broadcast(t, model.StateSent, 10)
	ok, err := f.broadcasts.Cancel(ctx, sent.ID, &admin)
	require.NoError(t, err)
	assert.False(t, ok)
	after, err := f.broadcasts.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSent, after.Status)
	assert.Nil(t, after.UpdatedBy)

	pending := f.broadcast(t, model.StatePending, 10)
	ok, err = f.broadcasts.Cancel(ctx, pending.ID, &admin)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StateCancelled, f.state(t, pending.ID))

	ok, err = f.broadcasts.Cancel(ctx, pending.ID, &admin)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.broadcasts.Cancel(ctx, 999, &admin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListExcludesCancelled(t *testing.T) {
	f := newFixture(t)
	f.user(1, "ann", 10)
	f.user(2, "bob", 10)
	keep := f.broadcast(t, model.StatePending, 10)
	f.broadcast(t, model.StateCancelled, 10)
	sent := f.broadcast(t, model.StateSent, 10)

	list, err := f.broadcasts.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []int64{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []int64{keep.ID, sent.ID}, ids)
	assert.Equal(t, 2, list[0].TargetCount)
}

func TestRequeueCancelledIsNotApplicable(t *testing.T) {
	f := newFixture(t)
	b := f.broadcast(t, model.StateCancelled, 10)
	f.record(t, b.ID, 1, model.DeliveryFailed, "x")

	_, err := f.broadcasts.Requeue(context.Background(), b.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrNotApplicable)
	assert.Equal(t, model.StateCancelled, f.state(t, b.ID))
	logs := f.logged(t, b.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DeliveryFailed, logs[0].Status)
}

func TestRequeueMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.broadcasts.Requeue(context.Background(), 5, nil)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestTargetUsersForBroadcast(t *testing.T) {
	f := newFixture(t)
	f.user(1, "zoe", 10)
	f.user(2, "abe", 20)
	b := f.broadcast(t, model.StatePending, 10, 20)

	users, err := f.broadcasts.TargetUsers(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(2), users[0].UserID)

	_, err = f.broadcasts.TargetUsers(context.Background(), 404)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestFinishRejectsOtherEvents(t *testing.T) {
	f := newFixture(t)
	b := f.broadcast(t, model.StatePending, 10)
	_, err := f.broadcasts.Finish(context.Background(), b.ID, model.EventCancel)
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
	assert.Equal(t, model.StatePending, f.state(t, b.ID))
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		from    BroadcastState
		event   Event
		want    BroadcastState
		illegal bool
	}{
		{StatePending, EventCancel, StateCancelled, false},
		{StatePending, EventDeliver, StateSent, false},
		{StateSent, EventFail, StateFailed, false},
		{StatePending, EventFail, StatePending, true},
		{StateCancelled, EventFail, StateCancelled, true},
		{StatePending, EventRequeue, StatePending, false},
		{StateSent, EventRequeue, StatePending, false},
		{StateFailed, EventRequeue, StatePending, false},
		{StateSent, EventCancel, StateSent, true},
		{StateFailed, EventCancel, StateFailed, true},
		{StateCancelled, EventCancel, StateCancelled, true},
		{StateCancelled, EventRequeue, StateCancelled, true},
		{StateCancelled, EventDeliver, StateCancelled, true},
		{StateSent, EventDeliver, StateSent, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := tt.from.Apply(tt.event)
			if tt.illegal {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionFor(t *testing.T) {
	cancel, err := TransitionFor(EventCancel)
	require.NoError(t, err)
	assert.Equal(t, []BroadcastState{StatePending}, cancel.From)
	assert.Equal(t, StateCancelled, cancel.To)

	requeue, err := TransitionFor(EventRequeue)
	require.NoError(t, err)
	assert.Equal(t, []BroadcastState{StatePending, StateSent, StateFailed}, requeue.From)
	assert.Equal(t, StatePending, requeue.To)
	assert.False(t, requeue.Allows(StateCancelled))

	fail, err := TransitionFor(EventFail)
	require.NoError(t, err)
	assert.Equal(t, []BroadcastState{StateSent}, fail.From)
	assert.Equal(t, StateFailed, fail.To)

	_, err = TransitionFor("explode")
	assert.Error(t, err)
}

// Every event's compare-and-set form must agree with Apply.
func TestTransitionForMatchesApply(t *testing.T) {
	states := []BroadcastState{StatePending, StateSent, StateCancelled, StateFailed}
	for _, e := range []Event{EventCancel, EventDeliver, EventFail, EventRequeue} {
		tr, err := TransitionFor(e)
		require.NoError(t, err)
		for _, s := range states {
			next, err := s.Apply(e)
			if tr.Allows(s) {
				assert.NoError(t, err, "%s from %s", e, s)
				assert.Equal(t, tr.To, next)
			} else {
				assert.Error(t, err, "%s from %s", e, s)
			}
		}
	}
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateFailed.Valid())
	assert.False(t, BroadcastState("queued").Valid())
	assert.False(t, StatePending.Terminal())
	assert.True(t, StateCancelled.Terminal())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &Broadcast{Status: StatePending, ScheduledTime: now}
	assert.True(t, b.Due(now))
	assert.False(t, b.Due(now.Add(-time.Second)))
	b.Status = StateCancelled
	assert.True(t, b.IsCancelled())
	assert.False(t, b.Due(now))
}

func TestDeliveryStatusRecorded(t *testing.T) {
	assert.True(t, DeliverySuccess.Recorded())
	assert.True(t, DeliveryFailed.Recorded())
	assert.False(t, DeliveryNotSent.Recorded())
	assert.False(t, DeliveryStatus("").Recorded())
}

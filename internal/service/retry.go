package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/queue"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

// RetryCoordinator re-sends a broadcast to one user synchronously, or hands
// all failed recipients back to the dispatcher.
type RetryCoordinator struct {
	Lifecycle *BroadcastService
	Logs      *DeliveryLogStore
	Transport transport.Transport
	Timeout   time.Duration

	// Queue is told about requeued broadcasts so a worker can dispatch them
	// without waiting for the next sweep. Optional.
	Queue queue.Queue
	Topic string

	Log zerolog.Logger
}

// RetryResult is the outcome of a single retry. A failed delivery is a
// result, not an error.
type RetryResult struct {
	Success bool                 `json:"success"`
	Status  model.DeliveryStatus `json:"status"`
	Error   string               `json:"error,omitempty"`
}

// RetryOne sends the broadcast's text to userID now and records the outcome.
// Errors are returned only for a missing or cancelled broadcast and for
// store failures.
func (c *RetryCoordinator) RetryOne(ctx context.Context, broadcastID, userID int64) (RetryResult, error) {
	b, err := c.Lifecycle.Get(ctx, broadcastID)
	if err != nil {
		return RetryResult{}, err
	}
	if b.IsCancelled() {
		return RetryResult{}, fmt.Errorf("broadcast %d is cancelled: %w", broadcastID, appErrors.ErrNotApplicable)
	}

	status, detail := sendOnce(ctx, c.Transport, c.Timeout, userID, b.MessageText)
	if err := c.Logs.RecordAttempt(ctx, broadcastID, userID, status, detail); err != nil {
		return RetryResult{}, err
	}

	evt := c.Log.Info()
	if status != model.DeliverySuccess {
		evt = c.Log.Warn().Str("error", detail)
	}
	evt.Int64("broadcast_id", broadcastID).Int64("user_id", userID).Str("status", string(status)).Msg("retry delivered")

	return RetryResult{
		Success: status == model.DeliverySuccess,
		Status:  status,
		Error:   detail,
	}, nil
}

// RetryAllFailed requeues the broadcast and returns how many failed logs were
// cleared. The requeue event is published after the transaction commits; a
// publish failure is logged, since the next sweep finds the broadcast anyway.
func (c *RetryCoordinator) RetryAllFailed(ctx context.Context, broadcastID int64, by *int64) (int64, error) {
	cleared, err := c.Lifecycle.Requeue(ctx, broadcastID, by)
	if err != nil {
		return 0, err
	}

	if c.Queue != nil && c.Topic != "" {
		evt := queue.RequeueEvent{
			BroadcastID: broadcastID,
			Cleared:     cleared,
			RequestedBy: by,
			At:          time.Now().UTC(),
		}
		if err := c.Queue.Publish(c.Topic, evt); err != nil {
			c.Log.Warn().Err(err).Int64("broadcast_id", broadcastID).Msg("requeue event not published; waiting for sweep")
		}
	}
	return cleared, nil
}

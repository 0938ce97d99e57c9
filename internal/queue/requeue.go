package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RequeueEvent is published after a retry-all transaction commits.
type RequeueEvent struct {
	BroadcastID int64     `json:"broadcast_id"`
	Cleared     int64     `json:"cleared"`
	RequestedBy *int64    `json:"requested_by,omitempty"`
	At          time.Time `json:"at"`
}

// StartRequeueSubscriber decodes RequeueEvents on topic and hands the
// broadcast id to dispatch. Malformed bodies are dropped without retry.
func StartRequeueSubscriber(ctx context.Context, q Queue, topic string, log zerolog.Logger, dispatch func(ctx context.Context, broadcastID int64) error) error {
	log = log.With().Str("topic", topic).Logger()
	return q.Subscribe(topic, func(body []byte) error {
		var evt RequeueEvent
		if err := json.Unmarshal(body, &evt); err != nil || evt.BroadcastID <= 0 {
			log.Warn().Err(err).Bytes("body", body).Msg("invalid requeue event")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Info().Int64("broadcast_id", evt.BroadcastID).Int64("cleared", evt.Cleared).Msg("processing requeued broadcast")
		err := dispatch(ctx, evt.BroadcastID)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

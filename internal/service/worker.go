package service

import (
	"context"

	"github.com/rs/zerolog"
)

// BroadcastDispatcher is what the worker needs from Dispatcher.
type BroadcastDispatcher interface {
	DispatchByID(ctx context.Context, id int64) error
}

// Worker processes broadcast dispatch jobs one at a time.
type Worker struct {
	Dispatcher BroadcastDispatcher
	JobChan    <-chan int64
	Log        zerolog.Logger
}

// Constructor
func NewWorker(d BroadcastDispatcher, jobChan <-chan int64, log zerolog.Logger) *Worker {
	return &Worker{
		Dispatcher: d,
		JobChan:    jobChan,
		Log:        log.With().Str("component", "worker").Logger(),
	}
}

// Start begins processing jobs until ctx is done or the channel closes.
func (w *Worker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-w.JobChan:
			if !ok {
				return
			}
			if err := w.Dispatcher.DispatchByID(ctx, id); err != nil {
				w.Log.Error().Err(err).Int64("broadcast_id", id).Msg("dispatch failed")
			}
		}
	}
}

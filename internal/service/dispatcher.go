package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

// Dispatcher sends due pending broadcasts to everyone in their audience who
// has no delivery log yet, then settles the broadcast as sent or failed.
type Dispatcher struct {
	Lifecycle *BroadcastService
	Audience  *AudienceResolver
	Logs      *DeliveryLogStore
	Transport transport.Transport
	Timeout   time.Duration
	BatchSize int
	Now       func() time.Time
	Log       zerolog.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// DispatchResult summarises one Dispatch call.
type DispatchResult struct {
	BroadcastID int64
	Attempted   int
	Succeeded   int
	Failed      int
	// State is the broadcast's state after dispatch, or its current state
	// when the run was skipped.
	State model.BroadcastState
}

var errInFlight = errors.New("broadcast already being dispatched")

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Sweep dispatches up to BatchSize due broadcasts, oldest first. One
// broadcast failing does not stop the others.
func (d *Dispatcher) Sweep(ctx context.Context) ([]DispatchResult, error) {
	now := d.now()
	due, err := d.Lifecycle.Repo.List(ctx, repository.BroadcastFilter{
		States:      []model.BroadcastState{model.StatePending},
		DueBy:       &now,
		OldestFirst: true,
		Limit:       d.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list due broadcasts: %w", err)
	}

	var (
		results []DispatchResult
		errs    []error
	)
	for _, b := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := d.Dispatch(ctx, b)
		if errors.Is(err, errInFlight) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	if len(due) > 0 {
		d.Log.Info().Int("due", len(due)).Int("dispatched", len(results)).Msg("sweep finished")
	}
	return results, errors.Join(errs...)
}

// DispatchByID dispatches one broadcast if it is pending and due. Anything
// else is skipped silently; a future broadcast waits for its sweep.
func (d *Dispatcher) DispatchByID(ctx context.Context, id int64) error {
	b, err := d.Lifecycle.Get(ctx, id)
	if err != nil {
		return err
	}
	if !b.Due(d.now()) {
		d.Log.Debug().Int64("broadcast_id", id).Str("status", string(b.Status)).Msg("broadcast not due, skipping")
		return nil
	}
	_, err = d.Dispatch(ctx, b)
	if errors.Is(err, errInFlight) {
		return nil
	}
	return err
}

func (d *Dispatcher) claim(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight == nil {
		d.inflight = map[int64]struct{}{}
	}
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id int64) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Dispatch claims b by moving it from pending to sent, then sends to its
// unlogged audience. Users with any log row are skipped, so a requeued
// broadcast reaches only the recipients whose failed rows were cleared.
// Once claimed, a cancel returns false.
func (d *Dispatcher) Dispatch(ctx context.Context, b *model.Broadcast) (DispatchResult, error) {
	res := DispatchResult{BroadcastID: b.ID, State: model.StatePending}
	if !d.claim(b.ID) {
		return res, errInFlight
	}
	defer d.release(b.ID)

	log := d.Log.With().Int64("broadcast_id", b.ID).Logger()

	ok, err := d.Lifecycle.Finish(ctx, b.ID, model.EventDeliver)
	if err != nil {
		return res, err
	}
	if !ok {
		// b may come from a listing; it was cancelled or sent since then
		current, err := d.Lifecycle.Get(ctx, b.ID)
		if err != nil {
			return res, err
		}
		res.State = current.Status
		log.Debug().Str("status", string(current.Status)).Msg("broadcast no longer pending, skipping")
		return res, nil
	}
	res.State = model.StateSent

	// re-read for the text and interests as of the claim
	b, err = d.Lifecycle.Get(ctx, b.ID)
	if err != nil {
		return res, err
	}
	audience, err := d.Audience.Resolve(ctx, b.InterestIDs)
	if err != nil {
		return res, fmt.Errorf("resolve audience for broadcast %d: %w", b.ID, err)
	}
	logs, err := d.Logs.List(ctx, b.ID)
	if err != nil {
		return res, fmt.Errorf("list logs for broadcast %d: %w", b.ID, err)
	}
	logged := make(map[int64]struct{}, len(logs))
	for _, l := range logs {
		logged[l.UserID] = struct{}{}
	}

	for _, userID := range audience {
		if _, done := logged[userID]; done {
			continue
		}
		if ctx.Err() != nil {
			// the broadcast stays sent; a requeue reaches the unlogged users
			log.Warn().Int("attempted", res.Attempted).Msg("dispatch interrupted")
			return res, ctx.Err()
		}

		status, detail := sendOnce(ctx, d.Transport, d.Timeout, userID, b.MessageText)
		if err := d.Logs.RecordAttempt(ctx, b.ID, userID, status, detail); err != nil {
			return res, err
		}
		res.Attempted++
		if status == model.DeliverySuccess {
			res.Succeeded++
		} else {
			res.Failed++
			log.Debug().Int64("user_id", userID).Str("error", detail).Msg("delivery failed")
		}
	}

	if res.Attempted > 0 && res.Succeeded == 0 {
		ok, err := d.Lifecycle.Finish(ctx, b.ID, model.EventFail)
		if err != nil {
			return res, err
		}
		if ok {
			res.State = model.StateFailed
		} else if current, err := d.Lifecycle.Get(ctx, b.ID); err == nil {
			// requeued while sending
			log.Warn().Str("status", string(current.Status)).Msg("broadcast left sent during dispatch; state kept")
			res.State = current.Status
		}
	}

	log.Info().
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Str("state", string(res.State)).
		Msg("broadcast dispatched")
	return res, nil
}

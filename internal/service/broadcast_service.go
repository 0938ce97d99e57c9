package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

// BroadcastService owns the broadcast lifecycle. Every state change goes
// through model.TransitionFor and is persisted as a compare-and-set.
type BroadcastService struct {
	Repo     repository.BroadcastRepositoryInterface
	Audience *AudienceResolver
	Log      zerolog.Logger
}

// CreateBroadcastInput takes scheduled_time as an ISO 8601 date or date-time.
type CreateBroadcastInput struct {
	MessageText   string  `json:"message_text" validate:"required,min=1,max=4096"`
	InterestIDs   []int64 `json:"interest_ids" validate:"required,min=1,dive,gt=0"`
	ScheduledTime string  `json:"scheduled_time" validate:"required,isodate"`
	CreatedBy     int64   `json:"-"`
}

// Create stores a pending broadcast. The scheduled time may be in the past;
// the dispatcher picks it up on its next sweep.
func (s *BroadcastService) Create(ctx context.Context, in CreateBroadcastInput) (*model.Broadcast, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	at, err := parseISODate(in.ScheduledTime)
	if err != nil {
		return nil, appErrors.NewValidation("scheduled_time", "must be an ISO 8601 date")
	}
	b := &model.Broadcast{
		MessageText:   in.MessageText,
		InterestIDs:   uniqueIDs(in.InterestIDs),
		ScheduledTime: at,
		Status:        model.StatePending,
		CreatedBy:     in.CreatedBy,
	}
	if err := s.Repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	s.Log.Info().
		Int64("broadcast_id", b.ID).
		Int64("created_by", b.CreatedBy).
		Time("scheduled_time", b.ScheduledTime).
		Msg("broadcast created")
	return b, nil
}

// List returns every broadcast that is not cancelled, latest schedule first.
func (s *BroadcastService) List(ctx context.Context) ([]*model.Broadcast, error) {
	return s.Repo.List(ctx, repository.BroadcastFilter{
		ExcludeStates: []model.BroadcastState{model.StateCancelled},
	})
}

func (s *BroadcastService) Get(ctx context.Context, id int64) (*model.Broadcast, error) {
	return s.Repo.GetByID(ctx, id)
}

// Cancel reports false when there was nothing to cancel: the broadcast is
// missing, already sent or failed, or already cancelled.
func (s *BroadcastService) Cancel(ctx context.Context, id int64, by *int64) (bool, error) {
	t, err := model.TransitionFor(model.EventCancel)
	if err != nil {
		return false, err
	}
	ok, err := s.Repo.ApplyTransition(ctx, id, t, by)
	if err != nil {
		return false, fmt.Errorf("cancel broadcast %d: %w", id, err)
	}
	if ok {
		s.Log.Info().Int64("broadcast_id", id).Msg("broadcast cancelled")
	}
	return ok, nil
}

// Requeue clears the broadcast's failed logs and moves it back to pending in
// one transaction. Success logs are kept, so only failed recipients are
// re-sent. Cancelled broadcasts stay cancelled.
func (s *BroadcastService) Requeue(ctx context.Context, id int64, by *int64) (int64, error) {
	t, err := model.TransitionFor(model.EventRequeue)
	if err != nil {
		return 0, err
	}
	cleared, ok, err := s.Repo.Requeue(ctx, id, t, by)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("broadcast %d cannot be requeued: %w", id, appErrors.ErrNotApplicable)
	}
	s.Log.Info().Int64("broadcast_id", id).Int64("cleared", cleared).Msg("broadcast requeued")
	return cleared, nil
}

// TargetUsers lists the broadcast's current audience by name.
func (s *BroadcastService) TargetUsers(ctx context.Context, id int64) ([]model.TargetUser, error) {
	b, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Audience.TargetUsers(ctx, b.InterestIDs)
}

// Finish applies the dispatcher's deliver or fail event. deliver claims a
// pending broadcast as sent; fail settles a sent one as failed. false means
// the broadcast was not in the source state, e.g. an admin cancelled it.
func (s *BroadcastService) Finish(ctx context.Context, id int64, e model.Event) (bool, error) {
	if e != model.EventDeliver && e != model.EventFail {
		return false, fmt.Errorf("finish broadcast %d with %q: %w", id, e, model.ErrIllegalTransition)
	}
	t, err := model.TransitionFor(e)
	if err != nil {
		return false, err
	}
	ok, err := s.Repo.ApplyTransition(ctx, id, t, nil)
	if err != nil {
		return false, fmt.Errorf("finish broadcast %d: %w", id, err)
	}
	return ok, nil
}

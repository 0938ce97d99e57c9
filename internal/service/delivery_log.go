package service

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

// DeliveryLogStore keeps the latest attempt per (broadcast, user).
type DeliveryLogStore struct {
	Repo repository.DeliveryLogRepositoryInterface
	Now  func() time.Time
}

// RecordAttempt replaces any earlier outcome for the pair. Only success and
// failed are storable; not_sent exists only in the reconciled view.
func (s *DeliveryLogStore) RecordAttempt(ctx context.Context, broadcastID, userID int64, status model.DeliveryStatus, detail string) error {
	if !status.Recorded() {
		return fmt.Errorf("record attempt for user %d: status %q cannot be stored", userID, status)
	}
	if status == model.DeliverySuccess {
		detail = ""
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	err := s.Repo.Upsert(ctx, model.DeliveryAttempt{
		BroadcastID: broadcastID,
		UserID:      userID,
		Status:      status,
		ErrorDetail: detail,
		At:          now(),
	})
	if err != nil {
		return fmt.Errorf("record attempt for broadcast %d user %d: %w", broadcastID, userID, err)
	}
	return nil
}

// List returns the broadcast's log rows, newest first.
func (s *DeliveryLogStore) List(ctx context.Context, broadcastID int64) ([]model.DeliveryLog, error) {
	return s.Repo.ListByBroadcast(ctx, broadcastID)
}

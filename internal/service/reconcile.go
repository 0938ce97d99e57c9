package service

import (
	"context"
	"sort"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

// ReconciliationView merges a broadcast's current audience with its
// delivery logs.
type ReconciliationView struct {
	Broadcasts repository.BroadcastRepositoryInterface
	Audience   *AudienceResolver
	Logs       *DeliveryLogStore
}

// Reconcile returns one row per user that is targeted, logged, or both.
func (v *ReconciliationView) Reconcile(ctx context.Context, broadcastID int64) ([]model.ReconciledRow, error) {
	b, err := v.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	targets, err := v.Audience.TargetUsers(ctx, b.InterestIDs)
	if err != nil {
		return nil, err
	}
	logs, err := v.Logs.List(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	return Reconcile(targets, logs), nil
}

// Reconcile merges targets and logs without I/O.
//
// A targeted user without a log row is not_sent. A logged user who is no
// longer targeted keeps the logged status. When a user has several rows
// (data written before the unique index existed) the newest wins.
//
// Rows are ordered by status ascending (failed, not_sent, success), then by
// log time descending, then by user id.
func Reconcile(targets []model.TargetUser, logs []model.DeliveryLog) []model.ReconciledRow {
	rows := make(map[int64]*model.ReconciledRow, len(targets)+len(logs))
	latest := make(map[int64]model.DeliveryLog, len(logs))

	for _, t := range targets {
		if _, ok := rows[t.UserID]; ok {
			continue
		}
		rows[t.UserID] = &model.ReconciledRow{
			UserID:   t.UserID,
			UserName: t.Name,
			Status:   model.DeliveryNotSent,
		}
	}

	for _, l := range logs {
		if prev, ok := latest[l.UserID]; ok && !newerLog(l, prev) {
			continue
		}
		latest[l.UserID] = l
	}

	for userID, l := range latest {
		row, ok := rows[userID]
		if !ok {
			row = &model.ReconciledRow{UserID: userID}
			rows[userID] = row
		}
		if row.UserName == "" {
			row.UserName = l.UserName
		}
		id, at := l.ID, l.CreatedAt
		row.LogID = &id
		row.Status = l.Status
		row.ErrorDetail = l.ErrorDetail
		row.LoggedAt = &at
	}

	out := make([]model.ReconciledRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		ta, tb := a.LoggedAt, b.LoggedAt
		switch {
		case ta != nil && tb != nil && !ta.Equal(*tb):
			return ta.After(*tb)
		case ta != nil && tb == nil:
			return true
		case ta == nil && tb != nil:
			return false
		}
		return a.UserID < b.UserID
	})
	return out
}

func newerLog(a, b model.DeliveryLog) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

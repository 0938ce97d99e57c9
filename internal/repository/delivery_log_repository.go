package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/communitybot-admin/internal/model"
)

type DeliveryLogRepositoryInterface interface {
	// Upsert stores the attempt as the only row for its (broadcast, user) pair.
	Upsert(ctx context.Context, a model.DeliveryAttempt) error
	ListByBroadcast(ctx context.Context, broadcastID int64) ([]model.DeliveryLog, error)
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

func (r *DeliveryLogRepository) Upsert(ctx context.Context, a model.DeliveryAttempt) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	var detail sql.NullString
	if a.ErrorDetail != "" {
		detail = sql.NullString{String: a.ErrorDetail, Valid: true}
	}
	query := `
        INSERT INTO broadcast_logs (scheduled_message_id, user_id, status, error_msg, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (scheduled_message_id, user_id)
        DO UPDATE SET status = EXCLUDED.status, error_msg = EXCLUDED.error_msg, created_at = EXCLUDED.created_at
    `
	_, err := r.DB.ExecContext(ctx, query, a.BroadcastID, a.UserID, string(a.Status), detail, a.At)
	return err
}

func (r *DeliveryLogRepository) ListByBroadcast(ctx context.Context, broadcastID int64) ([]model.DeliveryLog, error) {
	query := `
        SELECT bl.id, bl.scheduled_message_id, bl.user_id, COALESCE(tp.name, ''), bl.status, bl.error_msg, bl.created_at
        FROM broadcast_logs bl
        LEFT JOIN telegram_profile tp ON tp.telegram_id = bl.user_id
        WHERE bl.scheduled_message_id = $1
        ORDER BY bl.created_at DESC, bl.id DESC
    `
	rows, err := r.DB.QueryContext(ctx, query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.DeliveryLog{}
	for rows.Next() {
		var (
			l      model.DeliveryLog
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.BroadcastID, &l.UserID, &l.UserName, &status, &detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Status = model.DeliveryStatus(status)
		if detail.Valid {
			v := detail.String
			l.ErrorDetail = &v
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)

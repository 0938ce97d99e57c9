package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/communitybot-admin/internal/db"
	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
)

type BroadcastRepositoryInterface interface {
	Create(ctx context.Context, b *model.Broadcast) error
	GetByID(ctx context.Context, id int64) (*model.Broadcast, error)
	List(ctx context.Context, f BroadcastFilter) ([]*model.Broadcast, error)

	// ApplyTransition moves the broadcast to t.To if its current state is in
	// t.From. It reports false when the row is missing or in another state.
	ApplyTransition(ctx context.Context, id int64, t model.Transition, by *int64) (bool, error)

	// Requeue deletes the broadcast's failed logs and applies t in one
	// transaction. ok is false (and nothing changes) when t does not allow the
	// current state.
	Requeue(ctx context.Context, id int64, t model.Transition, by *int64) (cleared int64, ok bool, err error)
}

type BroadcastRepository struct {
	DB *sql.DB
}

const broadcastColumns = `sm.id, sm.message_text, sm.interest_ids, sm.scheduled_time, sm.status,
        sm.created_by, sm.updated_by, sm.created_at, sm.updated_at`

// audience size from the current subscription state
const targetCountColumn = `(
            SELECT COUNT(DISTINCT ui.telegram_id)
            FROM user_interests ui
            WHERE ui.interest_id IN (SELECT jsonb_array_elements_text(sm.interest_ids)::int)
              AND ui.status = TRUE
        ) AS target_count`

func (r *BroadcastRepository) Create(ctx context.Context, b *model.Broadcast) error {
	ids, err := encodeIDs(b.InterestIDs)
	if err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = model.StatePending
	}
	query := `
        INSERT INTO scheduled_messages (message_text, interest_ids, scheduled_time, status, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        RETURNING id, created_at
    `
	err = r.DB.QueryRowContext(ctx, query, b.MessageText, ids, b.ScheduledTime, string(b.Status), b.CreatedBy).
		Scan(&b.ID, &b.CreatedAt)
	return appErrors.MapConflict(err)
}

func (r *BroadcastRepository) GetByID(ctx context.Context, id int64) (*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + `, ` + targetCountColumn + `
        FROM scheduled_messages sm WHERE sm.id = $1`
	b, err := scanBroadcast(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewBroadcastNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

func (r *BroadcastRepository) List(ctx context.Context, f BroadcastFilter) ([]*model.Broadcast, error) {
	p := f.predicates()
	order := " ORDER BY sm.scheduled_time DESC, sm.id DESC"
	if f.OldestFirst {
		order = " ORDER BY sm.scheduled_time ASC, sm.id ASC"
	}
	query := `SELECT ` + broadcastColumns + `, ` + targetCountColumn + `
        FROM scheduled_messages sm` + p.where() + order
	if f.Limit > 0 {
		query += " LIMIT " + p.arg(f.Limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	broadcasts := []*model.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

func (r *BroadcastRepository) ApplyTransition(ctx context.Context, id int64, t model.Transition, by *int64) (bool, error) {
	query := `
        UPDATE scheduled_messages
        SET status = $1, updated_by = COALESCE($2, updated_by), updated_at = $3
        WHERE id = $4 AND status = ANY($5)
    `
	res, err := r.DB.ExecContext(ctx, query, string(t.To), nullInt64(by), time.Now(), id, pq.Array(stateArray(t.From)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BroadcastRepository) Requeue(ctx context.Context, id int64, t model.Transition, by *int64) (int64, bool, error) {
	var cleared int64
	var ok bool
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM scheduled_messages WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewBroadcastNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("lock broadcast: %w", err)
		}
		if !t.Allows(model.BroadcastState(status)) {
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM broadcast_logs WHERE scheduled_message_id = $1 AND status = $2`,
			id, string(model.DeliveryFailed))
		if err != nil {
			return fmt.Errorf("clear failed logs: %w", err)
		}
		if cleared, err = res.RowsAffected(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE scheduled_messages SET status = $1, updated_by = COALESCE($2, updated_by), updated_at = $3 WHERE id = $4`,
			string(t.To), nullInt64(by), time.Now(), id); err != nil {
			return fmt.Errorf("reset status: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return cleared, ok, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row rowScanner) (*model.Broadcast, error) {
	var (
		b         model.Broadcast
		ids       []byte
		status    string
		updatedBy sql.NullInt64
		updatedAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.MessageText, &ids, &b.ScheduledTime, &status,
		&b.CreatedBy, &updatedBy, &b.CreatedAt, &updatedAt, &b.TargetCount); err != nil {
		return nil, err
	}
	interestIDs, err := decodeIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("decode interest_ids of broadcast %d: %w", b.ID, err)
	}
	b.InterestIDs = interestIDs
	b.Status = model.BroadcastState(status)
	if updatedBy.Valid {
		v := updatedBy.Int64
		b.UpdatedBy = &v
	}
	if updatedAt.Valid {
		v := updatedAt.Time
		b.UpdatedAt = &v
	}
	return &b, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ BroadcastRepositoryInterface = (*BroadcastRepository)(nil)

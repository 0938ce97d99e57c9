package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/communitybot-admin/internal/model"
)

// AudienceRepositoryInterface resolves interest subscriptions to users.
// Only the subscription's active flag matters; the interest's own flag does not.
type AudienceRepositoryInterface interface {
	// ActiveSubscribers returns distinct user ids, ascending.
	ActiveSubscribers(ctx context.Context, interestIDs []int64) ([]int64, error)
	// TargetUsers returns the same users with profile names, ordered by name.
	TargetUsers(ctx context.Context, interestIDs []int64) ([]model.TargetUser, error)
}

type AudienceRepository struct {
	DB *sql.DB
}

func (r *AudienceRepository) ActiveSubscribers(ctx context.Context, interestIDs []int64) ([]int64, error) {
	if len(interestIDs) == 0 {
		return []int64{}, nil
	}
	query := `
        SELECT DISTINCT ui.telegram_id
        FROM user_interests ui
        WHERE ui.interest_id = ANY($1) AND ui.status = TRUE
        ORDER BY ui.telegram_id
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(interestIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// TargetUsers keeps subscribers without a telegram_profile row (empty name)
// so the list always matches ActiveSubscribers.
func (r *AudienceRepository) TargetUsers(ctx context.Context, interestIDs []int64) ([]model.TargetUser, error) {
	if len(interestIDs) == 0 {
		return []model.TargetUser{}, nil
	}
	query := `
        SELECT ui.telegram_id, COALESCE(MAX(tp.name), '') AS name
        FROM user_interests ui
        LEFT JOIN telegram_profile tp ON tp.telegram_id = ui.telegram_id
        WHERE ui.interest_id = ANY($1) AND ui.status = TRUE
        GROUP BY ui.telegram_id
        ORDER BY name ASC, ui.telegram_id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(interestIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.TargetUser{}
	for rows.Next() {
		var u model.TargetUser
		if err := rows.Scan(&u.UserID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

var _ AudienceRepositoryInterface = (*AudienceRepository)(nil)

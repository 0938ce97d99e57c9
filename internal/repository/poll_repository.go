package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/communitybot-admin/internal/db"
	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
)

type PollRepositoryInterface interface {
	// Create inserts the poll and one row per option atomically.
	Create(ctx context.Context, p *model.Poll, options []string) error
	List(ctx context.Context) ([]*model.Poll, error)
	// GetByID returns the poll with its options and voters, newest vote first.
	GetByID(ctx context.Context, id int64) (*model.Poll, error)
	// Delete removes an unsent poll with its options.
	Delete(ctx context.Context, id int64) error
}

type PollRepository struct {
	DB *sql.DB
}

const pollColumns = `id, question, is_anonymous, allows_multiple_answers, is_quiz, correct_option_index,
        explanation, interest_ids, scheduled_at, is_sent, created_at, updated_at`

func (r *PollRepository) Create(ctx context.Context, p *model.Poll, options []string) error {
	var ids sql.NullString
	if p.InterestIDs != nil {
		raw, err := encodeIDs(p.InterestIDs)
		if err != nil {
			return err
		}
		ids = sql.NullString{String: raw, Valid: true}
	}

	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		query := `
            INSERT INTO poll (question, is_anonymous, allows_multiple_answers, is_quiz, correct_option_index,
                explanation, interest_ids, scheduled_at, is_sent, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NOW(), NOW())
            RETURNING id, created_at, updated_at
        `
		err := tx.QueryRowContext(ctx, query, p.Question, p.IsAnonymous, p.AllowsMultipleAnswers, p.IsQuiz,
			nullInt(p.CorrectOptionIndex), nullString(p.Explanation), ids, p.ScheduledAt).
			Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert poll: %w", appErrors.MapConflict(err))
		}

		p.Options = make([]model.PollOption, 0, len(options))
		for _, text := range options {
			opt := model.PollOption{PollID: p.ID, Text: text}
			err := tx.QueryRowContext(ctx,
				`INSERT INTO poll_option (poll_id, text, votes) VALUES ($1, $2, 0) RETURNING id`,
				p.ID, text).Scan(&opt.ID)
			if err != nil {
				return fmt.Errorf("insert poll option: %w", err)
			}
			p.Options = append(p.Options, opt)
		}
		return nil
	})
}

func (r *PollRepository) List(ctx context.Context) ([]*model.Poll, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pollColumns+` FROM poll ORDER BY scheduled_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	polls := []*model.Poll{}
	byID := map[int64]*model.Poll{}
	ids := []int64{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return polls, nil
	}

	opts, err := r.options(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range opts {
		if p := byID[o.PollID]; p != nil {
			p.Options = append(p.Options, o)
		}
	}
	return polls, nil
}

func (r *PollRepository) GetByID(ctx context.Context, id int64) (*model.Poll, error) {
	p, err := scanPoll(r.DB.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM poll WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewPollNotFound(id)
		}
		return nil, err
	}
	opts, err := r.options(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	p.Options = append(p.Options, opts...)
	if p.Voters, err = r.voters(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PollRepository) voters(ctx context.Context, pollID int64) ([]model.PollVote, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT pv.id, pv.poll_id, pv.user_id, COALESCE(tp.name, ''), pv.option_ids, pv.created_at
        FROM poll_vote pv
        LEFT JOIN telegram_profile tp ON tp.telegram_id = pv.user_id
        WHERE pv.poll_id = $1
        ORDER BY pv.created_at DESC, pv.id DESC
    `, pollID)
	if err != nil {
		return nil, fmt.Errorf("list poll voters: %w", err)
	}
	defer rows.Close()

	votes := []model.PollVote{}
	for rows.Next() {
		var (
			v   model.PollVote
			raw []byte
		)
		if err := rows.Scan(&v.ID, &v.PollID, &v.UserID, &v.UserName, &raw, &v.CreatedAt); err != nil {
			return nil, err
		}
		if v.OptionIDs, err = decodeIDs(raw); err != nil {
			return nil, fmt.Errorf("decode option_ids of vote %d: %w", v.ID, err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (r *PollRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var sent bool
		err := tx.QueryRowContext(ctx, `SELECT is_sent FROM poll WHERE id = $1 FOR UPDATE`, id).Scan(&sent)
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewPollNotFound(id)
		}
		if err != nil {
			return err
		}
		if sent {
			return fmt.Errorf("poll %d already sent: %w", id, appErrors.ErrNotApplicable)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM poll_option WHERE poll_id = $1`, id); err != nil {
			return fmt.Errorf("delete poll options: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM poll WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete poll: %w", err)
		}
		return nil
	})
}

func (r *PollRepository) options(ctx context.Context, pollIDs []int64) ([]model.PollOption, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, poll_id, text, votes FROM poll_option WHERE poll_id = ANY($1) ORDER BY id ASC`,
		pq.Array(pollIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opts := []model.PollOption{}
	for rows.Next() {
		var o model.PollOption
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Votes); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func scanPoll(row rowScanner) (*model.Poll, error) {
	var (
		p           model.Poll
		correct     sql.NullInt64
		explanation sql.NullString
		ids         []byte
	)
	if err := row.Scan(&p.ID, &p.Question, &p.IsAnonymous, &p.AllowsMultipleAnswers, &p.IsQuiz,
		&correct, &explanation, &ids, &p.ScheduledAt, &p.IsSent, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if correct.Valid {
		v := int(correct.Int64)
		p.CorrectOptionIndex = &v
	}
	if explanation.Valid {
		v := explanation.String
		p.Explanation = &v
	}
	interestIDs, err := decodeIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("decode interest_ids of poll %d: %w", p.ID, err)
	}
	p.InterestIDs = interestIDs
	p.Options = []model.PollOption{}
	return &p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var _ PollRepositoryInterface = (*PollRepository)(nil)

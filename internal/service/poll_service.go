package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/communitybot-admin/internal/errors"
	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

type PollService struct {
	Repo repository.PollRepositoryInterface
	Log  zerolog.Logger
}

type CreatePollInput struct {
	Question              string   `json:"question" validate:"nonblank,max=255"`
	Options               []string `json:"options" validate:"required,min=2,max=10,dive,nonblank,max=100"`
	IsAnonymous           *bool    `json:"is_anonymous"`
	AllowsMultipleAnswers bool     `json:"allows_multiple_answers"`
	IsQuiz                bool     `json:"is_quiz"`
	CorrectOptionIndex    *int     `json:"correct_option_index" validate:"omitempty,gte=0"`
	Explanation           *string  `json:"explanation" validate:"omitempty,max=200"`
	InterestIDs           []int64  `json:"interest_ids" validate:"omitempty,dive,gt=0"`
	ScheduledAt           string   `json:"scheduled_at" validate:"required,isodate"`
}

// Create stores the poll and its options atomically.
func (s *PollService) Create(ctx context.Context, in CreatePollInput) (*model.Poll, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	at, err := parseISODate(in.ScheduledAt)
	if err != nil {
		return nil, appErrors.NewValidation("scheduled_at", "must be an ISO 8601 date")
	}
	if in.IsQuiz {
		if in.CorrectOptionIndex == nil {
			return nil, appErrors.NewValidation("correct_option_index", "is required for a quiz")
		}
		if *in.CorrectOptionIndex >= len(in.Options) {
			return nil, appErrors.NewValidation("correct_option_index", fmt.Sprintf("must be less than %d", len(in.Options)))
		}
	}

	p := &model.Poll{
		Question:              strings.TrimSpace(in.Question),
		IsAnonymous:           true,
		AllowsMultipleAnswers: in.AllowsMultipleAnswers,
		IsQuiz:                in.IsQuiz,
		InterestIDs:           uniqueIDs(in.InterestIDs),
		ScheduledAt:           at,
	}
	if in.IsAnonymous != nil {
		p.IsAnonymous = *in.IsAnonymous
	}
	// only quizzes carry an answer
	if in.IsQuiz {
		p.CorrectOptionIndex = in.CorrectOptionIndex
		p.Explanation = in.Explanation
	}

	options := make([]string, len(in.Options))
	for i, o := range in.Options {
		options[i] = strings.TrimSpace(o)
	}
	if err := s.Repo.Create(ctx, p, options); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	s.Log.Info().Int64("poll_id", p.ID).Int("options", len(options)).Bool("quiz", p.IsQuiz).Msg("poll created")
	return p, nil
}

func (s *PollService) List(ctx context.Context) ([]*model.Poll, error) {
	return s.Repo.List(ctx)
}

func (s *PollService) Get(ctx context.Context, id int64) (*model.Poll, error) {
	return s.Repo.GetByID(ctx, id)
}

// Delete removes an unsent poll. Sent polls return ErrNotApplicable.
func (s *PollService) Delete(ctx context.Context, id int64) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Log.Info().Int64("poll_id", id).Msg("poll deleted")
	return nil
}

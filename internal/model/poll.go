// internal/model/poll.go
package model

import "time"

type Poll struct {
	ID                    int64        `db:"id" json:"id"`
	Question              string       `db:"question" json:"question"`
	IsAnonymous           bool         `db:"is_anonymous" json:"is_anonymous"`
	AllowsMultipleAnswers bool         `db:"allows_multiple_answers" json:"allows_multiple_answers"`
	IsQuiz                bool         `db:"is_quiz" json:"is_quiz"`
	CorrectOptionIndex    *int         `db:"correct_option_index" json:"correct_option_index"`
	Explanation           *string      `db:"explanation" json:"explanation"`
	InterestIDs           []int64      `db:"interest_ids" json:"interest_ids"`
	ScheduledAt           time.Time    `db:"scheduled_at" json:"scheduled_at"`
	IsSent                bool         `db:"is_sent" json:"is_sent"`
	CreatedAt             time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at" json:"updated_at"`
	Options               []PollOption `json:"options"`
	// Voters is only loaded for a single poll.
	Voters []PollVote `json:"voters,omitempty"`
}

type PollOption struct {
	ID     int64  `db:"id" json:"id"`
	PollID int64  `db:"poll_id" json:"poll_id"`
	Text   string `db:"text" json:"text"`
	Votes  int    `db:"votes" json:"votes"`
}

// PollVote is one user's answer; OptionIDs are option positions as the
// Bot API reports them.
type PollVote struct {
	ID        int64     `db:"id" json:"id"`
	PollID    int64     `db:"poll_id" json:"poll_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	UserName  string    `db:"user_name" json:"user_name,omitempty"`
	OptionIDs []int64   `db:"option_ids" json:"option_ids"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

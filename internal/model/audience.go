// internal/model/audience.go
package model

// TargetUser is an audience member with the display name from telegram_profile.
type TargetUser struct {
	UserID int64  `db:"telegram_id" json:"telegram_id"`
	Name   string `db:"name" json:"name"`
}

type Interest struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"status" json:"status"`
}

// Subscription links a user to an interest (user_interests row).
type Subscription struct {
	UserID     int64 `db:"telegram_id" json:"telegram_id"`
	InterestID int64 `db:"interest_id" json:"interest_id"`
	Active     bool  `db:"status" json:"status"`
}

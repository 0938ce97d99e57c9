// internal/model/broadcast.go
package model

import "time"

const (
	MessageTextMinLen = 1
	MessageTextMaxLen = 4096
)

// Broadcast is a scheduled, interest-targeted message (scheduled_messages row).
type Broadcast struct {
	ID            int64          `db:"id" json:"id"`
	MessageText   string         `db:"message_text" json:"message_text"`
	InterestIDs   []int64        `db:"interest_ids" json:"interest_ids"`
	ScheduledTime time.Time      `db:"scheduled_time" json:"scheduled_time"`
	Status        BroadcastState `db:"status" json:"status"`
	CreatedBy     int64          `db:"created_by" json:"created_by"`
	UpdatedBy     *int64         `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time     `db:"updated_at" json:"updated_at,omitempty"`

	// TargetCount is only filled by listings.
	TargetCount int `db:"target_count" json:"target_count"`
}

// IsCancelled mirrors the legacy is_cancelled flag.
func (b *Broadcast) IsCancelled() bool {
	return b.Status == StateCancelled
}

// Due reports whether the dispatcher may pick the broadcast up at now.
func (b *Broadcast) Due(now time.Time) bool {
	return b.Status == StatePending && !b.ScheduledTime.After(now)
}

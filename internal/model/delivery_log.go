// internal/model/delivery_log.go
package model

import "time"

// DeliveryStatus is the outcome of one delivery attempt, or not_sent in the
// reconciled view for an audience member without a log row.
type DeliveryStatus string

const (
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryNotSent DeliveryStatus = "not_sent"
	DeliverySuccess DeliveryStatus = "success"
)

// Recorded reports whether the status may be stored in broadcast_logs.
func (s DeliveryStatus) Recorded() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// DeliveryLog is the latest attempt for one (broadcast, user) pair.
type DeliveryLog struct {
	ID          int64          `db:"id" json:"id"`
	BroadcastID int64          `db:"scheduled_message_id" json:"scheduled_message_id"`
	UserID      int64          `db:"user_id" json:"user_id"`
	UserName    string         `db:"user_name" json:"user_name,omitempty"`
	Status      DeliveryStatus `db:"status" json:"status"`
	ErrorDetail *string        `db:"error_msg" json:"error_msg,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// DeliveryAttempt is what a sender hands to the delivery log store.
type DeliveryAttempt struct {
	BroadcastID int64
	UserID      int64
	Status      DeliveryStatus
	ErrorDetail string
	At          time.Time
}

// ReconciledRow is one targeted or logged user in the reconciliation view.
type ReconciledRow struct {
	LogID       *int64         `json:"log_id,omitempty"`
	UserID      int64          `json:"user_id"`
	UserName    string         `json:"user_name"`
	Status      DeliveryStatus `json:"status"`
	ErrorDetail *string        `json:"error_msg,omitempty"`
	LoggedAt    *time.Time     `json:"created_at,omitempty"`
}

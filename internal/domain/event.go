package domain

import (
	"encoding/json"
	"time"
)

// Status values for Event.Status. Delivered and Dead are terminal: once set
// they are never transitioned again.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusDead      = "dead"
)

// Event is a unit of work: a payload to be POSTed to a target URL.
type Event struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	TargetURL    string          `json:"target_url"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	LastError    *string         `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ClaimedEvent is the subset of Event fields a worker needs to deliver one
// event; returned by Store.ClaimPending.
type ClaimedEvent struct {
	ID           string
	Payload      json.RawMessage
	TargetURL    string
	AttemptCount int
}

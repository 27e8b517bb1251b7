package domain

import "time"

// Attempt is one recorded delivery try, successful or not. Attempts are
// append-only: they form the audit trail backing Event.AttemptCount and are
// never mutated or deleted by the core.
type Attempt struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	AttemptNumber int       `json:"attempt_number"`
	StatusCode    *int      `json:"status_code,omitempty"`
	ResponseBody  *string   `json:"response_body,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

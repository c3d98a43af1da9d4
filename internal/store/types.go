package store

import "time"

// User is one registered identity.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AttemptOutcome is the recorded result of an authentication attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// Attempt is one logged authentication attempt. Score is nil when the
// behavioural scorer never ran (bad password, missing template).
type Attempt struct {
	ID        int64
	UserID    int64
	Username  string
	Outcome   AttemptOutcome
	Score     *float64
	Category  string
	CreatedAt time.Time
}

// AttemptTotals aggregates a user's attempt history.
type AttemptTotals struct {
	Success int64
	Failure int64
}

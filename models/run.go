package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// PollRun is the operational record of one poll cycle.
type PollRun struct {
	ID             int64      `json:"id" db:"id"`
	SearchID       string     `json:"search_id" db:"search_id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	ListingsFound  int        `json:"listings_found" db:"listings_found"`
	ListingsNew    int        `json:"listings_new" db:"listings_new"`
	ProviderErrors int        `json:"provider_errors" db:"provider_errors"`
	ErrorMessage   string     `json:"error_message" db:"error_message"`
}

package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID             int64      `json:"id" db:"id"`
	SourceID       string     `json:"source_id" db:"source_id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	PagesCrawled   int        `json:"pages_crawled" db:"pages_crawled"`
	ListingsFound  int        `json:"listings_found" db:"listings_found"`
	ListingsNew    int        `json:"listings_new" db:"listings_new"`
	PriceChanges   int        `json:"price_changes" db:"price_changes"`
	MarkedSold     int        `json:"marked_sold" db:"marked_sold"`
	DetailFailures int        `json:"detail_failures" db:"detail_failures"`
	ErrorsCount    int        `json:"errors_count" db:"errors_count"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
}

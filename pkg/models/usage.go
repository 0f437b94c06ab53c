package models

import "time"

// UsageStat is an immutable record of one completed transcription
type UsageStat struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	FileType        string    `json:"file_type" db:"file_type"`
	FileSize        int64     `json:"file_size" db:"file_size"`
	DurationSeconds float64   `json:"duration_seconds" db:"duration_seconds"`
	ProcessingTime  float64   `json:"processing_time" db:"processing_time"`
	Language        string    `json:"language" db:"language"`
	TaskType        string    `json:"task_type" db:"task_type"`
	CharactersCount int       `json:"characters_count" db:"characters_count"`
	WordsCount      int       `json:"words_count" db:"words_count"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// UsageSummary aggregates a user's usage stats for reporting
type UsageSummary struct {
	UserID       int64      `json:"user_id"`
	Files        int64      `json:"files"`
	TotalMinutes float64    `json:"total_minutes"`
	Characters   int64      `json:"characters"`
	Words        int64      `json:"words"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

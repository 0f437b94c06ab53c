package models

import (
	"strconv"
	"strings"
	"time"
)

// MediaKind identifies the kind of media a user submitted
type MediaKind string

// MediaKind constants
const (
	MediaKindVoice MediaKind = "voice"
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Extension returns the file extension used for a fetched artifact
func (k MediaKind) Extension() string {
	switch k {
	case MediaKindVoice:
		return "ogg"
	case MediaKindVideo:
		return "mp4"
	default:
		return "mp3"
	}
}

// Valid reports whether the kind is one the service accepts
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindVoice, MediaKindAudio, MediaKindVideo:
		return true
	}
	return false
}

// MediaRef points at a submitted file in object storage
type MediaRef struct {
	Key  string    `json:"key"`
	Kind MediaKind `json:"kind"`
}

// UploadKeyPrefix marks media the API stored on a caller's behalf
const UploadKeyPrefix = "uploads/"

// UploadDir is the key prefix for one user's uploads
func UploadDir(userID int64) string {
	return UploadKeyPrefix + strconv.FormatInt(userID, 10) + "/"
}

// UploadedBy reports whether the object is an upload the API stored for
// userID, which the user may submit and the worker may remove
func (r MediaRef) UploadedBy(userID int64) bool {
	return strings.HasPrefix(r.Key, UploadDir(userID))
}

// TranscriptionJob is a queued request to transcribe one file
type TranscriptionJob struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Media      MediaRef  `json:"media"`
	Language   string    `json:"language,omitempty"`
	TaskType   string    `json:"task_type,omitempty"`
	Priority   uint8     `json:"priority,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobResult is published back to the messaging client once a job ends
type JobResult struct {
	JobID            string    `json:"job_id"`
	UserID           int64     `json:"user_id"`
	ReplyTo          string    `json:"reply_to,omitempty"`
	Status           string    `json:"status"`
	Code             string    `json:"code"`
	Message          string    `json:"message"`
	Warning          string    `json:"warning,omitempty"`
	Text             string    `json:"text,omitempty"`
	Language         string    `json:"language,omitempty"`
	TaskType         string    `json:"task_type,omitempty"`
	CharCount        int       `json:"char_count,omitempty"`
	WordCount        int       `json:"word_count,omitempty"`
	DurationMinutes  float64   `json:"duration_minutes,omitempty"`
	ProcessingTime   float64   `json:"processing_time,omitempty"`
	RemainingMinutes float64   `json:"remaining_minutes"`
	MinutesUsed      float64   `json:"minutes_used,omitempty"`
	MinutesLimit     float64   `json:"minutes_limit,omitempty"`
	ExportFormat     string    `json:"export_format,omitempty"`
	ExportURL        string    `json:"export_url,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Segment is a timed span of a transcript
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

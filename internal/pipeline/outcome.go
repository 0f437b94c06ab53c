package pipeline

import (
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Status is the terminal state of a request
type Status string

// Status constants
const (
	StatusDelivered Status = "delivered"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Code is the closed set of reasons a request ends with. A presentation
// layer maps codes to localized text.
type Code string

// Code constants
const (
	CodeDelivered           Code = "delivered"
	CodeUnsupportedMedia    Code = "unsupported_media"
	CodeFileTooLarge        Code = "file_too_large"
	CodeDurationUnknown     Code = "duration_unknown"
	CodeQuotaExceeded       Code = "quota_exceeded"
	CodeFetchFailed         Code = "fetch_failed"
	CodeTranscriptionFailed Code = "transcription_failed"
	CodeBackendUnavailable  Code = "backend_unavailable"
	CodeCanceled            Code = "canceled"
	CodeInternalError       Code = "internal_error"
)

// Codes lists every outcome code
func Codes() []Code {
	return []Code{
		CodeDelivered, CodeUnsupportedMedia, CodeFileTooLarge, CodeDurationUnknown, CodeQuotaExceeded,
		CodeFetchFailed, CodeTranscriptionFailed, CodeBackendUnavailable, CodeCanceled, CodeInternalError,
	}
}

// WarningPersistenceError flags a delivered result whose accounting failed
const WarningPersistenceError = "persistence_error"

// WarningHoldLapsed flags a delivered result whose minutes were not debited
// because its quota hold expired and the minutes were spent elsewhere
const WarningHoldLapsed = "hold_lapsed"

var messages = map[Code]string{
	CodeDelivered:           "Transcription completed.",
	CodeUnsupportedMedia:    "This type of file is not supported.",
	CodeFileTooLarge:        "The file is larger than the allowed size.",
	CodeDurationUnknown:     "The length of the file could not be determined.",
	CodeQuotaExceeded:       "Your remaining minutes are not enough for this file.",
	CodeFetchFailed:         "The file could not be downloaded.",
	CodeTranscriptionFailed: "The file could not be transcribed.",
	CodeBackendUnavailable:  "The transcription service is busy. Please try again later.",
	CodeCanceled:            "The request was canceled.",
	CodeInternalError:       "Something went wrong. Please try again later.",
}

// Message returns the stable user-facing text for a code
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeInternalError]
}

// Delivery is the payload of a delivered outcome
type Delivery struct {
	Text             string           `json:"text"`
	Language         string           `json:"language"`
	TaskType         string           `json:"task_type"`
	CharCount        int              `json:"char_count"`
	WordCount        int              `json:"word_count"`
	ProcessingTime   float64          `json:"processing_time"`
	DurationMinutes  float64          `json:"duration_minutes"`
	RemainingMinutes float64          `json:"remaining_minutes"`
	Plan             string           `json:"plan"`
	Segments         []models.Segment `json:"segments,omitempty"`
}

// Outcome is the single terminal result of Process
type Outcome struct {
	Status    Status          `json:"status"`
	Code      Code            `json:"code"`
	Message   string          `json:"message"`
	Warning   string          `json:"warning,omitempty"`
	Retryable bool            `json:"retryable"`
	Delivery  *Delivery       `json:"delivery,omitempty"`
	Quota     *quota.Decision `json:"quota,omitempty"`
	FileSize  int64           `json:"file_size,omitempty"`
}

func delivered(d *Delivery) Outcome {
	return Outcome{Status: StatusDelivered, Code: CodeDelivered, Message: CodeDelivered.Message(), Delivery: d}
}

func rejected(code Code) Outcome {
	return Outcome{Status: StatusRejected, Code: code, Message: code.Message()}
}

func failed(code Code, retryable bool) Outcome {
	return Outcome{Status: StatusFailed, Code: code, Message: code.Message(), Retryable: retryable}
}

// Result converts the outcome to the message published to the client
func (o Outcome) Result(job *models.TranscriptionJob) *models.JobResult {
	res := &models.JobResult{
		JobID:   job.ID,
		UserID:  job.UserID,
		ReplyTo: job.ReplyTo,
		Status:  string(o.Status),
		Code:    string(o.Code),
		Message: o.Message,
		Warning: o.Warning,
	}
	if d := o.Delivery; d != nil {
		res.Text = d.Text
		res.Language = d.Language
		res.TaskType = d.TaskType
		res.CharCount = d.CharCount
		res.WordCount = d.WordCount
		res.DurationMinutes = d.DurationMinutes
		res.ProcessingTime = d.ProcessingTime
		res.RemainingMinutes = d.RemainingMinutes
	}
	if q := o.Quota; q != nil {
		res.MinutesUsed = q.Used + q.Held
		res.MinutesLimit = float64(q.Limit) + q.Bonus
		res.RemainingMinutes = q.Remaining
	}
	return res
}

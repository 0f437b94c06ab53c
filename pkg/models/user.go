package models

import (
	"time"
)

// User represents a messaging-platform user known to the service
type User struct {
	ID             int64     `json:"id" db:"user_id"`
	Username       string    `json:"username,omitempty" db:"username"`
	FirstName      string    `json:"first_name,omitempty" db:"first_name"`
	LastName       string    `json:"last_name,omitempty" db:"last_name"`
	LanguageCode   string    `json:"language_code,omitempty" db:"language_code"`
	ReferralCode   string    `json:"referral_code" db:"referral_code"`
	ReferredBy     *int64    `json:"referred_by,omitempty" db:"referred_by"`
	TotalReferrals int       `json:"total_referrals" db:"total_referrals"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActive     time.Time `json:"last_active" db:"last_active"`
}

// UserSettings holds per-user transcription preferences
type UserSettings struct {
	UserID         int64  `json:"user_id" db:"user_id"`
	InterfaceLang  string `json:"interface_lang" db:"interface_lang"`
	TranscribeLang string `json:"transcribe_lang" db:"transcribe_lang"`
	TaskType       string `json:"task_type" db:"task_type"`
	ExportFormat   string `json:"export_format" db:"export_format"`
}

// Task types understood by the transcription backend
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// LanguageAuto lets the backend detect the spoken language
const LanguageAuto = "auto"

// Interface languages
const (
	InterfaceLangArabic  = "ar"
	InterfaceLangEnglish = "en"
)

// DefaultSettings returns the settings used when a user has no settings row
func DefaultSettings(userID int64) UserSettings {
	return UserSettings{
		UserID:         userID,
		InterfaceLang:  InterfaceLangArabic,
		TranscribeLang: LanguageAuto,
		TaskType:       TaskTranscribe,
		ExportFormat:   "txt",
	}
}

// InterfaceLangFor picks the interface language for a platform language code
func InterfaceLangFor(languageCode string) string {
	if languageCode == InterfaceLangArabic {
		return InterfaceLangArabic
	}
	return InterfaceLangEnglish
}

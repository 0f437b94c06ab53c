// Package settings reads and updates per-user preferences.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var (
	ErrUnknownField     = errors.New("unknown setting")
	ErrInvalidValue     = errors.New("invalid setting value")
	ErrFormatNotAllowed = errors.New("export format not available on plan")
)

// Field names accepted by Set
const (
	FieldInterfaceLang  = "interface_lang"
	FieldTranscribeLang = "transcribe_lang"
	FieldTaskType       = "task_type"
	FieldExportFormat   = "export_format"
)

// TranscribeLanguages lists the language hints users may pick
var TranscribeLanguages = []string{models.LanguageAuto, "ar", "en", "es", "fr", "de", "it", "ru", "zh"}

// Update carries the fields to change. Nil fields are left as they are.
type Update struct {
	InterfaceLang  *string `json:"interface_lang,omitempty"`
	TranscribeLang *string `json:"transcribe_lang,omitempty"`
	TaskType       *string `json:"task_type,omitempty"`
	ExportFormat   *string `json:"export_format,omitempty"`
}

// Service manages user settings
type Service struct {
	store   store.Store
	quota   *quota.Ledger
	catalog *plans.Catalog
	logger  *logging.Logger
}

// NewService creates a settings service
func NewService(st store.Store, quotaLedger *quota.Ledger, catalog *plans.Catalog, logger *logging.Logger) *Service {
	return &Service{store: st, quota: quotaLedger, catalog: catalog, logger: logger}
}

// Get returns the user's settings, or the defaults when none are stored
func (s *Service) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	current, _, err := s.load(ctx, userID)
	return current, err
}

func (s *Service) load(ctx context.Context, userID int64) (*models.UserSettings, bool, error) {
	current, err := s.store.GetSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		defaults := models.DefaultSettings(userID)
		return &defaults, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get settings: %w", err)
	}
	return current, true, nil
}

// Set changes a single field by name
func (s *Service) Set(ctx context.Context, userID int64, field, value string) (*models.UserSettings, error) {
	var upd Update
	switch field {
	case FieldInterfaceLang:
		upd.InterfaceLang = &value
	case FieldTranscribeLang:
		upd.TranscribeLang = &value
	case FieldTaskType:
		upd.TaskType = &value
	case FieldExportFormat:
		upd.ExportFormat = &value
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return s.Update(ctx, userID, upd)
}

// Update validates and applies upd
func (s *Service) Update(ctx context.Context, userID int64, upd Update) (*models.UserSettings, error) {
	current, exists, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.InterfaceLang != nil {
		switch *upd.InterfaceLang {
		case models.InterfaceLangArabic, models.InterfaceLangEnglish:
			current.InterfaceLang = *upd.InterfaceLang
		default:
			return nil, fmt.Errorf("%w: interface_lang %q", ErrInvalidValue, *upd.InterfaceLang)
		}
	}

	if upd.TranscribeLang != nil {
		if !contains(TranscribeLanguages, *upd.TranscribeLang) {
			return nil, fmt.Errorf("%w: transcribe_lang %q", ErrInvalidValue, *upd.TranscribeLang)
		}
		current.TranscribeLang = *upd.TranscribeLang
	}

	if upd.TaskType != nil {
		switch *upd.TaskType {
		case models.TaskTranscribe, models.TaskTranslate:
			current.TaskType = *upd.TaskType
		default:
			return nil, fmt.Errorf("%w: task_type %q", ErrInvalidValue, *upd.TaskType)
		}
	}

	if upd.ExportFormat != nil {
		if err := s.checkFormat(ctx, userID, *upd.ExportFormat); err != nil {
			return nil, err
		}
		current.ExportFormat = *upd.ExportFormat
	}

	if exists {
		err = s.store.UpdateSettings(ctx, current)
	} else {
		err = s.store.CreateSettings(ctx, current)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.WithUserID(userID).Debug("Settings updated")
	return current, nil
}

func (s *Service) checkFormat(ctx context.Context, userID int64, format string) error {
	q, err := s.quota.GetQuota(ctx, userID)
	if err != nil {
		return err
	}
	plan, err := s.catalog.Lookup(q.PlanType)
	if err != nil {
		return err
	}
	if !plan.AllowsExport(format) {
		return fmt.Errorf("%w: %s on %s", ErrFormatNotAllowed, format, plan.Type)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

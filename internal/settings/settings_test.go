package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store/memory"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

func newTestService(t *testing.T, planType string, limit int) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.CreateQuota(context.Background(), &models.Quota{
		UserID: 1, PlanType: planType, MinutesLimit: limit, LastReset: time.Now().UTC(),
	}))
	catalog := plans.Default()
	logger := logging.NewNopLogger()
	return NewService(st, quota.New(st, catalog, logger), catalog, logger), st
}

func strPtr(s string) *string { return &s }

func TestGetReturnsDefaults(t *testing.T) {
	svc, _ := newTestService(t, plans.Free, 5)

	s, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(1), *s)
}

func TestUpdatePersists(t *testing.T) {
	svc, st := newTestService(t, plans.Free, 5)
	ctx := context.Background()

	_, err := svc.Update(ctx, 1, Update{
		InterfaceLang:  strPtr("en"),
		TranscribeLang: strPtr("fr"),
		TaskType:       strPtr(models.TaskTranslate),
		ExportFormat:   strPtr("srt"),
	})
	require.NoError(t, err)

	stored, err := st.GetSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "en", stored.InterfaceLang)
	assert.Equal(t, "fr", stored.TranscribeLang)
	assert.Equal(t, models.TaskTranslate, stored.TaskType)
	assert.Equal(t, "srt", stored.ExportFormat)

	// A second update goes through UpdateSettings on the existing row.
	s, err := svc.Set(ctx, 1, FieldTranscribeLang, models.LanguageAuto)
	require.NoError(t, err)
	assert.Equal(t, models.LanguageAuto, s.TranscribeLang)
	assert.Equal(t, "en", s.InterfaceLang)
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := newTestService(t, plans.Free, 5)
	ctx := context.Background()

	tests := []struct {
		name  string
		field string
		value string
		want  error
	}{
		{"unknown field", "theme", "dark", ErrUnknownField},
		{"interface language", FieldInterfaceLang, "fr", ErrInvalidValue},
		{"transcribe language", FieldTranscribeLang, "xx", ErrInvalidValue},
		{"task type", FieldTaskType, "summarize", ErrInvalidValue},
		{"format above plan", FieldExportFormat, "pdf", ErrFormatNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Set(ctx, 1, tt.field, tt.value)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExportFormatFollowsPlan(t *testing.T) {
	svc, _ := newTestService(t, plans.Business, models.UnlimitedMinutes)

	s, err := svc.Set(context.Background(), 1, FieldExportFormat, "vtt")
	require.NoError(t, err)
	assert.Equal(t, "vtt", s.ExportFormat)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

type preferenceStore interface {
	GetByUser(ctx context.Context, userID string) (*models.PreferenceRow, error)
	Upsert(ctx context.Context, pref *models.PreferenceRow) error
}

// PreferenceService reads and writes per-user dashboard preferences.
type PreferenceService struct {
	repo      preferenceStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPreferenceService builds the service.
func NewPreferenceService(repo preferenceStore, validate *validator.Validate, logger *zap.Logger) *PreferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &PreferenceService{repo: repo, validator: validate, logger: logger}
	svc.validator.RegisterValidation("semester_filter", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseSemesterFilter(fl.Field().String())
		return ok
	})
	return svc
}

// Get returns stored preferences, or the defaults when none exist.
func (s *PreferenceService) Get(ctx context.Context, userID string) (models.Preferences, error) {
	row, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultPreferences(), nil
		}
		return models.Preferences{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	if _, ok := models.ParseSemesterFilter(row.DefaultSemester); !ok {
		s.logger.Warn("ignoring malformed stored preference", zap.String("user_id", userID), zap.String("default_semester", row.DefaultSemester))
		return models.DefaultPreferences(), nil
	}
	return models.Preferences{DefaultSemester: row.DefaultSemester}, nil
}

// Set validates and stores preferences.
func (s *PreferenceService) Set(ctx context.Context, userID string, prefs models.Preferences) (models.Preferences, error) {
	prefs.DefaultSemester = strings.ToLower(strings.TrimSpace(prefs.DefaultSemester))
	if err := s.validator.Struct(prefs); err != nil {
		return models.Preferences{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, `defaultSemester must be "all" or a positive integer`)
	}
	row := &models.PreferenceRow{UserID: userID, DefaultSemester: prefs.DefaultSemester}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return models.Preferences{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save preferences")
	}
	return prefs, nil
}

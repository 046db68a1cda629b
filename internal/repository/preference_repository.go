package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

// PreferenceRepository persists per-user dashboard preferences.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetByUser returns stored preferences for a user.
func (r *PreferenceRepository) GetByUser(ctx context.Context, userID string) (*models.PreferenceRow, error) {
	const query = `SELECT id, user_id, default_semester, created_at, updated_at FROM user_preferences WHERE user_id = $1`
	var pref models.PreferenceRow
	if err := r.db.GetContext(ctx, &pref, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get user preferences: %w", err)
	}
	return &pref, nil
}

// Upsert creates or replaces a user's preferences.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.PreferenceRow) error {
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	const query = `INSERT INTO user_preferences (id, user_id, default_semester, created_at, updated_at)
		VALUES (:id, :user_id, :default_semester, :created_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE
		SET default_semester = EXCLUDED.default_semester,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert user preferences: %w", err)
	}
	return nil
}

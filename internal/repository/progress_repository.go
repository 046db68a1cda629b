package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

// ProgressRepository stores one JSONB progress document per user.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs a progress repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get returns the stored document. sql.ErrNoRows means the user has no record yet.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*models.ProgressDocument, error) {
	const query = `SELECT user_id, document, updated_at FROM progress_records WHERE user_id = $1`
	var doc models.ProgressDocument
	if err := r.db.GetContext(ctx, &doc, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}
	return &doc, nil
}

// Update applies fn to the user's record while holding a row lock and stores the
// result. The row is created empty first so concurrent writers always serialise
// on the same lock.
func (r *ProgressRepository) Update(ctx context.Context, userID string, fn models.ProgressMutation) (record models.ProgressRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin progress tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const ensureQuery = `INSERT INTO progress_records (user_id, document, updated_at) VALUES ($1, '{}', $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, ensureQuery, userID, now); err != nil {
		return nil, fmt.Errorf("ensure progress record: %w", err)
	}

	var doc models.ProgressDocument
	const lockQuery = `SELECT user_id, document, updated_at FROM progress_records WHERE user_id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &doc, lockQuery, userID); err != nil {
		return nil, fmt.Errorf("lock progress record: %w", err)
	}

	// Undecodable entries come back empty and are rewritten as such below.
	current, _ := models.DecodeProgressRecord(doc.Document)
	record, err = fn(current)
	if err != nil {
		return nil, err
	}
	payload, err := record.Encode()
	if err != nil {
		return nil, err
	}

	const updateQuery = `UPDATE progress_records SET document = $2, updated_at = $3 WHERE user_id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, userID, payload, now); err != nil {
		return nil, fmt.Errorf("update progress record: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progress tx: %w", err)
	}
	return record, nil
}

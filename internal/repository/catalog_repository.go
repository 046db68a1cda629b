package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

const subjectColumns = `id, code, name, branch, year, semester, modules, updated_at`

// CatalogRepository persists syllabus subjects with their modules as JSONB.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a catalog repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListAll returns every stored subject ordered by tree position.
func (r *CatalogRepository) ListAll(ctx context.Context) ([]models.SubjectRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM subjects ORDER BY branch ASC, year ASC, semester ASC, id ASC`, subjectColumns)
	var rows []models.SubjectRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return rows, nil
}

// FindByID returns a single subject. sql.ErrNoRows is returned unwrapped.
func (r *CatalogRepository) FindByID(ctx context.Context, id string) (*models.SubjectRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM subjects WHERE id = $1`, subjectColumns)
	var row models.SubjectRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &row, nil
}

// UpsertMany writes all subjects inside one transaction.
func (r *CatalogRepository) UpsertMany(ctx context.Context, rows []models.SubjectRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog import tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO subjects (id, code, name, branch, year, semester, modules, updated_at)
VALUES (:id, :code, :name, :branch, :year, :semester, :modules, :updated_at)
ON CONFLICT (id)
DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, branch = EXCLUDED.branch, year = EXCLUDED.year,
              semester = EXCLUDED.semester, modules = EXCLUDED.modules, updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	for i := range rows {
		rows[i].UpdatedAt = now
		if _, err = tx.NamedExecContext(ctx, query, rows[i]); err != nil {
			return fmt.Errorf("upsert subject %s: %w", rows[i].ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog import tx: %w", err)
	}
	return nil
}

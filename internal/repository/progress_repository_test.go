package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

func TestProgressRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, document, updated_at FROM progress_records WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryUpdateLocksAndWrites(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO progress_records").WithArgs("u1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress_records WHERE user_id = $1 FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "document", "updated_at"}).
			AddRow("u1", `{"subject_cs101":{"module_0":true}}`, time.Now()))
	mock.ExpectExec("UPDATE progress_records SET document").
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := repo.Update(context.Background(), "u1", func(current models.ProgressRecord) (models.ProgressRecord, error) {
		entry, ok := current.Subject("cs101").Module(0)
		require.True(t, ok)
		assert.True(t, entry.Marked)
		current[models.SubjectKey("cs101")][models.ModuleKey(1)] = models.ModuleCompletion{CompletedTopics: []int{0}}
		return current, nil
	})
	require.NoError(t, err)
	entry, ok := record.Subject("cs101").Module(1)
	require.True(t, ok)
	assert.Equal(t, []int{0}, entry.CompletedTopics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryUpdateRollsBackOnMutationError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO progress_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "document", "updated_at"}).AddRow("u1", `{}`, time.Now()))
	mock.ExpectRollback()

	sentinel := errors.New("rejected")
	_, err := repo.Update(context.Background(), "u1", func(models.ProgressRecord) (models.ProgressRecord, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryUpdateRepairsMalformedEntries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO progress_records").WithArgs("u1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress_records WHERE user_id = $1 FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "document", "updated_at"}).
			AddRow("u1", `{"subject_cs101":{"module_0":true,"module_1":1}}`, time.Now()))
	mock.ExpectExec("UPDATE progress_records SET document").
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := repo.Update(context.Background(), "u1", func(current models.ProgressRecord) (models.ProgressRecord, error) {
		current[models.SubjectKey("cs101")][models.ModuleKey(2)] = models.ModuleCompletion{Marked: true}
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubjectProgress{
		"module_0": {Marked: true},
		"module_1": {},
		"module_2": {Marked: true},
	}, record["subject_cs101"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

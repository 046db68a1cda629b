package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

type fakePreferenceStore struct {
	rows      map[string]*models.PreferenceRow
	getErr    error
	upsertErr error
}

func (f *fakePreferenceStore) GetByUser(_ context.Context, userID string) (*models.PreferenceRow, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakePreferenceStore) Upsert(_ context.Context, pref *models.PreferenceRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.rows == nil {
		f.rows = map[string]*models.PreferenceRow{}
	}
	f.rows[pref.UserID] = pref
	return nil
}

func TestPreferenceServiceDefaultsWhenMissing(t *testing.T) {
	svc := NewPreferenceService(&fakePreferenceStore{}, nil, nil)
	prefs, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences(), prefs)
}

func TestPreferenceServiceIgnoresMalformedStoredValue(t *testing.T) {
	store := &fakePreferenceStore{rows: map[string]*models.PreferenceRow{"u1": {UserID: "u1", DefaultSemester: "spring"}}}
	prefs, err := NewPreferenceService(store, nil, nil).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SemesterFilterAll, prefs.DefaultSemester)
}

func TestPreferenceServiceSetNormalisesAndStores(t *testing.T) {
	store := &fakePreferenceStore{}
	svc := NewPreferenceService(store, nil, nil)

	prefs, err := svc.Set(context.Background(), "u1", models.Preferences{DefaultSemester: " ALL "})
	require.NoError(t, err)
	assert.Equal(t, "all", prefs.DefaultSemester)

	_, err = svc.Set(context.Background(), "u1", models.Preferences{DefaultSemester: "3"})
	require.NoError(t, err)
	got, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "3", got.DefaultSemester)
}

func TestPreferenceServiceSetRejectsInvalidValues(t *testing.T) {
	svc := NewPreferenceService(&fakePreferenceStore{}, nil, nil)
	for _, value := range []string{"", "0", "-2", "first", "1.5"} {
		_, err := svc.Set(context.Background(), "u1", models.Preferences{DefaultSemester: value})
		require.Error(t, err, value)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code, value)
	}
}

func TestPreferenceServiceStoreErrors(t *testing.T) {
	svc := NewPreferenceService(&fakePreferenceStore{getErr: errors.New("boom"), upsertErr: errors.New("boom")}, nil, nil)

	_, err := svc.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	_, err = svc.Set(context.Background(), "u1", models.Preferences{DefaultSemester: "2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

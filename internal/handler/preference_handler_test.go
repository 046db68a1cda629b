package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

type fakePreferenceSrv struct {
	saved map[string]models.Preferences
}

func (f *fakePreferenceSrv) Get(_ context.Context, userID string) (models.Preferences, error) {
	if prefs, ok := f.saved[userID]; ok {
		return prefs, nil
	}
	return models.DefaultPreferences(), nil
}

func (f *fakePreferenceSrv) Set(_ context.Context, userID string, prefs models.Preferences) (models.Preferences, error) {
	if _, ok := models.ParseSemesterFilter(prefs.DefaultSemester); !ok {
		return models.Preferences{}, appErrors.ErrValidation
	}
	if f.saved == nil {
		f.saved = map[string]models.Preferences{}
	}
	f.saved[userID] = prefs
	return prefs, nil
}

func TestPreferenceHandlerRoundTrip(t *testing.T) {
	srv := &fakePreferenceSrv{}
	handler := NewPreferenceHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/preferences", nil, userClaims("u1"))
	handler.Get(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"defaultSemester":"all"}`, string(decodeEnvelope(t, rec).Data))

	c, rec = newTestContext(http.MethodPut, "/preferences", map[string]string{"defaultSemester": "3"}, userClaims("u1"))
	handler.Update(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", srv.saved["u1"].DefaultSemester)
}

func TestPreferenceHandlerRejectsInvalid(t *testing.T) {
	handler := NewPreferenceHandler(&fakePreferenceSrv{})

	c, rec := newTestContext(http.MethodPut, "/preferences", map[string]string{"defaultSemester": "zero"}, userClaims("u1"))
	handler.Update(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newTestContext(http.MethodPut, "/preferences", map[string]string{"defaultSemester": "1"}, nil)
	handler.Update(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

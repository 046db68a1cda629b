package models

import (
	"strconv"
	"strings"
	"time"
)

// SemesterFilterAll selects every semester on the dashboard.
const SemesterFilterAll = "all"

// Preferences holds a user's default dashboard filter.
type Preferences struct {
	DefaultSemester string `json:"defaultSemester" validate:"required,semester_filter"`
}

// PreferenceRow is the persisted shape of user preferences.
type PreferenceRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	DefaultSemester string    `db:"default_semester"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// DefaultPreferences returns the preferences applied when none are stored.
func DefaultPreferences() Preferences {
	return Preferences{DefaultSemester: SemesterFilterAll}
}

// ParseSemesterFilter converts a stored filter to a semester number, where 0
// selects every semester. The second result is false for malformed values.
func ParseSemesterFilter(raw string) (int, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == SemesterFilterAll {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

package service

import (
	"sort"
	"time"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

// BuildUserKpiList produces one KPI row per subject referenced by the record that
// still resolves in the catalog, ordered by descending progress. Ties keep the
// ascending subject ID order in which the record is walked.
func BuildUserKpiList(userID string, catalog models.Catalog, record models.ProgressRecord) []models.KpiRow {
	rows := make([]models.KpiRow, 0, len(record))
	for _, subjectID := range record.SubjectIDs() {
		subject, ok := catalog.Lookup(subjectID)
		if !ok {
			continue
		}
		rows = append(rows, KpiRowFor(*subject, record.Subject(subjectID)))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Progress > rows[j].Progress
	})
	return rows
}

// BuildKraGroups groups KPI rows by year and semester.
func BuildKraGroups(rows []models.KpiRow) []models.RollupGroup {
	return ComputeYearOrKraRollup(rows, SemesterKey)
}

// BuildYearlyGroups groups KPI rows by year.
func BuildYearlyGroups(rows []models.KpiRow) []models.RollupGroup {
	return ComputeYearOrKraRollup(rows, YearKey)
}

// BuildBranchGroups groups KPI rows by branch.
func BuildBranchGroups(rows []models.KpiRow) []models.RollupGroup {
	return ComputeYearOrKraRollup(rows, BranchKey)
}

// BuildUserAnalytics assembles the KPI/KRA view for one user.
func BuildUserAnalytics(userID string, catalog models.Catalog, record models.ProgressRecord) models.UserAnalytics {
	rows := BuildUserKpiList(userID, catalog, record)
	return models.UserAnalytics{
		UserID: userID,
		KPIs:   rows,
		KRA:    BuildKraGroups(rows),
		Yearly: BuildYearlyGroups(rows),
	}
}

// ComputeFleetStats summarises the listed users. A user is an active learner when
// their record has at least one key; records of unlisted users are ignored.
func ComputeFleetStats(users []models.User, records map[string]models.ProgressRecord, catalogSize int, now time.Time, windowDays int) models.FleetStats {
	stats := models.FleetStats{
		TotalUsers:             len(users),
		TotalSubjectsInCatalog: catalogSize,
		WindowDays:             windowDays,
	}
	cutoff := now.AddDate(0, 0, -windowDays)
	for _, user := range users {
		if len(records[user.ID]) > 0 {
			stats.ActiveLearners++
		}
		if windowDays > 0 && !user.CreatedAt.Before(cutoff) {
			stats.NewUsersInLastNDays++
		}
	}
	return stats
}

// SummariseUser builds the admin table row for a user from their KPI rows.
func SummariseUser(user models.User, rows []models.KpiRow) models.UserProgressSummary {
	summary := models.UserProgressSummary{
		UserID:          user.ID,
		FullName:        user.FullName,
		Email:           user.Email,
		SubjectsTracked: len(rows),
	}
	for _, row := range rows {
		summary.TotalModules += row.TotalModules
		summary.Completed += row.CompletedCount
	}
	summary.Progress = Percent(summary.Completed, summary.TotalModules)
	return summary
}

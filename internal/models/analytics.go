package models

import "time"

// ModuleProgressResult is the derived completion of one module.
type ModuleProgressResult struct {
	Completed      bool `json:"completed"`
	CompletedCount int  `json:"completedCount"`
	TotalTopics    int  `json:"totalTopics"`
	Percentage     int  `json:"percentage"`
}

// SubjectProgressResult is the derived completion of one subject.
type SubjectProgressResult struct {
	Percentage             int   `json:"percentage"`
	CompletedCount         int   `json:"completedCount"`
	TotalModules           int   `json:"totalModules"`
	CompletedModuleIndices []int `json:"completedModuleIndices"`
}

// KpiRow is one subject's progress summary for a user.
type KpiRow struct {
	SubjectID      string `json:"subjectId"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	Branch         string `json:"branch"`
	Year           int    `json:"year"`
	Semester       int    `json:"semester"`
	Progress       int    `json:"progress"`
	CompletedCount int    `json:"completedCount"`
	TotalModules   int    `json:"totalModules"`
}

// RollupGroup aggregates KPI rows sharing a grouping key.
type RollupGroup struct {
	Key              string `json:"key"`
	Subjects         int    `json:"subjects"`
	TotalModules     int    `json:"totalModules"`
	CompletedModules int    `json:"completedModules"`
	Progress         int    `json:"progress"`
}

// FleetStats summarises the user base.
type FleetStats struct {
	TotalUsers             int `json:"totalUsers"`
	ActiveLearners         int `json:"activeLearners"`
	TotalSubjectsInCatalog int `json:"totalSubjectsInCatalog"`
	NewUsersInLastNDays    int `json:"newUsersInLastNDays"`
	WindowDays             int `json:"windowDays"`
}

// UserProgressSummary is one row of the admin user table.
type UserProgressSummary struct {
	UserID          string `json:"userId"`
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	SubjectsTracked int    `json:"subjectsTracked"`
	TotalModules    int    `json:"totalModules"`
	Completed       int    `json:"completedModules"`
	Progress        int    `json:"progress"`
}

// UserAnalytics is the KPI/KRA view of a single user.
type UserAnalytics struct {
	UserID string        `json:"userId"`
	KPIs   []KpiRow      `json:"kpis"`
	KRA    []RollupGroup `json:"kra"`
	Yearly []RollupGroup `json:"yearly"`
}

// FleetAnalytics is the admin-wide rollup.
type FleetAnalytics struct {
	Stats         FleetStats            `json:"stats"`
	KRA           []RollupGroup         `json:"kra"`
	Yearly        []RollupGroup         `json:"yearly"`
	Branches      []RollupGroup         `json:"branches"`
	Users         []UserProgressSummary `json:"users"`
	FetchFailures int                   `json:"fetchFailures"`
	GeneratedAt   time.Time             `json:"generatedAt"`
}

// AnalyticsSystemMetrics exposes process-level instrumentation snapshots.
type AnalyticsSystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"avg_db_query_duration_ms"`
	ProgressWrites           uint64    `json:"progress_writes"`
	FetchFailures            uint64    `json:"fetch_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

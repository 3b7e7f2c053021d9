// The `model` package is very atypical for projects written in go, but unfortunately
// cannot be avoided as it helps to avoid cyclic dependencies between the server,
// storage and aggregation packages.
package model

import (
	"strings"
	"time"
)

// TestResult is one reported test-suite execution. Rows are append-only:
// every webhook delivery or api submission inserts a new record and nothing
// mutates it afterwards.
type TestResult struct {
	// ID is assigned by the store on insert.
	ID int `json:"id" db:"id"`
	// SuiteName is the de-facto suite/project key. It is free text and
	// deliberately not unique, each execution of the same suite produces
	// its own row.
	SuiteName string `json:"suite_name" db:"suite_name"`
	// Framework that produced the result, e.g. "Jest" or "GitHub Actions".
	Framework string `json:"framework" db:"framework"`
	TestType  string `json:"test_type" db:"test_type"`
	// ProjectCategory groups suites for the dashboard filters. Inferred
	// from the suite name when the caller does not provide one.
	ProjectCategory string `json:"project_category" db:"project_category"`
	// Total/Passed/Failed are stored exactly as supplied. passed+failed<=total
	// is not enforced, callers may report inconsistent counts.
	Total  int `json:"total" db:"total"`
	Passed int `json:"passed" db:"passed"`
	Failed int `json:"failed" db:"failed"`
	// Error fields are only meaningful when Failed > 0.
	ErrorType    string `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
	ErrorDetails string `json:"error_details,omitempty" db:"error_details"`
	// CreatedAt is assigned at write time and is the sole time axis
	// for trend aggregation.
	CreatedAt time.Time `json:"created_at"`
}

// PassRate returns the pass rate in percent. The second return value is
// false when Total is zero, in which case the rate is undefined and must
// not contribute to any average.
func (r TestResult) PassRate() (float64, bool) {
	if r.Total == 0 {
		return 0, false
	}

	return float64(r.Passed) / float64(r.Total) * 100, true
}

const (
	DefaultFramework       = "Unknown"
	DefaultTestType        = "Functional"
	DefaultProjectCategory = "General"
)

// InferProjectCategory derives a project category from keywords in the
// suite name. Matching is case-insensitive.
func InferProjectCategory(suiteName string) string {
	name := strings.ToLower(suiteName)

	switch {
	case strings.Contains(name, "banking"), strings.Contains(name, "payment"), strings.Contains(name, "account"):
		return "Banking"
	case strings.Contains(name, "credit"), strings.Contains(name, "score"):
		return "Credit"
	case strings.Contains(name, "compliance"), strings.Contains(name, "report"):
		return "Compliance"
	case strings.Contains(name, "security"), strings.Contains(name, "auth"):
		return "Security"
	default:
		return DefaultProjectCategory
	}
}

// TrendBucket is one time bucket of aggregated results.
type TrendBucket struct {
	// Period is the bucket label, e.g. "2025-12-10" for day grouping or
	// "2025-12-10 14:00" for hour grouping. Buckets are sorted ascending
	// by this label.
	Period      string `json:"period"`
	Executions  int    `json:"executions"`
	TotalTests  int    `json:"total_tests"`
	PassedTests int    `json:"passed_tests"`
	FailedTests int    `json:"failed_tests"`
	// SuccessRate is the mean of each record's own pass rate, not a pooled
	// summed-passed/summed-total rate. Records with Total == 0 are excluded
	// from the mean.
	SuccessRate float64 `json:"success_rate"`
}

// ProjectTrendBucket is a daily trend bucket scoped to a single suite.
type ProjectTrendBucket struct {
	SuiteName   string  `json:"suite_name"`
	Period      string  `json:"period"`
	Executions  int     `json:"executions"`
	TotalTests  int     `json:"total_tests"`
	PassedTests int     `json:"passed_tests"`
	FailedTests int     `json:"failed_tests"`
	SuccessRate float64 `json:"success_rate"`
}

// FailureGroup is one ranked failure category.
type FailureGroup struct {
	Type string `json:"type"`
	// Count is the sum of failed counts across all records sharing the type.
	Count int `json:"count"`
	// Suites lists the contributing suite names, one entry per record.
	Suites []string `json:"suites"`
}

// WebhookLog records one inbound webhook delivery for operator diagnosis.
type WebhookLog struct {
	ID           int       `json:"id" db:"id"`
	Source       string    `json:"source" db:"source"`
	EventType    string    `json:"event_type" db:"event_type"`
	Status       string    `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusRejected  = "rejected"
	WebhookStatusInvalid   = "invalid"
)

// ScheduledExport is the configuration of one recurring export job.
type ScheduledExport struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`
	Format   string `json:"format"`
	Filename string `json:"filename,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Package aggregate computes trend buckets and failure rankings over test
// results fetched from the store. All computation happens in memory, the
// weekly rollup in particular has no native sqlite equivalent.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/qadash/qadash/internal/model"
)

type Grouping string

const (
	GroupingHour  Grouping = "hour"
	GroupingDay   Grouping = "day"
	GroupingWeek  Grouping = "week"
	GroupingMonth Grouping = "month"
)

const (
	MinLookbackDays = 1
	MaxLookbackDays = 365
)

// ValidGrouping reports whether g is one of hour/day/week/month.
func ValidGrouping(g Grouping) bool {
	switch g {
	case GroupingHour, GroupingDay, GroupingWeek, GroupingMonth:
		return true
	}
	return false
}

// ValidateTrendParams checks grouping and lookback before any data is
// fetched.
func ValidateTrendParams(grouping Grouping, days int) error {
	if !ValidGrouping(grouping) {
		return model.ValidationError{
			Message: "Invalid grouping parameter",
			Detail:  "Grouping must be one of: hour, day, week, month",
		}
	}

	return ValidateLookbackDays(days)
}

// ValidateLookbackDays checks the lookback window.
func ValidateLookbackDays(days int) error {
	if days < MinLookbackDays || days > MaxLookbackDays {
		return model.ValidationError{
			Message: "Invalid days parameter",
			Detail:  fmt.Sprintf("Days must be a number between %d and %d", MinLookbackDays, MaxLookbackDays),
		}
	}

	return nil
}

// Trends buckets the given results by the grouping unit and returns the
// per-bucket statistics sorted ascending by period label. The caller is
// responsible for restricting the input to the lookback window.
//
// Hour, day and month buckets come straight from timestamp truncation.
// Week buckets are a rollup of day buckets: counts accumulate into the
// bucket of the preceding-or-same Sunday and the week rate is the plain
// mean of the daily average rates. This two-stage average differs from a
// single pass over the raw records and is kept for compatibility with the
// dashboard's historical numbers.
func Trends(results []model.TestResult, grouping Grouping) []model.TrendBucket {
	if grouping == GroupingWeek {
		return weeklyRollup(bucketBy(results, GroupingDay))
	}

	return bucketBy(results, grouping)
}

type bucketAcc struct {
	executions int
	total      int
	passed     int
	failed     int
	rateSum    float64
	// rated counts only records with total > 0, a zero-total record has no
	// defined pass rate and must not drag the average down.
	rated int
}

func (b *bucketAcc) add(r model.TestResult) {
	b.executions++
	b.total += r.Total
	b.passed += r.Passed
	b.failed += r.Failed

	if rate, ok := r.PassRate(); ok {
		b.rateSum += rate
		b.rated++
	}
}

func (b *bucketAcc) successRate() float64 {
	if b.rated == 0 {
		return 0
	}

	return b.rateSum / float64(b.rated)
}

func bucketBy(results []model.TestResult, grouping Grouping) []model.TrendBucket {
	buckets := map[string]*bucketAcc{}

	for _, r := range results {
		key := periodKey(r.CreatedAt, grouping)

		b := buckets[key]
		if b == nil {
			b = &bucketAcc{}
			buckets[key] = b
		}

		b.add(r)
	}

	out := make([]model.TrendBucket, 0, len(buckets))
	for period, b := range buckets {
		out = append(out, model.TrendBucket{
			Period:      period,
			Executions:  b.executions,
			TotalTests:  b.total,
			PassedTests: b.passed,
			FailedTests: b.failed,
			SuccessRate: b.successRate(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })

	return out
}

func periodKey(t time.Time, grouping Grouping) string {
	switch grouping {
	case GroupingHour:
		return t.Format("2006-01-02 15:00")
	case GroupingMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// weeklyRollup folds day buckets into week buckets keyed by the start of
// the week (the preceding or same Sunday). The week's rate is the mean of
// the already-averaged daily rates, every day bucket contributes equally
// regardless of how many executions it holds.
func weeklyRollup(days []model.TrendBucket) []model.TrendBucket {
	type weekAcc struct {
		bucketAcc
		daySum float64
		days   int
	}

	weeks := map[string]*weekAcc{}

	for _, d := range days {
		day, err := time.Parse("2006-01-02", d.Period)
		if err != nil {
			continue
		}

		weekStart := day.AddDate(0, 0, -int(day.Weekday()))
		key := weekStart.Format("2006-01-02")

		w := weeks[key]
		if w == nil {
			w = &weekAcc{}
			weeks[key] = w
		}

		w.executions += d.Executions
		w.total += d.TotalTests
		w.passed += d.PassedTests
		w.failed += d.FailedTests
		w.daySum += d.SuccessRate
		w.days++
	}

	out := make([]model.TrendBucket, 0, len(weeks))
	for period, w := range weeks {
		rate := 0.0
		if w.days > 0 {
			rate = w.daySum / float64(w.days)
		}

		out = append(out, model.TrendBucket{
			Period:      period,
			Executions:  w.executions,
			TotalTests:  w.total,
			PassedTests: w.passed,
			FailedTests: w.failed,
			SuccessRate: rate,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })

	return out
}

// ProjectTrends buckets results by suite and day. When project is non-empty
// only results of that project category are considered.
func ProjectTrends(results []model.TestResult, project string) []model.ProjectTrendBucket {
	type suiteDay struct {
		suite  string
		period string
	}

	buckets := map[suiteDay]*bucketAcc{}

	for _, r := range results {
		if project != "" && r.ProjectCategory != project {
			continue
		}

		key := suiteDay{suite: r.SuiteName, period: periodKey(r.CreatedAt, GroupingDay)}

		b := buckets[key]
		if b == nil {
			b = &bucketAcc{}
			buckets[key] = b
		}

		b.add(r)
	}

	out := make([]model.ProjectTrendBucket, 0, len(buckets))
	for key, b := range buckets {
		out = append(out, model.ProjectTrendBucket{
			SuiteName:   key.suite,
			Period:      key.period,
			Executions:  b.executions,
			TotalTests:  b.total,
			PassedTests: b.passed,
			FailedTests: b.failed,
			SuccessRate: b.successRate(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SuiteName != out[j].SuiteName {
			return out[i].SuiteName < out[j].SuiteName
		}
		return out[i].Period < out[j].Period
	})

	return out
}

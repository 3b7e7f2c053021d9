package aggregate

import (
	"sort"
	"strings"

	"github.com/qadash/qadash/internal/model"
)

// maxFailureGroups limits the ranking to the top recurring categories.
const maxFailureGroups = 5

// TopFailures extracts an error-category label from every failing record,
// accumulates failed counts per category and returns the top categories
// ranked by summed failed count, descending. Records without failures
// contribute nothing even when their error fields are populated, such
// input is treated as inconsistent rather than an error.
func TopFailures(results []model.TestResult) []model.FailureGroup {
	groups := map[string]*model.FailureGroup{}

	for _, r := range results {
		if r.Failed == 0 {
			continue
		}

		label := failureLabel(r)

		g := groups[label]
		if g == nil {
			g = &model.FailureGroup{Type: label}
			groups[label] = g
		}

		g.Count += r.Failed
		g.Suites = append(g.Suites, r.SuiteName)
	}

	ranked := make([]model.FailureGroup, 0, len(groups))
	for _, g := range groups {
		ranked = append(ranked, *g)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })

	if len(ranked) > maxFailureGroups {
		ranked = ranked[:maxFailureGroups]
	}

	return ranked
}

// failureLabel prefers the explicit error type and otherwise derives a
// label from the first line of the error details: the substring before the
// first colon, or the first 50 characters with a truncation marker when no
// colon is present.
func failureLabel(r model.TestResult) string {
	if r.ErrorType != "" {
		return r.ErrorType
	}

	if r.ErrorDetails == "" {
		return "Unknown Error"
	}

	firstLine, _, _ := strings.Cut(r.ErrorDetails, "\n")

	if before, _, found := strings.Cut(firstLine, ":"); found {
		return strings.TrimSpace(before)
	}

	if len(firstLine) > 50 {
		return firstLine[:50] + "..."
	}

	return firstLine
}

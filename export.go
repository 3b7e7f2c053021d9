package qadash

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/qadash/qadash/internal/model"
)

var csvHeader = []string{
	"ID",
	"Suite Name",
	"Framework",
	"Test Type",
	"Total",
	"Passed",
	"Failed",
	"Pass Rate %",
	"Project Category",
	"Created At",
}

func writeResultsCSV(w io.Writer, results []model.TestResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range results {
		passRate := "0"
		if rate, ok := r.PassRate(); ok {
			passRate = strconv.FormatFloat(rate, 'f', 2, 64)
		}

		record := []string{
			strconv.Itoa(r.ID),
			r.SuiteName,
			r.Framework,
			r.TestType,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Passed),
			strconv.Itoa(r.Failed),
			passRate,
			r.ProjectCategory,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}

type exportDocument struct {
	GeneratedAt     string             `json:"generated_at"`
	TotalExecutions int                `json:"total_executions"`
	Results         []model.TestResult `json:"results"`
}

func writeResultsJSON(w io.Writer, results []model.TestResult) error {
	doc := exportDocument{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		TotalExecutions: len(results),
		Results:         results,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(doc)
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	results, err := s.loadResultsForRange(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="qadash-report.csv"`)

	if err := writeResultsCSV(w, results); err != nil {
		s.log.Error("error writing csv export", "error", err)
	}
}

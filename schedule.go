package qadash

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/robfig/cron/v3"

	"github.com/qadash/qadash/internal/model"
	"github.com/qadash/qadash/internal/storage"
)

const (
	ExportFormatCSV  = "csv"
	ExportFormatJSON = "json"
)

// exportScheduler runs recurring report exports into the export directory.
type exportScheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]exportJob

	dir     string
	storage *storage.Storage
	log     *slog.Logger
}

type exportJob struct {
	cfg     model.ScheduledExport
	entryID cron.EntryID
}

func newExportScheduler(dir string, store *storage.Storage, log *slog.Logger) *exportScheduler {
	return &exportScheduler{
		cron:    cron.New(),
		jobs:    map[string]exportJob{},
		dir:     dir,
		storage: store,
		log:     log,
	}
}

func (e *exportScheduler) Start() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory %q: %w", e.dir, err)
	}

	e.cron.Start()

	return nil
}

func (e *exportScheduler) Stop() {
	<-e.cron.Stop().Done()
}

// Schedule registers or replaces a recurring export. Disabled jobs are kept
// but not run.
func (e *exportScheduler) Schedule(cfg model.ScheduledExport) error {
	if cfg.Format != ExportFormatCSV && cfg.Format != ExportFormatJSON {
		return model.ValidationError{
			Message: "Invalid format",
			Detail:  "Format must be either csv or json",
		}
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return model.ValidationError{
			Message: "Invalid schedule",
			Detail:  fmt.Sprintf("Schedule must be a valid cron expression: %v", err),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.jobs[cfg.ID]; ok {
		e.cron.Remove(existing.entryID)
	}

	job := exportJob{cfg: cfg}

	if cfg.Enabled {
		entryID, err := e.cron.AddFunc(cfg.Schedule, func() { e.runExport(cfg) })
		if err != nil {
			return fmt.Errorf("scheduling export %q: %w", cfg.ID, err)
		}
		job.entryID = entryID
	}

	e.jobs[cfg.ID] = job

	return nil
}

func (e *exportScheduler) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[id]
	if !ok {
		return false
	}

	if job.cfg.Enabled {
		e.cron.Remove(job.entryID)
	}
	delete(e.jobs, id)

	return true
}

func (e *exportScheduler) Jobs() []model.ScheduledExport {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := make([]model.ScheduledExport, 0, len(e.jobs))
	for _, job := range e.jobs {
		jobs = append(jobs, job.cfg)
	}

	return jobs
}

func (e *exportScheduler) runExport(cfg model.ScheduledExport) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := e.storage.LoadTestResults(ctx)
	if err != nil {
		e.log.Error("scheduled export failed", "id", cfg.ID, "error", err)
		return
	}

	prefix := cfg.Filename
	if prefix == "" {
		prefix = "qadash-export"
	}

	timestamp := strings.NewReplacer(":", "-", ".", "-").
		Replace(time.Now().UTC().Format(time.RFC3339))

	path := filepath.Join(e.dir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, cfg.Format))

	file, err := os.Create(path)
	if err != nil {
		e.log.Error("scheduled export failed", "id", cfg.ID, "error", err)
		return
	}
	defer file.Close()

	switch cfg.Format {
	case ExportFormatJSON:
		err = writeResultsJSON(file, results)
	default:
		err = writeResultsCSV(file, results)
	}

	if err != nil {
		e.log.Error("scheduled export failed", "id", cfg.ID, "error", err)
		return
	}

	e.log.Info("scheduled export written", "id", cfg.ID, "file", path, "results", len(results))
}

// ScheduleRetention registers a nightly job that prunes results older than
// the given number of days.
func (e *exportScheduler) ScheduleRetention(days int) error {
	if days < 1 {
		return fmt.Errorf("retention days must be positive, got %d", days)
	}

	_, err := e.cron.AddFunc("30 3 * * *", func() { e.runRetention(days) })
	if err != nil {
		return fmt.Errorf("scheduling retention job: %w", err)
	}

	return nil
}

func (e *exportScheduler) runRetention(days int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := e.storage.DeleteTestResultsBefore(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		e.log.Error("retention cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		e.log.Info("retention cleanup removed old results", "deleted", deleted, "days", days)
	}
}

// CleanupOldExports removes export files older than the given number of days
// and returns how many were deleted.
func (e *exportScheduler) CleanupOldExports(days int) (int, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading export directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(e.dir, entry.Name())); err != nil {
			e.log.Warn("could not remove old export", "file", entry.Name(), "error", err)
			continue
		}

		deleted++
	}

	return deleted, nil
}

func (s *Server) getSchedules(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	jobs := s.exports.Jobs()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Scheduled jobs retrieved successfully",
		"count":   len(jobs),
		"data":    jobs,
	})
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cfg model.ScheduledExport
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	if cfg.ID == "" || cfg.Schedule == "" || cfg.Format == "" {
		s.httpError(w, model.ValidationError{
			Message:  "Missing required fields",
			Required: []string{"id", "schedule", "format"},
		})
		return
	}

	if err := s.exports.Schedule(cfg); err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Scheduled job created successfully",
		"data":    cfg,
	})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")

	if !s.exports.Remove(id) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "Job not found",
			"message": fmt.Sprintf("No scheduled job with id: %s", id),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Scheduled job removed successfully",
	})
}

func (s *Server) cleanupExports(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	days, err := lookbackDays(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	deleted, err := s.exports.CleanupOldExports(days)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Cleanup completed successfully",
		"deletedCount": deleted,
	})
}

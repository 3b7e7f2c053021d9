package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/qadash/qadash/internal/model"
)

//go:embed migrations/*.sql
var fs embed.FS

type Storage struct {
	db  *sqlx.DB
	log *slog.Logger
}

// New opens (or creates) the sqlite database and applies all pending
// migrations. An empty filename opens a shared in-memory database, which
// is what the tests use.
func New(dbFilename string, log *slog.Logger) (*Storage, error) {
	db, err := sqlx.Connect("sqlite", connectionString(dbFilename))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	row := db.QueryRow("select sqlite_version()")

	var version string
	if err = row.Scan(&version); err != nil {
		return nil, fmt.Errorf("unable to retrieve sqlite version: %w", err)
	}

	log.Info("Using sqlite version: " + version)

	s := &Storage{
		db:  db,
		log: log,
	}

	if err = s.migrateDB(db); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func connectionString(filename string) string {
	var cs string
	var options = []string{"_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)", "_pragma=foreign_keys(1)", "_pragma=synchronous(normal)"}

	if filename != "" {
		cs = filename
	} else {
		cs = "file:" + randomAlphanumeric(16)
		options = append(options, "mode=memory", "cache=shared")
	}

	for i, o := range options {
		if i == 0 {
			cs += "?"
		} else {
			cs += "&"
		}
		cs += o
	}

	return cs
}

const alphaNumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphaNumericChars[rand.Intn(len(alphaNumericChars))]
	}
	return string(b)
}

func (s *Storage) migrateDB(db *sqlx.DB) error {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("load db migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("load migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate with instance: %w", err)
	}

	err = m.Up()

	if err == migrate.ErrNoChange {
		s.log.Info("No migrations have been applied. The DB is at the latest state.")
	} else if err != nil {
		return fmt.Errorf("applying db migrations: %w", err)
	}

	return nil
}

const testResultColumns = `id, suite_name, framework, test_type, project_category,
	total, passed, failed, error_type, error_message, error_details, created_at`

// InsertTestResult appends a new result row. Results are never updated in
// place, repeated reports for the same suite name each get their own row so
// that trend aggregation sees the full per-execution history.
func (s *Storage) InsertTestResult(ctx context.Context, tr model.TestResult) (model.TestResult, error) {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}

	r, err := s.db.NamedQuery(`INSERT INTO test_results
	(suite_name, framework, test_type, project_category, total, passed, failed, error_type, error_message, error_details, created_at) VALUES
	(:suite_name, :framework, :test_type, :project_category, :total, :passed, :failed, :error_type, :error_message, :error_details, :created_at)
	RETURNING id`,
		map[string]any{
			"suite_name":       tr.SuiteName,
			"framework":        tr.Framework,
			"test_type":        tr.TestType,
			"project_category": tr.ProjectCategory,
			"total":            tr.Total,
			"passed":           tr.Passed,
			"failed":           tr.Failed,
			"error_type":       tr.ErrorType,
			"error_message":    tr.ErrorMessage,
			"error_details":    tr.ErrorDetails,
			"created_at":       timeFormat(tr.CreatedAt),
		})
	if err != nil {
		return model.TestResult{}, err
	}
	defer r.Close()

	if !r.Next() {
		return model.TestResult{}, fmt.Errorf("retrieving inserted test result id")
	}

	if err = r.Scan(&tr.ID); err != nil {
		return model.TestResult{}, fmt.Errorf("retrieving inserted test result id: %w", err)
	}

	return tr, nil
}

// LoadTestResults returns all results, newest first.
func (s *Storage) LoadTestResults(ctx context.Context) ([]model.TestResult, error) {
	results := []model.TestResult{}

	r, err := s.db.QueryxContext(ctx, `SELECT `+testResultColumns+`
		FROM test_results ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return results, err
	}
	defer r.Close()

	return scanTestResults(r)
}

// LoadTestResultsByDateRange returns results created within [start, end],
// newest first.
func (s *Storage) LoadTestResultsByDateRange(ctx context.Context, start, end time.Time) ([]model.TestResult, error) {
	results := []model.TestResult{}

	r, err := s.db.NamedQuery(`SELECT `+testResultColumns+`
		FROM test_results WHERE created_at >= :start AND created_at <= :end
		ORDER BY created_at DESC, id DESC`,
		map[string]any{
			"start": timeFormat(start),
			"end":   timeFormat(end),
		})
	if err != nil {
		return results, err
	}
	defer r.Close()

	return scanTestResults(r)
}

// LoadTestResultsSince returns all results created at or after the cutoff,
// oldest first. This feeds the trend aggregators.
func (s *Storage) LoadTestResultsSince(ctx context.Context, cutoff time.Time) ([]model.TestResult, error) {
	results := []model.TestResult{}

	r, err := s.db.NamedQuery(`SELECT `+testResultColumns+`
		FROM test_results WHERE created_at >= :cutoff
		ORDER BY created_at ASC, id ASC`,
		map[string]any{"cutoff": timeFormat(cutoff)})
	if err != nil {
		return results, err
	}
	defer r.Close()

	return scanTestResults(r)
}

func (s *Storage) LoadTestResult(ctx context.Context, id int) (model.TestResult, error) {
	r, err := s.db.NamedQuery(`SELECT `+testResultColumns+`
		FROM test_results WHERE id = :id`,
		map[string]any{"id": id})
	if err != nil {
		return model.TestResult{}, err
	}
	defer r.Close()

	if !r.Next() {
		return model.TestResult{}, model.NotFoundError{}
	}

	return scanTestResult(r)
}

// DeleteTestResultsBefore removes results older than the cutoff and returns
// the number of deleted rows. Used by the retention cleanup.
func (s *Storage) DeleteTestResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r, err := s.db.NamedExecContext(ctx, `DELETE FROM test_results WHERE created_at < :cutoff`,
		map[string]any{"cutoff": timeFormat(cutoff)})
	if err != nil {
		return 0, err
	}

	return r.RowsAffected()
}

// InsertWebhookLog records one webhook delivery. Failures here must not fail
// the ingestion itself, callers log and continue.
func (s *Storage) InsertWebhookLog(ctx context.Context, l model.WebhookLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO webhook_logs
	(source, event_type, status, error_message, created_at) VALUES
	(:source, :event_type, :status, :error_message, :created_at)`,
		map[string]any{
			"source":        l.Source,
			"event_type":    l.EventType,
			"status":        l.Status,
			"error_message": l.ErrorMessage,
			"created_at":    timeFormat(l.CreatedAt),
		})

	return err
}

// LoadWebhookLogs returns the most recent webhook deliveries, newest first.
func (s *Storage) LoadWebhookLogs(ctx context.Context, limit int) ([]model.WebhookLog, error) {
	logs := []model.WebhookLog{}

	r, err := s.db.NamedQuery(`SELECT id, source, event_type, status, error_message, created_at
		FROM webhook_logs ORDER BY created_at DESC, id DESC LIMIT :limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return logs, err
	}
	defer r.Close()

	for r.Next() {
		var l model.WebhookLog
		var created string

		if err := r.Scan(&l.ID, &l.Source, &l.EventType, &l.Status, &l.ErrorMessage, &created); err != nil {
			return nil, fmt.Errorf("scanning webhook log: %w", err)
		}

		if l.CreatedAt, err = parseDate(created); err != nil {
			return nil, fmt.Errorf("parsing webhook log created_at: %w", err)
		}

		logs = append(logs, l)
	}

	return logs, nil
}

// timeFormat stores timestamps in UTC so that the lexicographic range
// queries on created_at match chronological order.
func timeFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseDate(t string) (time.Time, error) {
	return time.Parse(time.RFC3339, t)
}

func scanTestResults(r *sqlx.Rows) ([]model.TestResult, error) {
	results := []model.TestResult{}

	for r.Next() {
		tr, err := scanTestResult(r)
		if err != nil {
			return nil, err
		}

		results = append(results, tr)
	}

	return results, nil
}

func scanTestResult(r *sqlx.Rows) (model.TestResult, error) {
	tr := model.TestResult{}

	var created string

	err := r.Scan(
		&tr.ID,
		&tr.SuiteName,
		&tr.Framework,
		&tr.TestType,
		&tr.ProjectCategory,
		&tr.Total,
		&tr.Passed,
		&tr.Failed,
		&tr.ErrorType,
		&tr.ErrorMessage,
		&tr.ErrorDetails,
		&created,
	)
	if err != nil {
		return model.TestResult{}, fmt.Errorf("scanning test result: %w", err)
	}

	if tr.CreatedAt, err = parseDate(created); err != nil {
		return model.TestResult{}, fmt.Errorf("parsing created_at: %w", err)
	}

	return tr, nil
}

// Package qadash is a small service that ingests test-execution summaries
// from ci webhooks and direct api calls, persists them and serves
// aggregated views (trends, top failures, exports) to a dashboard, with
// best-effort push notification of new results.
package qadash

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/qadash/qadash/internal/hook"
	"github.com/qadash/qadash/internal/metric"
	"github.com/qadash/qadash/internal/model"
	"github.com/qadash/qadash/internal/storage"
	"github.com/qadash/qadash/internal/webhook"
)

type Server struct {
	port       int
	dbFilename string
	exportDir  string

	log      *slog.Logger
	storage  *storage.Storage
	secrets  webhook.Secrets
	notifier *broker
	hooks    []hook.Listener
	exports  *exportScheduler

	generalLimit *limiterClass
	webhookLimit *limiterClass
	exportLimit  *limiterClass

	httpServer *http.Server
	listenPort int
	started    chan struct{}
}

// New configures a new Server instance. Options provide defaults that
// command line flags may still override.
func New(opts ...option) *Server {
	s := &Server{
		port:       3001,
		dbFilename: "qadash.db",
		exportDir:  "exports",
		log:        slog.Default(),
		notifier:   newBroker(),
		started:    make(chan struct{}),

		generalLimit: newLimiterClass(100, 15*time.Minute,
			"You have exceeded the 100 requests in 15 minutes limit!"),
		webhookLimit: newLimiterClass(30, time.Minute,
			"Webhook rate limit exceeded. Please wait before sending more requests."),
		exportLimit: newLimiterClass(10, 5*time.Minute,
			"You have exceeded the export limit. Please wait before requesting more exports."),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Run parses flags and environment, opens the store, starts the export
// scheduler and serves http until Shutdown is called.
func (s *Server) Run() error {
	s.parseFlags()

	// a missing .env file is fine, config can come from the environment
	_ = godotenv.Load()

	s.secrets = webhook.Secrets{
		GitHub:  os.Getenv("GITHUB_WEBHOOK_SECRET"),
		Jenkins: os.Getenv("JENKINS_WEBHOOK_TOKEN"),
		GitLab:  os.Getenv("GITLAB_WEBHOOK_TOKEN"),
	}

	store, err := storage.New(s.dbFilename, s.log)
	if err != nil {
		return err
	}
	s.storage = store

	if url := os.Getenv("ELASTICSEARCH_URL"); url != "" {
		es, err := hook.NewElasticHook(url, os.Getenv("ELASTICSEARCH_INDEX"), s.log)
		if err != nil {
			return err
		}
		s.hooks = append(s.hooks, es)
	}

	for _, h := range s.hooks {
		if err := h.Init(); err != nil {
			return fmt.Errorf("initiating hook %q: %w", h.Name(), err)
		}
	}

	s.exports = newExportScheduler(s.exportDir, s.storage, s.log)
	if err := s.exports.Start(); err != nil {
		return err
	}

	if v := os.Getenv("RESULT_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RESULT_RETENTION_DAYS %q: %w", v, err)
		}
		if err := s.exports.ScheduleRetention(days); err != nil {
			return err
		}
	}

	return s.runHTTP()
}

func (s *Server) parseFlags() {
	flags := flag.NewFlagSet("qadash", flag.ExitOnError)

	port := flags.Int("p", s.port, "port used by the http server")
	dbFilename := flags.String("d", s.dbFilename, "sqlite database file (empty for in-memory)")
	exportDir := flags.String("e", s.exportDir, "directory for scheduled export files")

	// flags.Parse with ExitOnError only fails on -h
	_ = flags.Parse(os.Args[1:])

	s.port = *port
	s.dbFilename = *dbFilename
	s.exportDir = *exportDir
}

// WaitForStartup blocks until the http server is accepting connections.
func (s *Server) WaitForStartup() {
	<-s.started
}

// Shutdown stops the export scheduler, disconnects event subscribers and
// closes the http server and the store.
func (s *Server) Shutdown() error {
	if s.exports != nil {
		s.exports.Stop()
	}

	s.notifier.Close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("could not shut down http server", "error", err)
		}
	}

	if s.storage != nil {
		return s.storage.Close()
	}

	return nil
}

// ingest is the single write path: persist the record, then fan out the
// new-result event and notify hooks. Fan-out is fire-and-forget and never
// blocks or fails the write.
func (s *Server) ingest(ctx context.Context, tr model.TestResult, eventType, source string) (model.TestResult, error) {
	saved, err := s.storage.InsertTestResult(ctx, tr)
	if err != nil {
		return model.TestResult{}, fmt.Errorf("saving test result: %w", err)
	}

	metric.ResultsIngested.WithLabelValues(source, saved.Framework).Inc()

	s.notifier.Publish(Event{
		Type:      eventType,
		Data:      saved,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	for _, h := range s.hooks {
		h := h
		go h.ResultIngested(context.WithoutCancel(ctx), saved)
	}

	return saved, nil
}

package qadash

import (
	"log/slog"

	"github.com/qadash/qadash/internal/hook"
)

type option func(s *Server)

// WithPort sets the default http port, 0 picks a random free one.
func WithPort(port int) option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDatabase sets the sqlite database file. An empty filename opens an
// in-memory database.
func WithDatabase(filename string) option {
	return func(s *Server) {
		s.dbFilename = filename
	}
}

// WithExportDir sets the directory scheduled exports are written to.
func WithExportDir(dir string) option {
	return func(s *Server) {
		s.exportDir = dir
	}
}

func WithLogger(log *slog.Logger) option {
	return func(s *Server) {
		s.log = log
	}
}

// WithHook registers an additional ingestion listener.
func WithHook(h hook.Listener) option {
	return func(s *Server) {
		s.hooks = append(s.hooks, h)
	}
}

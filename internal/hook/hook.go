// Package hook contains optional listeners that react to newly ingested
// results. Hooks are best-effort: failures are logged and never block or
// fail the ingestion path.
package hook

import (
	"context"

	"github.com/qadash/qadash/internal/model"
)

// Listener is notified after a result has been persisted.
type Listener interface {
	Name() string
	Init() error
	ResultIngested(ctx context.Context, r model.TestResult)
}

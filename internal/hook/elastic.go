package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/qadash/qadash/internal/model"
)

// ElasticHook indexes every ingested result into an elasticsearch index so
// that results can be queried alongside application logs.
type ElasticHook struct {
	client *elasticsearch.Client
	index  string

	log *slog.Logger
}

func NewElasticHook(address, index string, log *slog.Logger) (*ElasticHook, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	if index == "" {
		index = "qadash-results"
	}

	return &ElasticHook{
		client: client,
		index:  index,
		log:    log,
	}, nil
}

func (h *ElasticHook) Name() string {
	return "elastic-search"
}

func (h *ElasticHook) Init() error {
	res, err := h.client.Info()
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("pinging elasticsearch: %s", res.String())
	}

	return nil
}

func (h *ElasticHook) ResultIngested(ctx context.Context, r model.TestResult) {
	body, err := json.Marshal(r)
	if err != nil {
		h.log.Error("unable to marshal test result for indexing", "error", err)
		return
	}

	res, err := h.client.Index(h.index, bytes.NewReader(body), h.client.Index.WithContext(ctx))
	if err != nil {
		h.log.Error("unable to index test result", "error", err)
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		h.log.Error("unable to index test result", "response", res.String())
	}
}

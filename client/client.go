// Package client is a small http client for the qadash api.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qadash/qadash/internal/model"
)

type TestResult = model.TestResult
type TrendBucket = model.TrendBucket
type FailureGroup = model.FailureGroup

type Client struct {
	http *http.Client
	host string
}

type RequestError struct {
	ResponseCode int
}

func (e RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.ResponseCode)
}

func New(host string, c *http.Client) Client {
	return Client{http: c, host: host}
}

type resultEnvelope struct {
	Message string     `json:"message"`
	Data    TestResult `json:"data"`
}

type resultsEnvelope struct {
	Message string       `json:"message"`
	Count   int          `json:"count"`
	Data    []TestResult `json:"data"`
}

type trendsEnvelope struct {
	Message  string        `json:"message"`
	Grouping string        `json:"grouping"`
	Days     int           `json:"days"`
	Count    int           `json:"count"`
	Data     []TrendBucket `json:"data"`
}

type failuresEnvelope struct {
	Message string         `json:"message"`
	Count   int            `json:"count"`
	Data    []FailureGroup `json:"data"`
}

func (c Client) CreateResult(ctx context.Context, result TestResult) (TestResult, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return TestResult{}, err
	}

	req, err := http.NewRequest("POST", c.url("/api/v1/results"), bytes.NewReader(body))
	if err != nil {
		return TestResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var envelope resultEnvelope

	if err = c.do(ctx, req, &envelope); err != nil {
		return TestResult{}, err
	}

	return envelope.Data, nil
}

func (c Client) GetResults(ctx context.Context) ([]TestResult, error) {
	req, err := http.NewRequest("GET", c.url("/api/v1/results"), nil)
	if err != nil {
		return nil, err
	}

	var envelope resultsEnvelope

	if err = c.do(ctx, req, &envelope); err != nil {
		return nil, err
	}

	return envelope.Data, nil
}

func (c Client) GetResult(ctx context.Context, id int) (TestResult, error) {
	req, err := http.NewRequest("GET", c.url("/api/v1/results/%d", id), nil)
	if err != nil {
		return TestResult{}, err
	}

	var envelope resultEnvelope

	if err = c.do(ctx, req, &envelope); err != nil {
		return TestResult{}, err
	}

	return envelope.Data, nil
}

func (c Client) GetTrends(ctx context.Context, grouping string, days int) ([]TrendBucket, error) {
	req, err := http.NewRequest("GET", c.url("/api/v1/trends?grouping=%s&days=%d", grouping, days), nil)
	if err != nil {
		return nil, err
	}

	var envelope trendsEnvelope

	if err = c.do(ctx, req, &envelope); err != nil {
		return nil, err
	}

	return envelope.Data, nil
}

func (c Client) GetTopFailures(ctx context.Context) ([]FailureGroup, error) {
	req, err := http.NewRequest("GET", c.url("/api/v1/failures/top"), nil)
	if err != nil {
		return nil, err
	}

	var envelope failuresEnvelope

	if err = c.do(ctx, req, &envelope); err != nil {
		return nil, err
	}

	return envelope.Data, nil
}

func (c Client) url(path string, args ...any) string {
	return fmt.Sprintf(c.host+path, args...)
}

func (c Client) do(ctx context.Context, req *http.Request, body any) error {
	req = req.WithContext(ctx)
	req.Header.Add("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return RequestError{res.StatusCode}
	}

	if body != nil {
		d := json.NewDecoder(res.Body)

		if err = d.Decode(body); err != nil {
			return err
		}
	}

	return nil
}

package qadash_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qadash/qadash/client"
)

func (ti *test) request(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, ti.host+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}

	decoded := map[string]any{}
	if len(raw) > 0 && strings.Contains(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decoding response body %q: %v", raw, err)
		}
	}

	return res, decoded
}

func githubSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(githubSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHealth(t *testing.T) {
	res, body := te.request(t, "GET", "/health", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndFetchResult(t *testing.T) {
	created, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "Checkout Regression",
		Framework: "Playwright",
		TestType:  "E2E",
		Total:     10,
		Passed:    7,
		Failed:    3,
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	assert.NotZero(t, created.ID)

	loaded, err := te.client.GetResult(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("fetching result: %v", err)
	}

	assert.Equal(t, "Checkout Regression", loaded.SuiteName)
	assert.Equal(t, 10, loaded.Total)
	assert.Equal(t, 7, loaded.Passed)
	assert.Equal(t, 3, loaded.Failed)
}

func TestCreateResultAppliesDefaults(t *testing.T) {
	created, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "Payment Gateway Smoke",
		Total:     5,
		Passed:    5,
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	assert.Equal(t, "Unknown", created.Framework)
	assert.Equal(t, "Functional", created.TestType)
	assert.Equal(t, "Banking", created.ProjectCategory, "category should be inferred from the suite name")
}

func TestCreateResultMissingFields(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/results",
		[]byte(`{"suite_name":"incomplete","total":10}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Missing required fields", body["error"])
	assert.Contains(t, body, "required")
}

func TestCreateResultNonNumericCounts(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/results",
		[]byte(`{"suite_name":"bad types","total":"10","passed":"8","failed":"2"}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "total, passed, and failed must be numbers", body["error"])
}

func TestGetUnknownResultReturns404(t *testing.T) {
	_, err := te.client.GetResult(context.Background(), 987654)

	var reqError client.RequestError
	if !errors.As(err, &reqError) {
		t.Fatalf("expected RequestError but got %T: %v", err, err)
	}

	assert.Equal(t, http.StatusNotFound, reqError.ResponseCode)
}

func TestGetResultNonNumericIDReturns404(t *testing.T) {
	res, body := te.request(t, "GET", "/api/v1/results/abc", nil, nil)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "Result not found", body["error"])
}

func TestGetResultsListsCreatedResults(t *testing.T) {
	_, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "List Me",
		Total:     1,
		Passed:    1,
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	results, err := te.client.GetResults(context.Background())
	if err != nil {
		t.Fatalf("listing results: %v", err)
	}

	found := false
	for _, r := range results {
		if r.SuiteName == "List Me" {
			found = true
		}
	}

	assert.True(t, found, "created result should appear in the listing")
}

func TestTrends(t *testing.T) {
	_, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "Trend Feed",
		Total:     10,
		Passed:    10,
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	buckets, err := te.client.GetTrends(context.Background(), "day", 30)
	if err != nil {
		t.Fatalf("fetching trends: %v", err)
	}

	assert.NotEmpty(t, buckets, "today's results should produce at least one bucket")

	for i := 1; i < len(buckets); i++ {
		assert.Less(t, buckets[i-1].Period, buckets[i].Period, "buckets should be sorted ascending")
	}
}

func TestTrendsInvalidGrouping(t *testing.T) {
	res, body := te.request(t, "GET", "/api/v1/trends?grouping=fortnight", nil, nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Invalid grouping parameter", body["error"])
	assert.Equal(t, "Grouping must be one of: hour, day, week, month", body["message"])
}

func TestTrendsInvalidDays(t *testing.T) {
	res, body := te.request(t, "GET", "/api/v1/trends?days=9999", nil, nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Invalid days parameter", body["error"])

	res, _ = te.request(t, "GET", "/api/v1/trends?days=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestProjectTrendsEndpoint(t *testing.T) {
	res, body := te.request(t, "GET", "/api/v1/trends/projects", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "all", body["project"])

	res, body = te.request(t, "GET", "/api/v1/trends/projects?project=Banking", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Banking", body["project"])
}

func TestTopFailuresEndpoint(t *testing.T) {
	_, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "Failing Suite",
		Total:     10,
		Passed:    3,
		Failed:    7,
		ErrorType: "FlakyNetworkError",
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	failures, err := te.client.GetTopFailures(context.Background())
	if err != nil {
		t.Fatalf("fetching failures: %v", err)
	}

	assert.NotEmpty(t, failures)
	assert.LessOrEqual(t, len(failures), 5)

	found := false
	for _, f := range failures {
		if f.Type == "FlakyNetworkError" {
			found = true
			assert.GreaterOrEqual(t, f.Count, 7)
		}
	}
	assert.True(t, found, "the created failure category should be ranked")
}

func TestGitHubWebhook(t *testing.T) {
	payload := []byte(`{
		"repository": {"name": "webhook-repo"},
		"workflow_run": {"name": "CI", "conclusion": "success"}
	}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/github", payload, map[string]string{
		"X-GitHub-Event":      "workflow_run",
		"X-Hub-Signature-256": githubSignature(payload),
	})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Webhook processed successfully", body["message"])
	assert.Equal(t, "workflow_run", body["event"])

	results, err := te.client.GetResults(context.Background())
	if err != nil {
		t.Fatalf("listing results: %v", err)
	}

	found := false
	for _, r := range results {
		if r.SuiteName == "webhook-repo - CI" {
			found = true
			assert.Equal(t, "GitHub Actions", r.Framework)
			assert.Equal(t, 10, r.Passed)
		}
	}
	assert.True(t, found, "the webhook should have created a result")
}

func TestGitHubWebhookBadSignature(t *testing.T) {
	payload := []byte(`{"repository":{"name":"x"},"workflow_run":{"name":"CI","conclusion":"success"}}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/github", payload, map[string]string{
		"X-GitHub-Event":      "workflow_run",
		"X-Hub-Signature-256": "sha256=" + strings.Repeat("0", 64),
	})

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid signature", body["error"])
}

func TestGitHubWebhookMissingSignature(t *testing.T) {
	payload := []byte(`{"repository":{"name":"x"},"workflow_run":{"name":"CI","conclusion":"success"}}`)

	res, _ := te.request(t, "POST", "/api/v1/webhooks/github", payload, map[string]string{
		"X-GitHub-Event": "workflow_run",
	})

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode,
		"with a secret configured an unsigned delivery must be rejected")
}

func TestGitHubWebhookOtherEventsAcknowledged(t *testing.T) {
	payload := []byte(`{"zen":"Keep it logically awesome."}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/github", payload, map[string]string{
		"X-GitHub-Event":      "ping",
		"X-Hub-Signature-256": githubSignature(payload),
	})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ping", body["event"])
}

func TestJenkinsWebhook(t *testing.T) {
	payload := []byte(`{
		"name": "nightly-regression",
		"build": {"number": 42, "result": "SUCCESS", "total_tests": 120, "passed_tests": 118, "failed_tests": 2}
	}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/jenkins", payload, map[string]string{
		"Authorization": "Bearer " + jenkinsToken,
	})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(42), body["buildNumber"])

	results, err := te.client.GetResults(context.Background())
	if err != nil {
		t.Fatalf("listing results: %v", err)
	}

	found := false
	for _, r := range results {
		if r.SuiteName == "nightly-regression #42" {
			found = true
			assert.Equal(t, 120, r.Total)
			assert.Equal(t, 118, r.Passed)
		}
	}
	assert.True(t, found)
}

func TestJenkinsWebhookWrongToken(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/webhooks/jenkins",
		[]byte(`{"name":"x","build":{"number":1}}`), map[string]string{
			"Authorization": "Bearer wrong",
		})

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid token", body["error"])
}

func TestGitLabWebhook(t *testing.T) {
	payload := []byte(`{
		"object_kind": "pipeline",
		"project": {"name": "gitlab-project"},
		"object_attributes": {"id": 512, "status": "failed"}
	}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/gitlab", payload, map[string]string{
		"X-Gitlab-Token": gitlabToken,
	})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "pipeline", body["objectKind"])

	results, err := te.client.GetResults(context.Background())
	if err != nil {
		t.Fatalf("listing results: %v", err)
	}

	found := false
	for _, r := range results {
		if r.SuiteName == "gitlab-project - Pipeline #512" {
			found = true
			assert.Equal(t, 2, r.Failed)
			assert.Equal(t, "Pipeline Failure", r.ErrorType)
		}
	}
	assert.True(t, found)
}

func TestGitLabWebhookOtherEventsAcknowledged(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/webhooks/gitlab",
		[]byte(`{"object_kind":"push"}`), map[string]string{
			"X-Gitlab-Token": gitlabToken,
		})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "push", body["objectKind"])
}

func TestGitLabWebhookWrongToken(t *testing.T) {
	res, _ := te.request(t, "POST", "/api/v1/webhooks/gitlab",
		[]byte(`{"object_kind":"pipeline"}`), map[string]string{
			"X-Gitlab-Token": "wrong",
		})

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestGenericWebhook(t *testing.T) {
	payload := []byte(`{
		"suite_name": "Partner Integration Suite",
		"total": 30,
		"passed": 28,
		"failed": 2
	}`)

	res, body := te.request(t, "POST", "/api/v1/webhooks/generic", payload, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Webhook processed successfully", body["message"])

	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object in response, got %v", body["data"])
	}

	assert.Equal(t, "Partner Integration Suite", data["suite_name"])
	assert.Equal(t, "Generic", data["framework"])
	assert.NotZero(t, data["id"])
}

func TestGenericWebhookMissingFields(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/webhooks/generic",
		[]byte(`{"suite_name":"incomplete"}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Invalid payload", body["error"])
	assert.Contains(t, body, "required")
}

func TestWebhookInfo(t *testing.T) {
	res, body := te.request(t, "GET", "/api/v1/webhooks", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)

	endpoints, ok := body["endpoints"].(map[string]any)
	if !ok {
		t.Fatalf("expected endpoints object, got %v", body["endpoints"])
	}

	for _, provider := range []string{"github", "jenkins", "gitlab", "generic"} {
		assert.Contains(t, endpoints, provider)
	}
}

func TestWebhookLogs(t *testing.T) {
	// provoke a rejected delivery so the log has at least one entry
	res, _ := te.request(t, "POST", "/api/v1/webhooks/jenkins",
		[]byte(`{"name":"x"}`), map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := te.request(t, "GET", "/api/v1/webhooks/logs", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)

	logs, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected logs list, got %v", body["data"])
	}
	assert.NotEmpty(t, logs)

	entry := logs[0].(map[string]any)
	assert.Contains(t, []any{"processed", "ignored", "rejected", "invalid"}, entry["status"])

	res, _ = te.request(t, "GET", "/api/v1/webhooks/logs?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestExportCSV(t *testing.T) {
	_, err := te.client.CreateResult(context.Background(), client.TestResult{
		SuiteName: "Export Me",
		Total:     10,
		Passed:    9,
		Failed:    1,
	})
	if err != nil {
		t.Fatalf("creating result: %v", err)
	}

	res, err := http.Get(te.host + "/api/v1/export/csv")
	if err != nil {
		t.Fatalf("fetching export: %v", err)
	}
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/csv", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "qadash-report.csv")

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "ID,Suite Name,Framework,Test Type,Total,Passed,Failed,Pass Rate %,Project Category,Created At", lines[0])
	assert.Contains(t, string(raw), "Export Me")
	assert.Contains(t, string(raw), "90.00")
}

func TestScheduleLifecycle(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/schedules",
		[]byte(`{"id":"weekly-report","schedule":"0 8 * * 1","format":"csv","enabled":false}`), nil)

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "Scheduled job created successfully", body["message"])

	res, body = te.request(t, "GET", "/api/v1/schedules", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	jobs, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected jobs list, got %v", body["data"])
	}

	found := false
	for _, j := range jobs {
		job := j.(map[string]any)
		if job["id"] == "weekly-report" {
			found = true
		}
	}
	assert.True(t, found)

	res, _ = te.request(t, "DELETE", "/api/v1/schedules/weekly-report", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = te.request(t, "DELETE", "/api/v1/schedules/weekly-report", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "Job not found", body["error"])
	assert.Equal(t, "No scheduled job with id: weekly-report", body["message"])
}

func TestScheduleInvalidFormat(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/schedules",
		[]byte(`{"id":"bad","schedule":"0 8 * * 1","format":"xml"}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Invalid format", body["error"])
	assert.Equal(t, "Format must be either csv or json", body["message"])
}

func TestScheduleInvalidCronExpression(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/schedules",
		[]byte(`{"id":"bad","schedule":"not a cron","format":"csv"}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Invalid schedule", body["error"])
}

func TestScheduleMissingFields(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/schedules", []byte(`{"id":"only-id"}`), nil)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Missing required fields", body["error"])
}

func TestCleanupExports(t *testing.T) {
	res, body := te.request(t, "POST", "/api/v1/schedules/cleanup?days=30", nil, nil)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Cleanup completed successfully", body["message"])
	assert.Contains(t, body, "deletedCount")
}

func TestMetricsEndpoint(t *testing.T) {
	res, err := http.Get(te.host + "/metrics")
	if err != nil {
		t.Fatalf("fetching metrics: %v", err)
	}
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}

	assert.Contains(t, string(raw), "qadash_")
}

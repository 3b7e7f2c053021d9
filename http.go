package qadash

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qadash/qadash/internal/aggregate"
	"github.com/qadash/qadash/internal/metric"
	"github.com/qadash/qadash/internal/model"
	"github.com/qadash/qadash/internal/webhook"
)

func (s *Server) runHTTP() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.port, err)
	}

	s.listenPort = listener.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{Handler: s.router()}

	s.log.Info("Server is running", "port", s.listenPort)
	close(s.started)

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// ServerPort returns the port the server is listening on. Only valid after
// WaitForStartup returned.
func (s *Server) ServerPort() int {
	return s.listenPort
}

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()

	router.POST("/api/v1/results", s.limit(s.generalLimit, s.createResult))
	router.GET("/api/v1/results", s.limit(s.generalLimit, s.getResults))
	router.GET("/api/v1/results/:id", s.limit(s.generalLimit, s.getResult))

	router.GET("/api/v1/export/csv", s.limit(s.exportLimit, s.exportCSV))

	router.GET("/api/v1/failures/top", s.limit(s.generalLimit, s.topFailures))
	router.GET("/api/v1/trends", s.limit(s.generalLimit, s.trends))
	router.GET("/api/v1/trends/projects", s.limit(s.generalLimit, s.projectTrends))

	router.GET("/api/v1/webhooks", s.limit(s.generalLimit, s.webhookInfo))
	router.GET("/api/v1/webhooks/logs", s.limit(s.generalLimit, s.webhookLogs))
	router.POST("/api/v1/webhooks/github", s.limit(s.webhookLimit, s.githubWebhook))
	router.POST("/api/v1/webhooks/jenkins", s.limit(s.webhookLimit, s.jenkinsWebhook))
	router.POST("/api/v1/webhooks/gitlab", s.limit(s.webhookLimit, s.gitlabWebhook))
	router.POST("/api/v1/webhooks/generic", s.limit(s.webhookLimit, s.genericWebhook))

	router.GET("/api/v1/schedules", s.limit(s.generalLimit, s.getSchedules))
	router.POST("/api/v1/schedules", s.limit(s.generalLimit, s.createSchedule))
	router.DELETE("/api/v1/schedules/:id", s.limit(s.generalLimit, s.deleteSchedule))
	router.POST("/api/v1/schedules/cleanup", s.limit(s.generalLimit, s.cleanupExports))

	router.GET("/api/v1/events", s.streamEvents)

	router.GET("/health", s.health)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("error writing response body", "error", err)
	}
}

// httpError maps the error taxonomy onto status codes: validation 400,
// authentication 401, not found 404 and everything else 500. Storage error
// messages are passed through for operator diagnosis, this is an internal
// tool.
func (s *Server) httpError(w http.ResponseWriter, err error) {
	var validation model.ValidationError
	var auth model.AuthenticationError
	var notFound model.NotFoundError

	switch {
	case errors.As(err, &validation):
		body := map[string]any{"error": validation.Message}
		if validation.Detail != "" {
			body["message"] = validation.Detail
		}
		if len(validation.Required) > 0 {
			body["required"] = validation.Required
		}
		s.writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &auth):
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":   auth.Message,
			"message": auth.Detail,
		})
	case errors.As(err, &notFound):
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "Result not found"})
	default:
		s.log.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": err.Error(),
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "QADash API is running",
	})
}

type createResultRequest struct {
	SuiteName       string `json:"suite_name"`
	Total           *int   `json:"total"`
	Passed          *int   `json:"passed"`
	Failed          *int   `json:"failed"`
	Framework       string `json:"framework"`
	TestType        string `json:"test_type"`
	ProjectCategory string `json:"project_category"`
	ErrorType       string `json:"error_type"`
	ErrorMessage    string `json:"error_message"`
	ErrorDetails    string `json:"error_details"`
}

func (s *Server) createResult(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createResultRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			s.httpError(w, model.ValidationError{Message: "total, passed, and failed must be numbers"})
			return
		}

		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	if req.SuiteName == "" || req.Total == nil || req.Passed == nil || req.Failed == nil {
		s.httpError(w, model.ValidationError{
			Message:  "Missing required fields",
			Required: []string{"suite_name", "total", "passed", "failed"},
		})
		return
	}

	tr := model.TestResult{
		SuiteName:       req.SuiteName,
		Framework:       req.Framework,
		TestType:        req.TestType,
		ProjectCategory: req.ProjectCategory,
		Total:           *req.Total,
		Passed:          *req.Passed,
		Failed:          *req.Failed,
		ErrorType:       req.ErrorType,
		ErrorMessage:    req.ErrorMessage,
		ErrorDetails:    req.ErrorDetails,
	}

	if tr.Framework == "" {
		tr.Framework = model.DefaultFramework
	}
	if tr.TestType == "" {
		tr.TestType = model.DefaultTestType
	}
	if tr.ProjectCategory == "" {
		tr.ProjectCategory = model.InferProjectCategory(tr.SuiteName)
	}

	saved, err := s.ingest(r.Context(), tr, "api-result", "api")
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Test result saved successfully",
		"data":    saved,
	})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	results, err := s.loadResultsForRange(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Results retrieved successfully",
		"count":   len(results),
		"data":    results,
	})
}

// loadResultsForRange applies the optional startDate/endDate query filter.
// Both parameters must be present for the filter to apply, mirroring the
// dashboard's date range picker.
func (s *Server) loadResultsForRange(r *http.Request) ([]model.TestResult, error) {
	startDate := r.URL.Query().Get("startDate")
	endDate := r.URL.Query().Get("endDate")

	if startDate == "" || endDate == "" {
		return s.storage.LoadTestResults(r.Context())
	}

	start, err := parseDateParam(startDate, false)
	if err != nil {
		return nil, err
	}

	end, err := parseDateParam(endDate, true)
	if err != nil {
		return nil, err
	}

	return s.storage.LoadTestResultsByDateRange(r.Context(), start, end)
}

// parseDateParam accepts RFC3339 timestamps and plain dates. A plain end
// date covers its entire day.
func parseDateParam(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, model.ValidationError{
			Message: "Invalid date parameter",
			Detail:  "Dates must be YYYY-MM-DD or RFC3339 timestamps",
		}
	}

	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}

	return t, nil
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := strconv.Atoi(p.ByName("id"))
	if err != nil {
		s.httpError(w, model.NotFoundError{})
		return
	}

	result, err := s.storage.LoadTestResult(r.Context(), id)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Result retrieved successfully",
		"data":    result,
	})
}

func (s *Server) topFailures(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	results, err := s.storage.LoadTestResults(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}

	failures := aggregate.TopFailures(results)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Top failures retrieved successfully",
		"count":   len(failures),
		"data":    failures,
	})
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	grouping := aggregate.Grouping(r.URL.Query().Get("grouping"))
	if grouping == "" {
		grouping = aggregate.GroupingDay
	}

	days, err := lookbackDays(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if err := aggregate.ValidateTrendParams(grouping, days); err != nil {
		s.httpError(w, err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -days)

	results, err := s.storage.LoadTestResultsSince(r.Context(), cutoff)
	if err != nil {
		s.httpError(w, err)
		return
	}

	data := aggregate.Trends(results, grouping)

	metric.TrendQueries.WithLabelValues(string(grouping)).Inc()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Trend data retrieved successfully",
		"grouping": grouping,
		"days":     days,
		"count":    len(data),
		"data":     data,
	})
}

func (s *Server) projectTrends(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	project := r.URL.Query().Get("project")

	days, err := lookbackDays(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if err := aggregate.ValidateLookbackDays(days); err != nil {
		s.httpError(w, err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -days)

	results, err := s.storage.LoadTestResultsSince(r.Context(), cutoff)
	if err != nil {
		s.httpError(w, err)
		return
	}

	data := aggregate.ProjectTrends(results, project)

	projectLabel := project
	if projectLabel == "" {
		projectLabel = "all"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Project trends retrieved successfully",
		"project": projectLabel,
		"days":    days,
		"count":   len(data),
		"data":    data,
	})
}

// lookbackDays parses the days query parameter, defaulting to 30. Range
// validation happens in the aggregate package.
func lookbackDays(r *http.Request) (int, error) {
	value := r.URL.Query().Get("days")
	if value == "" {
		return 30, nil
	}

	days, err := strconv.Atoi(value)
	if err != nil {
		return 0, model.ValidationError{
			Message: "Invalid days parameter",
			Detail:  fmt.Sprintf("Days must be a number between %d and %d", aggregate.MinLookbackDays, aggregate.MaxLookbackDays),
		}
	}

	return days, nil
}

func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.httpError(w, fmt.Errorf("reading request body: %w", err))
		return
	}

	event := r.Header.Get("X-GitHub-Event")

	if err := webhook.VerifyGitHubSignature(body, r.Header.Get("X-Hub-Signature-256"), s.secrets.GitHub); err != nil {
		s.logWebhook(r, webhook.ProviderGitHub, event, model.WebhookStatusRejected, err.Error())
		s.httpError(w, err)
		return
	}

	if event != "workflow_run" {
		s.logWebhook(r, webhook.ProviderGitHub, event, model.WebhookStatusIgnored, "")
		s.writeJSON(w, http.StatusOK, map[string]any{
			"message": "Webhook processed successfully",
			"event":   event,
		})
		return
	}

	var payload webhook.GitHubWorkflowRun
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logWebhook(r, webhook.ProviderGitHub, event, model.WebhookStatusInvalid, err.Error())
		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	tr, _ := payload.TestResult()

	if _, err := s.ingest(r.Context(), tr, "webhook-result", string(webhook.ProviderGitHub)); err != nil {
		s.logWebhook(r, webhook.ProviderGitHub, event, model.WebhookStatusInvalid, err.Error())
		s.httpError(w, err)
		return
	}

	s.logWebhook(r, webhook.ProviderGitHub, event, model.WebhookStatusProcessed, "")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook processed successfully",
		"event":   event,
	})
}

func (s *Server) jenkinsWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := webhook.VerifyJenkinsToken(r.Header.Get("Authorization"), s.secrets.Jenkins); err != nil {
		s.logWebhook(r, webhook.ProviderJenkins, "build", model.WebhookStatusRejected, err.Error())
		s.httpError(w, err)
		return
	}

	var payload webhook.JenkinsBuild
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logWebhook(r, webhook.ProviderJenkins, "build", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	tr, _ := payload.TestResult()

	if _, err := s.ingest(r.Context(), tr, "webhook-result", string(webhook.ProviderJenkins)); err != nil {
		s.logWebhook(r, webhook.ProviderJenkins, "build", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, err)
		return
	}

	s.logWebhook(r, webhook.ProviderJenkins, "build", model.WebhookStatusProcessed, "")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Webhook processed successfully",
		"buildNumber": payload.Build.Number,
	})
}

func (s *Server) gitlabWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := webhook.VerifyGitLabToken(r.Header.Get("X-Gitlab-Token"), s.secrets.GitLab); err != nil {
		s.logWebhook(r, webhook.ProviderGitLab, "", model.WebhookStatusRejected, err.Error())
		s.httpError(w, err)
		return
	}

	var payload webhook.GitLabPipeline
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logWebhook(r, webhook.ProviderGitLab, "", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	if payload.ObjectKind != "pipeline" {
		s.logWebhook(r, webhook.ProviderGitLab, payload.ObjectKind, model.WebhookStatusIgnored, "")
		s.writeJSON(w, http.StatusOK, map[string]any{
			"message":    "Webhook processed successfully",
			"objectKind": payload.ObjectKind,
		})
		return
	}

	tr, _ := payload.TestResult()

	if _, err := s.ingest(r.Context(), tr, "webhook-result", string(webhook.ProviderGitLab)); err != nil {
		s.logWebhook(r, webhook.ProviderGitLab, payload.ObjectKind, model.WebhookStatusInvalid, err.Error())
		s.httpError(w, err)
		return
	}

	s.logWebhook(r, webhook.ProviderGitLab, payload.ObjectKind, model.WebhookStatusProcessed, "")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Webhook processed successfully",
		"objectKind": payload.ObjectKind,
	})
}

func (s *Server) genericWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload webhook.Generic
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logWebhook(r, webhook.ProviderGeneric, "", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, model.ValidationError{Message: "Invalid payload", Detail: "request body must be valid json"})
		return
	}

	tr, err := payload.TestResult()
	if err != nil {
		s.logWebhook(r, webhook.ProviderGeneric, "", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, err)
		return
	}

	saved, err := s.ingest(r.Context(), tr, "webhook-result", string(webhook.ProviderGeneric))
	if err != nil {
		s.logWebhook(r, webhook.ProviderGeneric, "", model.WebhookStatusInvalid, err.Error())
		s.httpError(w, err)
		return
	}

	s.logWebhook(r, webhook.ProviderGeneric, "", model.WebhookStatusProcessed, "")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook processed successfully",
		"data":    saved,
	})
}

// logWebhook records the delivery outcome. Failures to record must never
// fail the webhook itself.
func (s *Server) logWebhook(r *http.Request, provider webhook.Provider, eventType, status, errMsg string) {
	metric.WebhooksReceived.WithLabelValues(string(provider), status).Inc()

	err := s.storage.InsertWebhookLog(r.Context(), model.WebhookLog{
		Source:       string(provider),
		EventType:    eventType,
		Status:       status,
		ErrorMessage: errMsg,
	})
	if err != nil {
		s.log.Warn("could not record webhook delivery", "provider", provider, "error", err)
	}
}

// webhookLogs returns the most recent webhook deliveries for debugging
// misconfigured ci integrations.
func (s *Server) webhookLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := 50
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 || parsed > 500 {
			s.httpError(w, model.ValidationError{
				Message: "Invalid limit parameter",
				Detail:  "Limit must be a number between 1 and 500",
			})
			return
		}
		limit = parsed
	}

	logs, err := s.storage.LoadWebhookLogs(r.Context(), limit)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook logs retrieved successfully",
		"count":   len(logs),
		"data":    logs,
	})
}

func (s *Server) webhookInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	baseURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "QADash Webhook Endpoints",
		"endpoints": map[string]any{
			"github": map[string]any{
				"url":    baseURL + "/api/v1/webhooks/github",
				"events": []string{"workflow_run"},
				"headers": map[string]string{
					"Content-Type":        "application/json",
					"X-GitHub-Event":      "workflow_run",
					"X-Hub-Signature-256": "sha256=...(if secret configured)",
				},
				"environmentVariable": "GITHUB_WEBHOOK_SECRET",
			},
			"jenkins": map[string]any{
				"url": baseURL + "/api/v1/webhooks/jenkins",
				"headers": map[string]string{
					"Content-Type":  "application/json",
					"Authorization": "Bearer YOUR_TOKEN",
				},
				"environmentVariable": "JENKINS_WEBHOOK_TOKEN",
			},
			"gitlab": map[string]any{
				"url":    baseURL + "/api/v1/webhooks/gitlab",
				"events": []string{"Pipeline Hook"},
				"headers": map[string]string{
					"Content-Type":   "application/json",
					"X-Gitlab-Token": "YOUR_TOKEN",
				},
				"environmentVariable": "GITLAB_WEBHOOK_TOKEN",
			},
			"generic": map[string]any{
				"url": baseURL + "/api/v1/webhooks/generic",
				"payload": map[string]any{
					"suite_name":    "My Test Suite",
					"framework":     "Custom",
					"test_type":     "Integration",
					"total":         100,
					"passed":        95,
					"failed":        5,
					"error_type":    "Optional",
					"error_message": "Optional",
					"error_details": "Optional",
				},
			},
		},
	})
}

package webhook

import (
	"fmt"

	"github.com/qadash/qadash/internal/model"
)

// Provider identifies the webhook source.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderJenkins Provider = "jenkins"
	ProviderGitLab  Provider = "gitlab"
	ProviderGeneric Provider = "generic"
)

// Payload is implemented by all provider payload variants. Each variant has
// its own extraction heuristic because none of the ci providers carry real
// pass/fail counts in their webhook payloads.
type Payload interface {
	// TestResult maps the payload onto the normalized record shape.
	TestResult() (model.TestResult, error)
}

// GitHubWorkflowRun is the subset of the github `workflow_run` event that
// the normalizer consumes.
type GitHubWorkflowRun struct {
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
}

// TestResult derives a record from the workflow run conclusion. The counts
// are a coarse placeholder keyed only off the binary conclusion (success
// means 10/10/0, anything else 10/8/2), not real test counts. Real counts
// would require fetching workflow artifacts, which is out of scope.
func (p GitHubWorkflowRun) TestResult() (model.TestResult, error) {
	repo := p.Repository.Name
	if repo == "" {
		repo = "Unknown"
	}

	success := p.WorkflowRun.Conclusion == "success"

	tr := model.TestResult{
		SuiteName:       fmt.Sprintf("%s - %s", repo, p.WorkflowRun.Name),
		Framework:       "GitHub Actions",
		TestType:        "CI/CD",
		ProjectCategory: "CI Pipeline",
		Total:           10,
		Passed:          10,
		Failed:          0,
	}

	if !success {
		tr.Passed = 8
		tr.Failed = 2
	}

	if p.WorkflowRun.Conclusion == "failure" {
		tr.ErrorType = "CI Failure"
		tr.ErrorMessage = "Workflow failed"
	}

	return tr, nil
}

// JenkinsBuild is a jenkins build notification.
type JenkinsBuild struct {
	Name  string `json:"name"`
	Build struct {
		Number      int    `json:"number"`
		Result      string `json:"result"`
		TotalTests  int    `json:"total_tests"`
		PassedTests int    `json:"passed_tests"`
		FailedTests int    `json:"failed_tests"`
	} `json:"build"`
}

// TestResult pulls counts straight from the build payload when present,
// defaulting to zero otherwise.
func (p JenkinsBuild) TestResult() (model.TestResult, error) {
	name := p.Name
	if name == "" {
		name = "Jenkins Build"
	}

	number := "?"
	if p.Build.Number != 0 {
		number = fmt.Sprintf("%d", p.Build.Number)
	}

	tr := model.TestResult{
		SuiteName:       fmt.Sprintf("%s #%s", name, number),
		Framework:       "Jenkins",
		TestType:        "CI/CD",
		ProjectCategory: "CI Pipeline",
		Total:           p.Build.TotalTests,
		Passed:          p.Build.PassedTests,
		Failed:          p.Build.FailedTests,
	}

	if p.Build.Result == "FAILURE" {
		tr.ErrorType = "Build Failure"
		tr.ErrorMessage = "Build failed"
	}

	return tr, nil
}

// GitLabPipeline is the subset of the gitlab `pipeline` event that the
// normalizer consumes.
type GitLabPipeline struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		Name string `json:"name"`
	} `json:"project"`
	ObjectAttributes struct {
		ID     int    `json:"id"`
		Status string `json:"status"`
	} `json:"object_attributes"`
}

// TestResult uses the same coarse success/failure placeholder pattern as
// the github mapping, gitlab pipelines do not carry test counts either.
func (p GitLabPipeline) TestResult() (model.TestResult, error) {
	project := p.Project.Name
	if project == "" {
		project = "Unknown"
	}

	success := p.ObjectAttributes.Status == "success"

	tr := model.TestResult{
		SuiteName:       fmt.Sprintf("%s - Pipeline #%d", project, p.ObjectAttributes.ID),
		Framework:       "GitLab CI",
		TestType:        "CI/CD",
		ProjectCategory: "CI Pipeline",
		Total:           10,
		Passed:          10,
		Failed:          0,
	}

	if !success {
		tr.Passed = 8
		tr.Failed = 2
	}

	if p.ObjectAttributes.Status == "failed" {
		tr.ErrorType = "Pipeline Failure"
		tr.ErrorMessage = "Pipeline failed"
	}

	return tr, nil
}

// Generic is the provider-agnostic payload for custom integrations. It must
// already carry the normalized counts.
type Generic struct {
	SuiteName       string `json:"suite_name"`
	Framework       string `json:"framework"`
	TestType        string `json:"test_type"`
	ProjectCategory string `json:"project_category"`
	Total           *int   `json:"total"`
	Passed          *int   `json:"passed"`
	Failed          *int   `json:"failed"`
	ErrorType       string `json:"error_type"`
	ErrorMessage    string `json:"error_message"`
	ErrorDetails    string `json:"error_details"`
}

func (p Generic) TestResult() (model.TestResult, error) {
	if p.SuiteName == "" || p.Total == nil || p.Passed == nil || p.Failed == nil {
		return model.TestResult{}, model.ValidationError{
			Message:  "Invalid payload",
			Detail:   "Required fields: suite_name, total, passed, failed",
			Required: []string{"suite_name", "total", "passed", "failed"},
		}
	}

	tr := model.TestResult{
		SuiteName:       p.SuiteName,
		Framework:       p.Framework,
		TestType:        p.TestType,
		ProjectCategory: p.ProjectCategory,
		Total:           *p.Total,
		Passed:          *p.Passed,
		Failed:          *p.Failed,
		ErrorType:       p.ErrorType,
		ErrorMessage:    p.ErrorMessage,
		ErrorDetails:    p.ErrorDetails,
	}

	if tr.Framework == "" {
		tr.Framework = "Generic"
	}
	if tr.TestType == "" {
		tr.TestType = "Webhook"
	}
	if tr.ProjectCategory == "" {
		tr.ProjectCategory = model.DefaultProjectCategory
	}

	return tr, nil
}

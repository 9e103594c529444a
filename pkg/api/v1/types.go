// Package v1 defines the wire types of the coding-task REST API.
package v1

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// TaskStatus is the externally visible status of a coding task.
type TaskStatus string

const (
	StatusInitiated  TaskStatus = "initiated"
	StatusAnalyzing  TaskStatus = "analyzing"
	StatusPlanning   TaskStatus = "planning"
	StatusCloning    TaskStatus = "cloning"
	StatusCoding     TaskStatus = "coding"
	StatusTesting    TaskStatus = "testing"
	StatusValidating TaskStatus = "validating"
	StatusCommitting TaskStatus = "committing"
	StatusPRCreating TaskStatus = "pr_creating"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// stageStatus maps internal pipeline stages onto wire statuses. Environment
// setup and source fetch both surface as "cloning"; cleanup is already
// externally indistinguishable from completion.
var stageStatus = map[workflow.Stage]TaskStatus{
	workflow.StageInit:             StatusInitiated,
	workflow.StageAnalyzing:        StatusAnalyzing,
	workflow.StagePlanning:         StatusPlanning,
	workflow.StageEnvironmentSetup: StatusCloning,
	workflow.StageSourceFetch:      StatusCloning,
	workflow.StageGeneration:       StatusCoding,
	workflow.StageLocalTesting:     StatusTesting,
	workflow.StageValidation:       StatusValidating,
	workflow.StageVersionControl:   StatusCommitting,
	workflow.StagePublishRequest:   StatusPRCreating,
	workflow.StageCleanup:          StatusCompleted,
	workflow.StageCompleted:        StatusCompleted,
	workflow.StageFailed:           StatusFailed,
	workflow.StageCancelled:        StatusCancelled,
}

// StatusForStage converts a pipeline stage to its wire status.
func StatusForStage(s workflow.Stage) TaskStatus {
	if st, ok := stageStatus[s]; ok {
		return st
	}
	return StatusInitiated
}

// CodeRequest is the submission payload.
type CodeRequest struct {
	Requirements  string `json:"requirements"`
	TargetService string `json:"target_service"`
	Priority      string `json:"priority,omitempty"`
	Context       string `json:"context,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	SkipTests     bool   `json:"skip_tests,omitempty"`
}

const minRequirementWords = 5

// Validate checks the submission payload and normalizes defaults.
func (r *CodeRequest) Validate() error {
	if len(strings.Fields(r.Requirements)) < minRequirementWords {
		return fmt.Errorf("%w: requirements too vague, provide at least %d words",
			ErrInvalidRequest, minRequirementWords)
	}
	if strings.TrimSpace(r.TargetService) == "" {
		return fmt.Errorf("%w: target_service is required", ErrInvalidRequest)
	}
	switch r.Priority {
	case "":
		r.Priority = "normal"
	case "low", "normal", "high":
	default:
		return fmt.Errorf("%w: priority must be low, normal or high", ErrInvalidRequest)
	}
	return nil
}

// ToWorkflow converts the payload into the engine's request type.
func (r *CodeRequest) ToWorkflow() workflow.Request {
	return workflow.Request{
		Requirement: r.Requirements,
		Target:      r.TargetService,
		Priority:    r.Priority,
		Context:     r.Context,
		BaseBranch:  r.DefaultBranch,
		SkipTests:   r.SkipTests,
	}
}

// CodeResponse acknowledges an accepted submission.
type CodeResponse struct {
	TaskID            string     `json:"task_id"`
	Status            TaskStatus `json:"status"`
	Message           string     `json:"message"`
	BranchName        string     `json:"branch_name"`
	EstimatedDuration string     `json:"estimated_duration"`
	Progress          int        `json:"progress_percentage"`
}

// StatusResponse is the full task snapshot on the wire.
type StatusResponse struct {
	TaskID             string                       `json:"task_id"`
	Status             TaskStatus                   `json:"status"`
	Progress           int                          `json:"progress_percentage"`
	Requirements       string                       `json:"requirements"`
	TargetService      string                       `json:"target_service"`
	BranchName         string                       `json:"branch_name"`
	Steps              []workflow.Step              `json:"workflow_steps"`
	Changes            []workflow.Change            `json:"code_changes"`
	TestOutcomes       []workflow.TestOutcome       `json:"test_results"`
	ValidationOutcomes []workflow.ValidationOutcome `json:"validation_results"`
	Plan               *workflow.Plan               `json:"plan,omitempty"`
	CommitHash         string                       `json:"commit_hash,omitempty"`
	PRURL              string                       `json:"pr_url,omitempty"`
	Error              *workflow.TaskError          `json:"error,omitempty"`
	CancelReason       string                       `json:"cancel_reason,omitempty"`
	Statistics         map[string]any               `json:"statistics"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

// NewStatusResponse builds the wire snapshot from an engine snapshot.
func NewStatusResponse(s *workflow.Snapshot) *StatusResponse {
	return &StatusResponse{
		TaskID:             s.ID,
		Status:             StatusForStage(s.Stage),
		Progress:           s.Progress,
		Requirements:       s.Request.Requirement,
		TargetService:      s.Request.Target,
		BranchName:         s.BranchName,
		Steps:              s.Steps,
		Changes:            s.Changes,
		TestOutcomes:       s.TestOutcomes,
		ValidationOutcomes: s.ValidationOutcomes,
		Plan:               s.Plan,
		CommitHash:         s.CommitID,
		PRURL:              s.PublishURL,
		Error:              s.Error,
		CancelReason:       s.CancelReason,
		Statistics:         s.Stats,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

// TaskSummary is one row of the task list.
type TaskSummary struct {
	TaskID        string     `json:"task_id"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress_percentage"`
	Requirements  string     `json:"requirements"`
	TargetService string     `json:"target_service"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewTaskSummary builds a list row from an engine snapshot.
func NewTaskSummary(s *workflow.Snapshot) TaskSummary {
	req := s.Request.Requirement
	if runes := []rune(req); len(runes) > 100 {
		req = string(runes[:97]) + "..."
	}
	return TaskSummary{
		TaskID:        s.ID,
		Status:        StatusForStage(s.Stage),
		Progress:      s.Progress,
		Requirements:  req,
		TargetService: s.Request.Target,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// ListResponse is the paginated task list.
type ListResponse struct {
	Tasks    []TaskSummary `json:"tasks"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// CancelRequest optionally carries a cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status          string  `json:"status"`
	Service         string  `json:"service"`
	Version         string  `json:"version"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	ActiveWorkflows int     `json:"active_workflows"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Package workflow implements the orchestration engine that drives a coding
// task through its fixed pipeline. It owns the task registry, the stage state
// machine, and the progress/cancellation contract; the slow external work
// (planning, generation, git, testing, review requests) is delegated to
// collaborators behind narrow interfaces.
package workflow

import (
	"context"
	"time"
)

// Stage is a named position in the fixed pipeline.
type Stage string

const (
	StageInit             Stage = "init"
	StageAnalyzing        Stage = "analyzing"
	StagePlanning         Stage = "planning"
	StageEnvironmentSetup Stage = "environment_setup"
	StageSourceFetch      Stage = "source_fetch"
	StageGeneration       Stage = "generation"
	StageLocalTesting     Stage = "local_testing"
	StageValidation       Stage = "validation"
	StageVersionControl   Stage = "version_control"
	StagePublishRequest   Stage = "publish_request"
	StageCleanup          Stage = "cleanup"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageCancelled        Stage = "cancelled"
)

// PipelineStages returns the non-terminal stages in execution order.
func PipelineStages() []Stage {
	return []Stage{
		StageInit,
		StageAnalyzing,
		StagePlanning,
		StageEnvironmentSetup,
		StageSourceFetch,
		StageGeneration,
		StageLocalTesting,
		StageValidation,
		StageVersionControl,
		StagePublishRequest,
		StageCleanup,
	}
}

// IsTerminal returns true if no further stage transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// stageProgress maps each stage to the progress percentage reached on
// entering it. Failed and Cancelled carry no entry; progress freezes at its
// last value for those.
var stageProgress = map[Stage]int{
	StageInit:             5,
	StageAnalyzing:        15,
	StagePlanning:         25,
	StageEnvironmentSetup: 35,
	StageSourceFetch:      40,
	StageGeneration:       60,
	StageLocalTesting:     75,
	StageValidation:       85,
	StageVersionControl:   90,
	StagePublishRequest:   95,
	StageCleanup:          98,
	StageCompleted:        100,
}

// StageProgress returns the entry progress for a stage. The second return is
// false for the terminal failure states, which have no fixed progress.
func StageProgress(s Stage) (int, bool) {
	p, ok := stageProgress[s]
	return p, ok
}

// Request is the immutable input that created a task.
type Request struct {
	Requirement string `json:"requirements"`
	Target      string `json:"target_service"`
	Priority    string `json:"priority"`
	Context     string `json:"context,omitempty"`
	BaseBranch  string `json:"default_branch"`
	SkipTests   bool   `json:"skip_tests"`
}

// StepStatus is the outcome of a logged workflow step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is one logged unit of work within a stage. Steps are observability
// only; they never drive control flow.
type Step struct {
	Name        string     `json:"step_name"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    float64    `json:"duration_seconds,omitempty"`
	Error       string     `json:"error_message,omitempty"`
}

// ChangeKind classifies a written file.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
)

// Change records one file written during the generation stage.
type Change struct {
	Path        string     `json:"file_path"`
	Kind        ChangeKind `json:"change_type"`
	LinesAdded  int        `json:"lines_added"`
	Description string     `json:"description"`
}

// TestOutcome records one executed test.
type TestOutcome struct {
	Name     string  `json:"test_name"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration_seconds"`
	Error    string  `json:"error_message,omitempty"`
}

// ValidationOutcome records one quality check.
type ValidationOutcome struct {
	Check   string `json:"check_name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Plan is the structured output of the planning stage.
type Plan struct {
	Complexity    string   `json:"complexity"`
	Summary       string   `json:"summary"`
	FilesToCreate []string `json:"files_to_create"`
	FilesToModify []string `json:"files_to_modify"`
}

// TaskError is the failure record attached to a failed task.
type TaskError struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// GenerateResult holds the files produced by the generation collaborator.
type GenerateResult struct {
	ImplementationFiles map[string]string
	TestFiles           map[string]string
}

// RepoIdentity names a remote repository as owner/name.
type RepoIdentity struct {
	Owner string
	Name  string
}

// String returns the owner/name form used by the remote API.
func (r RepoIdentity) String() string {
	return r.Owner + "/" + r.Name
}

// RepoInfo is the metadata returned after a clone.
type RepoInfo struct {
	Path          string
	CurrentBranch string
	RemoteURL     string
	LastCommit    string
	LastMessage   string
}

// Suite is the input to the test-execution collaborator.
type Suite struct {
	TestFiles         map[string]string
	SourceFiles       map[string]string
	Timeout           time.Duration
	CoverageThreshold float64
}

// SuiteResult is the outcome of a suite run.
type SuiteResult struct {
	Passed      int
	Failed      int
	Skipped     int
	Total       int
	CoveragePct float64
	Success     bool
	Details     []TestDetail
}

// TestDetail is one test reported by the runner.
type TestDetail struct {
	Name     string
	Status   string
	Duration float64
	Error    string
}

// TestEnv is an isolated environment handle issued by the test runner.
type TestEnv struct {
	ID            string
	TaskID        string
	WorkspacePath string
	ServicePort   int
}

// Planner produces implementation plans and file contents from natural
// language requirements.
type Planner interface {
	Plan(ctx context.Context, req Request) (*Plan, error)
	Generate(ctx context.Context, req Request, plan *Plan) (*GenerateResult, error)
}

// VersionControl covers the git operations the pipeline needs.
type VersionControl interface {
	ValidateAccess(ctx context.Context, url string) bool
	Clone(ctx context.Context, url, workspace, branch string) (string, error)
	RepoInfo(path string) (*RepoInfo, error)
	WriteFiles(path string, files map[string]string) ([]string, error)
	CreateBranch(path, name string) (string, error)
	Commit(path, message string, paths []string) (string, error)
	Push(ctx context.Context, path, branch string) error
	CommitMessage(requirement string, files []string, kind string) string
	PRDescription(requirement string, plan *Plan, files []string, tests *SuiteResult) string
}

// ReviewService opens review requests on the remote repository.
type ReviewService interface {
	CreateReviewRequest(ctx context.Context, repo RepoIdentity, branch, base, title, description string) (string, error)
}

// TestRunner executes generated tests in isolation.
type TestRunner interface {
	CreateEnv(ctx context.Context, taskID, target string) (*TestEnv, error)
	InstallDeps(ctx context.Context, env *TestEnv, requirementsFile string) error
	StartService(ctx context.Context, env *TestEnv, path string, port int) error
	RunSuite(ctx context.Context, env *TestEnv, suite Suite) (*SuiteResult, error)
	Cleanup(ctx context.Context, env *TestEnv) error
}

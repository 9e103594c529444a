package workflow

import (
	"sync"
	"time"
)

// Task is the mutable record of one in-flight or completed pipeline run.
//
// A task is mutated only by its own running goroutine and by the cancellation
// path; status queries read through Snapshot. All mutators refresh UpdatedAt.
type Task struct {
	mu sync.Mutex

	id         string
	request    Request
	stage      Stage
	progress   int
	steps      []Step
	branchName string
	workspace  string
	repoPath   string
	plan       *Plan
	changes    []Change
	tests      []TestOutcome
	checks     []ValidationOutcome
	commitID   string
	publishURL string
	taskErr    *TaskError
	stats      map[string]any
	createdAt  time.Time
	updatedAt  time.Time

	cancelReason string

	// generated holds the generation output between the Generation and
	// LocalTesting stages. Not part of the external snapshot.
	generated *GenerateResult

	// suite holds the last suite result for the publish stage description.
	suite *SuiteResult
}

// StepHandle identifies an open step for FinishStep.
type StepHandle int

// NewTask creates a task in the Init stage with progress 0.
func NewTask(id string, req Request, branchName string) *Task {
	now := time.Now().UTC()
	return &Task{
		id:         id,
		request:    req,
		stage:      StageInit,
		branchName: branchName,
		stats:      make(map[string]any),
		createdAt:  now,
		updatedAt:  now,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Request returns the immutable submission input.
func (t *Task) Request() Request { return t.request }

// BranchName returns the branch name assigned at creation.
func (t *Task) BranchName() string { return t.branchName }

// Stage returns the current pipeline stage.
func (t *Task) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// AppendStep opens a new step record and returns its handle.
func (t *Task) AppendStep(name string) StepHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, Step{
		Name:      name,
		Status:    StepInProgress,
		StartedAt: time.Now().UTC(),
	})
	t.updatedAt = time.Now().UTC()
	return StepHandle(len(t.steps) - 1)
}

// FinishStep closes an open step. A step that is already completed or failed
// is never reopened; finishing it again is a no-op.
func (t *Task) FinishStep(h StepHandle, status StepStatus, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) < 0 || int(h) >= len(t.steps) {
		return
	}
	step := &t.steps[h]
	if step.Status != StepInProgress {
		return
	}
	now := time.Now().UTC()
	step.Status = status
	step.CompletedAt = &now
	step.Duration = now.Sub(step.StartedAt).Seconds()
	step.Error = errText
	t.updatedAt = now
}

// SetProgress sets the progress percentage, clamped to [0,100]. Progress on a
// terminal task is frozen.
func (t *Task) SetProgress(pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage == StageFailed || t.stage == StageCancelled {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.progress = pct
	t.updatedAt = time.Now().UTC()
}

// Fail records the error and forces the task into the Failed stage. The error
// is set exactly once; later calls are no-ops.
func (t *Task) Fail(message string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taskErr != nil || t.stage.IsTerminal() {
		return
	}
	t.taskErr = &TaskError{Message: message, Details: details}
	t.stage = StageFailed
	t.updatedAt = time.Now().UTC()
}

// Cancel moves a non-terminal task to Cancelled and records the reason.
// Returns false if the task already reached a terminal stage.
func (t *Task) Cancel(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage.IsTerminal() {
		return false
	}
	t.stage = StageCancelled
	t.cancelReason = reason
	t.updatedAt = time.Now().UTC()
	return true
}

// advance moves the task to the next stage unless it has independently become
// terminal (cancellation). Returns the stage actually in effect.
func (t *Task) advance(next Stage) Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage.IsTerminal() {
		return t.stage
	}
	t.stage = next
	t.updatedAt = time.Now().UTC()
	return t.stage
}

// SetWorkspace records the workspace path. Assigned once during environment
// setup; later calls are ignored.
func (t *Task) SetWorkspace(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.workspace != "" {
		return
	}
	t.workspace = path
	t.updatedAt = time.Now().UTC()
}

// Workspace returns the workspace path, or "" before environment setup.
func (t *Task) Workspace() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workspace
}

// SetRepoPath records where the target repository was cloned.
func (t *Task) SetRepoPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repoPath = path
	t.updatedAt = time.Now().UTC()
}

// RepoPath returns the clone location, or "" before source fetch.
func (t *Task) RepoPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repoPath
}

// SetPlan stores the planning output. Written once by the planning stage.
func (t *Task) SetPlan(p *Plan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plan = p
	t.updatedAt = time.Now().UTC()
}

// PlanResult returns the stored plan, or nil before planning.
func (t *Task) PlanResult() *Plan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan
}

// AppendChange appends a change record.
func (t *Task) AppendChange(c Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = append(t.changes, c)
	t.updatedAt = time.Now().UTC()
}

// ChangedPaths returns the paths of all recorded changes.
func (t *Task) ChangedPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, len(t.changes))
	for i, c := range t.changes {
		paths[i] = c.Path
	}
	return paths
}

// AppendTestOutcome appends a test outcome record.
func (t *Task) AppendTestOutcome(o TestOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tests = append(t.tests, o)
	t.updatedAt = time.Now().UTC()
}

// TestOutcomes returns a copy of the recorded test outcomes.
func (t *Task) TestOutcomes() []TestOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TestOutcome, len(t.tests))
	copy(out, t.tests)
	return out
}

// AppendValidationOutcome appends a validation outcome record.
func (t *Task) AppendValidationOutcome(o ValidationOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checks = append(t.checks, o)
	t.updatedAt = time.Now().UTC()
}

// SetCommit records the commit hash produced by the version-control stage.
func (t *Task) SetCommit(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitID = hash
	t.updatedAt = time.Now().UTC()
}

// CommitID returns the recorded commit hash, or "".
func (t *Task) CommitID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitID
}

// SetPublishURL records the review request URL.
func (t *Task) SetPublishURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishURL = url
	t.updatedAt = time.Now().UTC()
}

// SetStat records a diagnostic value. Stats are observational only and are
// never read for control decisions.
func (t *Task) SetStat(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[key] = value
	t.updatedAt = time.Now().UTC()
}

// Stat returns a diagnostic value and whether it was set.
func (t *Task) Stat(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.stats[key]
	return v, ok
}

// setGenerated stores generation output for the testing stage.
func (t *Task) setGenerated(g *GenerateResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generated = g
}

// generatedFiles returns the stored generation output, or nil.
func (t *Task) generatedFiles() *GenerateResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generated
}

// setSuiteResult stores the testing outcome summary for later stages.
func (t *Task) setSuiteResult(r *SuiteResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suite = r
}

// suiteResult returns the stored suite summary, or nil.
func (t *Task) suiteResult() *SuiteResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suite
}

// Snapshot is a deep, immutable copy of a task's externally visible state.
type Snapshot struct {
	ID                 string              `json:"task_id"`
	Request            Request             `json:"request"`
	Stage              Stage               `json:"stage"`
	Progress           int                 `json:"progress_percentage"`
	Steps              []Step              `json:"workflow_steps"`
	BranchName         string              `json:"branch_name"`
	WorkspacePath      string              `json:"workspace_path,omitempty"`
	Plan               *Plan               `json:"plan,omitempty"`
	Changes            []Change            `json:"code_changes"`
	TestOutcomes       []TestOutcome       `json:"test_results"`
	ValidationOutcomes []ValidationOutcome `json:"validation_results"`
	CommitID           string              `json:"commit_hash,omitempty"`
	PublishURL         string              `json:"pr_url,omitempty"`
	Error              *TaskError          `json:"error,omitempty"`
	CancelReason       string              `json:"cancel_reason,omitempty"`
	Stats              map[string]any      `json:"statistics"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Snapshot returns a copy of the task safe to read concurrently with the
// running pipeline.
func (t *Task) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Snapshot{
		ID:            t.id,
		Request:       t.request,
		Stage:         t.stage,
		Progress:      t.progress,
		BranchName:    t.branchName,
		WorkspacePath: t.workspace,
		CommitID:      t.commitID,
		PublishURL:    t.publishURL,
		CancelReason:  t.cancelReason,
		CreatedAt:     t.createdAt,
		UpdatedAt:     t.updatedAt,
	}

	s.Steps = make([]Step, len(t.steps))
	copy(s.Steps, t.steps)
	s.Changes = make([]Change, len(t.changes))
	copy(s.Changes, t.changes)
	s.TestOutcomes = make([]TestOutcome, len(t.tests))
	copy(s.TestOutcomes, t.tests)
	s.ValidationOutcomes = make([]ValidationOutcome, len(t.checks))
	copy(s.ValidationOutcomes, t.checks)

	if t.plan != nil {
		plan := *t.plan
		plan.FilesToCreate = append([]string(nil), t.plan.FilesToCreate...)
		plan.FilesToModify = append([]string(nil), t.plan.FilesToModify...)
		s.Plan = &plan
	}
	if t.taskErr != nil {
		e := *t.taskErr
		s.Error = &e
	}
	s.Stats = make(map[string]any, len(t.stats))
	for k, v := range t.stats {
		s.Stats[k] = v
	}

	return s
}

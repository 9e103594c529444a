package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// smokeSuite is the fallback test file used when generation produced no
// tests. It keeps the testing stage meaningful instead of vacuously green.
const smokeSuite = `import importlib
import pathlib


def test_workspace_has_sources():
    files = list(pathlib.Path(".").rglob("*.py"))
    assert files, "expected at least one source file"


def test_importlib_available():
    assert importlib is not None
`

// handleInit records the bookkeeping step for an accepted task. The task
// context itself was created at submission.
func (e *Engine) handleInit(ctx context.Context, t *Task) error {
	h := t.AppendStep("initialize_workflow")
	t.SetStat("estimated_duration", EstimateDuration(t.Request().Requirement))
	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleAnalyzing validates the requirement and records a complexity
// classification. An unreachable repository is a recorded observation, never
// a failure here; only empty input is fatal.
func (e *Engine) handleAnalyzing(ctx context.Context, t *Task) error {
	h := t.AppendStep("analyze_requirements")

	req := t.Request()
	if strings.TrimSpace(req.Requirement) == "" {
		t.FinishStep(h, StepFailed, ErrEmptyRequirement.Error())
		return ErrEmptyRequirement
	}

	t.SetStat("complexity", ClassifyComplexity(req.Requirement))

	validated := false
	if url := e.opts.Repositories[req.Target]; url != "" && e.vcs != nil {
		validated = e.vcs.ValidateAccess(ctx, url)
	}
	t.SetStat("repo_access_validated", validated)
	if !validated {
		e.log.Warn(ctx, "repository access not confirmed, continuing",
			zap.String("target_service", req.Target))
	}

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handlePlanning asks the planner for a structured plan. Collaborator errors
// are fatal.
func (e *Engine) handlePlanning(ctx context.Context, t *Task) error {
	h := t.AppendStep("create_implementation_plan")

	plan, err := e.planner.Plan(ctx, t.Request())
	if err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("planning failed: %w", err)
	}
	t.SetPlan(plan)
	t.SetStat("planned_files", len(plan.FilesToCreate)+len(plan.FilesToModify))

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleEnvironmentSetup provisions the per-task workspace and probes that it
// is writable. Any I/O error is fatal.
func (e *Engine) handleEnvironmentSetup(ctx context.Context, t *Task) error {
	h := t.AppendStep("setup_environment")

	dir := filepath.Join(e.opts.WorkspaceBase, t.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("environment setup failed: %w", err)
	}

	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("environment setup failed: workspace not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("environment setup failed: %w", err)
	}

	t.SetWorkspace(dir)
	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleSourceFetch clones the target repository into the workspace. Missing
// configuration or a clone error is fatal.
func (e *Engine) handleSourceFetch(ctx context.Context, t *Task) error {
	h := t.AppendStep("clone_repository")

	req := t.Request()
	url := e.opts.Repositories[req.Target]
	if url == "" {
		t.FinishStep(h, StepFailed, ErrRepoNotConfigured.Error())
		return fmt.Errorf("repository clone failed for %q: %w", req.Target, ErrRepoNotConfigured)
	}

	path, err := e.vcs.Clone(ctx, url, t.Workspace(), req.BaseBranch)
	if err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("repository clone failed: %w", err)
	}
	t.SetRepoPath(path)

	if info, err := e.vcs.RepoInfo(path); err == nil {
		t.SetStat("repo_branch", info.CurrentBranch)
		t.SetStat("repo_last_commit", info.LastCommit)
	}

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleGeneration produces implementation and test files and writes them
// into the clone. A collaborator error is fatal; an empty result is not.
func (e *Engine) handleGeneration(ctx context.Context, t *Task) error {
	h := t.AppendStep("generate_code")

	req := t.Request()
	result, err := e.planner.Generate(ctx, req, t.PlanResult())
	if err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("code generation failed: %w", err)
	}

	files := make(map[string]string, len(result.ImplementationFiles)+len(result.TestFiles))
	for p, c := range result.ImplementationFiles {
		files[p] = c
	}
	for p, c := range result.TestFiles {
		files[p] = c
	}
	if len(files) == 0 {
		e.log.Warn(ctx, "generation produced no files", zap.String("task_id", t.ID()))
		t.setGenerated(result)
		t.FinishStep(h, StepCompleted, "")
		return nil
	}

	written, err := e.vcs.WriteFiles(t.RepoPath(), files)
	if err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("code generation failed: writing files: %w", err)
	}

	created := make(map[string]bool)
	if plan := t.PlanResult(); plan != nil {
		for _, p := range plan.FilesToCreate {
			created[p] = true
		}
	}
	for _, path := range written {
		kind := ChangeModified
		if created[path] {
			kind = ChangeCreated
		}
		t.AppendChange(Change{
			Path:        path,
			Kind:        kind,
			LinesAdded:  strings.Count(files[path], "\n") + 1,
			Description: fmt.Sprintf("%s for: %s", kind, TruncateTitle(req.Requirement, 60)),
		})
	}
	t.setGenerated(result)
	t.SetStat("files_generated", len(written))

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleLocalTesting runs generated tests in an isolated environment. All
// errors here are non-fatal: the step is marked failed, stats are annotated,
// and the pipeline moves on to validation.
func (e *Engine) handleLocalTesting(ctx context.Context, t *Task) error {
	h := t.AppendStep("run_tests")

	if t.Request().SkipTests {
		t.SetStat("testing_skipped", true)
		t.FinishStep(h, StepCompleted, "")
		return nil
	}

	if err := e.runLocalTests(ctx, t); err != nil {
		t.SetStat("testing_failed", true)
		t.FinishStep(h, StepFailed, err.Error())
		e.log.Warn(ctx, "local testing failed, continuing",
			zap.String("task_id", t.ID()), zap.Error(err))
		return nil
	}

	t.FinishStep(h, StepCompleted, "")
	return nil
}

func (e *Engine) runLocalTests(ctx context.Context, t *Task) error {
	env, err := e.runner.CreateEnv(ctx, t.ID(), t.Request().Target)
	if err != nil {
		return fmt.Errorf("create test environment: %w", err)
	}
	defer func() {
		if err := e.runner.Cleanup(ctx, env); err != nil {
			e.log.Warn(ctx, "test environment cleanup failed", zap.Error(err))
		}
	}()

	if err := e.runner.InstallDeps(ctx, env, "requirements.txt"); err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}

	if e.opts.ServicePort > 0 {
		if err := e.runner.StartService(ctx, env, t.RepoPath(), e.opts.ServicePort); err != nil {
			e.log.Warn(ctx, "service start failed, running tests without it", zap.Error(err))
		}
	}

	gen := t.generatedFiles()
	suite := Suite{
		Timeout:           e.opts.TestingTimeout,
		CoverageThreshold: e.opts.CoverageThreshold,
	}
	if gen != nil {
		suite.TestFiles = gen.TestFiles
		suite.SourceFiles = gen.ImplementationFiles
	}
	if len(suite.TestFiles) == 0 {
		suite.TestFiles = map[string]string{"test_smoke.py": smokeSuite}
		t.SetStat("smoke_suite_used", true)
	}

	result, err := e.runner.RunSuite(ctx, env, suite)
	if err != nil {
		return fmt.Errorf("run suite: %w", err)
	}

	for _, d := range result.Details {
		t.AppendTestOutcome(TestOutcome{
			Name:     d.Name,
			Status:   d.Status,
			Duration: d.Duration,
			Error:    d.Error,
		})
	}
	t.setSuiteResult(result)
	t.SetStat("tests_passed", result.Passed)
	t.SetStat("tests_failed", result.Failed)
	t.SetStat("tests_total", result.Total)
	t.SetStat("test_coverage", result.CoveragePct)
	if !result.Success {
		t.SetStat("testing_failed", true)
	}
	return nil
}

// handleValidation appends a lightweight quality-check record and always
// advances.
func (e *Engine) handleValidation(ctx context.Context, t *Task) error {
	h := t.AppendStep("validate_code_quality")

	t.AppendValidationOutcome(ValidationOutcome{
		Check:   "generated_files",
		Status:  "passed",
		Message: fmt.Sprintf("%d file(s) written to workspace", len(t.ChangedPaths())),
	})

	status, msg := "passed", "test suite succeeded"
	if v, ok := t.Stat("testing_failed"); ok && v == true {
		status, msg = "warning", "test suite reported failures"
	} else if v, ok := t.Stat("testing_skipped"); ok && v == true {
		status, msg = "skipped", "testing skipped by request"
	}
	t.AppendValidationOutcome(ValidationOutcome{
		Check:   "local_tests",
		Status:  status,
		Message: msg,
	})

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handleVersionControl creates the working branch, commits the written files
// and pushes the branch when a commit was actually produced. Collaborator
// errors are fatal.
func (e *Engine) handleVersionControl(ctx context.Context, t *Task) error {
	h := t.AppendStep("commit_and_push")

	repoPath := t.RepoPath()
	if _, err := e.vcs.CreateBranch(repoPath, t.BranchName()); err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("commit failed: creating branch: %w", err)
	}

	paths := t.ChangedPaths()
	msg := e.vcs.CommitMessage(t.Request().Requirement, paths, "feat")
	hash, err := e.vcs.Commit(repoPath, msg, paths)
	if err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("commit failed: %w", err)
	}

	if hash == "" {
		t.SetStat("no_changes_to_commit", true)
		t.FinishStep(h, StepCompleted, "")
		return nil
	}

	t.SetCommit(hash)
	if err := e.vcs.Push(ctx, repoPath, t.BranchName()); err != nil {
		t.FinishStep(h, StepFailed, err.Error())
		return fmt.Errorf("push failed: %w", err)
	}
	t.SetStat("commit_created", true)

	t.FinishStep(h, StepCompleted, "")
	return nil
}

// handlePublishRequest opens a review request on the remote repository.
// Failures are non-fatal: completed work must not be discarded because the
// review request could not be created.
func (e *Engine) handlePublishRequest(ctx context.Context, t *Task) error {
	h := t.AppendStep("create_review_request")

	if err := e.publishReviewRequest(ctx, t); err != nil {
		t.SetStat("pr_creation_failed", true)
		t.FinishStep(h, StepFailed, err.Error())
		e.log.Warn(ctx, "review request creation failed, continuing",
			zap.String("task_id", t.ID()), zap.Error(err))
		return nil
	}

	t.FinishStep(h, StepCompleted, "")
	return nil
}

func (e *Engine) publishReviewRequest(ctx context.Context, t *Task) error {
	if e.review == nil {
		return ErrReviewNotConfigured
	}
	if t.CommitID() == "" {
		return fmt.Errorf("nothing to publish: no commit was created")
	}

	req := t.Request()
	url := e.opts.Repositories[req.Target]
	identity, err := ParseRepoURL(url)
	if err != nil {
		return err
	}

	title := TruncateTitle(req.Requirement, 72)
	description := e.vcs.PRDescription(req.Requirement, t.PlanResult(), t.ChangedPaths(), t.suiteResult())

	prURL, err := e.review.CreateReviewRequest(ctx, identity, t.BranchName(), req.BaseBranch, title, description)
	if err != nil {
		return err
	}
	t.SetPublishURL(prURL)
	return nil
}

// handleCleanup removes the per-task workspace. Removal problems are logged,
// never fatal.
func (e *Engine) handleCleanup(ctx context.Context, t *Task) error {
	h := t.AppendStep("cleanup_workspace")
	e.removeWorkspace(ctx, t)
	t.SetStat("workspace_cleaned", true)
	t.FinishStep(h, StepCompleted, "")
	return nil
}

// removeWorkspace best-effort deletes the task workspace. Used by the cleanup
// stage and by every terminal failure path.
func (e *Engine) removeWorkspace(ctx context.Context, t *Task) {
	dir := t.Workspace()
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		e.log.Warn(ctx, "workspace removal failed",
			zap.String("path", dir), zap.Error(err))
	}
}

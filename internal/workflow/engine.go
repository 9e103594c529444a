package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/telemetry"
)

// Options tunes engine behavior. Zero values fall back to sane defaults.
type Options struct {
	// WorkspaceBase is the directory under which per-task workspaces are
	// created.
	WorkspaceBase string

	// MaxConcurrent bounds how many tasks execute their pipeline at once.
	// Submissions beyond the bound queue at the Init stage.
	MaxConcurrent int64

	// WorkflowTimeout bounds one task end to end, including queue time.
	WorkflowTimeout time.Duration

	// TestingTimeout bounds the local test suite run.
	TestingTimeout time.Duration

	// DefaultBaseBranch is used when a request does not name one.
	DefaultBaseBranch string

	// Repositories maps target service names to clone URLs.
	Repositories map[string]string

	// ServicePort is handed to the test runner for service smoke checks.
	ServicePort int

	// CoverageThreshold is the minimum coverage the test suite reports
	// against.
	CoverageThreshold float64
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.WorkflowTimeout <= 0 {
		o.WorkflowTimeout = 30 * time.Minute
	}
	if o.TestingTimeout <= 0 {
		o.TestingTimeout = 5 * time.Minute
	}
	if o.DefaultBaseBranch == "" {
		o.DefaultBaseBranch = "main"
	}
	if o.WorkspaceBase == "" {
		o.WorkspaceBase = "/tmp/codeagentd"
	}
}

type stageFunc func(ctx context.Context, t *Task) error

// Engine owns the task registry and drives each task through the pipeline on
// its own goroutine. All external effects go through the collaborator
// interfaces; the engine itself only sequences stages, records progress, and
// enforces the cancellation and failure contracts.
type Engine struct {
	opts    Options
	planner Planner
	vcs     VersionControl
	review  ReviewService
	runner  TestRunner
	log     *logging.Logger

	sem      *semaphore.Weighted
	handlers map[Stage]stageFunc

	mu    sync.RWMutex
	tasks map[string]*Task

	wg        sync.WaitGroup
	startedAt time.Time
}

// NewEngine wires an engine from its collaborators. review may be nil when no
// remote review service is configured; the publish stage then records a
// failure stat and continues.
func NewEngine(opts Options, planner Planner, vcs VersionControl, review ReviewService, runner TestRunner, log *logging.Logger) *Engine {
	opts.applyDefaults()
	if log == nil {
		log = logging.NewNop()
	}
	e := &Engine{
		opts:      opts,
		planner:   planner,
		vcs:       vcs,
		review:    review,
		runner:    runner,
		log:       log.Named("workflow"),
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		tasks:     make(map[string]*Task),
		startedAt: time.Now().UTC(),
	}
	e.handlers = map[Stage]stageFunc{
		StageInit:             e.handleInit,
		StageAnalyzing:        e.handleAnalyzing,
		StagePlanning:         e.handlePlanning,
		StageEnvironmentSetup: e.handleEnvironmentSetup,
		StageSourceFetch:      e.handleSourceFetch,
		StageGeneration:       e.handleGeneration,
		StageLocalTesting:     e.handleLocalTesting,
		StageValidation:       e.handleValidation,
		StageVersionControl:   e.handleVersionControl,
		StagePublishRequest:   e.handlePublishRequest,
		StageCleanup:          e.handleCleanup,
	}
	return e
}

// Uptime reports how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startedAt)
}

// Submit registers a new task and starts its pipeline asynchronously. The
// returned snapshot reflects the task before any stage has run.
func (e *Engine) Submit(ctx context.Context, req Request) (*Snapshot, error) {
	if req.BaseBranch == "" {
		req.BaseBranch = e.opts.DefaultBaseBranch
	}

	t := NewTask(NewTaskID(), req, NewBranchName(req.Requirement))

	e.mu.Lock()
	e.tasks[t.ID()] = t
	e.mu.Unlock()

	telemetry.TasksSubmitted.Inc()
	e.log.Info(ctx, "task accepted",
		zap.String("task_id", t.ID()),
		zap.String("target_service", req.Target),
		zap.String("branch", t.BranchName()))

	e.wg.Add(1)
	go e.run(t)

	return t.Snapshot(), nil
}

// Get returns a snapshot of the task, or ErrTaskNotFound.
func (e *Engine) Get(id string) (*Snapshot, error) {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// Cancel requests cooperative cancellation of a task. It returns false when
// the task had already reached a terminal stage. The running goroutine
// observes the cancellation after its current stage handler returns.
func (e *Engine) Cancel(id, reason string) (bool, error) {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return false, ErrTaskNotFound
	}
	cancelled := t.Cancel(reason)
	if cancelled {
		e.log.Info(context.Background(), "task cancellation requested",
			zap.String("task_id", id), zap.String("reason", reason))
	}
	return cancelled, nil
}

// List returns snapshots of all known tasks, newest first.
func (e *Engine) List() []*Snapshot {
	e.mu.RLock()
	out := make([]*Snapshot, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.Snapshot())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveCount returns the number of tasks not yet terminal.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, t := range e.tasks {
		if !t.Stage().IsTerminal() {
			n++
		}
	}
	return n
}

// Shutdown waits for in-flight tasks to finish or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one task through the pipeline. Stage handlers are never
// interrupted mid-flight; cancellation is observed between stages.
func (e *Engine) run(t *Task) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.WorkflowTimeout)
	defer cancel()
	ctx = logging.WithTaskID(ctx, t.ID())

	defer func() {
		if r := recover(); r != nil {
			t.Fail(fmt.Sprintf("internal error: %v", r), nil)
			telemetry.TasksFinished.WithLabelValues("failed").Inc()
			e.removeWorkspace(ctx, t)
			e.log.Error(ctx, "task panicked", zap.Any("panic", r))
		}
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		t.Fail("timed out waiting for a worker slot", nil)
		telemetry.TasksFinished.WithLabelValues("failed").Inc()
		return
	}
	defer e.sem.Release(1)

	telemetry.ActiveTasks.Inc()
	defer telemetry.ActiveTasks.Dec()

	for i, stage := range PipelineStages() {
		if i == 0 {
			// Cancelled while queued for a worker slot: no handler may run.
			if t.Stage().IsTerminal() {
				e.finishCancelled(ctx, t)
				return
			}
		} else if got := t.advance(stage); got != stage {
			// Cancelled between stages.
			e.finishCancelled(ctx, t)
			return
		}
		if pct, ok := StageProgress(stage); ok {
			t.SetProgress(pct)
		}

		start := time.Now()
		err := e.handlers[stage](ctx, t)
		telemetry.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

		if err != nil {
			t.Fail(err.Error(), map[string]any{"stage": string(stage)})
			telemetry.TasksFinished.WithLabelValues("failed").Inc()
			e.removeWorkspace(ctx, t)
			e.log.Error(ctx, "task failed",
				zap.String("stage", string(stage)), zap.Error(err))
			return
		}
		if t.Stage() == StageCancelled {
			e.finishCancelled(ctx, t)
			return
		}
	}

	t.advance(StageCompleted)
	t.SetProgress(100)
	telemetry.TasksFinished.WithLabelValues("completed").Inc()
	e.log.Info(ctx, "task completed", zap.String("task_id", t.ID()))
}

func (e *Engine) finishCancelled(ctx context.Context, t *Task) {
	telemetry.TasksFinished.WithLabelValues("cancelled").Inc()
	e.removeWorkspace(ctx, t)
	e.log.Info(ctx, "task cancelled", zap.String("task_id", t.ID()))
}

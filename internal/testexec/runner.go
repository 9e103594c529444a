// Package testexec implements the test-execution collaborator. It runs
// generated test suites in isolated per-task sandbox directories using local
// process execution with hard timeouts.
package testexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// Options configures the runner.
type Options struct {
	// BaseDir is the directory under which sandbox environments are created.
	BaseDir string

	// Python is the interpreter used for installs and test runs.
	Python string

	// InstallTimeout bounds dependency installation.
	InstallTimeout time.Duration
}

// Runner implements workflow.TestRunner.
type Runner struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	services map[string]*exec.Cmd
}

// New creates a test runner.
func New(opts Options, log *logging.Logger) *Runner {
	if opts.BaseDir == "" {
		opts.BaseDir = "/tmp/codeagentd"
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = 3 * time.Minute
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Runner{
		opts:     opts,
		log:      log.Named("testexec"),
		services: make(map[string]*exec.Cmd),
	}
}

// CreateEnv provisions an isolated sandbox directory for one task.
func (r *Runner) CreateEnv(ctx context.Context, taskID, target string) (*workflow.TestEnv, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dir := filepath.Join(r.opts.BaseDir, taskID, "testing", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating test environment: %w", err)
	}
	r.log.Debug(ctx, "test environment created",
		zap.String("task_id", taskID), zap.String("path", dir))
	return &workflow.TestEnv{
		ID:            id,
		TaskID:        taskID,
		WorkspacePath: dir,
	}, nil
}

// InstallDeps installs dependencies from the named requirements file inside
// the sandbox. A missing requirements file is not an error.
func (r *Runner) InstallDeps(ctx context.Context, env *workflow.TestEnv, requirementsFile string) error {
	reqPath := filepath.Join(env.WorkspacePath, requirementsFile)
	if _, err := os.Stat(reqPath); err != nil {
		r.log.Debug(ctx, "no requirements file, skipping install",
			zap.String("path", reqPath))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.InstallTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.opts.Python, "-m", "pip", "install", "--quiet", "-r", reqPath)
	cmd.Dir = env.WorkspacePath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("installing dependencies: %w: %s", err, truncateOutput(out))
	}
	return nil
}

// StartService launches the generated service from the given path so tests
// can exercise it. The process is terminated by Cleanup.
func (r *Runner) StartService(ctx context.Context, env *workflow.TestEnv, path string, port int) error {
	entry := filepath.Join(path, "main.py")
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("no service entrypoint at %s", entry)
	}

	cmd := exec.Command(r.opts.Python, entry)
	cmd.Dir = path
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	r.mu.Lock()
	r.services[env.ID] = cmd
	r.mu.Unlock()
	env.ServicePort = port

	if err := waitForPort(ctx, port, 10*time.Second); err != nil {
		return fmt.Errorf("service did not become ready on port %d: %w", port, err)
	}
	return nil
}

// RunSuite writes the suite files into the sandbox, executes pytest and
// translates its report.
func (r *Runner) RunSuite(ctx context.Context, env *workflow.TestEnv, suite workflow.Suite) (*workflow.SuiteResult, error) {
	for rel, content := range suite.SourceFiles {
		if err := writeSandboxFile(env.WorkspacePath, rel, content); err != nil {
			return nil, err
		}
	}
	for rel, content := range suite.TestFiles {
		if err := writeSandboxFile(env.WorkspacePath, rel, content); err != nil {
			return nil, err
		}
	}

	timeout := suite.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.opts.Python, "-m", "pytest", "-v", "--tb=short", ".")
	cmd.Dir = env.WorkspacePath
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("test run exceeded %s", timeout)
	}
	// Pytest exits non-zero on test failures; that is a result, not an
	// execution error. Exit code 2+ with an unparseable report is.
	output := buf.String()
	result := ParseReport(output)
	if runErr != nil && result.Total == 0 {
		return nil, fmt.Errorf("running tests: %w: %s", runErr, truncateOutput(buf.Bytes()))
	}

	result.Success = result.Failed == 0 && result.Total > 0
	if suite.CoverageThreshold > 0 && result.CoveragePct > 0 && result.CoveragePct < suite.CoverageThreshold {
		result.Success = false
	}
	return result, nil
}

// Cleanup stops any started service and removes the sandbox directory.
func (r *Runner) Cleanup(ctx context.Context, env *workflow.TestEnv) error {
	r.mu.Lock()
	cmd, ok := r.services[env.ID]
	delete(r.services, env.ID)
	r.mu.Unlock()

	if ok && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			r.log.Warn(ctx, "killing test service failed", zap.Error(err))
		}
		_ = cmd.Wait()
	}

	if err := os.RemoveAll(env.WorkspacePath); err != nil {
		return fmt.Errorf("removing test environment: %w", err)
	}
	return nil
}

func writeSandboxFile(base, rel, content string) error {
	clean := filepath.Clean(rel)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("refusing to write outside sandbox: %q", rel)
	}
	abs := filepath.Join(base, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", clean, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	return nil
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("timed out after %s", timeout)
}

func truncateOutput(out []byte) string {
	const max = 2000
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}

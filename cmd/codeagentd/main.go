// Codeagentd is a daemon that turns natural-language coding requirements into
// reviewed code changes: it plans the change with an LLM, generates files into
// a clone of the target repository, runs the generated tests, commits and
// pushes a feature branch, and opens a pull request.
//
// Configuration is loaded from a YAML file with environment overrides. See
// internal/config for details.
//
// Usage:
//
//	# Start the daemon with the default config path
//	codeagentd serve
//
//	# Start with an explicit config file
//	codeagentd serve --config /etc/codeagentd/config.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeagentd/internal/config"
	"github.com/fyrsmithlabs/codeagentd/internal/gitrepo"
	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/planner"
	"github.com/fyrsmithlabs/codeagentd/internal/review"
	"github.com/fyrsmithlabs/codeagentd/internal/testexec"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
	"github.com/fyrsmithlabs/codeagentd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "codeagentd",
		Short:        "Autonomous coding workflow daemon",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codeagentd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coding workflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting codeagentd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	vcs := gitrepo.New(gitrepo.Options{
		UserName:  cfg.Git.UserName,
		UserEmail: cfg.Git.UserEmail,
		Token:     cfg.GitHub.Token.Value(),
	}, log)

	var reviewSvc workflow.ReviewService
	if cfg.GitHub.Token.IsSet() {
		ghClient, err := review.NewGitHubClient(ctx, cfg.GitHub.Token)
		if err != nil {
			return fmt.Errorf("creating GitHub client: %w", err)
		}
		reviewSvc = review.New(ghClient, log)
	} else {
		log.Warn(ctx, "no GitHub token configured, review requests disabled")
	}

	model, err := planner.NewModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating llm backend: %w", err)
	}
	plannerSvc := planner.New(model, planner.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, log)

	runner := testexec.New(testexec.Options{
		BaseDir: cfg.Workspace.BasePath,
	}, log)

	engine := workflow.NewEngine(workflow.Options{
		WorkspaceBase:     cfg.Workspace.BasePath,
		MaxConcurrent:     int64(cfg.Workspace.MaxConcurrentTasks),
		WorkflowTimeout:   cfg.Workspace.WorkflowTimeout.Duration(),
		TestingTimeout:    cfg.Workspace.TestingTimeout.Duration(),
		DefaultBaseBranch: cfg.Git.DefaultBranch,
		Repositories:      cfg.GitHub.Repositories,
		ServicePort:       cfg.Testing.ServicePort,
		CoverageThreshold: cfg.Testing.CoverageThreshold,
	}, plannerSvc, vcs, reviewSvc, runner, log)

	srv := server.NewServer(server.Options{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		Version:         version,
	}, engine, log)

	err = srv.Start(ctx)
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	// Let in-flight tasks drain before exiting.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Shutdown(drainCtx); err != nil {
		log.Warn(drainCtx, "tasks still running at shutdown", zap.Error(err))
	}

	log.Info(context.Background(), "shutdown complete")
	return nil
}

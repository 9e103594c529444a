// Package gitrepo implements the version-control collaborator over go-git.
// It clones target repositories into task workspaces, writes generated files,
// and produces the branch/commit/push sequence plus the rendered commit
// message and review-request description.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// Options configures the service.
type Options struct {
	// UserName and UserEmail form the commit author identity.
	UserName  string
	UserEmail string

	// Token authenticates clone/push against the remote, if set.
	Token string
}

// Service implements workflow.VersionControl.
type Service struct {
	opts Options
	log  *logging.Logger
}

// New creates a version-control service.
func New(opts Options, log *logging.Logger) *Service {
	if opts.UserName == "" {
		opts.UserName = "codeagentd"
	}
	if opts.UserEmail == "" {
		opts.UserEmail = "codeagentd@localhost"
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{opts: opts, log: log.Named("gitrepo")}
}

func (s *Service) auth() *githttp.BasicAuth {
	if s.opts.Token == "" {
		return nil
	}
	// Token auth over HTTPS uses a fixed username.
	return &githttp.BasicAuth{Username: "x-access-token", Password: s.opts.Token}
}

// ValidateAccess reports whether the remote repository is reachable with the
// configured credentials. Best effort: any error means "not confirmed".
func (s *Service) ValidateAccess(ctx context.Context, url string) bool {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	_, err := remote.ListContext(ctx, &git.ListOptions{Auth: s.auth()})
	if err != nil {
		s.log.Warn(ctx, "remote not reachable", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

// Clone fetches the repository into <workspace>/repo, checking out the given
// base branch. If the branch does not exist on the remote the default branch
// is cloned instead.
func (s *Service) Clone(ctx context.Context, url, workspace, branch string) (string, error) {
	path := filepath.Join(workspace, "repo")

	opts := &git.CloneOptions{
		URL:  url,
		Auth: s.auth(),
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	_, err := git.PlainCloneContext(ctx, path, false, opts)
	if err != nil && branch != "" {
		// Base branch may not exist on the remote yet; retry on the default.
		_ = os.RemoveAll(path)
		_, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL:  url,
			Auth: s.auth(),
		})
	}
	if err != nil {
		return "", fmt.Errorf("cloning %s: %w", url, err)
	}
	return path, nil
}

// RepoInfo reads HEAD metadata from a local clone.
func (s *Service) RepoInfo(path string) (*workflow.RepoInfo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	info := &workflow.RepoInfo{
		Path:          path,
		CurrentBranch: head.Name().Short(),
		LastCommit:    head.Hash().String(),
	}
	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		info.LastMessage = strings.SplitN(commit.Message, "\n", 2)[0]
	}
	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		info.RemoteURL = remote.Config().URLs[0]
	}
	return info, nil
}

// WriteFiles writes the given path→content map under the repository root and
// returns the written relative paths, sorted. Paths escaping the repository
// are rejected.
func (s *Service) WriteFiles(path string, files map[string]string) ([]string, error) {
	written := make([]string, 0, len(files))
	for rel, content := range files {
		clean := filepath.Clean(rel)
		if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return nil, fmt.Errorf("refusing to write outside repository: %q", rel)
		}
		abs := filepath.Join(path, clean)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", clean, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", clean, err)
		}
		written = append(written, clean)
	}
	sort.Strings(written)
	return written, nil
}

// CreateBranch creates and checks out a branch off the current HEAD.
func (s *Service) CreateBranch(path, name string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
		Keep:   true,
	})
	if err != nil {
		return "", fmt.Errorf("creating branch %s: %w", name, err)
	}
	return name, nil
}

// Commit stages the given paths and commits them. Returns the commit hash, or
// "" when nothing was actually staged — callers treat that as "no changes to
// commit", not an error.
func (s *Service) Commit(path, message string, paths []string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}

	if len(paths) == 0 {
		if err := wt.AddGlob("."); err != nil {
			return "", fmt.Errorf("staging all changes: %w", err)
		}
	} else {
		for _, p := range paths {
			if _, err := wt.Add(p); err != nil {
				return "", fmt.Errorf("staging %s: %w", p, err)
			}
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.opts.UserName,
			Email: s.opts.UserEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

// Push pushes the named branch to origin.
func (s *Service) Push(ctx context.Context, path, branch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       s.auth(),
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// CommitMessage renders the conventional-commit message for a set of written
// files.
func (s *Service) CommitMessage(requirement string, files []string, kind string) string {
	if kind == "" {
		kind = "feat"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", kind, workflow.TruncateTitle(requirement, 50))
	b.WriteString("Implemented changes:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\nGenerated by codeagentd\n")
	return b.String()
}

// PRDescription renders the review-request body: requirement, plan summary,
// changed files and test results.
func (s *Service) PRDescription(requirement string, plan *workflow.Plan, files []string, tests *workflow.SuiteResult) string {
	var b strings.Builder

	b.WriteString("## Summary\n\n")
	b.WriteString(requirement)
	b.WriteString("\n")

	if plan != nil && plan.Summary != "" {
		b.WriteString("\n## Implementation Plan\n\n")
		b.WriteString(plan.Summary)
		b.WriteString("\n")
	}

	if len(files) > 0 {
		b.WriteString("\n## Changes\n\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}

	b.WriteString("\n## Testing\n\n")
	if tests == nil {
		b.WriteString("No local test results recorded.\n")
	} else {
		fmt.Fprintf(&b, "%d of %d tests passed", tests.Passed, tests.Total)
		if tests.CoveragePct > 0 {
			fmt.Fprintf(&b, ", coverage %.1f%%", tests.CoveragePct)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n---\n*This review request was opened automatically by codeagentd.*\n")
	return b.String()
}

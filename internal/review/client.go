// Package review implements the remote-repository collaborator: it opens
// review requests (pull requests) on GitHub for pushed task branches.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/codeagentd/internal/config"
	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// NewGitHubClient creates a GitHub client with proper authentication.
func NewGitHubClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc), nil
}

// pullRequester is the slice of the GitHub API the service uses.
type pullRequester interface {
	Create(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
}

// Service implements workflow.ReviewService over the GitHub API.
type Service struct {
	pulls pullRequester
	retry *RetryConfig
	log   *logging.Logger
}

// New creates a review service from an authenticated client.
func New(client *github.Client, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{
		pulls: client.PullRequests,
		retry: DefaultRetryConfig(),
		log:   log.Named("review"),
	}
}

// CreateReviewRequest opens a pull request for the pushed branch and returns
// its URL. Transient API errors and rate limits are retried with backoff.
func (s *Service) CreateReviewRequest(ctx context.Context, repo workflow.RepoIdentity, branch, base, title, description string) (string, error) {
	if repo.Owner == "" || repo.Name == "" {
		return "", fmt.Errorf("incomplete repository identity %q", repo.String())
	}
	if base == "" {
		base = "main"
	}

	var pr *github.PullRequest
	_, err := retryOperation(ctx, s.retry, s.log, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = s.pulls.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(branch),
			Base:  github.String(base),
			Body:  github.String(description),
		})
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request on %s: %w", repo.String(), err)
	}
	if pr == nil || pr.HTMLURL == nil {
		return "", fmt.Errorf("pull request created on %s but no URL returned", repo.String())
	}
	return pr.GetHTMLURL(), nil
}

// ParseRepoIdentity derives owner/name from a repository URL, tolerating
// trailing ".git", trailing slashes and SSH-style URLs.
func ParseRepoIdentity(url string) (workflow.RepoIdentity, error) {
	id, err := workflow.ParseRepoURL(url)
	if err != nil {
		return workflow.RepoIdentity{}, err
	}
	if strings.ContainsAny(id.Owner, " \t") || strings.ContainsAny(id.Name, " \t") {
		return workflow.RepoIdentity{}, fmt.Errorf("malformed repository URL %q", url)
	}
	return id, nil
}

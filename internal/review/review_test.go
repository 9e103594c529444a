package review

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codeagentd/internal/config"
	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

type pullResult struct {
	pr   *github.PullRequest
	resp *github.Response
	err  error
}

// scriptedPulls returns one scripted result per Create call.
type scriptedPulls struct {
	script []pullResult
	calls  int
	lastNP *github.NewPullRequest
}

func (s *scriptedPulls) Create(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	s.lastNP = pull
	res := s.script[s.calls]
	if s.calls < len(s.script)-1 {
		s.calls++
	}
	return res.pr, res.resp, res.err
}

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func httpResp(status int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: status}}
}

func newTestService(pulls pullRequester) *Service {
	return &Service{pulls: pulls, retry: fastRetry(), log: logging.NewNop()}
}

func TestCreateReviewRequest(t *testing.T) {
	pulls := &scriptedPulls{script: []pullResult{{
		pr:   &github.PullRequest{HTMLURL: github.String("https://github.com/acme/svc/pull/7")},
		resp: httpResp(http.StatusCreated),
	}}}
	svc := newTestService(pulls)

	url, err := svc.CreateReviewRequest(context.Background(),
		workflow.RepoIdentity{Owner: "acme", Name: "svc"},
		"simple-caching-layer-deadbeef", "main",
		"Add a simple caching layer", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/svc/pull/7", url)

	require.NotNil(t, pulls.lastNP)
	assert.Equal(t, "simple-caching-layer-deadbeef", pulls.lastNP.GetHead())
	assert.Equal(t, "main", pulls.lastNP.GetBase())
	assert.Equal(t, "Add a simple caching layer", pulls.lastNP.GetTitle())
}

func TestCreateReviewRequestRetriesTransientErrors(t *testing.T) {
	pulls := &scriptedPulls{script: []pullResult{
		{resp: httpResp(http.StatusBadGateway), err: errors.New("bad gateway")},
		{resp: httpResp(http.StatusBadGateway), err: errors.New("bad gateway")},
		{
			pr:   &github.PullRequest{HTMLURL: github.String("https://github.com/acme/svc/pull/8")},
			resp: httpResp(http.StatusCreated),
		},
	}}
	svc := newTestService(pulls)

	url, err := svc.CreateReviewRequest(context.Background(),
		workflow.RepoIdentity{Owner: "acme", Name: "svc"},
		"branch", "main", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/svc/pull/8", url)
	assert.Equal(t, 2, pulls.calls)
}

func TestCreateReviewRequestDoesNotRetryClientErrors(t *testing.T) {
	pulls := &scriptedPulls{script: []pullResult{
		{resp: httpResp(http.StatusUnprocessableEntity), err: errors.New("validation failed")},
	}}
	svc := newTestService(pulls)

	_, err := svc.CreateReviewRequest(context.Background(),
		workflow.RepoIdentity{Owner: "acme", Name: "svc"},
		"branch", "main", "title", "body")
	require.Error(t, err)
	assert.Equal(t, 0, pulls.calls)
}

func TestCreateReviewRequestIncompleteIdentity(t *testing.T) {
	svc := newTestService(&scriptedPulls{script: []pullResult{{}}})
	_, err := svc.CreateReviewRequest(context.Background(),
		workflow.RepoIdentity{Owner: "acme"}, "branch", "main", "t", "b")
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	err := errors.New("boom")

	assert.True(t, isRetryableError(err, httpResp(http.StatusTooManyRequests)))
	assert.True(t, isRetryableError(err, httpResp(http.StatusInternalServerError)))
	assert.True(t, isRetryableError(err, httpResp(http.StatusServiceUnavailable)))
	assert.False(t, isRetryableError(err, httpResp(http.StatusUnauthorized)))
	assert.False(t, isRetryableError(err, httpResp(http.StatusNotFound)))
	assert.False(t, isRetryableError(err, httpResp(http.StatusUnprocessableEntity)))
	// Network errors without a response are retryable.
	assert.True(t, isRetryableError(err, nil))
	assert.False(t, isRetryableError(nil, nil))

	// 403 with rate info is a secondary rate limit.
	limited := httpResp(http.StatusForbidden)
	limited.Rate = github.Rate{Limit: 5000, Remaining: 0, Reset: github.Timestamp{Time: time.Now()}}
	assert.True(t, isRetryableError(err, limited))
	assert.False(t, isRetryableError(err, httpResp(http.StatusForbidden)))
}

func TestRetryConfigApplyDefaults(t *testing.T) {
	cfg := &RetryConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}

func TestNewGitHubClientRequiresToken(t *testing.T) {
	_, err := NewGitHubClient(context.Background(), config.Secret(""))
	assert.Error(t, err)

	client, err := NewGitHubClient(context.Background(), config.Secret("ghp_token"))
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestParseRepoIdentity(t *testing.T) {
	id, err := ParseRepoIdentity("https://github.com/acme/widget-service.git")
	require.NoError(t, err)
	assert.Equal(t, "acme", id.Owner)
	assert.Equal(t, "widget-service", id.Name)

	_, err = ParseRepoIdentity("nonsense")
	assert.Error(t, err)
}

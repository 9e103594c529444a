package workflow

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureName(t *testing.T) {
	tests := []struct {
		name        string
		requirement string
		want        string
	}{
		{
			name:        "strips stop words",
			requirement: "Add a simple caching layer",
			want:        "simple-caching-layer",
		},
		{
			name:        "strips punctuation",
			requirement: "Implement rate-limiting, please!",
			want:        "ratelimiting-please",
		},
		{
			name:        "caps at three tokens",
			requirement: "build user profile export endpoint now",
			want:        "build-user-profile",
		},
		{
			name:        "all stop words falls back",
			requirement: "add a new",
			want:        "feature",
		},
		{
			name:        "empty falls back",
			requirement: "",
			want:        "feature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FeatureName(tt.requirement))
		})
	}
}

func TestNewBranchName(t *testing.T) {
	branch := NewBranchName("Add a simple caching layer")
	assert.Regexp(t, regexp.MustCompile(`^simple-caching-layer-[0-9a-f]{8}$`), branch)

	// Suffix makes names unique across calls.
	other := NewBranchName("Add a simple caching layer")
	assert.NotEqual(t, branch, other)
}

func TestNewTaskID(t *testing.T) {
	id := NewTaskID()
	assert.Regexp(t, regexp.MustCompile(`^task_[0-9a-f]{12}$`), id)
	assert.NotEqual(t, id, NewTaskID())
}

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ClassifyComplexity("fix typo in readme"))
	assert.Equal(t, ComplexityModerate, ClassifyComplexity("add database column for users"))
	assert.Equal(t, ComplexityComplex, ClassifyComplexity("refactor authentication to a distributed cache"))

	// Long requirements bump the tier even without keywords.
	long := strings.Repeat("word ", 30)
	assert.Equal(t, ComplexityModerate, ClassifyComplexity(long))
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, "3-5 minutes", EstimateDuration("fix typo"))
	assert.Equal(t, "10-20 minutes", EstimateDuration("refactor authentication into a distributed cache"))
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		name  string
	}{
		{"https://github.com/acme/widget-service", "acme", "widget-service"},
		{"https://github.com/acme/widget-service.git", "acme", "widget-service"},
		{"https://github.com/acme/widget-service/", "acme", "widget-service"},
		{"git@github.com:acme/widget-service.git", "acme", "widget-service"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, err := ParseRepoURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.owner, id.Owner)
			assert.Equal(t, tt.name, id.Name)
			assert.Equal(t, tt.owner+"/"+tt.name, id.String())
		})
	}

	_, err := ParseRepoURL("not-a-url")
	assert.Error(t, err)
	_, err = ParseRepoURL("")
	assert.Error(t, err)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short", 50))
	long := strings.Repeat("x", 80)
	got := TruncateTitle(long, 50)
	assert.Len(t, got, 50)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateTitleMultiByteText(t *testing.T) {
	long := strings.Repeat("ü", 80)
	got := TruncateTitle(long, 50)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 50, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	// At or under the limit, multi-byte text passes through untouched.
	assert.Equal(t, strings.Repeat("ü", 50), TruncateTitle(strings.Repeat("ü", 50), 50))
}

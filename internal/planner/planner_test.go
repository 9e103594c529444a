package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// fakeModel returns scripted completions and records prompts.
type fakeModel struct {
	responses []string
	err       error
	prompts   []string
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.prompts) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.responses[idx]}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("legacy Call is not used")
}

func testRequest() workflow.Request {
	return workflow.Request{
		Requirement: "Add a simple caching layer",
		Target:      "widget-service",
	}
}

func TestPlanParsesJSONResponse(t *testing.T) {
	model := &fakeModel{responses: []string{
		"Here is the plan:\n```json\n" +
			`{"complexity":"moderate","summary":"add an in-process cache",` +
			`"files_to_create":["cache.py"],"files_to_modify":["main.py"]}` +
			"\n```\nLet me know!",
	}}
	svc := New(model, Options{}, nil)

	plan, err := svc.Plan(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "moderate", plan.Complexity)
	assert.Equal(t, "add an in-process cache", plan.Summary)
	assert.Equal(t, []string{"cache.py"}, plan.FilesToCreate)
	assert.Equal(t, []string{"main.py"}, plan.FilesToModify)

	// The prompt carries the requirement and target.
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Add a simple caching layer")
	assert.Contains(t, model.prompts[0], "widget-service")
}

func TestPlanDefaultsComplexity(t *testing.T) {
	model := &fakeModel{responses: []string{`{"summary":"do the thing"}`}}
	svc := New(model, Options{}, nil)

	plan, err := svc.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.ClassifyComplexity("Add a simple caching layer"), plan.Complexity)
}

func TestPlanRejectsNonJSONResponse(t *testing.T) {
	model := &fakeModel{responses: []string{"I cannot help with that."}}
	svc := New(model, Options{}, nil)

	_, err := svc.Plan(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestPlanPropagatesModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("quota exceeded")}
	svc := New(model, Options{}, nil)

	_, err := svc.Plan(context.Background(), testRequest())
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestGenerateParsesFileBlocks(t *testing.T) {
	model := &fakeModel{responses: []string{
		"FILE: cache.py\n```python\nCACHE = {}\n\ndef get(key):\n    return CACHE.get(key)\n```\n\n" +
			"FILE: test_cache.py\n```python\ndef test_get():\n    assert True\n```\n",
	}}
	svc := New(model, Options{}, nil)

	result, err := svc.Generate(context.Background(), testRequest(), &workflow.Plan{
		Summary:       "add cache",
		FilesToCreate: []string{"cache.py", "test_cache.py"},
	})
	require.NoError(t, err)

	require.Contains(t, result.ImplementationFiles, "cache.py")
	assert.Contains(t, result.ImplementationFiles["cache.py"], "def get(key):")
	require.Contains(t, result.TestFiles, "test_cache.py")
	assert.Contains(t, result.TestFiles["test_cache.py"], "def test_get():")
}

func TestGenerateEmptyResponseIsNotAnError(t *testing.T) {
	model := &fakeModel{responses: []string{"no code today"}}
	svc := New(model, Options{}, nil)

	result, err := svc.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.ImplementationFiles)
	assert.Empty(t, result.TestFiles)
}

func TestIsTestPath(t *testing.T) {
	assert.True(t, isTestPath("test_cache.py"))
	assert.True(t, isTestPath("pkg/cache_test.py"))
	assert.True(t, isTestPath("tests/integration/cache.py"))
	assert.False(t, isTestPath("cache.py"))
	assert.False(t, isTestPath("src/testing_utils.py"))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON(`prefix {"a":1} suffix`))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSON(`{"a":{"b":2}}`))
	assert.Equal(t, `{"s":"br{ace}"}`, extractJSON(`{"s":"br{ace}"}`))
	assert.Empty(t, extractJSON("no json here"))
	assert.Empty(t, extractJSON(`{"unterminated":`))
}

// Package planner implements the planning/generation collaborator on top of
// an LLM. It turns a natural-language requirement into a structured plan, and
// a plan into implementation and test file contents.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

// Options configures the planner.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Service implements workflow.Planner by driving an llms.Model.
type Service struct {
	model llms.Model
	opts  Options
	log   *logging.Logger
}

// New creates a planner around the given model.
func New(model llms.Model, opts Options, log *logging.Logger) *Service {
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{model: model, opts: opts, log: log.Named("planner")}
}

const planPrompt = `You are a senior software engineer planning a code change.

Requirement: %s
Target service: %s
%s
Respond with a single JSON object and nothing else:
{
  "complexity": "simple|moderate|complex",
  "summary": "<one-paragraph implementation summary>",
  "files_to_create": ["<relative path>", ...],
  "files_to_modify": ["<relative path>", ...]
}`

// planPayload mirrors the JSON contract of the plan prompt.
type planPayload struct {
	Complexity    string   `json:"complexity"`
	Summary       string   `json:"summary"`
	FilesToCreate []string `json:"files_to_create"`
	FilesToModify []string `json:"files_to_modify"`
}

// Plan asks the model for a structured implementation plan.
func (s *Service) Plan(ctx context.Context, req workflow.Request) (*workflow.Plan, error) {
	extra := ""
	if req.Context != "" {
		extra = fmt.Sprintf("Additional context: %s\n", req.Context)
	}
	prompt := fmt.Sprintf(planPrompt, req.Requirement, req.Target, extra)

	out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt,
		llms.WithTemperature(s.opts.Temperature),
		llms.WithMaxTokens(s.opts.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	var payload planPayload
	raw := extractJSON(out)
	if raw == "" {
		return nil, fmt.Errorf("plan response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parsing plan response: %w", err)
	}

	plan := &workflow.Plan{
		Complexity:    payload.Complexity,
		Summary:       payload.Summary,
		FilesToCreate: payload.FilesToCreate,
		FilesToModify: payload.FilesToModify,
	}
	if plan.Complexity == "" {
		plan.Complexity = workflow.ClassifyComplexity(req.Requirement)
	}
	s.log.Debug(ctx, "plan produced",
		zap.String("complexity", plan.Complexity),
		zap.Int("files_to_create", len(plan.FilesToCreate)),
		zap.Int("files_to_modify", len(plan.FilesToModify)))
	return plan, nil
}

const generatePrompt = `You are a senior software engineer implementing a planned change.

Requirement: %s
Target service: %s
Plan summary: %s
Files to create: %s
Files to modify: %s

Produce the complete content of every file. For each file, emit exactly:

FILE: <relative path>
` + "```" + `
<full file content>
` + "```" + `

Include test files (paths starting with "test_" or under a "tests/"
directory) covering the new behavior. Emit nothing outside FILE blocks.`

// fileBlockRe matches one "FILE: path" header with its fenced content.
var fileBlockRe = regexp.MustCompile("(?ms)^FILE:[ \t]*(\\S+)[ \t]*\n```[a-zA-Z0-9]*\n(.*?)\n?```")

// Generate asks the model for file contents and splits them into
// implementation and test files.
func (s *Service) Generate(ctx context.Context, req workflow.Request, plan *workflow.Plan) (*workflow.GenerateResult, error) {
	summary, create, modify := "", "none", "none"
	if plan != nil {
		summary = plan.Summary
		if len(plan.FilesToCreate) > 0 {
			create = strings.Join(plan.FilesToCreate, ", ")
		}
		if len(plan.FilesToModify) > 0 {
			modify = strings.Join(plan.FilesToModify, ", ")
		}
	}
	prompt := fmt.Sprintf(generatePrompt, req.Requirement, req.Target, summary, create, modify)

	out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt,
		llms.WithTemperature(s.opts.Temperature),
		llms.WithMaxTokens(s.opts.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("code generation: %w", err)
	}

	result := &workflow.GenerateResult{
		ImplementationFiles: make(map[string]string),
		TestFiles:           make(map[string]string),
	}
	for _, m := range fileBlockRe.FindAllStringSubmatch(out, -1) {
		filePath, content := m[1], m[2]
		if isTestPath(filePath) {
			result.TestFiles[filePath] = content
		} else {
			result.ImplementationFiles[filePath] = content
		}
	}
	if len(result.ImplementationFiles)+len(result.TestFiles) == 0 {
		s.log.Warn(ctx, "generation response contained no file blocks")
	}
	return result, nil
}

// isTestPath reports whether a generated file is a test by naming convention.
func isTestPath(p string) bool {
	base := path.Base(p)
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	for _, part := range strings.Split(path.Dir(p), "/") {
		if part == "tests" || part == "test" {
			return true
		}
	}
	return false
}

// extractJSON returns the first balanced top-level JSON object in s, or "".
// Models wrap JSON in prose or fences often enough that this is required.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

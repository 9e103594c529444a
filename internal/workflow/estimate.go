package workflow

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Complexity tiers recorded by the analysis stage.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// complexKeywords bump a requirement into a higher tier regardless of length.
var complexKeywords = []string{
	"integrate", "integration", "refactor", "migration", "database",
	"authentication", "authorization", "concurrent", "distributed",
	"cache", "caching", "websocket", "streaming",
}

// branchStopWords are skipped when deriving a feature name from requirement
// text. Leading verbs like "add" carry no information about the feature.
var branchStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true,
	"of": true, "in": true, "on": true, "at": true, "and": true,
	"or": true, "with": true, "that": true, "this": true, "is": true,
	"add": true, "create": true, "implement": true, "make": true,
	"new": true, "should": true, "which": true,
}

// ClassifyComplexity derives a coarse complexity tier from requirement text.
// Pure function: no I/O, deterministic.
func ClassifyComplexity(requirement string) string {
	lower := strings.ToLower(requirement)
	words := strings.Fields(lower)

	hits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}

	switch {
	case hits >= 2 || len(words) > 60:
		return ComplexityComplex
	case hits == 1 || len(words) > 25:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// EstimateDuration produces a human-readable completion estimate from the
// requirement alone. Pure function.
func EstimateDuration(requirement string) string {
	switch ClassifyComplexity(requirement) {
	case ComplexityComplex:
		return "10-20 minutes"
	case ComplexityModerate:
		return "5-10 minutes"
	default:
		return "3-5 minutes"
	}
}

// FeatureName extracts a short, hyphen-joined feature name from requirement
// text: punctuation stripped, stop-words skipped, at most three tokens.
//
//	"Add a simple caching layer" -> "simple-caching-layer"
func FeatureName(requirement string) string {
	var tokens []string
	for _, raw := range strings.Fields(strings.ToLower(requirement)) {
		token := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, raw)
		if token == "" || branchStopWords[token] {
			continue
		}
		tokens = append(tokens, token)
		if len(tokens) == 3 {
			break
		}
	}
	if len(tokens) == 0 {
		return "feature"
	}
	return strings.Join(tokens, "-")
}

// NewBranchName derives the working branch name for a requirement: the
// feature name plus a random unique suffix.
func NewBranchName(requirement string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", FeatureName(requirement), suffix)
}

// NewTaskID generates an opaque task identifier.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ParseRepoURL derives the remote repository identity from its URL,
// tolerating trailing ".git" and trailing slashes.
func ParseRepoURL(url string) (RepoIdentity, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(url), "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return RepoIdentity{}, fmt.Errorf("cannot derive owner/name from repository URL %q", url)
	}
	owner := parts[len(parts)-2]
	name := parts[len(parts)-1]
	// SSH-style URLs carry the owner after a colon (git@host:owner/name).
	if i := strings.LastIndex(owner, ":"); i >= 0 {
		owner = owner[i+1:]
	}
	if owner == "" || name == "" {
		return RepoIdentity{}, fmt.Errorf("cannot derive owner/name from repository URL %q", url)
	}
	return RepoIdentity{Owner: owner, Name: name}, nil
}

// TruncateTitle shortens requirement text for use as a review-request title.
// The limit counts runes, not bytes, so multi-byte text is never split.
func TruncateTitle(requirement string, max int) string {
	requirement = strings.TrimSpace(requirement)
	runes := []rune(requirement)
	if len(runes) <= max {
		return requirement
	}
	return string(runes[:max-3]) + "..."
}

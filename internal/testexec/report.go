package testexec

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
)

var (
	// summaryCountRe matches pytest summary fragments like "3 passed",
	// "1 failed", "2 skipped" in the final report line.
	summaryCountRe = regexp.MustCompile(`(\d+) (passed|failed|skipped|error|errors)`)

	// detailRe matches verbose per-test lines:
	//   test_api.py::test_health PASSED [ 50%]
	detailRe = regexp.MustCompile(`(?m)^(\S+::\S+)\s+(PASSED|FAILED|SKIPPED|ERROR)`)

	// coverageRe matches the coverage TOTAL line:
	//   TOTAL    120    10    92%
	coverageRe = regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+)%`)
)

// ParseReport extracts counts, per-test details and coverage from pytest
// output. Counts come from the summary line; details from verbose mode.
func ParseReport(output string) *workflow.SuiteResult {
	result := &workflow.SuiteResult{}

	for _, m := range summaryCountRe.FindAllStringSubmatch(output, -1) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "passed":
			result.Passed = n
		case "failed":
			result.Failed = n
		case "skipped":
			result.Skipped = n
		case "error", "errors":
			result.Failed += n
		}
	}
	result.Total = result.Passed + result.Failed + result.Skipped

	for _, m := range detailRe.FindAllStringSubmatch(output, -1) {
		result.Details = append(result.Details, workflow.TestDetail{
			Name:   m[1],
			Status: strings.ToLower(m[2]),
		})
	}

	if m := coverageRe.FindStringSubmatch(output); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			result.CoveragePct = float64(pct)
		}
	}

	return result
}

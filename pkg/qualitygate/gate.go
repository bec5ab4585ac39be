// Package qualitygate runs the lint-then-test sequence for a run's
// workspace. Ordering is strict: lint first, and a lint failure forces the
// test step to be skipped. All failures are recorded as data on the result.
package qualitygate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kawanishi0117/agent-company-sub001/pkg/execrun"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// Skip reasons for checks that did not run.
const (
	SkipReasonConfig      = "config skip"
	SkipReasonLintFailed  = "lint failed"
	SkipReasonNoTestFiles = "no test files"
)

// DefaultCheckTimeout bounds each check command.
const DefaultCheckTimeout = 5 * time.Minute

// CheckResult is the outcome of one gate check (lint or test).
type CheckResult struct {
	Executed   bool   `json:"executed"`
	Passed     bool   `json:"passed"`
	Output     string `json:"output,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
	TimedOut   bool   `json:"timedOut,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Result is the full gate outcome for one run.
type Result struct {
	RunID      string                  `json:"runId"`
	Success    bool                    `json:"success"`
	Lint       CheckResult             `json:"lint"`
	Test       CheckResult             `json:"test"`
	Errors     []models.ExecutionError `json:"errors,omitempty"`
	DurationMs int64                   `json:"durationMs"`
}

// Config controls the gate's commands and skips.
type Config struct {
	LintCommand      string
	TestCommand      string
	SkipLint         bool
	SkipTest         bool
	CheckTimeout     time.Duration
	TestFilePatterns []string
}

// Gate executes quality checks in a workspace directory.
type Gate struct {
	cfg    Config
	runner execrun.Runner
}

// New builds a gate. A nil runner uses the host.
func New(cfg Config, runner execrun.Runner) *Gate {
	if runner == nil {
		runner = execrun.NewLocalRunner()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if len(cfg.TestFilePatterns) == 0 {
		cfg.TestFilePatterns = []string{"*_test.go", "*.test.js", "*.test.ts", "test_*.py"}
	}
	return &Gate{cfg: cfg, runner: runner}
}

// Execute runs the gate for one run's workspace.
func (g *Gate) Execute(ctx context.Context, runID, workspace string) *Result {
	start := time.Now()
	result := &Result{RunID: runID}

	result.Lint = g.runLint(ctx, workspace)
	if result.Lint.TimedOut {
		result.Errors = append(result.Errors, gateError(models.CodeTimeout, "lint check timed out"))
	} else if result.Lint.Executed && !result.Lint.Passed {
		result.Errors = append(result.Errors, gateError(models.CodeLintFailed,
			fmt.Sprintf("lint failed: %s", firstLine(result.Lint.Output))))
	}

	result.Test = g.runTest(ctx, workspace, result.Lint)
	if result.Test.TimedOut {
		result.Errors = append(result.Errors, gateError(models.CodeTimeout, "test check timed out"))
	} else if result.Test.Executed && !result.Test.Passed {
		result.Errors = append(result.Errors, gateError(models.CodeTestFailed,
			fmt.Sprintf("tests failed: %s", firstLine(result.Test.Output))))
	}

	result.Success = gateSuccess(result.Lint, result.Test)
	result.DurationMs = time.Since(start).Milliseconds()

	slog.Info("Quality gate finished",
		"run_id", runID,
		"success", result.Success,
		"lint_passed", result.Lint.Passed,
		"test_executed", result.Test.Executed,
		"duration_ms", result.DurationMs)
	return result
}

// gateSuccess applies the success rule: lint must pass (a config skip counts
// as a pass) and the test must pass when it executed. A lint-failure skip of
// the test step never yields success because lint itself failed.
func gateSuccess(lint, test CheckResult) bool {
	lintOK := lint.Passed || (!lint.Executed && lint.SkipReason == SkipReasonConfig)
	testOK := !test.Executed || test.Passed
	if test.SkipReason == SkipReasonLintFailed {
		return false
	}
	return lintOK && testOK
}

func (g *Gate) runLint(ctx context.Context, workspace string) CheckResult {
	if g.cfg.SkipLint || g.cfg.LintCommand == "" {
		return CheckResult{SkipReason: SkipReasonConfig}
	}
	return g.runCheck(ctx, workspace, g.cfg.LintCommand)
}

func (g *Gate) runTest(ctx context.Context, workspace string, lint CheckResult) CheckResult {
	switch {
	case g.cfg.SkipTest || g.cfg.TestCommand == "":
		return CheckResult{SkipReason: SkipReasonConfig}
	case lint.Executed && !lint.Passed:
		return CheckResult{SkipReason: SkipReasonLintFailed}
	case !g.hasTestFiles(workspace):
		return CheckResult{SkipReason: SkipReasonNoTestFiles}
	}
	return g.runCheck(ctx, workspace, g.cfg.TestCommand)
}

func (g *Gate) runCheck(ctx context.Context, workspace, command string) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, g.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	execResult, err := g.runner.Run(checkCtx, workspace, "sh", "-c", command)
	check := CheckResult{
		Executed:   true,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if execResult != nil {
		check.Output = execResult.Combined()
		check.Passed = err == nil && execResult.ExitCode == 0
		if execResult.TimedOut {
			check.Passed = false
			check.TimedOut = true
			check.Output = strings.TrimSpace(check.Output + "\ncheck timed out")
		}
	}
	return check
}

// hasTestFiles walks the workspace looking for any file matching the
// configured test patterns.
func (g *Gate) hasTestFiles(workspace string) bool {
	found := false
	_ = filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		for _, pattern := range g.cfg.TestFilePatterns {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

// errorCountPattern pulls "N errors"/"N warnings" counts out of lint output.
var (
	errorCountPattern   = regexp.MustCompile(`(\d+)\s+errors?`)
	warningCountPattern = regexp.MustCompile(`(\d+)\s+warnings?`)
	failedTestPattern   = regexp.MustCompile(`(?m)^--- FAIL: (\S+)`)
)

// ToRecord converts a gate result into its persisted form. Pure function:
// calling it twice on the same result yields identical records.
func ToRecord(result *Result) *models.QualityGateRecord {
	var failed []string
	for _, match := range failedTestPattern.FindAllStringSubmatch(result.Test.Output, -1) {
		failed = append(failed, match[1])
	}
	return &models.QualityGateRecord{
		RunID:   result.RunID,
		Overall: result.Success,
		Lint: models.LintRecord{
			Passed:       result.Lint.Passed || !result.Lint.Executed,
			Output:       result.Lint.Output,
			ErrorCount:   extractCount(errorCountPattern, result.Lint.Output),
			WarningCount: extractCount(warningCountPattern, result.Lint.Output),
		},
		Test: models.TestRecord{
			Passed:      result.Test.Passed || !result.Test.Executed,
			Output:      result.Test.Output,
			FailedTests: failed,
		},
	}
}

func extractCount(pattern *regexp.Regexp, output string) int {
	match := pattern.FindStringSubmatch(output)
	if len(match) < 2 {
		return 0
	}
	n := 0
	for _, r := range match[1] {
		n = n*10 + int(r-'0')
	}
	return n
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func gateError(code models.ErrorCode, message string) models.ExecutionError {
	return models.ExecutionError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

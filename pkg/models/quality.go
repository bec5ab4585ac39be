package models

import "time"

// LintRecord is the persisted lint portion of a quality gate result.
type LintRecord struct {
	Passed       bool   `json:"passed"`
	Output       string `json:"output,omitempty"`
	ErrorCount   int    `json:"errorCount"`
	WarningCount int    `json:"warningCount"`
}

// TestRecord is the persisted test portion of a quality gate result.
type TestRecord struct {
	Passed      bool     `json:"passed"`
	Output      string   `json:"output,omitempty"`
	FailedTests []string `json:"failedTests,omitempty"`
}

// QualityGateRecord is the gate result persisted to runs/<runId>/quality.json.
type QualityGateRecord struct {
	RunID     string     `json:"runId"`
	Timestamp time.Time  `json:"timestamp"`
	Lint      LintRecord `json:"lint"`
	Test      TestRecord `json:"test"`
	Overall   bool       `json:"overall"`
}

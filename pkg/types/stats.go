// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StageStats holds the counters one stage reports to the orchestrator.
type StageStats struct {
	Stage string `json:"stage" yaml:"stage"`

	// Skipped is true when the whole stage did not run because its required
	// configuration (usually an API key) is absent. SkipReason says why.
	Skipped    bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`

	Processed         int `json:"processed" yaml:"processed"`
	Succeeded         int `json:"succeeded" yaml:"succeeded"`
	SkippedRecords    int `json:"skipped_records" yaml:"skipped_records"`
	FailedRecoverable int `json:"failed_recoverable" yaml:"failed_recoverable"`
	FailedFatal       int `json:"failed_fatal" yaml:"failed_fatal"`

	// Ranking filter only.
	UnrankedExcluded int `json:"unranked_excluded,omitempty" yaml:"unranked_excluded,omitempty"`
	ThresholdFailed  int `json:"threshold_failed,omitempty" yaml:"threshold_failed,omitempty"`

	// Halted is set when a stage stopped early on a rate-limit or block
	// signal; HaltReason carries the provider message.
	Halted     bool   `json:"halted,omitempty" yaml:"halted,omitempty"`
	HaltReason string `json:"halt_reason,omitempty" yaml:"halt_reason,omitempty"`

	TokenUsage TokenUsage    `json:"token_usage,omitempty" yaml:"token_usage,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// HasFailures reports whether any record failed in this stage.
func (s StageStats) HasFailures() bool {
	return s.FailedRecoverable > 0 || s.FailedFatal > 0
}

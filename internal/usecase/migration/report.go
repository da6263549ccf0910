package migration

import (
	"errors"
	"time"

	"github.com/kailas-cloud/agentdex/internal/domain"
)

// FailureKind labels why a single document failed during a run.
type FailureKind string

// Failure kinds, one per error class in the taxonomy.
const (
	FailureRateLimited       FailureKind = "rate_limited"
	FailureInvalidInput      FailureKind = "invalid_input"
	FailureTransient         FailureKind = "transient"
	FailureDimensionMismatch FailureKind = "dimension_mismatch"
	FailureFormat            FailureKind = "format"
	FailureStore             FailureKind = "store"
)

// KindOf maps an error to its failure kind. Context timeouts surface as
// transient: a timed-out call is recorded like any other per-document failure.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, domain.ErrInvalidInput):
		return FailureInvalidInput
	case errors.Is(err, domain.ErrDimensionMismatch):
		return FailureDimensionMismatch
	case errors.Is(err, domain.ErrFormat):
		return FailureFormat
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrNotFound):
		return FailureStore
	default:
		return FailureTransient
	}
}

// Failure records one document that could not be migrated.
type Failure struct {
	DocumentID string      `json:"document_id"`
	Kind       FailureKind `json:"kind"`
}

// Report summarizes a completed migration run. Failures preserve corpus
// iteration order.
type Report struct {
	RunID        string        `json:"run_id"`
	ModelVersion string        `json:"model_version"`
	AgentName    string        `json:"agent_name,omitempty"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Failures     []Failure     `json:"failures,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Plan describes what a confirmed run would do. Returned for dry runs.
type Plan struct {
	ModelVersion  string        `json:"model_version"`
	AgentName     string        `json:"agent_name,omitempty"`
	DocumentCount int           `json:"document_count"`
	Throttle      time.Duration `json:"throttle"`
}

// Outcome is the result of a migration request: a plan for dry runs,
// a report for confirmed runs.
type Outcome struct {
	RunID  string  `json:"run_id"`
	DryRun bool    `json:"dry_run"`
	Plan   *Plan   `json:"plan,omitempty"`
	Report *Report `json:"report,omitempty"`
}

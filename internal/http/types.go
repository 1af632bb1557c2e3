package http

import (
	"github.com/fyrsmithlabs/athena/internal/learning"
	"github.com/fyrsmithlabs/athena/internal/schedule"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Scheduler *schedule.Status  `json:"scheduler,omitempty"`
	LastRun   *schedule.LastRun `json:"last_run,omitempty"`
}

// RunResponse is the response body for POST /api/v1/runs. Error is set
// when the run completed but handing off its patterns failed.
type RunResponse struct {
	*learning.RunResult
	Error string `json:"error,omitempty"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []learning.Pattern `json:"patterns"`
	Count    int                `json:"count"`
}

// ExecutionsRequest is the request body for POST /api/v1/executions.
type ExecutionsRequest struct {
	Executions []learning.ExecutionRecord `json:"executions"`
}

// ExecutionsResponse is the response body for POST /api/v1/executions.
type ExecutionsResponse struct {
	Recorded int `json:"recorded"`
}

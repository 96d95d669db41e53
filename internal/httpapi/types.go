// Package httpapi provides the quantsim HTTP REST API: job submission,
// status polling, result download, cancellation and the live trade log.
package httpapi

import (
	"quantsim/internal/domain"
)

// SubmitResponse is returned by POST /api/simulations/bulk.
type SubmitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// JobListResponse wraps GET /api/simulations.
type JobListResponse struct {
	Count int                    `json:"count"`
	Jobs  []domain.SimulationJob `json:"jobs"`
}

// StrategiesResponse lists registered strategies, all and per side.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
	Buy        []string `json:"buy"`
	Sell       []string `json:"sell"`
}

// TradesResponse wraps GET /api/trades.
type TradesResponse struct {
	Symbol string              `json:"symbol,omitempty"`
	Count  int                 `json:"count"`
	Events []domain.TradeEvent `json:"events"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

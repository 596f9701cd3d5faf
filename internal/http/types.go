package http

import "github.com/fyrsmithlabs/harness/internal/features"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// FeaturesResponse is the response body for GET /api/v1/features.
type FeaturesResponse struct {
	Total     int                `json:"total"`
	Completed int                `json:"completed"`
	Percent   float64            `json:"percent"`
	Features  []features.Feature `json:"features"`
}

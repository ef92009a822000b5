package domain

import "time"

type UsageLog struct {
	JobID         string
	TemplateID    string
	Model         string
	InputBytes    int64
	OutputBytes   int64
	PromptTokens  int64
	OutputTokens  int64
	EstimatedCost float64
	ComputeTimeMS int64
	Attempt       int
	CreatedAt     time.Time
}

type UsageSummary struct {
	Jobs          int64   `json:"jobs"`
	PromptTokens  int64   `json:"promptTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	EstimatedCost float64 `json:"estimatedCostUSD"`
}

package store

import (
	"context"

	"github.com/dunamismax/stylegen/internal/domain"
)

// UsageStore records one row per completed generation.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, log domain.UsageLog) error
	Summary(ctx context.Context) (domain.UsageSummary, error)
}

// Package repository persists synchronized health data points.
//
// Two implementations are provided: a PostgreSQL store used in production
// and an in-memory store used by tests and single-process deployments.
package repository

import (
	"context"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
)

// HealthDataStore is the persistence interface used by the sync engine
// and the backup manager. SavePoints deduplicates on point ID and returns
// the number of points actually written.
type HealthDataStore interface {
	SavePoints(ctx context.Context, points []model.HealthDataPoint) (int, error)
	GetPoints(ctx context.Context, userID string, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error)
	ListAll(ctx context.Context) ([]model.HealthDataPoint, error)
	ListSince(ctx context.Context, since time.Time) ([]model.HealthDataPoint, error)
	Count(ctx context.Context) (int, error)
}

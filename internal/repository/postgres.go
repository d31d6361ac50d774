package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulseloop/wearsync/pkg/model"
	"go.uber.org/zap"
)

// PostgresStore persists health data points in PostgreSQL
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// SavePoints inserts the given points, skipping any whose ID already exists.
// Returns the number of points actually written.
func (s *PostgresStore) SavePoints(ctx context.Context, points []model.HealthDataPoint) (int, error) {
	query := `
		INSERT INTO health_data_points (
			id, user_id, source, device_id, metric_type,
			timestamp, value, systolic, diastolic, unit,
			synced_at, manual_entry, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	saved := 0
	for _, p := range points {
		var systolic, diastolic *float64
		if p.Value.BloodPressure != nil {
			systolic = &p.Value.BloodPressure.Systolic
			diastolic = &p.Value.BloodPressure.Diastolic
		}

		var metadata []byte
		if len(p.Metadata) > 0 {
			var err error
			metadata, err = json.Marshal(p.Metadata)
			if err != nil {
				return saved, fmt.Errorf("failed to marshal metadata: %w", err)
			}
		}

		result, err := s.db.Exec(ctx, query,
			p.ID,
			p.UserID,
			string(p.Source),
			p.DeviceID,
			string(p.MetricType),
			p.Timestamp,
			p.Value.Scalar,
			systolic,
			diastolic,
			p.Unit,
			p.SyncedAt,
			p.ManualEntry,
			metadata,
		)

		if err != nil {
			s.logger.Error("failed to save health data point",
				zap.Error(err),
				zap.String("point_id", p.ID),
				zap.String("metric_type", string(p.MetricType)),
			)
			return saved, fmt.Errorf("failed to save health data point: %w", err)
		}

		if result.RowsAffected() > 0 {
			saved++
		}
	}

	return saved, nil
}

// GetPoints retrieves points for a user and metric within a time range, sorted by timestamp ascending
func (s *PostgresStore) GetPoints(ctx context.Context, userID string, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	query := `
		SELECT
			id, user_id, source, device_id, metric_type,
			timestamp, value, systolic, diastolic, unit,
			synced_at, manual_entry, metadata
		FROM health_data_points
		WHERE user_id = $1 AND metric_type = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC
	`

	rows, err := s.db.Query(ctx, query, userID, string(metric), from, to)
	if err != nil {
		s.logger.Error("failed to get health data points", zap.Error(err), zap.String("user_id", userID))
		return nil, fmt.Errorf("failed to get health data points: %w", err)
	}
	defer rows.Close()

	return s.scanPoints(rows)
}

// ListAll returns every stored point, sorted by timestamp ascending
func (s *PostgresStore) ListAll(ctx context.Context) ([]model.HealthDataPoint, error) {
	query := `
		SELECT
			id, user_id, source, device_id, metric_type,
			timestamp, value, systolic, diastolic, unit,
			synced_at, manual_entry, metadata
		FROM health_data_points
		ORDER BY timestamp ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		s.logger.Error("failed to list health data points", zap.Error(err))
		return nil, fmt.Errorf("failed to list health data points: %w", err)
	}
	defer rows.Close()

	return s.scanPoints(rows)
}

// ListSince returns points synced at or after the given time, sorted by timestamp ascending
func (s *PostgresStore) ListSince(ctx context.Context, since time.Time) ([]model.HealthDataPoint, error) {
	query := `
		SELECT
			id, user_id, source, device_id, metric_type,
			timestamp, value, systolic, diastolic, unit,
			synced_at, manual_entry, metadata
		FROM health_data_points
		WHERE synced_at >= $1
		ORDER BY timestamp ASC
	`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		s.logger.Error("failed to list health data points since", zap.Error(err), zap.Time("since", since))
		return nil, fmt.Errorf("failed to list health data points since: %w", err)
	}
	defer rows.Close()

	return s.scanPoints(rows)
}

// Count returns the number of stored points
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM health_data_points`

	var count int
	if err := s.db.QueryRow(ctx, query).Scan(&count); err != nil {
		s.logger.Error("failed to count health data points", zap.Error(err))
		return 0, fmt.Errorf("failed to count health data points: %w", err)
	}

	return count, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (s *PostgresStore) scanPoints(rows pgxRows) ([]model.HealthDataPoint, error) {
	var points []model.HealthDataPoint
	for rows.Next() {
		var (
			p                   model.HealthDataPoint
			source, metricType  string
			systolic, diastolic *float64
			metadata            []byte
		)
		err := rows.Scan(
			&p.ID,
			&p.UserID,
			&source,
			&p.DeviceID,
			&metricType,
			&p.Timestamp,
			&p.Value.Scalar,
			&systolic,
			&diastolic,
			&p.Unit,
			&p.SyncedAt,
			&p.ManualEntry,
			&metadata,
		)
		if err != nil {
			s.logger.Error("failed to scan health data point", zap.Error(err))
			continue
		}

		p.Source = model.SourcePlatform(source)
		p.MetricType = model.MetricType(metricType)
		if systolic != nil && diastolic != nil {
			p.Value.BloodPressure = &model.BloodPressureValue{
				Systolic:  *systolic,
				Diastolic: *diastolic,
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
				s.logger.Error("failed to unmarshal metadata", zap.Error(err), zap.String("point_id", p.ID))
			}
		}

		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("error iterating health data points", zap.Error(err))
		return nil, fmt.Errorf("error iterating health data points: %w", err)
	}

	return points, nil
}

// Ensure PostgresStore implements HealthDataStore
var _ HealthDataStore = (*PostgresStore)(nil)

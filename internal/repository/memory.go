package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
)

// MemoryStore is an in-memory implementation of HealthDataStore.
// It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]model.HealthDataPoint
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points: make(map[string]model.HealthDataPoint),
	}
}

// SavePoints stores the given points, skipping any whose ID is already present
func (s *MemoryStore) SavePoints(ctx context.Context, points []model.HealthDataPoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for _, p := range points {
		if _, exists := s.points[p.ID]; exists {
			continue
		}
		s.points[p.ID] = p
		saved++
	}

	return saved, nil
}

// GetPoints returns points for a user and metric within [from, to], sorted by timestamp ascending
func (s *MemoryStore) GetPoints(ctx context.Context, userID string, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.HealthDataPoint
	for _, p := range s.points {
		if p.UserID != userID || p.MetricType != metric {
			continue
		}
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// ListAll returns every stored point, sorted by timestamp ascending
func (s *MemoryStore) ListAll(ctx context.Context) ([]model.HealthDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.HealthDataPoint, 0, len(s.points))
	for _, p := range s.points {
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// ListSince returns points synced at or after the given time, sorted by timestamp ascending
func (s *MemoryStore) ListSince(ctx context.Context, since time.Time) ([]model.HealthDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.HealthDataPoint
	for _, p := range s.points {
		if p.SyncedAt.Before(since) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// Count returns the number of stored points
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.points), nil
}

// Ensure MemoryStore implements HealthDataStore
var _ HealthDataStore = (*MemoryStore)(nil)

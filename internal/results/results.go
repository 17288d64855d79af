// Package results stores the per-ranker evaluation series of an experiment.
package results

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Point is one evaluation of one ranker.
type Point struct {
	Iteration int     `json:"iteration"`
	Value     float64 `json:"value"`
}

// Series maps ranker names to their points in iteration order.
type Series map[string][]Point

// Names returns the ranker names in sorted order.
func (s Series) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Last returns the most recent point of a ranker.
func (s Series) Last(name string) (Point, bool) {
	points := s[name]
	if len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)-1], true
}

// Store persists evaluation points as they are produced.
type Store interface {
	// Append records one point for a ranker.
	Append(ctx context.Context, ranker string, p Point) error

	// Series returns every stored point grouped by ranker.
	Series(ctx context.Context) (Series, error)

	// Close releases resources.
	Close() error
}

// MemoryStore keeps series in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	series Series
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(Series)}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, ranker string, p Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[ranker] = append(m.series[ranker], p)
	return nil
}

// Series implements Store. The returned map is a copy.
func (m *MemoryStore) Series(_ context.Context) (Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Series, len(m.series))
	for name, points := range m.series {
		out[name] = slices.Clone(points)
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

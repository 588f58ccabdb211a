package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store. It is used in development
// and tests and when no database URL is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	logs      []*AttackLog
	byID      map[uuid.UUID]*AttackLog
	responses map[uuid.UUID]*DefenseResponse // latest per attack log
	training  []*TrainingSample
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*AttackLog),
		responses: make(map[uuid.UUID]*DefenseResponse),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateAttackLog implements Store. A zero CreatedAt is set to now.
func (s *MemoryStore) CreateAttackLog(_ context.Context, l *AttackLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.ID = uuid.New()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	l.Normalize()

	cp := *l
	s.logs = append(s.logs, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// AttackLog implements Store.
func (s *MemoryStore) AttackLog(_ context.Context, id uuid.UUID) (*AttackLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// CreateDefenseResponse implements Store.
func (s *MemoryStore) CreateDefenseResponse(_ context.Context, r *DefenseResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.New()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.AttackLogID != uuid.Nil {
		cp := *r
		s.responses[r.AttackLogID] = &cp
	}
	return nil
}

// CreateTrainingSample implements Store.
func (s *MemoryStore) CreateTrainingSample(_ context.Context, t *TrainingSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = uuid.New()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	s.training = append(s.training, &cp)
	return nil
}

// CountRecent implements Store.
func (s *MemoryStore) CountRecent(_ context.Context, category string, window time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().Add(-window)
	n := 0
	for _, l := range s.logs {
		if l.AttackType == category && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountByCategory implements Store. Rows are ordered by count descending,
// then category name.
func (s *MemoryStore) CountByCategory(_ context.Context, since time.Time) ([]CategoryCount, error) {
	s.mu.RLock()
	counts := make(map[string]int)
	for _, l := range s.logs {
		if !l.CreatedAt.Before(since) {
			counts[l.AttackType]++
		}
	}
	s.mu.RUnlock()

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// RecentDetections implements Store, newest first.
func (s *MemoryStore) RecentDetections(_ context.Context, limit int) ([]DetectionRecord, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DetectionRecord, 0, min(limit, len(s.logs)))
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		rec := DetectionRecord{AttackLog: *s.logs[i]}
		if r, ok := s.responses[rec.ID]; ok {
			rec.Action = r.Action
			rec.Blocked = r.Blocked
			rec.Reason = r.Reason
			rec.ThreatScore = r.Confidence
			rec.ModelVersion = r.ModelVersion
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecentTraining implements Store, newest first.
func (s *MemoryStore) RecentTraining(_ context.Context, limit int) ([]TrainingSample, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrainingSample, 0, min(limit, len(s.training)))
	for i := len(s.training) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.training[i])
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

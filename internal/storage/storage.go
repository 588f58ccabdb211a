// Package storage persists attack logs, defense responses and training
// samples, and answers the frequency queries used for historical scoring.
//
// Every write is best-effort from the caller's point of view: callers log and
// continue on error.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps failures to reach the backing database.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is the storage collaborator used by the defense pipeline.
type Store interface {
	// CreateAttackLog assigns an ID to l and persists it.
	CreateAttackLog(ctx context.Context, l *AttackLog) error
	AttackLog(ctx context.Context, id uuid.UUID) (*AttackLog, error)
	CreateDefenseResponse(ctx context.Context, r *DefenseResponse) error
	CreateTrainingSample(ctx context.Context, s *TrainingSample) error

	// CountRecent counts attack logs of category created within window.
	CountRecent(ctx context.Context, category string, window time.Duration) (int, error)
	// CountByCategory counts attack logs per category created at or after since.
	CountByCategory(ctx context.Context, since time.Time) ([]CategoryCount, error)

	RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error)
	RecentTraining(ctx context.Context, limit int) ([]TrainingSample, error)

	Ping(ctx context.Context) error
}

// Listing limits. A non-positive limit means DefaultListLimit.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. The schema lives in
// migrations/001_init.up.sql.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateAttackLog implements Store.
func (s *PostgresStore) CreateAttackLog(ctx context.Context, l *AttackLog) error {
	l.ID = uuid.New()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.Normalize()

	query := `
		INSERT INTO attack_logs (id, source, target, attack_type, method, path, payload,
		                         headers, user_agent, source_ip, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.Exec(ctx, query,
		l.ID, l.Source, l.Target, l.AttackType, l.Method, l.Path, l.Payload,
		l.Headers, l.UserAgent, l.SourceIP, l.Confidence, l.CreatedAt,
	)
	return classify("insert attack log", err)
}

// AttackLog implements Store.
func (s *PostgresStore) AttackLog(ctx context.Context, id uuid.UUID) (*AttackLog, error) {
	query := `SELECT id, source, target, attack_type, method, path, payload,
	                 headers, user_agent, source_ip, confidence, created_at
	          FROM attack_logs WHERE id = $1`

	var l AttackLog
	err := s.db.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.Source, &l.Target, &l.AttackType, &l.Method, &l.Path, &l.Payload,
		&l.Headers, &l.UserAgent, &l.SourceIP, &l.Confidence, &l.CreatedAt,
	)
	if err != nil {
		return nil, classify("get attack log", err)
	}
	return &l, nil
}

// CreateDefenseResponse implements Store.
func (s *PostgresStore) CreateDefenseResponse(ctx context.Context, r *DefenseResponse) error {
	r.ID = uuid.New()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var logID *uuid.UUID
	if r.AttackLogID != uuid.Nil {
		logID = &r.AttackLogID
	}

	query := `
		INSERT INTO defense_responses (id, attack_log_id, action, blocked, reason,
		                               confidence, model_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		r.ID, logID, r.Action, r.Blocked, r.Reason, r.Confidence, r.ModelVersion, r.CreatedAt,
	)
	return classify("insert defense response", err)
}

// CreateTrainingSample implements Store.
func (s *PostgresStore) CreateTrainingSample(ctx context.Context, t *TrainingSample) error {
	t.ID = uuid.New()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO training_samples (id, category, confidence, threat_score, action,
		                              evidence_count, model_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		t.ID, t.Category, t.Confidence, t.ThreatScore, t.Action,
		t.EvidenceCount, t.ModelVersion, t.CreatedAt,
	)
	return classify("insert training sample", err)
}

// CountRecent implements Store.
func (s *PostgresStore) CountRecent(ctx context.Context, category string, window time.Duration) (int, error) {
	since := time.Now().UTC().Add(-window)

	var n int
	q := `SELECT COUNT(*) FROM attack_logs WHERE attack_type = $1 AND created_at >= $2`
	if err := s.db.QueryRow(ctx, q, category, since).Scan(&n); err != nil {
		return 0, classify("count recent", err)
	}
	return n, nil
}

// CountByCategory implements Store.
func (s *PostgresStore) CountByCategory(ctx context.Context, since time.Time) ([]CategoryCount, error) {
	q := `SELECT attack_type, COUNT(*) AS n
	      FROM attack_logs
	      WHERE created_at >= $1
	      GROUP BY attack_type
	      ORDER BY n DESC, attack_type`

	rows, err := s.db.Query(ctx, q, since)
	if err != nil {
		return nil, classify("count by category", err)
	}
	defer rows.Close()

	out := []CategoryCount{}
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, classify("scan category count", err)
		}
		out = append(out, c)
	}
	return out, classify("count by category", rows.Err())
}

// RecentDetections implements Store.
func (s *PostgresStore) RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	q := `SELECT a.id, a.source, a.target, a.attack_type, a.method, a.path, a.payload,
	             a.headers, a.user_agent, a.source_ip, a.confidence, a.created_at,
	             COALESCE(d.action, ''), COALESCE(d.blocked, false), COALESCE(d.reason, ''),
	             COALESCE(d.confidence, 0), COALESCE(d.model_version, '')
	      FROM attack_logs a
	      LEFT JOIN LATERAL (
	          SELECT action, blocked, reason, confidence, model_version
	          FROM defense_responses
	          WHERE attack_log_id = a.id
	          ORDER BY created_at DESC
	          LIMIT 1
	      ) d ON true
	      ORDER BY a.created_at DESC
	      LIMIT $1`

	rows, err := s.db.Query(ctx, q, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list detections", err)
	}
	defer rows.Close()

	out := []DetectionRecord{}
	for rows.Next() {
		var r DetectionRecord
		err := rows.Scan(
			&r.ID, &r.Source, &r.Target, &r.AttackType, &r.Method, &r.Path, &r.Payload,
			&r.Headers, &r.UserAgent, &r.SourceIP, &r.Confidence, &r.CreatedAt,
			&r.Action, &r.Blocked, &r.Reason, &r.ThreatScore, &r.ModelVersion,
		)
		if err != nil {
			return nil, classify("scan detection", err)
		}
		out = append(out, r)
	}
	return out, classify("list detections", rows.Err())
}

// RecentTraining implements Store.
func (s *PostgresStore) RecentTraining(ctx context.Context, limit int) ([]TrainingSample, error) {
	q := `SELECT id, category, confidence, threat_score, action, evidence_count,
	             model_version, created_at
	      FROM training_samples
	      ORDER BY created_at DESC
	      LIMIT $1`

	rows, err := s.db.Query(ctx, q, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list training", err)
	}
	defer rows.Close()

	out := []TrainingSample{}
	for rows.Next() {
		var t TrainingSample
		err := rows.Scan(
			&t.ID, &t.Category, &t.Confidence, &t.ThreatScore, &t.Action, &t.EvidenceCount,
			&t.ModelVersion, &t.CreatedAt,
		)
		if err != nil {
			return nil, classify("scan training sample", err)
		}
		out = append(out, t)
	}
	return out, classify("list training", rows.Err())
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify("ping", s.db.Ping(ctx))
}

// classify wraps err with op, mapping missing rows to ErrNotFound and
// connectivity failures to ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

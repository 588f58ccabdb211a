package storage

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Truncation limits for free-text attack log fields, in characters.
const (
	MaxPayloadChars = 1000
	MaxHeaderChars  = 2000
)

// AttackLog is the persisted trace of a detected attack.
type AttackLog struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	AttackType string    `json:"attack_type"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Payload    string    `json:"payload"`
	Headers    string    `json:"headers"`
	UserAgent  string    `json:"user_agent"`
	SourceIP   string    `json:"source_ip"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Normalize truncates Payload and Headers to their storage limits.
func (l *AttackLog) Normalize() {
	l.Payload = Truncate(l.Payload, MaxPayloadChars)
	l.Headers = Truncate(l.Headers, MaxHeaderChars)
}

// DefenseResponse records the decision taken for an attack. AttackLogID is
// uuid.Nil when the attack log could not be written.
type DefenseResponse struct {
	ID           uuid.UUID `json:"id"`
	AttackLogID  uuid.UUID `json:"attack_log_id"`
	Action       string    `json:"action"`
	Blocked      bool      `json:"blocked"`
	Reason       string    `json:"reason"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// TrainingSample is a metric row written for every analysis.
type TrainingSample struct {
	ID            uuid.UUID `json:"id"`
	Category      string    `json:"category"`
	Confidence    float64   `json:"confidence"`
	ThreatScore   float64   `json:"threat_score"`
	Action        string    `json:"action"`
	EvidenceCount int       `json:"evidence_count"`
	ModelVersion  string    `json:"model_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// DetectionRecord is an attack log joined with its latest defense response.
// The response fields are empty when no response was recorded.
type DetectionRecord struct {
	AttackLog
	Action       string  `json:"action,omitempty"`
	Blocked      bool    `json:"blocked"`
	Reason       string  `json:"reason,omitempty"`
	ThreatScore  float64 `json:"threat_score"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// CategoryCount is one row of a per-category aggregate.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

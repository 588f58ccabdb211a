// Package alert delivers signed webhook notifications for attack verdicts
// and backend health changes.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the edge.
const (
	EventAttackBlocked    = "attack.blocked"
	EventAttackChallenged = "attack.challenged"
	EventBackendDegraded  = "backend.degraded"
	EventBackendRecovered = "backend.recovered"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// subscription has a secret.
const SignatureHeader = "X-Sentinel-Signature"

// Subscription is a webhook endpoint and the events it receives. An empty
// Events list, or one containing "*", receives everything.
type Subscription struct {
	URL    string   `mapstructure:"url"    json:"url"`
	Events []string `mapstructure:"events" json:"events"`
	Secret string   `mapstructure:"secret" json:"-"`
}

// wants reports whether the subscription receives eventType.
func (s Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Event is the JSON body POSTed to each matching subscription.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// delivery is the outcome of a single delivery attempt.
type delivery struct {
	eventID    uuid.UUID
	eventType  string
	url        string
	statusCode int
	attempt    int
	success    bool
	err        string
}

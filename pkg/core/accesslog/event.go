//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"time"

	"github.com/google/uuid"
	"github.com/manetu/zerotrust/internal/logging"
)

var logger = logging.GetLogger("accesslog")

const agent = "accesslog"

// Event types.
const (
	TypeDecision = "decision"
	TypeAnalysis = "ids_analysis"
	TypeAlert    = "ids_alert"
)

// Event is one audit record.
type Event struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	Username   string                 `json:"username,omitempty"`
	SourceIP   string                 `json:"source_ip,omitempty"`
	Resource   string                 `json:"resource,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Decision   string                 `json:"decision,omitempty"`
	TrustScore *float64               `json:"trust_score,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// NewEvent stamps a fresh id and the current time on an event of the given type.
func NewEvent(eventType string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

// WithScore records a trust score on the event.
func (e *Event) WithScore(score float64) *Event {
	e.TrustScore = &score
	return e
}

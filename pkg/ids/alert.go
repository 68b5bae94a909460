//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import "time"

// Severities, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Actions a rule may request.
const (
	ActionBlock = "block"
	ActionAlert = "alert"
)

// Alert is one signature match.
type Alert struct {
	Timestamp          time.Time `json:"timestamp"`
	RuleID             string    `json:"rule_id"`
	Message            string    `json:"msg"`
	Severity           string    `json:"severity"`
	Category           string    `json:"category,omitempty"`
	Action             string    `json:"action"`
	Source             string    `json:"source"`
	SID                string    `json:"sid,omitempty"`
	GID                string    `json:"gid,omitempty"`
	Rev                string    `json:"rev,omitempty"`
	Classification     string    `json:"classification,omitempty"`
	Priority           int       `json:"priority,omitempty"`
	SourceIP           string    `json:"source_ip"`
	DestIP             string    `json:"dest_ip"`
	URI                string    `json:"uri"`
	PayloadFingerprint string    `json:"payload_fingerprint,omitempty"`
	Raw                string    `json:"raw_alert,omitempty"`
}

// Blocks reports whether the alert asks for the traffic to be dropped.
func (a *Alert) Blocks() bool {
	return a.Action == ActionBlock
}

// SeverityOf maps an engine priority onto a severity.
func SeverityOf(priority int) string {
	switch priority {
	case 1:
		return SeverityCritical
	case 2:
		return SeverityHigh
	case 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// anyBlocks reports whether any alert asks for a block.
func anyBlocks(alerts []Alert) bool {
	for i := range alerts {
		if alerts[i].Blocks() {
			return true
		}
	}
	return false
}

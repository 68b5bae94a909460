//
//  Copyright © Manetu Inc. All rights reserved.
//

package types

import "encoding/json"

// Decision outcomes.
const (
	Allow = "allow"
	Deny  = "deny"
)

// IPCheckBlocked is reported in place of trust components when a request is
// rejected by the static deny list.
const IPCheckBlocked = "BLOCKED"

// TrustComponents are the individual signals behind a trust score, each in [0,100].
type TrustComponents struct {
	BaseTrust     float64 `json:"base_trust"`
	HistoryScore  float64 `json:"history_score"`
	AnomalyScore  float64 `json:"anomaly_score"`
	ContextScore  float64 `json:"context_score"`
	SourceIP      string  `json:"source_ip"`
	IsBlacklisted bool    `json:"is_blacklisted"`
	Network       string  `json:"network,omitempty"`
}

// Decision is the outcome of one evaluation. Components is nil when the
// request never reached scoring, in which case IPCheck says why.
type Decision struct {
	Decision    string
	TrustScore  float64
	Reason      string
	Components  *TrustComponents
	IPCheck     string
	AccessLevel string
}

// Allowed reports whether the decision grants access.
func (d *Decision) Allowed() bool {
	return d != nil && d.Decision == Allow
}

type decisionJSON struct {
	Decision    string      `json:"decision"`
	TrustScore  float64     `json:"trust_score"`
	Reason      string      `json:"reason"`
	Components  interface{} `json:"components"`
	AccessLevel string      `json:"access_level,omitempty"`
}

// MarshalJSON emits either the trust components or {"ip_check": ...} under
// "components".
func (d Decision) MarshalJSON() ([]byte, error) {
	out := decisionJSON{
		Decision:    d.Decision,
		TrustScore:  d.TrustScore,
		Reason:      d.Reason,
		AccessLevel: d.AccessLevel,
	}

	switch {
	case d.Components != nil:
		out.Components = d.Components
	case d.IPCheck != "":
		out.Components = map[string]string{"ip_check": d.IPCheck}
	default:
		out.Components = map[string]string{}
	}

	return json.Marshal(out)
}

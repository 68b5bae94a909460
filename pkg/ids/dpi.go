//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Deep inspection weights.
const (
	EncodedDelta   = 20
	Base64Delta    = 15
	ControlDelta   = 25
	EntropyDelta   = 30
	EntropyLimit   = 5.5
	EntropyMinSize = 100
)

var (
	base64Shape = regexp.MustCompile(`^[A-Za-z0-9+/]{50,}={0,2}$`)
	controlChar = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// Inspection is the advisory outcome of deep inspection. RiskScore is
// additive and unbounded.
type Inspection struct {
	Anomalies       []string `json:"anomalies"`
	RiskScore       int      `json:"risk_score"`
	Recommendations []string `json:"recommendations"`
}

func (i *Inspection) flag(delta int, anomaly, recommendation string) {
	i.Anomalies = append(i.Anomalies, anomaly)
	i.Recommendations = append(i.Recommendations, recommendation)
	i.RiskScore += delta
}

// Entropy is the Shannon entropy of s in bits per character.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// Inspect scores a payload for obfuscation markers.
func Inspect(payload string) *Inspection {
	i := &Inspection{Anomalies: []string{}, Recommendations: []string{}}

	if strings.Contains(payload, "%") || strings.Contains(payload, "&#") {
		i.flag(EncodedDelta, "Encoded payload detected",
			"Decode URL and HTML entities before matching signatures")
	}
	if base64Shape.MatchString(payload) {
		i.flag(Base64Delta, "Possible base64 encoded payload",
			"Decode and re-inspect the base64 content")
	}
	if controlChar.MatchString(payload) {
		i.flag(ControlDelta, "Binary/control characters in payload",
			"Reject binary content on text endpoints")
	}
	if utf8.RuneCountInString(payload) > EntropyMinSize {
		if h := Entropy(payload); h > EntropyLimit {
			i.flag(EntropyDelta, fmt.Sprintf("High entropy payload (%.2f)", h),
				"Review for encrypted or packed content")
		}
	}
	return i
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(""))
	assert.Equal(t, 0.0, Entropy("aaaa"))
	assert.InDelta(t, 1.0, Entropy("abab"), 1e-9)
	assert.InDelta(t, 2.0, Entropy("abcd"), 1e-9)
}

func TestInspect(t *testing.T) {
	varied := strings.Repeat("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@*()", 2)

	tests := []struct {
		name    string
		payload string
		risk    int
		count   int
	}{
		{"clean", "hello world", 0, 0},
		{"empty", "", 0, 0},
		{"url encoded", "id=%27%20OR%201", EncodedDelta, 1},
		{"html entity", "&#60;script&#62;", EncodedDelta, 1},
		{"base64", strings.Repeat("QUJD", 15), Base64Delta, 1},
		{"short base64", strings.Repeat("QUJD", 10), 0, 0},
		{"control chars", "ab\x01cd", ControlDelta, 1},
		{"tab and newline are fine", "a\tb\nc\r", 0, 0},
		{"high entropy", varied, EntropyDelta, 1},
		{"low entropy long", strings.Repeat("ab ", 200), 0, 0},
		{"stacked", "%00\x02", EncodedDelta + ControlDelta, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := Inspect(tt.payload)
			assert.Equal(t, tt.risk, i.RiskScore)
			assert.Len(t, i.Anomalies, tt.count)
			assert.Len(t, i.Recommendations, tt.count)
		})
	}

	i := Inspect(varied)
	require.Len(t, i.Anomalies, 1)
	assert.Equal(t, "High entropy payload (6.07)", i.Anomalies[0])
}

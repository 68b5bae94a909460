//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPriority is assumed when an alert line carries none.
const DefaultPriority = 3

var (
	alertLine      = regexp.MustCompile(`\[\*\*\]\s*\[(\d+):(\d+):(\d+)\]\s*([^\[]+?)\s*\[\*\*\]`)
	classification = regexp.MustCompile(`\[Classification:\s*([^\]]+)\]`)
	priority       = regexp.MustCompile(`\[Priority:\s*(\d+)\]`)
	ruleToken      = regexp.MustCompile(`^([A-Z]+-\d+)`)
)

// ParseFastAlerts extracts alerts from an engine's fast-alert text output:
//
//	MM/DD-HH:MM:SS.ssssss [**] [gid:sid:rev] MESSAGE [**] [Classification: C] [Priority: N] {PROTO} SRC -> DST
//
// Lines that do not match the grammar are ignored.
func ParseFastAlerts(output string, now time.Time) []Alert {
	var alerts []Alert

	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "[**]") {
			continue
		}
		m := alertLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		gid, sid, rev, msg := m[1], m[2], m[3], strings.TrimSpace(m[4])

		class := "unknown"
		if cm := classification.FindStringSubmatch(line); cm != nil {
			class = strings.TrimSpace(cm[1])
		}

		prio := DefaultPriority
		if pm := priority.FindStringSubmatch(line); pm != nil {
			if n, err := strconv.Atoi(pm[1]); err == nil {
				prio = n
			}
		}

		action := ActionAlert
		if strings.Contains(strings.ToLower(class), "attack") {
			action = ActionBlock
		}

		id := "SID-" + sid
		if rm := ruleToken.FindStringSubmatch(msg); rm != nil {
			id = rm[1]
		}

		alerts = append(alerts, Alert{
			Timestamp:      now,
			RuleID:         id,
			Message:        msg,
			Severity:       SeverityOf(prio),
			Action:         action,
			Source:         SourceNative,
			SID:            sid,
			GID:            gid,
			Rev:            rev,
			Classification: class,
			Priority:       prio,
			Raw:            strings.TrimSpace(line),
		})
	}
	if err := sc.Err(); err != nil {
		logger.Warnf(agent, "parse", "engine output truncated after %d alerts: %v", len(alerts), err)
	}
	return alerts
}

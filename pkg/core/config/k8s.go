//
//  Copyright © Manetu Inc. All rights reserved.
//

package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AuditPodinfo is the directory of a Kubernetes Downward API volume. When its
// "labels" file exists, each pod label is stamped on audit events as
// "k8s.<label>".
const AuditPodinfo string = "audit.podinfo"

var (
	podLabels     map[string]string
	podLabelsOnce sync.Once
)

func resetPodLabels() {
	podLabels = nil
	podLabelsOnce = sync.Once{}
}

// parseDownwardAPIFile reads key="value" lines. A missing file yields nil.
func parseDownwardAPIFile(path string) (map[string]string, error) {
	f, err := os.Open(path) // #nosec G304 -- directory comes from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	result := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		result[key] = strings.Trim(value, "\"")
	}
	return result, scanner.Err()
}

// getPodLabels is read once per process; labels on a running pod are stable
// enough for audit attribution.
func getPodLabels() map[string]string {
	podLabelsOnce.Do(func() {
		dir := VConfig.GetString(AuditPodinfo)
		if dir == "" {
			return
		}
		p := filepath.Join(dir, "labels")
		labels, err := parseDownwardAPIFile(p)
		if err != nil {
			logger.SysWarnf("failed to read pod labels from %s: %v", p, err)
			return
		}
		podLabels = labels
	})
	return podLabels
}

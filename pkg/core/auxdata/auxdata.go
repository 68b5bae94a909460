//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package auxdata loads reference data for the policy guard from a directory.
// When mounted from a Kubernetes ConfigMap, each key becomes a file, and each
// file becomes input.auxdata.<name> in the guard's input.
//
// Files ending in .json, .yaml or .yml are decoded and keyed by their name
// without the extension, so a guard can consult structured lists such as
// maintenance windows or frozen resources. Any other file is kept as a
// trimmed string keyed by its full name.
package auxdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key is the input field the data is merged under.
const Key = "auxdata"

// Load reads every regular, non-hidden file in path. It returns nil when
// path is empty.
func Load(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auxdata directory %s: %w", path, err)
	}

	result := make(map[string]interface{})
	for _, entry := range entries {
		name := entry.Name()
		// ConfigMap mounts carry ..data symlinks and similar metadata
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(path, name)) // #nosec G304 -- intentionally reads from configured path
		if err != nil {
			return nil, fmt.Errorf("failed to read auxdata file %s: %w", name, err)
		}

		switch ext := filepath.Ext(name); ext {
		case ".json", ".yaml", ".yml":
			var doc interface{}
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("failed to decode auxdata file %s: %w", name, err)
			}
			result[strings.TrimSuffix(name, ext)] = doc
		default:
			result[name] = strings.TrimSpace(string(data))
		}
	}

	return result, nil
}

// Merge sets input[Key] to aux unless aux is empty, and returns input.
func Merge(input map[string]interface{}, aux map[string]interface{}) map[string]interface{} {
	if len(aux) == 0 || input == nil {
		return input
	}
	input[Key] = aux
	return input
}

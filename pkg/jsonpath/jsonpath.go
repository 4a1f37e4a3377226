// Package jsonpath evaluates JSONPath-style expressions against response
// bodies, backed by gjson. It understands the common subset used in test
// configs: dot notation, bracket notation, and array indexing.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract returns the value at path as a string.
//
// Accepted forms: "$.users[0].name", "users.0.name", "$['name']", "$".
// Null values return the string "null"; a missing path is an error.
func Extract(json string, path string) (string, error) {
	if json == "" {
		return "", fmt.Errorf("empty JSON string")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}

	result := gjson.Get(json, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// Exists reports whether the path resolves to any value, including null.
func Exists(json string, path string) bool {
	if json == "" || path == "" {
		return false
	}
	return gjson.Get(json, toGjsonPath(path)).Exists()
}

// ExtractMultiple evaluates several named paths against one document.
// All paths are attempted; the error aggregates every failure.
func ExtractMultiple(json string, paths map[string]string) (map[string]string, error) {
	if json == "" {
		return nil, fmt.Errorf("empty JSON string")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no JSONPath expressions provided")
	}

	results := make(map[string]string)
	var failures []string
	for name, path := range paths {
		value, err := Extract(json, path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		results[name] = value
	}

	if len(failures) > 0 {
		return results, fmt.Errorf("extraction errors: %s", strings.Join(failures, "; "))
	}
	return results, nil
}

// toGjsonPath rewrites a JSONPath expression into gjson syntax:
// "$.users[0].name" becomes "users.0.name".
func toGjsonPath(path string) string {
	if path == "$" {
		return "@this"
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Bracket notation with quotes: ['name'] or ["name"].
	path = strings.ReplaceAll(path, "['", ".")
	path = strings.ReplaceAll(path, "']", "")
	path = strings.ReplaceAll(path, `["`, ".")
	path = strings.ReplaceAll(path, `"]`, "")

	// Array indexing: [0] becomes .0.
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	// Collapse artifacts like "a..b" from "a['b']" rewrites and any
	// leading dot from a root-level index.
	for strings.Contains(path, "..") {
		path = strings.ReplaceAll(path, "..", ".")
	}
	return strings.TrimPrefix(path, ".")
}

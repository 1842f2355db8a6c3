package agent

import "fmt"

// normalizeConfidence accepts the two shapes models emit for confidence:
// a bare number, or an object with an "overall" number. Anything else
// falls back to def.
func normalizeConfidence(v any, def float64) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case int:
		return float64(c)
	case map[string]any:
		if overall, ok := c["overall"].(float64); ok {
			return overall
		}
	}
	return def
}

// normalizeFiles canonicalizes the changed-file list. Models report it
// under files_changed or files_modified; downstream code only ever sees
// the canonical files_changed key.
func normalizeFiles(data map[string]any) []string {
	files := toStringSlice(data["files_changed"])
	if len(files) == 0 {
		files = toStringSlice(data["files_modified"])
	}
	delete(data, "files_modified")
	return files
}

func toStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

// asBool interprets loosely typed boolean payload fields.
func asBool(v any, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "true", "True", "yes":
			return true
		case "false", "False", "no":
			return false
		}
	}
	return def
}

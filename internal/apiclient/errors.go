package apiclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Keys carrying non-field messages in API error bodies.
var genericKeys = []string{"error", "detail", "message"}

// ErrorMessage extracts a human-readable message from an error response body.
// Field-specific errors win, then the generic keys in order, then a fallback
// naming the status.
func ErrorMessage(body []byte, status int) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg := fieldErrors(parsed); msg != "" {
			return msg
		}
		for _, k := range genericKeys {
			if s := flatten(parsed[k]); s != "" {
				return s
			}
		}
	}
	if status == 0 {
		return "request failed"
	}
	return fmt.Sprintf("request failed (HTTP %d)", status)
}

func fieldErrors(parsed map[string]any) string {
	src := parsed
	if nested, ok := parsed["errors"].(map[string]any); ok {
		src = nested
	}

	keys := make([]string, 0, len(src))
	for k := range src {
		if isGenericKey(k) || k == "errors" {
			continue
		}
		if _, ok := src[k].([]any); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		msg := flatten(src[k])
		if msg == "" {
			continue
		}
		if k == "non_field_errors" || k == "__all__" {
			parts = append(parts, msg)
			continue
		}
		parts = append(parts, k+": "+msg)
	}
	return strings.Join(parts, "; ")
}

func isGenericKey(k string) bool {
	for _, g := range genericKeys {
		if k == g {
			return true
		}
	}
	return false
}

// flatten renders a string, list of strings, or nested list as one line.
func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// Expand substitutes {name} placeholders in an endpoint template.
func Expand(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Package redact strips credentials from text before it leaves the process:
// log lines, audit payloads and, above all, transport error details that are
// echoed back into the chat room as "Error: ...".
//
// Device passwords travel in SSH auth, RESTCONF basic auth headers and
// ansible extra-vars, and a misbehaving library can quote any of them in an
// error string. Redaction is best-effort and works on string representations.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// mangling common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error renders err through String. A nil error renders as "".
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}

// Map returns a shallow copy of m with string values replaced by [REDACTED]
// for every key whose name suggests a credential.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "credential", "auth", "apikey", "api_key"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

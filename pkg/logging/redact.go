package logging

import (
	"regexp"
	"strings"
)

// Patterns that match sensitive values in log output. Each pattern uses a
// capture group to preserve the prefix (e.g., "Bearer ") while replacing only
// the secret value.
var defaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(Authorization:\s*)\S+(\s+\S+)?`),
	regexp.MustCompile(`(?i)(Bearer\s+)\S+`),
	regexp.MustCompile(`(?i)((?:password|passwd|secret|api[_-]?key|token|credentials?|auth[_-]?token)\s*[=:]\s*)\S+`),
}

// RedactString applies the default redaction patterns to a string.
func RedactString(s string) string {
	for _, p := range defaultRedactPatterns {
		s = p.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}

// RedactEnv returns a copy of the env map with sensitive values redacted.
// Keys matching common secret patterns have their values replaced wholesale.
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	redacted := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitiveKey(k) {
			redacted[k] = "[REDACTED]"
		} else {
			redacted[k] = RedactString(v)
		}
	}
	return redacted
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|key|credential|auth|api[_-]?key)`)

func isSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(strings.ToLower(key))
}

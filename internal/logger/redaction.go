package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule replaces a secret while keeping the surrounding label readable, so
// `"api_key":"abc"` becomes `"api_key":"[REDACTED]"`.
type rule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor for provider keys, Authorization header
// values (Bearer and Splunk schemes), credential fields and AWS keys.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{"provider-key", regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`), redacted},
			{"auth-scheme", regexp.MustCompile(`\b(Bearer|Splunk)\s+[a-zA-Z0-9._~+/=-]{8,}`), "$1 " + redacted},
			{"credential-field", regexp.MustCompile(`(?i)("?\b(?:api_?key|access_token|token|session_?key|password|pwd|secret)"?\s*[:=]\s*"?)[^\s"&,}]+`), "${1}" + redacted},
			{"aws-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern; the whole match is replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", pattern: re, replace: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.replace)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success: the redacted line may be shorter or
// longer than the input, and callers must not see that as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

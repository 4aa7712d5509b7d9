package logger

import (
	"io"
	"regexp"
)

// redactionRule replaces matches of pattern with replacement, which may
// reference capture groups to keep the surrounding context readable
type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts registry credentials from logs
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [REDACTED]"},

			// Token query parameters
			{regexp.MustCompile(`([?&](?:token|access_token|api_key)=)[^&\s"]+`), "${1}[REDACTED]"},

			// Basic-auth credentials embedded in URLs
			{regexp.MustCompile(`(://)[^/\s:@"]+:[^/\s@"]+@`), "${1}[REDACTED]@"},

			// JSON token fields
			{regexp.MustCompile(`("(?:token|password)"\s*:\s*")[^"]+`), "${1}[REDACTED]"},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{re, "[REDACTED]"})
	return nil
}

// AddSecret redacts every literal occurrence of secret
func (r *Redactor) AddSecret(secret string) {
	if secret == "" {
		return
	}
	r.rules = append(r.rules, redactionRule{regexp.MustCompile(regexp.QuoteMeta(secret)), "[REDACTED]"})
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers count the bytes they handed in
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

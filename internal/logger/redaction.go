package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type redactRule struct {
	pattern *regexp.Regexp
	replace string
}

// Redactor masks secrets and customer contact details in log output.
type Redactor struct {
	rules []redactRule
}

// NewRedactor creates a redactor with the default rules: voice platform API
// keys, bearer tokens, web-call access tokens, email addresses and phone
// numbers.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, rule := range []struct{ pattern, replace string }{
		// Retell and ElevenLabs API keys
		{`\bkey_[A-Za-z0-9]{16,}`, redacted},
		{`\bsk_[A-Za-z0-9]{20,}`, redacted},
		{`Bearer\s+[A-Za-z0-9._~+/=-]+`, "Bearer " + redacted},
		// keep the field name, mask the value
		{`("(?:access_token|api_key|apiKey|authorization)"\s*:\s*")[^"]*(")`, "${1}" + redacted + "${2}"},
		{`(?i)\b(api_key|token|secret|password)=[^\s&"]+`, "${1}=" + redacted},
		{`AGE-SECRET-KEY-1[0-9A-Z]+`, redacted},
		{`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`, "[EMAIL]"},
		{`(?:\+?1[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`, "[PHONE]"},
	} {
		r.rules = append(r.rules, redactRule{pattern: regexp.MustCompile(rule.pattern), replace: rule.replace})
	}
	return r
}

// AddPattern adds a rule that replaces every match with [REDACTED].
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactRule{pattern: re, replace: redacted})
	return nil
}

// Redact applies every rule to s in order.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.pattern.ReplaceAllString(s, rule.replace)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; the redacted output length differs.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

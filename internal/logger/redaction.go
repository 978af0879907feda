package logger

import (
	"io"
	"regexp"
)

const redactedToken = "[REDACTED]"

// rule pairs a name with the pattern it scrubs; the name shows up in
// nothing but debugging, the output is always redactedToken.
type rule struct {
	name string
	re   *regexp.Regexp
}

// defaultRules covers the secrets a plugin host handles: provider API
// keys, bearer tokens, the package signing secret, and generic
// password/secret assignments.
func defaultRules() []rule {
	return []rule{
		{"anthropic-key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`)},
		{"openai-key", regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)},
		{"bearer-token", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`)},
		{"signing-secret", regexp.MustCompile(`signing_secret["\s:=]+[^\s"]+`)},
		{"password", regexp.MustCompile(`(?:password|pwd)["\s:=]+[^\s"]+`)},
		{"auth-token", regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`)},
		{"aws-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{"generic-secret", regexp.MustCompile(`secret["\s:=]+[^\s"]+`)},
	}
}

// Redactor scrubs secrets from log output before it reaches any sink.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rule set.
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules()}
}

// AddPattern appends a custom scrub pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", re: re})
	return nil
}

// Redact replaces every rule match with the redaction token.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, redactedToken)
	}
	return s
}

// Wrap returns a writer that redacts before forwarding to next.
func (r *Redactor) Wrap(next io.Writer) io.Writer {
	return &redactingWriter{next: next, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	return w.next.Write([]byte(w.redactor.Redact(string(p))))
}

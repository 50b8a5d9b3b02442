// scrubber.go implements fail-closed redaction of envelopes and metric context.

package beacon

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitivePatterns contains additional case-insensitive substrings
	// that mark a field key as sensitive.
	SensitivePatterns []string

	// MaxMessageSize is the maximum length for messages (default: 4096).
	MaxMessageSize int

	// MaxStackTraceSize is the maximum length for stack traces (default: 32768).
	MaxStackTraceSize int

	// MaxFieldSize is the maximum length of a single string field value (default: 1024).
	MaxFieldSize int

	// MaxFieldDepth bounds recursion into nested maps and slices (default: 8).
	MaxFieldDepth int

	// ScrubMessages enables pattern scrubbing of messages and string values (default: true).
	ScrubMessages bool

	// FailClosed redacts any value the scrubber cannot inspect instead of
	// passing it through (default: true).
	FailClosed bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize:    4096,
		MaxStackTraceSize: 32768,
		MaxFieldSize:      1024,
		MaxFieldDepth:     8,
		ScrubMessages:     true,
		FailClosed:        true,
	}
}

const (
	redacted           = "[REDACTED]"
	redactedScrubError = "[REDACTED:SCRUB_ERROR]"
	truncationMarker   = "...[TRUNCATED]"
)

// Compiled once at package init.
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)gh[po]_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),

	// Credentials
	regexp.MustCompile(`(?i)(password|passwd|secret|credential)[=:\s]+['"]?[^\s'",]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
}

var sensitiveKeyPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"passwd",
	"credential",
	"auth",
	"cookie",
}

var (
	pathNormalizationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/home/[^/]+/`),
		regexp.MustCompile(`/Users/[^/]+/`),
		regexp.MustCompile(`C:\\Users\\[^\\]+\\`),
		regexp.MustCompile(`/tmp/[^/]+/`),
	}
	stackAddressPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// Scrubber redacts sensitive data before it leaves the process.
type Scrubber struct {
	cfg      ScrubberConfig
	keyParts []string
}

// NewScrubber creates a scrubber. Zero size limits take the defaults.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	defaults := DefaultScrubberConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.MaxStackTraceSize <= 0 {
		cfg.MaxStackTraceSize = defaults.MaxStackTraceSize
	}
	if cfg.MaxFieldSize <= 0 {
		cfg.MaxFieldSize = defaults.MaxFieldSize
	}
	if cfg.MaxFieldDepth <= 0 {
		cfg.MaxFieldDepth = defaults.MaxFieldDepth
	}

	keyParts := append([]string(nil), sensitiveKeyPatterns...)
	for _, p := range cfg.SensitivePatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			keyParts = append(keyParts, p)
		}
	}
	return &Scrubber{cfg: cfg, keyParts: keyParts}
}

// ScrubEnvelope returns a copy of envelope with message, stack and field
// maps scrubbed.
func (s *Scrubber) ScrubEnvelope(envelope EventEnvelope) EventEnvelope {
	envelope.Message = s.ScrubMessage(envelope.Message)
	envelope.Stack = s.ScrubStackTrace(envelope.Stack)
	envelope.Context = s.ScrubFields(envelope.Context)
	envelope.Extra = s.ScrubFields(envelope.Extra)
	return envelope
}

// ScrubMessage truncates msg and replaces secrets and PII.
func (s *Scrubber) ScrubMessage(msg string) string {
	if len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range messageScrubPatterns {
		msg = pattern.ReplaceAllString(msg, redacted)
	}
	return msg
}

// ScrubStackTrace normalizes user paths and addresses and limits size.
func (s *Scrubber) ScrubStackTrace(trace string) string {
	if trace == "" {
		return trace
	}
	for _, pattern := range pathNormalizationPatterns {
		trace = pattern.ReplaceAllString(trace, "/[PATH]/")
	}
	trace = stackAddressPattern.ReplaceAllString(trace, "0x...")
	if len(trace) > s.cfg.MaxStackTraceSize {
		trace = truncateWithMarker(trace, s.cfg.MaxStackTraceSize)
	}
	return trace
}

// ScrubFields returns a scrubbed copy of fields. Sensitive keys are
// redacted entirely; nested maps and slices are scrubbed recursively.
func (s *Scrubber) ScrubFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	return s.scrubMap(fields, 0)
}

func (s *Scrubber) scrubMap(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if s.isSensitiveKey(key) {
			out[key] = redacted
			continue
		}
		out[key] = s.scrubValue(value, depth+1)
	}
	return out
}

func (s *Scrubber) scrubValue(value any, depth int) any {
	if depth > s.cfg.MaxFieldDepth {
		return redactedScrubError
	}

	switch v := value.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case time.Time:
		return v
	case time.Duration:
		return v.String()
	case string:
		return s.scrubString(v)
	case error:
		return s.scrubString(v.Error())
	case map[string]any:
		return s.scrubMap(v, depth)
	case map[string]string:
		converted := make(map[string]any, len(v))
		for k, str := range v {
			converted[k] = str
		}
		return s.scrubMap(converted, depth)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.scrubValue(item, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.scrubString(item)
		}
		return out
	case fmt.Stringer:
		return s.scrubString(v.String())
	default:
		if s.cfg.FailClosed {
			return redactedScrubError
		}
		return s.scrubString(fmt.Sprintf("%v", v))
	}
}

func (s *Scrubber) scrubString(v string) string {
	if len(v) > s.cfg.MaxFieldSize {
		v = truncateWithMarker(v, s.cfg.MaxFieldSize)
	}
	if !s.cfg.ScrubMessages {
		return v
	}
	for _, pattern := range messageScrubPatterns {
		v = pattern.ReplaceAllString(v, redacted)
	}
	return v
}

func (s *Scrubber) isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, part := range s.keyParts {
		if strings.Contains(keyLower, part) {
			return true
		}
	}
	return false
}

func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncationMarker) {
		return truncationMarker[:maxLen]
	}
	return s[:maxLen-len(truncationMarker)] + truncationMarker
}

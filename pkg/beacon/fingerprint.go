// fingerprint.go generates stable hashes for grouping similar envelopes.

package beacon

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Fingerprint generates a hash for grouping similar envelopes.
// The fingerprint is based on:
//   - level, platform and error type
//   - the first 3 stack frames (function names only, normalized)
//
// Messages are included only when there is no stack, so that plain
// CaptureMessage calls with different text do not collapse together.
// IDs, timestamps, line numbers and addresses never contribute.
func Fingerprint(envelope EventEnvelope) string {
	parts := []string{string(envelope.Level), envelope.Platform, envelope.ErrorType}

	frames := normalizeStackTrace(envelope.Stack)
	if len(frames) == 0 {
		parts = append(parts, envelope.Message)
	}
	parts = append(parts, frames...)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:16])
}

var (
	// "main.doSomething" or "pkg/subpkg.(*T).Method"
	funcNamePattern = regexp.MustCompile(`^([a-zA-Z0-9_./()*\[\]]+\.[a-zA-Z0-9_]+)`)
	memAddrPattern  = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	offsetPattern   = regexp.MustCompile(`\+0x[0-9a-fA-F]+`)
)

// framesSkipped are runtime and capture frames that say nothing about
// where the failure happened.
var framesSkipped = []string{
	"runtime/debug.Stack",
	"runtime.gopanic",
	"runtime.panic",
	"github.com/strongdm/beacon/pkg/beacon.",
}

// normalizeStackTrace extracts the first 3 function names from a Go stack
// trace, stripping line numbers, addresses and arguments.
func normalizeStackTrace(trace string) []string {
	if trace == "" {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(trace, "\n") {
		if strings.HasPrefix(line, "\t") {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "/") {
			continue
		}

		line = offsetPattern.ReplaceAllString(line, "")
		line = memAddrPattern.ReplaceAllString(line, "")
		if idx := strings.LastIndex(line, "("); idx > 0 && strings.HasSuffix(line, ")") {
			line = line[:idx]
		}

		match := funcNamePattern.FindString(strings.TrimSpace(line))
		if match == "" || skippedFrame(match) {
			continue
		}
		frames = append(frames, match)
		if len(frames) >= 3 {
			break
		}
	}
	return frames
}

func skippedFrame(name string) bool {
	for _, prefix := range framesSkipped {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

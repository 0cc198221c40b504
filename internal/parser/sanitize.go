package parser

import (
	"regexp"
	"strings"
)

// csiSequence matches an ANSI/VT100 control sequence:
// ESC '[' parameter bytes (0x30-0x3F), intermediate bytes (0x20-0x2F), final byte (0x40-0x7E).
var csiSequence = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// Sanitize strips terminal control sequences from a raw output line and
// trims the surrounding whitespace. Fragments that do not form a complete
// sequence are left untouched.
func Sanitize(raw string) string {
	if strings.IndexByte(raw, 0x1b) >= 0 {
		raw = csiSequence.ReplaceAllString(raw, "")
	}
	return strings.TrimSpace(raw)
}

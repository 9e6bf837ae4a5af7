package sanitize

import (
	"regexp"
	"strings"
)

const (
	// MaxBaseLength is the maximum allowed length for a filename base.
	MaxBaseLength = 120
	// DefaultBase is the replacement name when the id is empty.
	DefaultBase = "video"
)

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|[:cntrl:]]+`)

// ToSafeBase builds a cross-platform safe filename base from a video id or
// username. Ids arrive from a remote API and may carry path separators or
// control characters.
func ToSafeBase(id string) string {
	base := strings.TrimSpace(id)
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, ". ")
	if base == "" {
		base = DefaultBase
	}
	if len(base) > MaxBaseLength {
		base = base[:MaxBaseLength]
	}
	return base
}

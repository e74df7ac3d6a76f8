// Package ids generates identifiers for queued requests.
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SuffixLen is the number of random hex characters in a request id.
const SuffixLen = 12

// Request id format: <kind>_<unix ms>_<12 hex chars>
var requestIDRegex = regexp.MustCompile(`^([a-z]+)_([0-9]+)_([0-9a-f]{12})$`)

// Suffix returns a random lowercase hex string drawn from a UUID v4.
func Suffix() string {
	s := strings.ReplaceAll(uuid.New().String(), "-", "")
	return s[len(s)-SuffixLen:]
}

// NewRequestID combines the kind, the enqueue time in milliseconds and a
// random suffix, e.g. like_1767225600000_3f9a0c1d2e4b.
func NewRequestID(kind string, at time.Time) string {
	return fmt.Sprintf("%s_%d_%s", kind, at.UnixMilli(), Suffix())
}

// IsRequestID checks the id against the request id format.
func IsRequestID(s string) bool {
	return requestIDRegex.MatchString(s)
}

// ParseRequestID splits a request id into its kind and enqueue time.
func ParseRequestID(s string) (kind string, at time.Time, err error) {
	m := requestIDRegex.FindStringSubmatch(s)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("invalid request id: %q", s)
	}
	ms, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid request id timestamp: %w", err)
	}
	return m[1], time.UnixMilli(ms), nil
}

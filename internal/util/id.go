// internal/util/id.go
package util

import (
	"crypto/rand"
	"fmt"
	"time"
)

// RandomID returns prefix plus eight random hex characters, suitable for
// session identifiers. Falls back to a nanosecond timestamp if the system
// randomness source fails.
func RandomID(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%x", prefix, b)
}

// Truncate shortens s to at most max bytes, marking the cut with an
// ellipsis. Values of max below 4 return the bare prefix.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

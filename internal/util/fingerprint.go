// Package util provides shared logging, counters and small helpers.
package util

import (
	"fmt"
	"hash/fnv"
)

// Fingerprint returns a short, non-reversible identifier for a secret so it
// can appear in logs. An empty secret yields "none".
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := fnv.New32a()
	h.Write([]byte(secret))
	return fmt.Sprintf("%08x", h.Sum32())
}

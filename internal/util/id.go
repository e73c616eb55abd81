// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID mints an opaque random identifier. The prefix tags what the id
// names (art, guest, jti, rft) so bare ids stay recognizable in logs and
// in the database; an empty prefix yields plain hex.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Package util holds small helpers shared across the portal.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit identifier, hex encoded and tagged with a
// type prefix, e.g. "app_3f2c...". An empty prefix yields the bare hex.
func NewID(prefix string) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	id := hex.EncodeToString(buf[:])
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Package util holds small helpers with no domain knowledge.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-character hex identifier built from 16 random bytes.
// A non-empty prefix is prepended with an underscore ("msn_ab12...") so ids
// stay greppable by entity type.
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix != "" {
		id = prefix + "_" + id
	}
	return id
}

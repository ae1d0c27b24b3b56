// Package idgen provides pluggable ID generation for the capture index
// server. The observability event logger accepts a Generator through
// WithEventIDGenerator; the access-control store always uses UUIDv7.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique, which keeps rule/policy IDs roughly
// insertion-ordered without a separate sequence column.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Useful for type-scoped identifiers (e.g. "aud_", "sess_", "trc_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the server-wide default: UUIDv7 (RFC 9562).
var Default Generator = UUIDv7()

// Package model defines the domain entities shared across the serving
// core: projects, assets, aliases, domain mappings, proxy and cache rules,
// and retention rules/logs. Entities are plain structs; relations between
// them (e.g. Project -> default ProxyRuleSet -> ProxyRule) are resolved by
// explicit lookups in the owning package, never by bidirectional pointers.
package model

import "github.com/google/uuid"

// ID is the opaque 128-bit identifier used for every entity in this
// package. google/uuid.UUID is exactly a 128-bit value, which is why it
// is used here instead of a narrower integer type.
type ID = uuid.UUID

// NewID generates a fresh random ID.
func NewID() ID {
	return uuid.New()
}

// ZeroID reports whether id is the nil UUID (unset).
func ZeroID(id ID) bool {
	return id == uuid.Nil
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

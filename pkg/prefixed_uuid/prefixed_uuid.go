// Package prefixed_uuid generates identifiers of the form
// "<prefix>-<uuid>", such as "session-3f0c...".
package prefixed_uuid

import (
	"github.com/google/uuid"
)

// PrefixedUUID represents a UUID with a prefix string.
type PrefixedUUID struct {
	Prefix string
	UUID   uuid.UUID
}

// New creates a new PrefixedUUID with the given prefix and a random UUID.
func New(prefix string) PrefixedUUID {
	return PrefixedUUID{Prefix: prefix, UUID: uuid.New()}
}

func (p PrefixedUUID) String() string {
	return p.Prefix + "-" + p.UUID.String()
}

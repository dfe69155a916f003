package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("jti_…").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ShortID is a dash-free random hex string, used where ids end up in object
// keys or request headers.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Package ids generates and decodes the opaque identifiers used by every
// persisted entity: 16 random bytes, written as lowercase hex.
package ids

import (
	"encoding/base32"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// base32Encoding accepts legacy base32 identifiers on read; the core never
// writes base32 itself.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns a fresh opaque identifier: 16 random bytes, lowercase hex.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Valid reports whether s is a well-formed identifier in either the
// canonical hex form or the legacy base32 form accepted on read.
func Valid(s string) bool {
	_, err := Normalize(s)
	return err == nil
}

// Normalize converts a base32-encoded identifier to the canonical
// lowercase-hex form the core always writes. Hex identifiers pass through
// unchanged (after lowercasing). Returns an error if s is neither valid hex
// nor valid base32 for a 16-byte identifier.
func Normalize(s string) (string, error) {
	if b, err := hex.DecodeString(strings.ToLower(s)); err == nil && len(b) == 16 {
		return hex.EncodeToString(b), nil
	}
	if b, err := base32Encoding.DecodeString(strings.ToUpper(s)); err == nil && len(b) == 16 {
		return hex.EncodeToString(b), nil
	}
	return "", errInvalidID{raw: s}
}

type errInvalidID struct{ raw string }

func (e errInvalidID) Error() string {
	return "ids: not a valid 16-byte identifier: " + e.raw
}

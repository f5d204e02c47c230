// Package id implements the 128-bit sortable identifier used across the
// core. It wraps github.com/oklog/ulid/v2 rather than hand-rolling a Snowflake
// variant, so the high bits are already a millisecond timestamp and the low
// bits already carry enough entropy to be collision-safe within a tick.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is the native 128-bit identifier. Creation time is recoverable from the
// high 48 bits (ULID timestamp), which is what makes the type sortable by
// age without a secondary index.
type ID [16]byte

// legacyFlag marks an ID that was parsed from the old 96-bit hex encoding,
// so String can round-trip it without canonicalizing to the new form. The
// wire must preserve whichever form a client originally used.
type legacyFlag = bool

// Legacy96 is a 96-bit identifier from the old encoding. The core does not
// operate on it directly; ParseLegacy96 lifts it into the native ID space
// for reading while preserving the ability to re-emit the original form.
type Legacy96 [12]byte

// New generates a fresh native ID seeded from the current time.
func New() ID {
	ms := ulid.Timestamp(time.Now())
	u, err := ulid.New(ms, rand.Reader)
	if err != nil {
		// crypto/rand failures are unrecoverable; ulid.New only errs here
		// if reading entropy from crypto/rand fails.
		panic(fmt.Sprintf("id: failed to generate ULID: %v", err))
	}
	var out ID
	copy(out[:], u[:])
	return out
}

// Zero reports whether id is the zero value.
func (i ID) Zero() bool {
	return i == ID{}
}

// String renders the native 32-hex-character form. Used for internally
// generated identifiers (session ids, pod ids) that are never parsed back
// from a client-supplied legacy/native wire value — those go through
// Tagged.String() instead so the original encoding round-trips.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// Time returns the creation timestamp carried in the high bits.
func (i ID) Time() time.Time {
	var u ulid.ULID
	copy(u[:], i[:])
	return ulid.Time(u.Time())
}

type taggedID struct {
	ID
	legacy legacyFlag
}

// Tagged pairs an ID with the encoding it should serialize back out as.
// Parse* constructors return a Tagged; callers that only need the ID value
// (graph traversal, topic hashing) can drop the tag with .ID.
type Tagged = taggedID

// ParseNative parses the canonical 32-hex-character form.
func ParseNative(s string) (Tagged, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return Tagged{}, fmt.Errorf("id: invalid native id %q", s)
	}
	var out ID
	copy(out[:], b)
	return Tagged{ID: out, legacy: false}, nil
}

// ParseLegacy96 parses the old 24-hex-character form and left-pads it into
// the high bytes of the native 128-bit space, matching how the legacy
// encoding's timestamp bits line up with the new form's.
func ParseLegacy96(s string) (Tagged, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 12 {
		return Tagged{}, fmt.Errorf("id: invalid legacy id %q", s)
	}
	var out ID
	copy(out[:12], b)
	return Tagged{ID: out, legacy: true}, nil
}

// String re-emits the id in whatever form it was parsed from. A freshly
// generated ID (New) always emits the native form.
func (t Tagged) String() string {
	if t.legacy {
		return hex.EncodeToString(t.ID[:12])
	}
	return hex.EncodeToString(t.ID[:])
}

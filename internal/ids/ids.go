package ids

import (
	"errors"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is the canonical identifier for users and posts. Values produced by New
// or Normalize compare equal whenever they denote the same entity.
type ID string

// ErrInvalid reports a value that is not a well-formed identifier.
var ErrInvalid = errors.New("ids: invalid identifier")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// Normalize trims and upper-cases raw so identifiers arriving from URLs,
// token claims and storage compare by value.
func Normalize(raw string) ID {
	return ID(strings.ToUpper(strings.TrimSpace(raw)))
}

// Parse normalizes raw and checks that it is a valid ULID.
func Parse(raw string) (ID, error) {
	id := Normalize(raw)
	if id == "" {
		return "", ErrInvalid
	}
	if _, err := ulid.ParseStrict(string(id)); err != nil {
		return "", ErrInvalid
	}
	return id, nil
}

// Equal compares two identifiers after normalization.
func Equal(a, b ID) bool {
	return Normalize(string(a)) == Normalize(string(b))
}

func (id ID) String() string { return string(id) }

// Package entityid generates the 128-bit lexicographically sortable
// identifiers used for every entity in the data model (§3).
package entityid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// ID is a 26-character Crockford base32 ULID string.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is the empty value.
func (id ID) IsZero() bool {
	return id == ""
}

// entropy must be serialized: ulid.MustNew is not safe for concurrent use
// when sharing an io.Reader across goroutines without its own locking.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID for the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt returns a new ULID timestamped at t, used in tests for
// deterministic ordering assertions.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Parse validates that s is a well-formed ULID.
func Parse(s string) (ID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", err
	}
	return ID(s), nil
}

// Package ids generates the identifiers used for token and audit records.
// ULIDs keep storage listings in issue order without a separate sequence.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var generator = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{
	entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
}

// New returns a fresh lexicographically sortable identifier. IDs created
// within the same millisecond still sort in creation order.
func New() string {
	generator.Lock()
	defer generator.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), generator.entropy).String()
}

// Valid reports whether s has the canonical shape New produces. Lets callers
// reject malformed IDs before touching storage.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

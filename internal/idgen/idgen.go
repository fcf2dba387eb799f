// Package idgen provides the pluggable ID factory and monotonic timestamp
// helper jdbx uses for document `_id` generation and `createdAt`/`updatedAt`
// stamping (spec §2).
package idgen

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory returns a fresh string ID. Implementations must be safe for
// concurrent use: unordered InsertMany calls it from several goroutines at
// once, and callers may share one Database across goroutines.
type Factory func() string

// Default is the default identifier factory: a UUIDv4 string, matching
// spec §2's "default identifier factory (UUID-like)".
func Default() string {
	return uuid.NewString()
}

// clock serialises timestamp issuance so Now never goes backwards even
// under rapid concurrent calls within the same millisecond, matching the
// "monotonically non-decreasing millisecond timestamps" requirement.
type clock struct {
	mu   sync.Mutex
	last int64
}

var defaultClock = &clock{}

// NowMillis returns the current time in milliseconds since epoch, guaranteed
// to be >= any value previously returned by this function in this process.
func NowMillis() int64 {
	return defaultClock.now()
}

func (c *clock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}

// HashFactory returns an ID factory that derives a short, deterministic,
// base36-encoded content hash from the supplied seed fields plus the
// current time and an internal nonce to resolve collisions — retained from
// the teacher's bd-style hash IDs (internal/idgen/hash.go) as an alternate
// factory for callers who want content-addressed IDs instead of random
// UUIDs. length should be in 3-8; values outside that range fall back to 3.
func HashFactory(prefix string, length int, seed func() (title, description, creator string)) Factory {
	var mu sync.Mutex
	nonce := 0
	return func() string {
		mu.Lock()
		n := nonce
		nonce++
		mu.Unlock()
		title, description, creator := seed()
		return GenerateHashID(prefix, title, description, creator, time.Now(), length, n)
	}
}

// Package rowid implements the 128-bit monotone row identifier used to
// order rows within and across chunks.
package rowid

import (
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// RowID is a 128-bit value with a monotonically increasing tuple
// structure: two 64-bit halves ordered lexicographically (Hi first, then
// Lo). Reusing a RowID across chunks is undefined behavior.
type RowID struct {
	Hi uint64
	Lo uint64
}

// Zero is the smallest possible RowID. It is never produced by Allocator and
// exists only as a sentinel lower bound for range scans.
var Zero = RowID{}

// Max is the largest possible RowID, a sentinel upper bound for range scans.
var Max = RowID{Hi: ^uint64(0), Lo: ^uint64(0)}

// Less reports whether r sorts strictly before other under lexicographic
// order on (Hi, Lo).
func (r RowID) Less(other RowID) bool {
	if r.Hi != other.Hi {
		return r.Hi < other.Hi
	}
	return r.Lo < other.Lo
}

// Compare returns -1, 0, or 1 as r is less than, equal to, or greater than
// other.
func (r RowID) Compare(other RowID) int {
	switch {
	case r.Less(other):
		return -1
	case other.Less(r):
		return 1
	default:
		return 0
	}
}

// Next returns the deterministic successor of r: the smallest RowID
// strictly greater than r. Used to construct test fixtures and to advance
// an allocator's high-water mark without generating fresh entropy.
func (r RowID) Next() RowID {
	if r.Lo == ^uint64(0) {
		return RowID{Hi: r.Hi + 1, Lo: 0}
	}
	return RowID{Hi: r.Hi, Lo: r.Lo + 1}
}

// String renders r as 32 lowercase hex digits, Hi then Lo, so that
// lexicographic string order matches RowID order.
func (r RowID) String() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], r.Hi)
	binary.BigEndian.PutUint64(buf[8:16], r.Lo)
	return hex.EncodeToString(buf[:])
}

func fromUUID(id uuid.UUID) RowID {
	return RowID{
		Hi: binary.BigEndian.Uint64(id[0:8]),
		Lo: binary.BigEndian.Uint64(id[8:16]),
	}
}

// Allocator hands out strictly increasing RowIDs to a single process.
// Each call to Next mints a UUIDv7 (so RowIDs remain roughly
// time-ordered across restarts, the same property the teacher's ChunkID
// draws from uuid.NewV7 for chunk identifiers) but falls back to the
// deterministic RowID.Next successor whenever two allocations land in the
// same millisecond and would otherwise tie or regress.
type Allocator struct {
	mu   sync.Mutex
	last RowID
}

// NewAllocator returns an Allocator with no prior high-water mark.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns a RowID strictly greater than every RowID this Allocator
// has previously returned.
func (a *Allocator) Next() RowID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.Must(uuid.NewV7())
	candidate := fromUUID(id)
	if !a.last.Less(candidate) {
		candidate = a.last.Next()
	}
	a.last = candidate
	return candidate
}

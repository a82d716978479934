// Package entitypath implements the entity-path algebra: parsing, canonical
// formatting, ancestry, and hashing of slash-separated entity identifiers.
//
// An entity path is an ordered sequence of parts. Each part is a UTF-8
// string; characters outside the unescaped grammar (alphanumerics,
// underscore, dash, dot) must be backslash-escaped. The empty sequence is
// the root, formatted as "/".
package entitypath

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Part is a single, already-unescaped name component of a Path.
type Part string

// Path is an ordered sequence of parts. The zero value is the root.
type Path struct {
	parts []Part
}

// Root is the empty entity path.
var Root = Path{}

// New builds a Path from already-unescaped parts. It performs no validation;
// use ParseStrict or ParseForgiving to validate/escape user input.
func New(parts ...Part) Path {
	if len(parts) == 0 {
		return Root
	}
	cp := make([]Part, len(parts))
	copy(cp, parts)
	return Path{parts: cp}
}

// Len returns the number of parts.
func (p Path) Len() int { return len(p.parts) }

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool { return len(p.parts) == 0 }

// Parts returns a copy of the path's parts.
func (p Path) Parts() []Part {
	cp := make([]Part, len(p.parts))
	copy(cp, p.parts)
	return cp
}

// Part returns the i'th part.
func (p Path) Part(i int) Part { return p.parts[i] }

// Last returns the final part and true, or ("", false) for the root.
func (p Path) Last() (Part, bool) {
	if len(p.parts) == 0 {
		return "", false
	}
	return p.parts[len(p.parts)-1], true
}

// Parent returns the path with its last part removed, and true — or
// (Root, false) if p is already the root.
func (p Path) Parent() (Path, bool) {
	if len(p.parts) == 0 {
		return Root, false
	}
	return Path{parts: append([]Part(nil), p.parts[:len(p.parts)-1]...)}, true
}

// Child returns a new path with part appended.
func (p Path) Child(part Part) Path {
	parts := make([]Part, len(p.parts)+1)
	copy(parts, p.parts)
	parts[len(p.parts)] = part
	return Path{parts: parts}
}

// IsAncestorOf reports whether p is a strict ancestor of other (p != other,
// and every part of p is a prefix of other's parts). The root is an
// ancestor of every non-root path.
func (p Path) IsAncestorOf(other Path) bool {
	if len(p.parts) >= len(other.parts) {
		return false
	}
	for i, part := range p.parts {
		if other.parts[i] != part {
			return false
		}
	}
	return true
}

// IsAncestorOfOrSelf is IsAncestorOf but also true when p == other.
func (p Path) IsAncestorOfOrSelf(other Path) bool {
	return p.Equal(other) || p.IsAncestorOf(other)
}

// Equal reports structural equality.
func (p Path) Equal(other Path) bool {
	if len(p.parts) != len(other.parts) {
		return false
	}
	for i, part := range p.parts {
		if other.parts[i] != part {
			return false
		}
	}
	return true
}

// IterAncestorsRootFirst yields p's ancestors from the root down to (but
// not including) p itself, then p.
func (p Path) IterAncestorsRootFirst(yield func(Path) bool) {
	for i := 0; i <= len(p.parts); i++ {
		if !yield(Path{parts: p.parts[:i]}) {
			return
		}
	}
}

// IterAncestorsLeafFirst yields p, then its ancestors from the immediate
// parent up to the root.
func (p Path) IterAncestorsLeafFirst(yield func(Path) bool) {
	for i := len(p.parts); i >= 0; i-- {
		if !yield(Path{parts: p.parts[:i]}) {
			return
		}
	}
}

// Format renders the canonical string form: "part1/part2/...", or "/" for
// the root. Each part is escaped per the grammar in escape.go.
func (p Path) Format() string {
	if len(p.parts) == 0 {
		return "/"
	}
	var b strings.Builder
	for i, part := range p.parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(escapePart(string(part)))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (p Path) String() string { return p.Format() }

// Hash returns a stable 64-bit hash of the path, suitable as a map key
// across processes (xxhash is seedless and deterministic, unlike
// hash/maphash which randomizes its seed per process).
func (p Path) Hash() uint64 {
	h := xxhash.New()
	for _, part := range p.parts {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0}) // separator so ("a","b") != ("ab")
	}
	return h.Sum64()
}

// quoteDebug quotes s with Go string-literal escaping. Nothing in the
// package calls it.
func quoteDebug(s string) string { return strconv.Quote(s) }

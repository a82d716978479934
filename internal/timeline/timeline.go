// Package timeline defines the named temporal axes that chunks and
// queries are indexed by, and the 64-bit timestamps that live on them.
package timeline

import "fmt"

// Kind distinguishes a monotone integer counter from a nanosecond clock.
// Both are stored as a plain int64 Time; Kind only affects formatting and
// whatever unit conversions a caller performs.
type Kind int

const (
	// Sequence is a monotone integer counter, e.g. a frame number.
	Sequence Kind = iota
	// Time is nanoseconds since an arbitrary epoch.
	Time
)

func (k Kind) String() string {
	switch k {
	case Sequence:
		return "sequence"
	case Time:
		return "time"
	default:
		return fmt.Sprintf("timeline.Kind(%d)", int(k))
	}
}

// Timeline names one temporal axis an entity can be indexed by.
type Timeline struct {
	Name string
	Kind Kind
}

// New returns a Timeline identified by name and kind.
func New(name string, kind Kind) Timeline {
	return Timeline{Name: name, Kind: kind}
}

func (t Timeline) String() string { return t.Name }

// TimeInt is a 64-bit timestamp interpreted per its Timeline's Kind, plus
// two reserved sentinel values that compare below/above every real time.
type TimeInt int64

const (
	// TimeMin sorts before every real timestamp. Static data is treated as
	// if it were logged at TimeMin when compared against temporal rows in
	// a context that needs a time value (it otherwise compares purely by
	// row-id).
	TimeMin TimeInt = TimeInt(minTimeValue)
	// TimeMax sorts after every real timestamp.
	TimeMax TimeInt = TimeInt(maxTimeValue)
)

const (
	minTimeValue = int64(-1) << 62
	maxTimeValue = int64(1)<<62 - 1
)

// IsStatic reports whether t is the sentinel used to represent static
// (timeline-less) data standing in for a real timestamp.
func (t TimeInt) IsStatic() bool { return t == TimeMin }

// Range is an inclusive [Lo, Hi] window on a single Timeline.
type Range struct {
	Lo TimeInt
	Hi TimeInt
}

// Contains reports whether t falls within r, inclusive of both endpoints.
func (r Range) Contains(t TimeInt) bool { return t >= r.Lo && t <= r.Hi }

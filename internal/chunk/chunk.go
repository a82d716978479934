// Package chunk implements the immutable columnar chunk: the atomic unit
// of ingest and storage for one entity.
package chunk

import (
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/timeline"
)

var (
	ErrLengthMismatch = errors.New("chunk: column length does not match row count")
	ErrUnsortedChunk  = errors.New("chunk: row-ids are not non-decreasing")
	ErrMixedTypes     = errors.New("chunk: component registered twice with different datatypes")
	ErrStaticTimeline = errors.New("chunk: static chunk cannot carry a timeline")
	ErrEmptyChunk     = errors.New("chunk: no rows")
)

// idEncoding is base32hex (RFC 4648) lowercase without padding, preserving
// lexicographic sort order by creation time — the same scheme the teacher
// uses for its chunk identifiers.
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID uniquely identifies a Chunk. It is a UUIDv7, so its string form sorts
// lexicographically by creation time.
type ID [16]byte

// NewID mints an ID from a fresh UUIDv7.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// String returns the 26-character lowercase base32hex representation.
func (id ID) String() string {
	return strings.ToLower(idEncoding.EncodeToString(id[:]))
}

// Time returns the creation time encoded in the UUIDv7 ID.
func (id ID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// Cell is the payload of one component column at one row: a list of
// element values. A nil *Cell means "absent" (no entry at this row); a
// non-nil *Cell with zero-length Rows means "clear".
type Cell struct {
	Rows []any
}

// IsClear reports whether c represents an explicit clear (present, empty).
func (c *Cell) IsClear() bool { return c != nil && len(c.Rows) == 0 }

type timeColumn struct {
	values []timeline.TimeInt
	sorted bool
}

type componentColumn struct {
	dtype component.Datatype
	cells []*Cell
}

// Chunk is an immutable, self-describing batch of N rows for one entity.
// Build it with a Builder; the zero value is not valid.
type Chunk struct {
	id         ID
	entity     entitypath.Path
	static     bool
	rowIDs     []rowid.RowID
	timelines  map[timeline.Timeline]*timeColumn
	components map[component.Identifier]*componentColumn
	byteSize   int
}

// ID returns the chunk's identity.
func (c *Chunk) ID() ID { return c.id }

// Entity returns the entity path this chunk belongs to.
func (c *Chunk) Entity() entitypath.Path { return c.entity }

// IsStatic reports whether the chunk carries no timelines.
func (c *Chunk) IsStatic() bool { return c.static }

// NumRows returns N, the row count shared by every column.
func (c *Chunk) NumRows() int { return len(c.rowIDs) }

// NumComponents returns the number of distinct components present.
func (c *Chunk) NumComponents() int { return len(c.components) }

// ByteSize returns the total heap bytes owned by this chunk's buffers.
func (c *Chunk) ByteSize() int { return c.byteSize }

// RowIDs calls yield once per row-id in row order, stopping early if
// yield returns false.
func (c *Chunk) RowIDs(yield func(row int, id rowid.RowID) bool) {
	for i, id := range c.rowIDs {
		if !yield(i, id) {
			return
		}
	}
}

// RowID returns the row-id at the given row index.
func (c *Chunk) RowID(row int) rowid.RowID { return c.rowIDs[row] }

// Timelines returns the set of timelines this chunk carries times for.
func (c *Chunk) Timelines() []timeline.Timeline {
	out := make([]timeline.Timeline, 0, len(c.timelines))
	for tl := range c.timelines {
		out = append(out, tl)
	}
	return out
}

// Components returns the set of component identifiers this chunk carries
// columns for.
func (c *Chunk) Components() []component.Identifier {
	out := make([]component.Identifier, 0, len(c.components))
	for id := range c.components {
		out = append(out, id)
	}
	return out
}

// HasComponent reports whether id has a column in this chunk.
func (c *Chunk) HasComponent(id component.Identifier) bool {
	_, ok := c.components[id]
	return ok
}

// Datatype returns the datatype a component column was built with.
func (c *Chunk) Datatype(id component.Identifier) (component.Datatype, bool) {
	col, ok := c.components[id]
	if !ok {
		return 0, false
	}
	return col.dtype, true
}

// IsSortedBy reports whether the time column for tl is non-decreasing in
// row order. Computed once at Build time, not re-derived on each call.
func (c *Chunk) IsSortedBy(tl timeline.Timeline) bool {
	col, ok := c.timelines[tl]
	if !ok {
		return false
	}
	return col.sorted
}

// TimeAt returns the time value for tl at the given row.
func (c *Chunk) TimeAt(tl timeline.Timeline, row int) (timeline.TimeInt, bool) {
	col, ok := c.timelines[tl]
	if !ok {
		return 0, false
	}
	return col.values[row], true
}

// TimeRange returns the [min,max] time span of tl's column. False if the
// chunk does not carry tl.
func (c *Chunk) TimeRange(tl timeline.Timeline) (timeline.Range, bool) {
	col, ok := c.timelines[tl]
	if !ok || len(col.values) == 0 {
		return timeline.Range{}, false
	}
	lo, hi := col.values[0], col.values[0]
	for _, v := range col.values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return timeline.Range{Lo: lo, Hi: hi}, true
}

// Cell returns the component cell at the given row, or nil if the
// component has no column in this chunk.
func (c *Chunk) Cell(id component.Identifier, row int) *Cell {
	col, ok := c.components[id]
	if !ok {
		return nil
	}
	return col.cells[row]
}

// ComponentIndex is one entry of IterComponentIndices: the row's ordering
// key and the position of its cell within the column.
type ComponentIndex struct {
	Time   timeline.TimeInt // static chunks report timeline.TimeMin
	RowID  rowid.RowID
	Offset int
	Length int
}

// IterComponentIndices calls yield once per row that has a non-absent
// cell for id, in row order, reporting the row's (time, row-id) ordering
// key alongside the cell's position. tl is ignored for static chunks.
func (c *Chunk) IterComponentIndices(id component.Identifier, tl timeline.Timeline, yield func(ComponentIndex) bool) {
	col, ok := c.components[id]
	if !ok {
		return
	}
	var times *timeColumn
	if !c.static {
		times = c.timelines[tl]
	}
	for row, cell := range col.cells {
		if cell == nil {
			continue
		}
		t := timeline.TimeMin
		if times != nil {
			t = times.values[row]
		}
		if !yield(ComponentIndex{Time: t, RowID: c.rowIDs[row], Offset: row, Length: len(cell.Rows)}) {
			return
		}
	}
}

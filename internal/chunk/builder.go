package chunk

import (
	"fmt"

	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/timeline"
)

const rowIDByteSize = 16 // two uint64 halves
const timeValueByteSize = 8

// Builder assembles a Chunk from per-row row-ids, optional per-timeline
// time columns, and per-component list columns. Build validates all
// chunk invariants before returning a Chunk; a Builder that fails Build
// may be reused after fixing the offending input.
type Builder struct {
	entity     entitypath.Path
	id         ID
	hasID      bool
	rowIDs     []rowid.RowID
	timelines  map[timeline.Timeline][]timeline.TimeInt
	components map[component.Identifier]*componentColumn
}

// NewBuilder starts a Builder for the given entity.
func NewBuilder(entity entitypath.Path) *Builder {
	return &Builder{
		entity:     entity,
		timelines:  make(map[timeline.Timeline][]timeline.TimeInt),
		components: make(map[component.Identifier]*componentColumn),
	}
}

// WithID overrides the freshly-minted UUIDv7 chunk-id Build would
// otherwise generate. A sender that retries a batch after an ambiguous
// acknowledgement reuses the same chunk-id on the resend so the store's
// chunk-id dedup (§4.2) makes the retry a no-op instead of a duplicate.
func (b *Builder) WithID(id ID) *Builder {
	b.id = id
	b.hasID = true
	return b
}

// RowIDs sets the chunk's row-ids. Required before Build.
func (b *Builder) RowIDs(ids []rowid.RowID) *Builder {
	b.rowIDs = ids
	return b
}

// Timeline adds a time column for tl. times must have the same length as
// the builder's row-ids.
func (b *Builder) Timeline(tl timeline.Timeline, times []timeline.TimeInt) *Builder {
	b.timelines[tl] = times
	return b
}

// Component adds a list column for id with the given element datatype.
// cells must have the same length as the builder's row-ids; a nil entry
// means absent, a non-nil entry with no Rows means a clear.
func (b *Builder) Component(id component.Identifier, dtype component.Datatype, cells []*Cell) *Builder {
	b.components[id] = &componentColumn{dtype: dtype, cells: cells}
	return b
}

// Build validates invariants and returns an immutable, non-static Chunk.
func (b *Builder) Build() (*Chunk, error) {
	return b.build(false)
}

// BuildStatic validates invariants and returns an immutable static Chunk.
// A static chunk must carry no timelines.
func (b *Builder) BuildStatic() (*Chunk, error) {
	return b.build(true)
}

func (b *Builder) build(static bool) (*Chunk, error) {
	n := len(b.rowIDs)
	if n == 0 {
		return nil, ErrEmptyChunk
	}
	if static && len(b.timelines) > 0 {
		return nil, ErrStaticTimeline
	}

	for i := 1; i < n; i++ {
		if b.rowIDs[i].Less(b.rowIDs[i-1]) {
			return nil, ErrUnsortedChunk
		}
	}

	timelines := make(map[timeline.Timeline]*timeColumn, len(b.timelines))
	size := n * rowIDByteSize
	for tl, values := range b.timelines {
		if len(values) != n {
			return nil, fmt.Errorf("%w: timeline %q has %d values, want %d", ErrLengthMismatch, tl, len(values), n)
		}
		sorted := true
		for i := 1; i < n; i++ {
			if values[i] < values[i-1] {
				sorted = false
				break
			}
		}
		timelines[tl] = &timeColumn{values: values, sorted: sorted}
		size += n * timeValueByteSize
	}

	components := make(map[component.Identifier]*componentColumn, len(b.components))
	for id, col := range b.components {
		if len(col.cells) != n {
			return nil, fmt.Errorf("%w: component %q has %d cells, want %d", ErrLengthMismatch, id, len(col.cells), n)
		}
		codec, err := component.CodecFor(col.dtype)
		if err != nil {
			return nil, err
		}
		for _, cell := range col.cells {
			if cell == nil {
				continue
			}
			for _, v := range cell.Rows {
				size += codec.ByteSize(v)
			}
		}
		components[id] = col
	}

	id := b.id
	if !b.hasID {
		id = NewID()
	}

	return &Chunk{
		id:         id,
		entity:     b.entity,
		static:     static,
		rowIDs:     append([]rowid.RowID(nil), b.rowIDs...),
		timelines:  timelines,
		components: components,
		byteSize:   size,
	}, nil
}

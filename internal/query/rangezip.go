package query

import (
	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/timeline"
)

// Stream is one component's sorted-by-(time, row-id) sequence of rows,
// the input shape RangeZip merges. Build one with Engine.ComponentStream.
type Stream struct {
	Component component.Identifier
	Rows      []StreamRow
}

// StreamRow is a single entry of a Stream.
type StreamRow struct {
	Time  timeline.TimeInt
	RowID rowid.RowID
	Cell  *chunk.Cell
}

// ZippedRow is one output row of RangeZip.
type ZippedRow struct {
	Time  timeline.TimeInt
	RowID rowid.RowID
	Cells map[component.Identifier]*chunk.Cell
}

// ComponentStream builds the sorted row stream for one component over q,
// the raw input RangeZip joins. It is the same per-component gathering
// Engine.Range uses internally, exposed so callers can assemble their
// own required/optional join instead of the plain union-of-all-streams
// range query.
func (e *Engine) ComponentStream(entity entitypath.Path, q RangeQuery, comp component.Identifier) Stream {
	rows := e.rangeStream(entity, q, comp)
	out := make([]StreamRow, len(rows))
	for i, r := range rows {
		out[i] = StreamRow{Time: r.Time, RowID: r.RowID, Cell: r.Cell}
	}
	return Stream{Component: comp, Rows: out}
}

// RangeZip merges an arbitrary number of required and optional component
// streams into one join, replacing the 18 hand-written arities (required
// 1-2, optional 1-9) the original generator produced (§9's design note:
// "implementers should metaprogram or macro-expand a small family ...
// Do not hand-write all 18 variants" — Go generics make that family a
// single function operating on slices instead).
//
// The index set emitted is the union of the required streams' (time,
// row-id) keys only: required streams define which rows exist at all,
// and the join stops the instant any required stream runs out, even if
// another required stream still has rows (the source's literal "the
// join terminates when any required stream ends", not a full outer join
// between the required streams). Optional streams never introduce a row
// of their own; at each emitted index they contribute their most
// recently seen value at or before that index — a generalized
// "latest-at within range" — or nil before their first row.
func RangeZip(required, optional []Stream) []ZippedRow {
	if len(required) == 0 {
		return nil
	}

	reqPos := make([]int, len(required))
	optPos := make([]int, len(optional))
	optLast := make([]*chunk.Cell, len(optional))

	var out []ZippedRow
	for {
		// Gating: the join ends the moment any required stream is
		// exhausted, regardless of how much is left in the others.
		exhausted := false
		for i, s := range required {
			if reqPos[i] >= len(s.Rows) {
				exhausted = true
				break
			}
		}
		if exhausted {
			break
		}

		key := required[0].Rows[reqPos[0]]
		for i := 1; i < len(required); i++ {
			r := required[i].Rows[reqPos[i]]
			if rowKeyGreater(key.Time, key.RowID, r.Time, r.RowID) {
				key = r
			}
		}

		cells := make(map[component.Identifier]*chunk.Cell, len(required)+len(optional))
		for i, s := range required {
			r := s.Rows[reqPos[i]]
			if r.Time == key.Time && r.RowID == key.RowID {
				cells[s.Component] = r.Cell
				reqPos[i]++
			}
		}
		for i, s := range optional {
			p := optPos[i]
			for p < len(s.Rows) && !rowKeyGreater(s.Rows[p].Time, s.Rows[p].RowID, key.Time, key.RowID) {
				optLast[i] = s.Rows[p].Cell
				p++
			}
			optPos[i] = p
			cells[s.Component] = optLast[i]
		}

		out = append(out, ZippedRow{Time: key.Time, RowID: key.RowID, Cells: cells})
	}

	return out
}

// Package query implements the latest-at and range query engines that
// read a store.Store: §4.4 of the spec this module grounds on. Latest-at
// resolves, per component, the single winning row under the store's
// (time, row-id) ordering rule; range returns every row in a time
// window, optionally latest-at-filled; both honor Clear semantics
// (§4.7) at query time rather than at storage time.
package query

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/store"
	"rerun-chunkstore/internal/timeline"
)

// LatestAtQuery selects the most recent row at or before At on Timeline.
type LatestAtQuery struct {
	Timeline timeline.Timeline
	At       timeline.TimeInt
}

// RangeQuery selects every row within an inclusive time window.
type RangeQuery struct {
	Timeline timeline.Timeline
	Range    timeline.Range
}

// LatestAtResult is one component's answer to a LatestAtQuery. Found is
// false when no chunk contributed a row at all (not even a cleared one).
// Static is true iff the winning row came from static data, in which
// case DataTime carries no meaning (the spec's "data_time is None iff
// static"). Cell is nil both when the component is genuinely absent and
// when the winning row is an explicit clear — callers that need to tell
// the two apart can re-check Found/Static/RowID, since those are always
// populated whenever a relevant row existed at all.
type LatestAtResult struct {
	Found    bool
	Static   bool
	DataTime timeline.TimeInt
	RowID    rowid.RowID
	Cell     *chunk.Cell
}

// LatestAtResults packages one LatestAtResult per requested component,
// the "results object keyed by component" of §4.4.3.
type LatestAtResults map[component.Identifier]LatestAtResult

// Engine answers latest-at and range queries against a single store.
type Engine struct {
	store *store.Store
}

// NewEngine returns an Engine reading s.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// LatestAt resolves every component in components for entity at q,
// fetching components concurrently (the teacher's index.BuildHelper
// errgroup fan-out idiom, here parallelizing per-component lookups
// instead of per-indexer builds). ErrEmptyComponentSet is the only
// error this layer ever returns: queries never fail for missing data.
func (e *Engine) LatestAt(entity entitypath.Path, q LatestAtQuery, components []component.Identifier) (LatestAtResults, error) {
	if len(components) == 0 {
		return nil, store.ErrEmptyComponentSet
	}

	results := make(LatestAtResults, len(components))
	var mu sync.Mutex
	g, _ := errgroup.WithContext(context.Background())
	for _, comp := range components {
		g.Go(func() error {
			r := e.latestAtOne(entity, q, comp)
			mu.Lock()
			results[comp] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // latestAtOne never errors; queries never fail for missing data
	return results, nil
}

func (e *Engine) latestAtOne(entity entitypath.Path, q LatestAtQuery, comp component.Identifier) LatestAtResult {
	chunks := e.store.LatestAtRelevantChunks(entity, q.Timeline, comp, q.At)

	var best chunk.ComponentIndex
	var bestChunk *chunk.Chunk
	found := false
	for _, c := range chunks {
		idx, ok := latestRowInChunk(c, comp, q.Timeline, q.At)
		if !ok {
			continue
		}
		if !found || componentIndexGreater(idx, best) {
			best, bestChunk, found = idx, c, true
		}
	}
	if !found {
		return LatestAtResult{}
	}

	result := LatestAtResult{
		Found:    true,
		Static:   bestChunk.IsStatic(),
		DataTime: best.Time,
		RowID:    best.RowID,
	}
	cell := bestChunk.Cell(comp, best.Offset)
	if cell != nil && !cell.IsClear() {
		result.Cell = cell
	}

	if comp != store.ClearComponent {
		e.maskIfCleared(entity, q.Timeline, q.At, best, &result)
	}
	return result
}

// maskIfCleared empties result.Cell if the strictest clear on entity (or
// a recursive ancestor) at or before q.At is at least as new as the
// winning row (§4.4.4, §4.3.3's row-id tie-break).
func (e *Engine) maskIfCleared(entity entitypath.Path, tl timeline.Timeline, at timeline.TimeInt, winning chunk.ComponentIndex, result *LatestAtResult) {
	upto := store.ClearKey{Time: at, Row: rowid.Max}
	clearKey, _, ok := e.store.StrictestClear(entity, tl, upto)
	if !ok {
		return
	}
	bestKey := store.ClearKey{Time: winning.Time, Row: winning.RowID}
	if !clearKey.Less(bestKey) {
		result.Cell = nil
	}
}

// latestRowInChunk finds the winning row for comp within a single chunk:
// the last row (in ascending row order, which the store guarantees is
// also ascending (time, row-id) order — §4.3.1 rejects any chunk whose
// declared timelines aren't non-decreasing) with time <= at. Static
// chunks have no "at" bound and so always take their last present row.
func latestRowInChunk(c *chunk.Chunk, comp component.Identifier, tl timeline.Timeline, at timeline.TimeInt) (chunk.ComponentIndex, bool) {
	if !c.HasComponent(comp) {
		return chunk.ComponentIndex{}, false
	}
	var best chunk.ComponentIndex
	found := false
	c.IterComponentIndices(comp, tl, func(ci chunk.ComponentIndex) bool {
		if !c.IsStatic() && ci.Time > at {
			return false // ascending order: nothing later can qualify either
		}
		best, found = ci, true
		return true
	})
	return best, found
}

func componentIndexGreater(a, b chunk.ComponentIndex) bool {
	if a.Time != b.Time {
		return a.Time > b.Time
	}
	return b.RowID.Less(a.RowID)
}

// RangeRow is one emitted row of a Range query: the ordering key, plus
// each requested component's cell (nil if absent at this row and
// ApplyLatestAt was not requested).
type RangeRow struct {
	Time  timeline.TimeInt
	RowID rowid.RowID
	Cells map[component.Identifier]*chunk.Cell
}

// Range returns every row in q.Range sorted by (time, row-id) ascending,
// carrying all requested components. When applyLatestAt is false (the
// default), a component missing at a given row reports nil; when true,
// it is filled with the latest-at value as of that row's time (§4.4.2).
// The returned iterator is lazy in the push-iterator sense used
// elsewhere in this module (chunk.RowIDs, entitypath's ancestor walks):
// the caller controls how much of the range it actually consumes.
func (e *Engine) Range(entity entitypath.Path, q RangeQuery, components []component.Identifier, applyLatestAt bool) (func(yield func(RangeRow) bool), error) {
	if len(components) == 0 {
		return nil, store.ErrEmptyComponentSet
	}

	streams := make(map[component.Identifier][]streamRow, len(components))
	seeds := make(map[component.Identifier]*chunk.Cell, len(components))
	for _, comp := range components {
		streams[comp] = e.rangeStream(entity, q, comp)
		if applyLatestAt {
			seedAt := q.Range.Lo
			if seedAt > timeline.TimeMin {
				seedAt--
			}
			seed := e.latestAtOne(entity, LatestAtQuery{Timeline: q.Timeline, At: seedAt}, comp)
			if seed.Found {
				seeds[comp] = seed.Cell
			}
		}
	}

	keys := unionKeys(streams)

	// StrictestClear doesn't depend on which component is being queried,
	// so it's resolved once for the whole range rather than per row.
	clearKey, _, hasClear := e.store.StrictestClear(entity, q.Timeline, store.ClearKey{Time: q.Range.Hi, Row: rowid.Max})

	return func(yield func(RangeRow) bool) {
		pos := make(map[component.Identifier]int, len(components))
		last := make(map[component.Identifier]*chunk.Cell, len(components))
		for comp := range seeds {
			last[comp] = seeds[comp]
		}

		for _, k := range keys {
			cells := make(map[component.Identifier]*chunk.Cell, len(components))
			for _, comp := range components {
				rows := streams[comp]
				p := pos[comp]
				var exact *chunk.Cell
				hasExact := false
				for p < len(rows) && !rowKeyGreater(rows[p].Time, rows[p].RowID, k.time, k.rowID) {
					if rows[p].Time == k.time && rows[p].RowID == k.rowID {
						exact, hasExact = rows[p].Cell, true
					}
					last[comp] = rows[p].Cell
					p++
				}
				pos[comp] = p

				switch {
				case hasExact:
					cells[comp] = exact
				case applyLatestAt:
					cells[comp] = last[comp]
				default:
					cells[comp] = nil
				}

				if comp != store.ClearComponent && hasClear && !clearKey.Less(store.ClearKey{Time: k.time, Row: k.rowID}) {
					cells[comp] = nil
				}
			}
			if !yield(RangeRow{Time: k.time, RowID: k.rowID, Cells: cells}) {
				return
			}
		}
	}, nil
}

type streamRow struct {
	Time  timeline.TimeInt
	RowID rowid.RowID
	Cell  *chunk.Cell
}

func (e *Engine) rangeStream(entity entitypath.Path, q RangeQuery, comp component.Identifier) []streamRow {
	chunks := e.store.RangeRelevantChunks(entity, q.Timeline, comp, q.Range.Lo, q.Range.Hi)
	var rows []streamRow
	for _, c := range chunks {
		if c.IsStatic() {
			continue // statics only seed the applyLatestAt fallback, never emit a row of their own
		}
		c.IterComponentIndices(comp, q.Timeline, func(ci chunk.ComponentIndex) bool {
			if ci.Time >= q.Range.Lo && ci.Time <= q.Range.Hi {
				rows = append(rows, streamRow{Time: ci.Time, RowID: ci.RowID, Cell: c.Cell(comp, ci.Offset)})
			}
			return true
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Time != rows[j].Time {
			return rows[i].Time < rows[j].Time
		}
		return rows[i].RowID.Less(rows[j].RowID)
	})
	return rows
}

type rowKey struct {
	time  timeline.TimeInt
	rowID rowid.RowID
}

func unionKeys(streams map[component.Identifier][]streamRow) []rowKey {
	seen := make(map[rowKey]bool)
	var keys []rowKey
	for _, rows := range streams {
		for _, r := range rows {
			k := rowKey{r.Time, r.RowID}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].time != keys[j].time {
			return keys[i].time < keys[j].time
		}
		return keys[i].rowID.Less(keys[j].rowID)
	})
	return keys
}

func rowKeyGreater(t timeline.TimeInt, r rowid.RowID, refT timeline.TimeInt, refR rowid.RowID) bool {
	if t != refT {
		return t > refT
	}
	return refR.Less(r)
}

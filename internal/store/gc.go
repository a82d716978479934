package store

import (
	"time"

	"golang.org/x/time/rate"

	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/timeline"
)

// GCOptions configures a GC sweep (§4.3.5).
type GCOptions struct {
	// PreserveStatic, when set, never evicts a static chunk no matter
	// how far the sweep has to dig to reach its byte target. It is false
	// in a zero GCOptions, so GC(n, GCOptions{}) may evict static chunks.
	PreserveStatic bool
	// ProtectedNewestRows keeps the newest N rows (by row-id, counted
	// across every entity) un-evictable even if reaching the byte target
	// would otherwise require touching them. Zero means no protection
	// beyond PreserveStatic.
	ProtectedNewestRows int
}

// GCResult reports what a GC sweep did.
type GCResult struct {
	Events     []Event
	BytesFreed int
}

// GC evicts whole chunks, oldest-row-id-first across the entire store,
// until targetBytes have been reclaimed or there is nothing left to
// evict. Row-id order — not timeline order — is authoritative, so GC
// behavior is deterministic across differing timelines (§4.3.5).
//
// Every evicted chunk produces exactly one Deletion event carrying the
// full chunk reference, so subscribers can inspect its columns before
// the chunk's memory is reclaimed. GC is not a "clear": it never
// synthesizes a Clear row, it just makes the deleted rows unretrievable
// because they no longer exist in any index (§4.7).
func (s *Store) GC(targetBytes int, opts GCOptions) GCResult {
	s.mu.Lock()

	type candidate struct {
		id chunk.ID
		c  *chunk.Chunk
	}
	var ordered []candidate
	s.byRowID.Iter(func(_ rowid.RowID, ids []chunk.ID) bool {
		for _, id := range ids {
			if c, ok := s.chunks[id]; ok {
				ordered = append(ordered, candidate{id: id, c: c})
			}
		}
		return true
	})

	protected := make(map[chunk.ID]bool)
	if opts.ProtectedNewestRows > 0 {
		rowsSeen := 0
		for i := len(ordered) - 1; i >= 0 && rowsSeen < opts.ProtectedNewestRows; i-- {
			protected[ordered[i].id] = true
			rowsSeen += ordered[i].c.NumRows()
		}
	}

	var events []Event
	freed := 0
	for _, cand := range ordered {
		if freed >= targetBytes {
			break
		}
		if opts.PreserveStatic && cand.c.IsStatic() {
			continue
		}
		if protected[cand.id] {
			continue
		}

		st, ok := s.entities[s.entityKey(cand.c.Entity())]
		if ok {
			s.removeChunkFromIndices(st, cand.c)
		}
		delete(s.chunks, cand.id)
		s.byRowID.MutateEntry(cand.c.RowID(0), nil, func(ids *[]chunk.ID) {
			*ids = removeChunkID(*ids, cand.id)
		})

		s.numRows -= cand.c.NumRows()
		if cand.c.IsStatic() {
			s.numStaticRows -= cand.c.NumRows()
		}
		s.totalHeapBytes -= cand.c.ByteSize()
		freed += cand.c.ByteSize()
		s.numEvents++
		s.generation++
		events = append(events, Event{
			StoreID:         s.id,
			StoreGeneration: s.generation,
			EventID:         s.numEvents,
			Diff:            Diff{Kind: Deletion, Chunk: cand.c},
		})
	}

	s.mu.Unlock()

	s.publish(events)
	return GCResult{Events: events, BytesFreed: freed}
}

func (s *Store) removeChunkFromIndices(st *entityState, c *chunk.Chunk) {
	for _, tl := range c.Timelines() {
		rng, _ := c.TimeRange(tl)
		perComponent, ok := st.byTimelineComponent[tl]
		if !ok {
			continue
		}
		for _, id := range c.Components() {
			idx, ok := perComponent[id]
			if !ok {
				continue
			}
			idx.MutateEntry(rng.Lo, nil, func(ids *[]chunk.ID) {
				*ids = removeChunkID(*ids, c.ID())
			})
		}
	}

	if c.IsStatic() {
		firstRow := c.RowID(0)
		for _, id := range c.Components() {
			idx, ok := st.byStaticComponent[id]
			if !ok {
				continue
			}
			idx.MutateEntry(firstRow, nil, func(ids *[]chunk.ID) {
				*ids = removeChunkID(*ids, c.ID())
			})
		}
	}

	for row := 0; c.HasComponent(ClearComponent) && row < c.NumRows(); row++ {
		if c.Cell(ClearComponent, row) == nil {
			continue
		}
		if c.IsStatic() {
			st.staticClears.Remove(ClearKey{Time: timeline.TimeMin, Row: c.RowID(row)})
		}
		for _, tl := range c.Timelines() {
			t, ok := c.TimeAt(tl, row)
			if idx, has := st.clearsByTimeline[tl]; ok && has {
				idx.Remove(ClearKey{Time: t, Row: c.RowID(row)})
			}
		}
	}
}

func removeChunkID(ids []chunk.ID, target chunk.ID) []chunk.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// GCScheduler throttles how often a host calls GC: a per-frame "maybe
// collect" call should not run a full sweep more often than configured,
// the same token-bucket pacing the teacher's per-IP rate limiter uses
// (internal/server/ratelimit.go), repurposed here for a per-store pacer
// instead of per-client request throttling.
type GCScheduler struct {
	store   *Store
	limiter *rate.Limiter
	target  func() (targetBytes int, opts GCOptions)
}

// NewGCScheduler returns a scheduler that runs at most one GC sweep per
// `every` duration (with one initial burst allowed). target is called
// immediately before each sweep to compute the current byte budget.
func NewGCScheduler(s *Store, every time.Duration, target func() (int, GCOptions)) *GCScheduler {
	return &GCScheduler{
		store:   s,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		target:  target,
	}
}

// MaybeGC runs a GC sweep if the scheduler's pacing allows it right now,
// reporting (result, true) if it ran, or (zero value, false) if the call
// was suppressed by the rate limit.
func (g *GCScheduler) MaybeGC() (GCResult, bool) {
	if !g.limiter.Allow() {
		return GCResult{}, false
	}
	targetBytes, opts := g.target()
	return g.store.GC(targetBytes, opts), true
}

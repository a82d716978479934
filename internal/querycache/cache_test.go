package querycache

import (
	"testing"

	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/query"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/store"
	"rerun-chunkstore/internal/timeline"
)

var frame = timeline.New("frame", timeline.Sequence)

var pointComponent = component.Qualify("Point")

func newFixture(t *testing.T) (*store.Store, *query.Engine, *Cache) {
	t.Helper()
	s := store.New("test", nil)
	e := query.NewEngine(s)
	c := New(e, nil)
	s.Subscribe(c.HandleStoreEvent)
	return s, e, c
}

func buildPoint(t *testing.T, entity entitypath.Path, r rowid.RowID, at timeline.TimeInt, v float64) *chunk.Chunk {
	t.Helper()
	c, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{r}).
		Timeline(frame, []timeline.TimeInt{at}).
		Component(pointComponent, component.Primitive, []*chunk.Cell{{Rows: []any{v}}}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return c
}

// S5 — query cache deduplication: latest-at queries at several query
// times sharing the same underlying data time all share one bucket by
// reference identity, including the data-time slot.
func TestCacheSharesBucketAcrossQueryTimes(t *testing.T) {
	s, _, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	if _, err := s.Insert(buildPoint(t, entity, alloc.Next(), 8, 1.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var buckets []*Bucket
	for _, at := range []timeline.TimeInt{10, 11, 12} {
		b, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: at}, pointComponent)
		if err != nil {
			t.Fatalf("LatestAt(%d): %v", at, err)
		}
		buckets = append(buckets, b)
	}

	for i := 1; i < len(buckets); i++ {
		if buckets[i] != buckets[0] {
			t.Errorf("per_query_time buckets are not the same reference: buckets[%d]=%p, buckets[0]=%p", i, buckets[i], buckets[0])
		}
	}

	dataBucket, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 8}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt(8): %v", err)
	}
	if dataBucket != buckets[0] {
		t.Errorf("per_data_time[8] does not alias the per_query_time bucket")
	}
}

// S3-adjacent: a bucket decodes its cell at most once even under repeated
// calls.
func TestBucketDecodesOnce(t *testing.T) {
	s, _, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()
	if _, err := s.Insert(buildPoint(t, entity, alloc.Next(), 8, 1.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	b, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 10}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}

	calls := 0
	decode := func(cell *chunk.Cell) (any, error) {
		calls++
		return cell.Rows[0], nil
	}
	for i := 0; i < 5; i++ {
		if _, err := b.Decode(decode); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("Decode ran %d times, want 1", calls)
	}
}

// Deferred invalidation soundness (testable property 3): after a mutation,
// the next cached query returns what a direct query would, even though the
// cache did no eager work at insert time.
func TestDeferredInvalidationSoundness(t *testing.T) {
	s, e, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	r0 := alloc.Next()
	if _, err := s.Insert(buildPoint(t, entity, r0, 10, 1.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	b, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	if v := b.Cell().Rows[0].(float64); v != 1.0 {
		t.Fatalf("initial cached value = %v, want 1.0", v)
	}

	// A later-arriving row at an earlier data time must still be visible
	// to a query at t=20, once the cache's pending invalidation runs.
	r1 := r0.Next()
	if _, err := s.Insert(buildPoint(t, entity, r1, 15, 2.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cached, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	direct, err := e.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, []component.Identifier{pointComponent})
	if err != nil {
		t.Fatalf("direct LatestAt: %v", err)
	}

	want := direct[pointComponent]
	if cached.Cell() == nil || want.Cell == nil || cached.Cell().Rows[0] != want.Cell.Rows[0] {
		t.Errorf("cached result diverged from direct query: cached=%v, direct=%v", cached.Cell(), want.Cell)
	}
	if v := cached.Cell().Rows[0].(float64); v != 2.0 {
		t.Errorf("cached value after insert = %v, want 2.0 (fresh row)", v)
	}
}

func TestCacheStaticBucketSingleSlot(t *testing.T) {
	s, _, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	sc, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{alloc.Next()}).
		Component(pointComponent, component.Primitive, []*chunk.Cell{{Rows: []any{9.0}}}).
		BuildStatic()
	if err != nil {
		t.Fatalf("build static: %v", err)
	}
	if _, err := s.Insert(sc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	b1, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 0}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	b2, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 1000}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	if b1 != b2 {
		t.Errorf("static results at different query times should share the single static bucket")
	}
	if !b1.Static {
		t.Errorf("Bucket.Static = false, want true for static data")
	}
}

// A component logged both statically and then temporally: once a
// temporal row exists at or before the query time, a direct query ranks
// it above the static TimeMin sentinel (query.go), so the cache's
// previously-served static bucket must not keep winning.
func TestCacheTemporalInsertInvalidatesStaleStaticBucket(t *testing.T) {
	s, e, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	sc, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{alloc.Next()}).
		Component(pointComponent, component.Primitive, []*chunk.Cell{{Rows: []any{9.0}}}).
		BuildStatic()
	if err != nil {
		t.Fatalf("build static: %v", err)
	}
	if _, err := s.Insert(sc); err != nil {
		t.Fatalf("insert static: %v", err)
	}

	cachedStatic, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	if v := cachedStatic.Cell().Rows[0].(float64); v != 9.0 {
		t.Fatalf("cached static value = %v, want 9.0", v)
	}

	if _, err := s.Insert(buildPoint(t, entity, alloc.Next(), 10, 1.0)); err != nil {
		t.Fatalf("insert temporal: %v", err)
	}

	cached, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, pointComponent)
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	direct, err := e.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 20}, []component.Identifier{pointComponent})
	if err != nil {
		t.Fatalf("direct LatestAt: %v", err)
	}
	want := direct[pointComponent]
	if cached.Cell() == nil || want.Cell == nil || cached.Cell().Rows[0] != want.Cell.Rows[0] {
		t.Errorf("cached result diverged from direct query after temporal insert: cached=%v, direct=%v", cached.Cell(), want.Cell)
	}
	if cached.Static {
		t.Errorf("cache kept serving the stale static bucket after a temporal row outranked it")
	}
	if v := cached.Cell().Rows[0].(float64); v != 1.0 {
		t.Errorf("cached value after temporal insert = %v, want 1.0 (the temporal row)", v)
	}
}

// §4.5.1(2): a data-time hit must also alias per_query_time[data_time],
// not just per_query_time[at], so a later query landing exactly on
// data_time is itself a query-time hit.
func TestDataTimeHitAliasesPerQueryTimeAtDataTime(t *testing.T) {
	s, _, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	if _, err := s.Insert(buildPoint(t, entity, alloc.Next(), 8, 1.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Miss at 10 and 12: both resolve to data_time=8, exercising the
	// data-time-hit path for the second call.
	if _, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 10}, pointComponent); err != nil {
		t.Fatalf("LatestAt(10): %v", err)
	}
	if _, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 12}, pointComponent); err != nil {
		t.Fatalf("LatestAt(12): %v", err)
	}

	key := dedupeKeyFor(entity, frame, pointComponent)
	pk := c.perKey(key)
	pk.mu.Lock()
	_, hit := pk.perQueryTime.Get(8)
	pk.mu.Unlock()
	if !hit {
		t.Errorf("per_query_time[data_time=8] was not populated by the data-time-hit path")
	}
}

func TestTruncateBeforeDropsOldBuckets(t *testing.T) {
	s, _, c := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()

	if _, err := s.Insert(buildPoint(t, entity, alloc.Next(), 5, 1.0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := c.LatestAt(entity, query.LatestAtQuery{Timeline: frame, At: 10}, pointComponent); err != nil {
		t.Fatalf("LatestAt: %v", err)
	}

	key := dedupeKeyFor(entity, frame, pointComponent)
	pk := c.perKey(key)
	pk.mu.Lock()
	before := pk.perQueryTime.HeapSizeBytes()
	pk.mu.Unlock()
	if before == 0 {
		t.Fatalf("expected a populated per_query_time entry before truncation")
	}

	c.TruncateBefore(100)

	pk.mu.Lock()
	after := pk.perQueryTime.HeapSizeBytes()
	pk.mu.Unlock()
	if after != 0 {
		t.Errorf("TruncateBefore(100) left per_query_time non-empty: %d bytes", after)
	}
}

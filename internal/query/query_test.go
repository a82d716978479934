package query

import (
	"testing"

	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/store"
	"rerun-chunkstore/internal/timeline"
)

var frame = timeline.New("frame", timeline.Sequence)

func buildPoint(t *testing.T, entity entitypath.Path, rowIDs []rowid.RowID, times []timeline.TimeInt, values []float64) *chunk.Chunk {
	t.Helper()
	cells := make([]*chunk.Cell, len(values))
	for i, v := range values {
		cells[i] = &chunk.Cell{Rows: []any{v}}
	}
	c, err := chunk.NewBuilder(entity).
		RowIDs(rowIDs).
		Timeline(frame, times).
		Component(component.Qualify("Point"), component.Primitive, cells).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return c
}

func newFixture(t *testing.T) (*store.Store, *Engine) {
	t.Helper()
	s := store.New("test", nil)
	return s, NewEngine(s)
}

// S1 — ordering across intra-timestamp writes.
func TestLatestAtIntraTimestampOrdering(t *testing.T) {
	s, e := newFixture(t)
	entity := entitypath.New("some_entity")
	alloc := rowid.NewAllocator()
	r0 := alloc.Next()
	r1 := r0.Next()

	c := buildPoint(t, entity, []rowid.RowID{r0, r1}, []timeline.TimeInt{10, 10}, []float64{1.0, 2.0})
	if _, err := s.Insert(c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := e.LatestAt(entity, LatestAtQuery{Timeline: frame, At: 11}, []component.Identifier{component.Qualify("Point")})
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	r := results[component.Qualify("Point")]
	if !r.Found || r.Cell == nil || r.Cell.Rows[0].(float64) != 2.0 || r.RowID != r1 {
		t.Errorf("got %+v, want Point(2.0) at row-id r1", r)
	}
}

// S2 — idempotent chunk-id.
func TestChunkIDIdempotence(t *testing.T) {
	s, e := newFixture(t)
	entity := entitypath.New("some_entity")
	alloc := rowid.NewAllocator()
	r := alloc.Next()

	sharedID := chunk.NewID()
	cell1 := []*chunk.Cell{{Rows: []any{1.0}}}
	c1, err := chunk.NewBuilder(entity).
		WithID(sharedID).
		RowIDs([]rowid.RowID{r}).
		Timeline(frame, []timeline.TimeInt{10}).
		Component(component.Qualify("Point"), component.Primitive, cell1).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cell2 := []*chunk.Cell{{Rows: []any{2.0}}}
	c2, err := chunk.NewBuilder(entity).
		WithID(sharedID).
		RowIDs([]rowid.RowID{r}).
		Timeline(frame, []timeline.TimeInt{10}).
		Component(component.Qualify("Point"), component.Primitive, cell2).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ev1, err := s.Insert(c1)
	if err != nil || len(ev1) != 1 {
		t.Fatalf("first insert: events=%v err=%v", ev1, err)
	}
	ev2, err := s.Insert(c2)
	if err != nil || len(ev2) != 0 {
		t.Fatalf("duplicate insert should be a no-op: events=%v err=%v", ev2, err)
	}

	results, err := e.LatestAt(entity, LatestAtQuery{Timeline: frame, At: 11}, []component.Identifier{component.Qualify("Point")})
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	r1 := results[component.Qualify("Point")]
	if !r1.Found || r1.Cell.Rows[0].(float64) != 1.0 {
		t.Errorf("got %+v, want Point(1.0) (first payload wins)", r1)
	}
}

// S4 — unsorted chunk rejected.
func TestInsertUnsortedChunkRejected(t *testing.T) {
	s, _ := newFixture(t)
	entity := entitypath.New("world")
	alloc := rowid.NewAllocator()
	r0, r1 := alloc.Next(), alloc.Next()

	before := s.Stats()
	_, err := chunk.NewBuilder(entity).RowIDs([]rowid.RowID{r1, r0}).Build()
	if err != chunk.ErrUnsortedChunk {
		t.Fatalf("Build err = %v, want ErrUnsortedChunk", err)
	}
	after := s.Stats()
	if before != after {
		t.Errorf("store stats changed on a rejected chunk: %+v -> %+v", before, after)
	}
}

// S3 — recursive clear.
func TestRecursiveClear(t *testing.T) {
	s, e := newFixture(t)
	alloc := rowid.NewAllocator()

	parent := entitypath.New("parent")
	child1 := entitypath.New("parent", "child1")
	deep := entitypath.New("parent", "deep", "deep", "down", "child2")

	insertPoint := func(entity entitypath.Path, r rowid.RowID, t64 timeline.TimeInt, comp component.Identifier, v float64) {
		cells := []*chunk.Cell{{Rows: []any{v}}}
		c, err := chunk.NewBuilder(entity).
			RowIDs([]rowid.RowID{r}).
			Timeline(frame, []timeline.TimeInt{t64}).
			Component(comp, component.Primitive, cells).
			Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, err := s.Insert(c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	myPoint := component.Qualify("MyPoint")
	myColor := component.Qualify("MyColor")

	rParent := alloc.Next()
	insertPoint(parent, rParent, 10, myPoint, 1.0)
	rChild1 := alloc.Next()
	insertPoint(child1, rChild1, 10, myPoint, 42)
	rChild2 := alloc.Next()
	insertPoint(deep, rChild2, 10, myColor, 0x00AA00DD)

	rClear := alloc.Next()
	clearCell := []*chunk.Cell{{Rows: []any{true}}}
	clearChunk, err := chunk.NewBuilder(parent).
		RowIDs([]rowid.RowID{rClear}).
		Timeline(frame, []timeline.TimeInt{10}).
		Component(store.ClearComponent, component.Primitive, clearCell).
		Build()
	if err != nil {
		t.Fatalf("build clear: %v", err)
	}
	if _, err := s.Insert(clearChunk); err != nil {
		t.Fatalf("insert clear: %v", err)
	}

	check := func(entity entitypath.Path, comp component.Identifier, at timeline.TimeInt, wantFound bool) {
		t.Helper()
		results, err := e.LatestAt(entity, LatestAtQuery{Timeline: frame, At: at}, []component.Identifier{comp})
		if err != nil {
			t.Fatalf("LatestAt: %v", err)
		}
		r := results[comp]
		found := r.Found && r.Cell != nil
		if found != wantFound {
			t.Errorf("LatestAt(%v, %v, at=%d) found=%v, want %v", entity, comp, at, found, wantFound)
		}
	}

	check(parent, myPoint, 11, false)
	check(child1, myPoint, 11, false)
	check(deep, myColor, 11, false)

	clearResults, err := e.LatestAt(parent, LatestAtQuery{Timeline: frame, At: 11}, []component.Identifier{store.ClearComponent})
	if err != nil {
		t.Fatalf("LatestAt clear: %v", err)
	}
	cr := clearResults[store.ClearComponent]
	if !cr.Found || cr.Cell == nil || cr.Cell.Rows[0].(bool) != true {
		t.Errorf("clear component itself should not be masked, got %+v", cr)
	}

	rNewer := rClear.Next()
	insertPoint(child1, rNewer, 9, myPoint, 7.0)
	check(child1, myPoint, 9, true)
}

// A newer non-recursive clear on an ancestor must not shadow an older
// recursive clear underneath it: descendant data logged before the
// recursive clear must stay masked at a query time after both clears.
func TestAncestorRecursiveClearSurvivesLaterNonRecursiveClear(t *testing.T) {
	s, e := newFixture(t)
	alloc := rowid.NewAllocator()

	parent := entitypath.New("parent")
	child := entitypath.New("parent", "child")
	myPoint := component.Qualify("MyPoint")

	insertPoint := func(entity entitypath.Path, r rowid.RowID, t64 timeline.TimeInt, v float64) {
		cells := []*chunk.Cell{{Rows: []any{v}}}
		c, err := chunk.NewBuilder(entity).
			RowIDs([]rowid.RowID{r}).
			Timeline(frame, []timeline.TimeInt{t64}).
			Component(myPoint, component.Primitive, cells).
			Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, err := s.Insert(c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insertClear := func(entity entitypath.Path, r rowid.RowID, t64 timeline.TimeInt, recursive bool) {
		cells := []*chunk.Cell{{Rows: []any{recursive}}}
		c, err := chunk.NewBuilder(entity).
			RowIDs([]rowid.RowID{r}).
			Timeline(frame, []timeline.TimeInt{t64}).
			Component(store.ClearComponent, component.Primitive, cells).
			Build()
		if err != nil {
			t.Fatalf("build clear: %v", err)
		}
		if _, err := s.Insert(c); err != nil {
			t.Fatalf("insert clear: %v", err)
		}
	}

	rChild := alloc.Next()
	insertPoint(child, rChild, 3, 1.0)

	rRecursive := alloc.Next()
	insertClear(parent, rRecursive, 5, true)

	rNonRecursive := alloc.Next()
	insertClear(parent, rNonRecursive, 8, false)

	results, err := e.LatestAt(child, LatestAtQuery{Timeline: frame, At: 11}, []component.Identifier{myPoint})
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	r := results[myPoint]
	found := r.Found && r.Cell != nil
	if found {
		t.Errorf("child data logged before the ancestor's recursive clear should stay masked, got %+v", r)
	}
}

// S6 — GC preserves static.
func TestGCPreservesStatic(t *testing.T) {
	s, e := newFixture(t)
	alloc := rowid.NewAllocator()
	entity := entitypath.New("world")

	staticCell := []*chunk.Cell{{Rows: []any{"red"}}}
	staticChunk, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{alloc.Next()}).
		Component(component.Qualify("MyColor"), component.VariableLength, staticCell).
		BuildStatic()
	if err != nil {
		t.Fatalf("build static: %v", err)
	}
	if _, err := s.Insert(staticChunk); err != nil {
		t.Fatalf("insert static: %v", err)
	}

	for i := 0; i < 1000; i++ {
		c := buildPoint(t, entity, []rowid.RowID{alloc.Next()}, []timeline.TimeInt{timeline.TimeInt(i)}, []float64{float64(i)})
		if _, err := s.Insert(c); err != nil {
			t.Fatalf("insert temporal chunk %d: %v", i, err)
		}
	}

	before := s.Stats()
	s.GC(before.TotalHeapBytes, store.GCOptions{PreserveStatic: true})
	after := s.Stats()

	if after.NumStaticRows != before.NumStaticRows {
		t.Errorf("static rows should be preserved: before=%d after=%d", before.NumStaticRows, after.NumStaticRows)
	}

	colorResults, err := e.LatestAt(entity, LatestAtQuery{Timeline: frame, At: timeline.TimeMax}, []component.Identifier{component.Qualify("MyColor")})
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	if cr := colorResults[component.Qualify("MyColor")]; !cr.Found || cr.Cell == nil {
		t.Errorf("static color should survive GC, got %+v", cr)
	}

	pointResults, err := e.LatestAt(entity, LatestAtQuery{Timeline: frame, At: 0}, []component.Identifier{component.Qualify("Point")})
	if err != nil {
		t.Fatalf("LatestAt: %v", err)
	}
	if pr := pointResults[component.Qualify("Point")]; pr.Found && pr.Cell != nil {
		t.Errorf("temporal point at frame 0 should have been evicted, got %+v", pr)
	}
}

func TestRangeQueryFillAndNoFill(t *testing.T) {
	s, e := newFixture(t)
	alloc := rowid.NewAllocator()
	entity := entitypath.New("world")

	point := component.Qualify("Point")
	color := component.Qualify("Color")

	r0 := alloc.Next()
	c0 := buildPoint(t, entity, []rowid.RowID{r0}, []timeline.TimeInt{5}, []float64{1.0})
	if _, err := s.Insert(c0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r1 := alloc.Next()
	colorCell := []*chunk.Cell{{Rows: []any{"blue"}}}
	c1, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{r1}).
		Timeline(frame, []timeline.TimeInt{6}).
		Component(color, component.VariableLength, colorCell).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := s.Insert(c1); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r2 := alloc.Next()
	c2 := buildPoint(t, entity, []rowid.RowID{r2}, []timeline.TimeInt{10}, []float64{2.0})
	if _, err := s.Insert(c2); err != nil {
		t.Fatalf("insert: %v", err)
	}

	iter, err := e.Range(entity, RangeQuery{Timeline: frame, Range: timeline.Range{Lo: 0, Hi: 20}}, []component.Identifier{point, color}, false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	var rows []RangeRow
	iter(func(r RangeRow) bool { rows = append(rows, r); return true })
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1].Cells[point] != nil {
		t.Errorf("row at frame 6 should have no Point cell without latest-at fill, got %+v", rows[1].Cells[point])
	}

	iterFill, err := e.Range(entity, RangeQuery{Timeline: frame, Range: timeline.Range{Lo: 0, Hi: 20}}, []component.Identifier{point, color}, true)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	var filled []RangeRow
	iterFill(func(r RangeRow) bool { filled = append(filled, r); return true })
	if filled[1].Cells[point] == nil || filled[1].Cells[point].Rows[0].(float64) != 1.0 {
		t.Errorf("row at frame 6 should be latest-at filled with Point(1.0), got %+v", filled[1].Cells[point])
	}
}

func TestRangeZipRequiredGatesOptionalFills(t *testing.T) {
	pos := component.Qualify("Point")
	col := component.Qualify("Color")

	// r2 (the optional color row) carries a smaller row-id than r0 despite
	// sharing its timestamp, so under the (time, row-id) ordering it sorts
	// at-or-before the first required row and fills both required rows.
	r0, r1, r2 := rowid.RowID{Lo: 2}, rowid.RowID{Lo: 4}, rowid.RowID{Lo: 1}
	required := []Stream{{
		Component: pos,
		Rows: []StreamRow{
			{Time: 1, RowID: r0, Cell: &chunk.Cell{Rows: []any{1.0}}},
			{Time: 2, RowID: r1, Cell: &chunk.Cell{Rows: []any{2.0}}},
		},
	}}
	optional := []Stream{{
		Component: col,
		Rows: []StreamRow{
			{Time: 1, RowID: r2, Cell: &chunk.Cell{Rows: []any{"red"}}},
		},
	}}

	rows := RangeZip(required, optional)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Cells[col] == nil || rows[0].Cells[col].Rows[0] != "red" {
		t.Errorf("row 0 optional color = %+v, want red", rows[0].Cells[col])
	}
	if rows[1].Cells[col] == nil || rows[1].Cells[col].Rows[0] != "red" {
		t.Errorf("row 1 optional color should carry forward the last seen value, got %+v", rows[1].Cells[col])
	}
}

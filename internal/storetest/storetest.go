// Package storetest provides shared test helpers for wiring up a
// store.Store, its query.Engine, and an optional querycache.Cache. The
// store, query and querycache packages' own tests build their fixtures
// themselves and do not use it.
package storetest

import (
	"testing"

	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/query"
	"rerun-chunkstore/internal/querycache"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/store"
	"rerun-chunkstore/internal/timeline"
)

// Fixture bundles a store, its query engine, and a cache wired to observe
// the store's event bus.
type Fixture struct {
	Store *store.Store
	Query *query.Engine
	Cache *querycache.Cache
}

// New wires a fresh, empty Fixture identified by id.
func New(id string) Fixture {
	s := store.New(id, nil)
	qe := query.NewEngine(s)
	qc := querycache.New(qe, nil)
	s.Subscribe(qc.HandleStoreEvent)
	return Fixture{Store: s, Query: qe, Cache: qc}
}

// MustInsert inserts c and fails the test on error.
func (f Fixture) MustInsert(t *testing.T, c *chunk.Chunk) []store.Event {
	t.Helper()
	events, err := f.Store.Insert(c)
	if err != nil {
		t.Fatalf("insert chunk %s: %v", c.ID(), err)
	}
	return events
}

// OneRowChunk builds a single-row chunk for entity at row id r, with one
// cell of comp logged at time `at` on tl. A convenience for tests that
// only care about a single (entity, timeline, component) triple.
func OneRowChunk(t *testing.T, entity entitypath.Path, r rowid.RowID, tl timeline.Timeline, at timeline.TimeInt, comp component.Identifier, dtype component.Datatype, value any) *chunk.Chunk {
	t.Helper()
	c, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{r}).
		Timeline(tl, []timeline.TimeInt{at}).
		Component(comp, dtype, []*chunk.Cell{{Rows: []any{value}}}).
		Build()
	if err != nil {
		t.Fatalf("build chunk: %v", err)
	}
	return c
}

// StaticChunk builds a single-row static chunk for entity carrying one
// cell of comp at row id r.
func StaticChunk(t *testing.T, entity entitypath.Path, r rowid.RowID, comp component.Identifier, dtype component.Datatype, value any) *chunk.Chunk {
	t.Helper()
	c, err := chunk.NewBuilder(entity).
		RowIDs([]rowid.RowID{r}).
		Component(comp, dtype, []*chunk.Cell{{Rows: []any{value}}}).
		BuildStatic()
	if err != nil {
		t.Fatalf("build static chunk: %v", err)
	}
	return c
}

package store

import (
	"log/slog"
	"sync"

	"rerun-chunkstore/internal/bookkeeping"
	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/logging"
	"rerun-chunkstore/internal/rowid"
	"rerun-chunkstore/internal/timeline"
)

// ClearComponent is the well-known component identifier that marks a row
// as a Clear archetype. Its cell holds a single bool: is_recursive.
const ClearComponent component.Identifier = "rerun.components.ClearIsRecursive"

func chunkIDSliceSize(ids []chunk.ID) int { return len(ids) * 16 }
func timeIntSize(timeline.TimeInt) int    { return 8 }
func rowIDSize(rowid.RowID) int           { return 16 }
func clearKeySize(ClearKey) int           { return 24 }
func boolSize(bool) int                   { return 1 }

func timeIntLess(a, b timeline.TimeInt) bool { return a < b }
func rowIDLess(a, b rowid.RowID) bool        { return a.Less(b) }

// ClearKey orders pending clears by (time, row-id), the same tie-break
// rule every other ordering in this store uses.
type ClearKey struct {
	Time timeline.TimeInt
	Row  rowid.RowID
}

// Less reports lexicographic order on (Time, Row).
func (k ClearKey) Less(other ClearKey) bool {
	if k.Time != other.Time {
		return k.Time < other.Time
	}
	return k.Row.Less(other.Row)
}

func clearKeyLess(a, b ClearKey) bool { return a.Less(b) }

type timelineComponentIndex = bookkeeping.Map[timeline.TimeInt, []chunk.ID]
type staticComponentIndex = bookkeeping.Map[rowid.RowID, []chunk.ID]
type clearIndex = bookkeeping.Map[ClearKey, bool]

type entityState struct {
	path entitypath.Path

	byTimelineComponent map[timeline.Timeline]map[component.Identifier]*timelineComponentIndex
	byStaticComponent   map[component.Identifier]*staticComponentIndex
	minTime             map[timeline.Timeline]timeline.TimeInt
	clearsByTimeline    map[timeline.Timeline]*clearIndex
	staticClears        *clearIndex // keyed by ClearKey with Time always timeline.TimeMin
}

func newEntityState(path entitypath.Path) *entityState {
	return &entityState{
		path:                path,
		byTimelineComponent: make(map[timeline.Timeline]map[component.Identifier]*timelineComponentIndex),
		byStaticComponent:   make(map[component.Identifier]*staticComponentIndex),
		minTime:             make(map[timeline.Timeline]timeline.TimeInt),
		clearsByTimeline:    make(map[timeline.Timeline]*clearIndex),
		staticClears:        bookkeeping.New(clearKeyLess, clearKeySize, boolSize),
	}
}

// Stats reports the store's aggregate counters.
type Stats struct {
	NumChunks      int
	NumRows        int
	NumStaticRows  int
	NumEvents      uint64
	TotalHeapBytes int
	Generation     uint64
}

// Store holds chunks for one logical recording (or blueprint) and
// maintains the per-entity indices queries are served from. The zero
// value is not valid; use New.
type Store struct {
	mu sync.RWMutex

	id       string
	logger   *slog.Logger
	levels   *logging.ComponentFilterHandler
	registry *component.Registry

	chunks   map[chunk.ID]*chunk.Chunk
	entities map[string]*entityState // keyed by entitypath.Path.Format()

	// byRowID orders every chunk in the store (static or temporal) by its
	// first row-id, independent of entity or timeline. GC walks this
	// index ascending: row-id order, not timeline order, is the only
	// ordering authoritative enough to make eviction deterministic
	// across entities that don't share a timeline (§4.3.5).
	byRowID *bookkeeping.Map[rowid.RowID, []chunk.ID]

	numRows        int
	numStaticRows  int
	numEvents      uint64
	generation     uint64
	totalHeapBytes int

	subscribersMu sync.Mutex
	subscribers   []Subscriber
}

// New returns an empty Store identified by id (an opaque string the host
// assigns, typically combining an application id, recording id, and
// store kind — see the recording package).
func New(id string, logger *slog.Logger) *Store {
	scoped, levels := logging.NewFiltered(logger, slog.LevelInfo)
	return &Store{
		id:       id,
		logger:   scoped.With("component", "store", "store_id", id),
		levels:   levels,
		registry: component.NewRegistry(),
		chunks:   make(map[chunk.ID]*chunk.Chunk),
		entities: make(map[string]*entityState),
		byRowID:  bookkeeping.New(rowIDLess, rowIDSize, chunkIDSliceSize),
	}
}

// ID returns the store's identifier.
func (s *Store) ID() string { return s.id }

// SetLogLevel adjusts the minimum level at which log records tagged with
// the given component (e.g. "store", "querycache") are emitted by this
// store's logger. If this store's logger shares a root with a recording's
// other stores or cache (see recording.New), the change applies to all of
// them.
func (s *Store) SetLogLevel(component string, level slog.Level) {
	s.levels.SetLevel(component, level)
}

// Subscribe registers sub to receive every future batch of events this
// store produces, in order. Subscribers must not call back into the
// Store while processing.
func (s *Store) Subscribe(sub Subscriber) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

func (s *Store) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	s.subscribersMu.Lock()
	subs := append([]Subscriber(nil), s.subscribers...)
	s.subscribersMu.Unlock()
	for _, sub := range subs {
		sub(events)
	}
}

func (s *Store) entityKey(path entitypath.Path) string { return path.Format() }

func (s *Store) entityFor(path entitypath.Path) *entityState {
	key := s.entityKey(path)
	st, ok := s.entities[key]
	if !ok {
		st = newEntityState(path)
		s.entities[key] = st
	}
	return st
}

func validateRowIDsNonDecreasing(c *chunk.Chunk) bool {
	n := c.NumRows()
	var prev rowid.RowID
	first := true
	ok := true
	c.RowIDs(func(_ int, id rowid.RowID) bool {
		if !first && id.Less(prev) {
			ok = false
			return false
		}
		prev = id
		first = false
		return true
	})
	_ = n
	return ok
}

// Insert registers c in the store. It returns the list of StoreEvents
// produced (normally one Addition; zero if c's id was already present).
// On a precondition failure no mutation occurs.
func (s *Store) Insert(c *chunk.Chunk) ([]Event, error) {
	if !validateRowIDsNonDecreasing(c) {
		return nil, ErrUnsortedChunk
	}
	for _, tl := range c.Timelines() {
		if !c.IsSortedBy(tl) {
			return nil, ErrUnsortedChunk
		}
	}

	s.mu.Lock()

	if _, exists := s.chunks[c.ID()]; exists {
		s.mu.Unlock()
		return nil, nil
	}

	for _, id := range c.Components() {
		dtype, _ := c.Datatype(id)
		if existing, ok := s.registry.Datatype(id); ok && existing != dtype {
			s.mu.Unlock()
			return nil, &TypeMismatchError{Component: id, Expected: existing, Got: dtype}
		}
	}
	for _, id := range c.Components() {
		dtype, _ := c.Datatype(id)
		s.registry.Intern(id, dtype)
	}

	s.chunks[c.ID()] = c
	st := s.entityFor(c.Entity())

	for _, tl := range c.Timelines() {
		rng, _ := c.TimeRange(tl)
		for _, id := range c.Components() {
			if !c.HasComponent(id) {
				continue
			}
			perComponent, ok := st.byTimelineComponent[tl]
			if !ok {
				perComponent = make(map[component.Identifier]*timelineComponentIndex)
				st.byTimelineComponent[tl] = perComponent
			}
			idx, ok := perComponent[id]
			if !ok {
				idx = bookkeeping.New(timeIntLess, timeIntSize, chunkIDSliceSize)
				perComponent[id] = idx
			}
			idx.MutateEntry(rng.Lo, nil, func(ids *[]chunk.ID) { *ids = append(*ids, c.ID()) })
		}

		cur, had := st.minTime[tl]
		if !had || rng.Lo < cur {
			st.minTime[tl] = rng.Lo
		}
	}

	if c.IsStatic() {
		firstRow := c.RowID(0)
		for _, id := range c.Components() {
			idx, ok := st.byStaticComponent[id]
			if !ok {
				idx = bookkeeping.New(rowIDLess, rowIDSize, chunkIDSliceSize)
				st.byStaticComponent[id] = idx
			}
			idx.MutateEntry(firstRow, nil, func(ids *[]chunk.ID) { *ids = append(*ids, c.ID()) })
		}
	}

	s.registerPendingClears(st, c)

	s.byRowID.MutateEntry(c.RowID(0), nil, func(ids *[]chunk.ID) { *ids = append(*ids, c.ID()) })

	s.numRows += c.NumRows()
	if c.IsStatic() {
		s.numStaticRows += c.NumRows()
	}
	s.totalHeapBytes += c.ByteSize()
	s.numEvents++
	s.generation++
	event := Event{
		StoreID:         s.id,
		StoreGeneration: s.generation,
		EventID:         s.numEvents,
		Diff:            Diff{Kind: Addition, Chunk: c},
	}

	s.mu.Unlock()

	s.publish([]Event{event})
	return []Event{event}, nil
}

func (s *Store) registerPendingClears(st *entityState, c *chunk.Chunk) {
	if !c.HasComponent(ClearComponent) {
		return
	}
	for row := 0; row < c.NumRows(); row++ {
		cell := c.Cell(ClearComponent, row)
		if cell == nil {
			continue
		}
		recursive := false
		if len(cell.Rows) > 0 {
			if b, ok := cell.Rows[0].(bool); ok {
				recursive = b
			}
		}
		rid := c.RowID(row)
		if c.IsStatic() {
			st.staticClears.Insert(ClearKey{Time: timeline.TimeMin, Row: rid}, recursive)
			continue
		}
		for _, tl := range c.Timelines() {
			t, ok := c.TimeAt(tl, row)
			if !ok {
				continue
			}
			idx, ok := st.clearsByTimeline[tl]
			if !ok {
				idx = bookkeeping.New(clearKeyLess, clearKeySize, boolSize)
				st.clearsByTimeline[tl] = idx
			}
			idx.Insert(ClearKey{Time: t, Row: rid}, recursive)
		}
	}
}

// LatestAtRelevantChunks returns every chunk that could contribute to a
// latest-at query at time `at` on tl, for entity and component. Selection
// rule: all static chunks for component, plus all temporal chunks whose
// min time on tl is <= at. Empty (not an error) if entity/tl/component is
// unknown.
func (s *Store) LatestAtRelevantChunks(entity entitypath.Path, tl timeline.Timeline, comp component.Identifier, at timeline.TimeInt) []*chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.entities[s.entityKey(entity)]
	if !ok {
		return nil
	}

	var out []*chunk.Chunk
	if idx, ok := st.byStaticComponent[comp]; ok {
		idx.Iter(func(_ rowid.RowID, ids []chunk.ID) bool {
			for _, id := range ids {
				out = append(out, s.chunks[id])
			}
			return true
		})
	}
	if perComponent, ok := st.byTimelineComponent[tl]; ok {
		if idx, ok := perComponent[comp]; ok {
			idx.Iter(func(minTime timeline.TimeInt, ids []chunk.ID) bool {
				if minTime > at {
					return false
				}
				for _, id := range ids {
					out = append(out, s.chunks[id])
				}
				return true
			})
		}
	}
	return out
}

// RangeRelevantChunks returns every chunk whose [min,max] time on tl
// intersects [lo,hi], plus all static chunks for component.
func (s *Store) RangeRelevantChunks(entity entitypath.Path, tl timeline.Timeline, comp component.Identifier, lo, hi timeline.TimeInt) []*chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.entities[s.entityKey(entity)]
	if !ok {
		return nil
	}

	var out []*chunk.Chunk
	if idx, ok := st.byStaticComponent[comp]; ok {
		idx.Iter(func(_ rowid.RowID, ids []chunk.ID) bool {
			for _, id := range ids {
				out = append(out, s.chunks[id])
			}
			return true
		})
	}
	if perComponent, ok := st.byTimelineComponent[tl]; ok {
		if idx, ok := perComponent[comp]; ok {
			idx.Iter(func(_ timeline.TimeInt, ids []chunk.ID) bool {
				for _, id := range ids {
					c := s.chunks[id]
					rng, ok := c.TimeRange(tl)
					if ok && rng.Lo <= hi && rng.Hi >= lo {
						out = append(out, c)
					}
				}
				return true
			})
		}
	}
	return out
}

// EntityMinTime returns the minimum observed time for (entity, tl), or
// false if no non-static chunk has touched it yet.
func (s *Store) EntityMinTime(entity entitypath.Path, tl timeline.Timeline) (timeline.TimeInt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[s.entityKey(entity)]
	if !ok {
		return 0, false
	}
	t, ok := st.minTime[tl]
	return t, ok
}

// AllEntities returns every entity path the store has seen chunks for.
func (s *Store) AllEntities() []entitypath.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entitypath.Path, 0, len(s.entities))
	for _, st := range s.entities {
		out = append(out, st.path)
	}
	return out
}

// AllTimelines returns every timeline any entity carries a column for.
func (s *Store) AllTimelines() []timeline.Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[timeline.Timeline]bool)
	for _, st := range s.entities {
		for tl := range st.byTimelineComponent {
			seen[tl] = true
		}
	}
	out := make([]timeline.Timeline, 0, len(seen))
	for tl := range seen {
		out = append(out, tl)
	}
	return out
}

// Stats returns a snapshot of the store's aggregate counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		NumChunks:      len(s.chunks),
		NumRows:        s.numRows,
		NumStaticRows:  s.numStaticRows,
		NumEvents:      s.numEvents,
		TotalHeapBytes: s.totalHeapBytes,
		Generation:     s.generation,
	}
}

// StrictestClear reports the strictest clear affecting entity on tl at or
// before upto: walking from the root to entity, every strict ancestor's
// recursive clears are considered, and entity's own clears (recursive or
// not) are considered. The greatest qualifying ClearKey <= upto wins.
// Static clears (which apply "at all times") are also considered,
// compared as if their time were timeline.TimeMin.
func (s *Store) StrictestClear(entity entitypath.Path, tl timeline.Timeline, upto ClearKey) (ClearKey, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best ClearKey
	var bestRecursive bool
	found := false

	consider := func(key ClearKey, recursive bool) {
		if key.Less(best) == false && found && !best.Less(key) {
			return // key <= best, not strictly better
		}
		if !found || best.Less(key) {
			best = key
			bestRecursive = recursive
			found = true
		}
	}

	entity.IterAncestorsRootFirst(func(ancestor entitypath.Path) bool {
		st, ok := s.entities[s.entityKey(ancestor)]
		if !ok {
			return true
		}
		isEntityItself := ancestor.Equal(entity)

		st.staticClears.Iter(func(key ClearKey, recursive bool) bool {
			if key.Time > upto.Time || (key.Time == upto.Time && upto.Row.Less(key.Row)) {
				return true
			}
			if recursive || isEntityItself {
				consider(key, recursive)
			}
			return true
		})

		if idx, ok := st.clearsByTimeline[tl]; ok {
			if isEntityItself {
				// The entity's own clears count whether recursive or not,
				// so only the single nearest one <= upto can ever win.
				if key, recursive, ok := idx.LatestAt(upto); ok {
					consider(key, recursive)
				}
			} else {
				// An ancestor's clear only counts if recursive. A newer
				// non-recursive clear must not shadow an older recursive
				// one underneath it, so walk backward until one qualifies.
				idx.DescendLessOrEqual(upto, func(key ClearKey, recursive bool) bool {
					if !recursive {
						return true
					}
					consider(key, recursive)
					return false
				})
			}
		}
		return true
	})

	return best, bestRecursive, found
}

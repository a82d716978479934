// Package querycache memoises query.Engine.LatestAt results so that a UI
// polling every frame pays for decoding once per distinct (data_time, cell)
// pair, not once per poll (§4.5). It subscribes to a store.Store's event
// bus and defers invalidation to the next query rather than processing it
// eagerly, amortising mutation overhead across a frame's worth of reads.
package querycache

import (
	"log/slog"
	"sync"

	"rerun-chunkstore/internal/bookkeeping"
	"rerun-chunkstore/internal/callgroup"
	"rerun-chunkstore/internal/chunk"
	"rerun-chunkstore/internal/component"
	"rerun-chunkstore/internal/entitypath"
	"rerun-chunkstore/internal/logging"
	"rerun-chunkstore/internal/notify"
	"rerun-chunkstore/internal/query"
	"rerun-chunkstore/internal/store"
	"rerun-chunkstore/internal/timeline"
)

func timeIntSize(timeline.TimeInt) int { return 8 }
func bucketPtrSize(*Bucket) int        { return 0 } // billed separately via refcounting, see Bucket
func timeIntLess(a, b timeline.TimeInt) bool { return a < b }

// Bucket is the cache's shared, reference-counted unit of storage: a raw
// cell plus a lazily computed decoded representation, so two readers that
// land on the same bucket share decode work (§4.5.1's "promise").
type Bucket struct {
	Static   bool
	DataTime timeline.TimeInt
	RowID    interface{ String() string }

	cell *chunk.Cell

	refs     int
	byteSize int

	decodeOnce sync.Once
	decoded    any
	decodeErr  error
}

// Cell returns the raw, not-yet-decoded payload this bucket caches. Nil
// means the component was absent or cleared at this bucket's point.
func (b *Bucket) Cell() *chunk.Cell { return b.cell }

// Decode runs decode at most once for this bucket's lifetime and caches
// its result (or error) for every subsequent caller, whether concurrent or
// sequential.
func (b *Bucket) Decode(decode func(*chunk.Cell) (any, error)) (any, error) {
	b.decodeOnce.Do(func() {
		b.decoded, b.decodeErr = decode(b.cell)
	})
	return b.decoded, b.decodeErr
}

func newBucket(r query.LatestAtResult) *Bucket {
	return &Bucket{
		Static:   r.Static,
		DataTime: r.DataTime,
		cell:     r.Cell,
		byteSize: cellByteSize(r.Cell),
	}
}

func cellByteSize(c *chunk.Cell) int {
	if c == nil {
		return 0
	}
	return 32 + 8*len(c.Rows) // a cache-side estimate; cheap and stable, not the chunk's own accounting
}

// keyInternal is the comparable form of (entity, timeline, component) used
// as the top-level map key; entitypath.Path holds a slice and so cannot be
// a map key directly.
type keyInternal struct {
	entity    string
	timeline  timeline.Timeline
	component component.Identifier
}

// perKeyCache is the per-(entity, timeline, component) cache state:
// §4.5.1's per_query_time / per_data_time maps plus the static slot, and
// §4.5.2's pending-invalidation bookkeeping. All access is serialized by
// its own mutex, never the top-level Cache.mu (§4.5.3).
type perKeyCache struct {
	mu sync.Mutex

	perQueryTime *bookkeeping.Map[timeline.TimeInt, *Bucket]
	perDataTime  *bookkeeping.Map[timeline.TimeInt, *Bucket]
	static       *Bucket

	pendingTimes     []timeline.TimeInt
	pendingTimeless  bool
	heapBytes        int
}

func newPerKeyCache() *perKeyCache {
	return &perKeyCache{
		perQueryTime: bookkeeping.New(timeIntLess, timeIntSize, bucketPtrSize),
		perDataTime:  bookkeeping.New(timeIntLess, timeIntSize, bucketPtrSize),
	}
}

// ref increments b's refcount and bills its bytes into this key's running
// total the moment it transitions from unreferenced to referenced, so a
// bucket shared between per_query_time and per_data_time is billed once
// (§4.5.4's "identified by reference identity").
func (pk *perKeyCache) ref(b *Bucket) {
	if b.refs == 0 {
		pk.heapBytes += b.byteSize
	}
	b.refs++
}

func (pk *perKeyCache) unref(b *Bucket) {
	b.refs--
	if b.refs == 0 {
		pk.heapBytes -= b.byteSize
	}
}

// markTimeful records that a mutation touched t, to be processed by the
// next call that runs handlePendingInvalidationLocked.
func (pk *perKeyCache) markTimeful(t timeline.TimeInt) {
	pk.mu.Lock()
	pk.pendingTimes = append(pk.pendingTimes, t)
	pk.mu.Unlock()
}

func (pk *perKeyCache) markTimeless() {
	pk.mu.Lock()
	pk.pendingTimeless = true
	pk.mu.Unlock()
}

// handlePendingInvalidationLocked applies §4.5.2's rule. Caller must hold
// pk.mu.
func (pk *perKeyCache) handlePendingInvalidationLocked() {
	if pk.pendingTimeless {
		if pk.static != nil {
			pk.unref(pk.static)
			pk.static = nil
		}
		pk.pendingTimeless = false
	}

	if len(pk.pendingTimes) == 0 {
		return
	}

	// A temporal write can outrank a cached static bucket too: query.go
	// ranks a real data time above the static TimeMin sentinel, so once a
	// pending temporal invalidation lands, the previously-served static
	// answer is no longer trustworthy for queries at or after it. Drop it
	// along with the query/data-time entries below; the next LatestAt call
	// re-resolves static vs. temporal from the engine.
	if pk.static != nil {
		pk.unref(pk.static)
		pk.static = nil
	}

	minT := pk.pendingTimes[0]
	for _, t := range pk.pendingTimes[1:] {
		if t < minT {
			minT = t
		}
	}

	var dropQuery []timeline.TimeInt
	pk.perQueryTime.AscendFrom(minT, func(t timeline.TimeInt, _ *Bucket) bool {
		dropQuery = append(dropQuery, t)
		return true
	})
	for _, t := range dropQuery {
		if b, ok := pk.perQueryTime.Get(t); ok {
			pk.perQueryTime.Remove(t)
			pk.unref(b)
		}
	}

	for _, t := range pk.pendingTimes {
		if b, ok := pk.perDataTime.Get(t); ok {
			pk.perDataTime.Remove(t)
			pk.unref(b)
		}
	}

	pk.pendingTimes = pk.pendingTimes[:0]
}

// truncateBeforeLocked drops every per_query_time/per_data_time entry strictly
// before t (§4.5.4). Caller must hold pk.mu.
func (pk *perKeyCache) truncateBeforeLocked(t timeline.TimeInt) {
	var dropQuery []timeline.TimeInt
	pk.perQueryTime.Iter(func(qt timeline.TimeInt, _ *Bucket) bool {
		if qt < t {
			dropQuery = append(dropQuery, qt)
		}
		return true
	})
	for _, qt := range dropQuery {
		if b, ok := pk.perQueryTime.Get(qt); ok {
			pk.perQueryTime.Remove(qt)
			pk.unref(b)
		}
	}

	var dropData []timeline.TimeInt
	pk.perDataTime.Iter(func(dt timeline.TimeInt, _ *Bucket) bool {
		if dt < t {
			dropData = append(dropData, dt)
		}
		return true
	})
	for _, dt := range dropData {
		if b, ok := pk.perDataTime.Get(dt); ok {
			pk.perDataTime.Remove(dt)
			pk.unref(b)
		}
	}
}

// Cache memoises latest-at lookups against a query.Engine. The zero value
// is not valid; use New.
type Cache struct {
	mu   sync.Mutex // coarse: guards only `keys`'s get-or-insert (§4.5.3)
	keys map[keyInternal]*perKeyCache

	engine *query.Engine
	group  callgroup.Group[keyInternal]
	signal *notify.Signal
	logger *slog.Logger
	levels *logging.ComponentFilterHandler
}

// New returns a Cache serving reads from engine. The cache subscribes to
// no store by itself; wire it with HandleStoreEvent via store.Subscribe.
func New(engine *query.Engine, logger *slog.Logger) *Cache {
	scoped, levels := logging.NewFiltered(logger, slog.LevelInfo)
	return &Cache{
		keys:   make(map[keyInternal]*perKeyCache),
		engine: engine,
		signal: notify.NewSignal(),
		logger: scoped.With("component", "querycache"),
		levels: levels,
	}
}

// SetLogLevel adjusts the minimum level at which log records tagged with
// component are emitted by this cache's logger (and, if it shares a root
// with a store or recording — see recording.New — by theirs too).
func (c *Cache) SetLogLevel(component string, level slog.Level) {
	c.levels.SetLevel(component, level)
}

// InvalidationSignal returns a channel that closes the next time a pending
// invalidation is recorded, letting a host avoid busy-polling for fresh
// data after a mutation (mirrors notify.Signal's contract elsewhere in
// this module).
func (c *Cache) InvalidationSignal() <-chan struct{} { return c.signal.C() }

func dedupeKeyFor(entity entitypath.Path, tl timeline.Timeline, comp component.Identifier) keyInternal {
	return keyInternal{entity: entity.Format(), timeline: tl, component: comp}
}

func (c *Cache) perKey(key keyInternal) *perKeyCache {
	c.mu.Lock()
	pk, ok := c.keys[key]
	if !ok {
		pk = newPerKeyCache()
		c.keys[key] = pk
	}
	c.mu.Unlock()
	return pk
}

// LatestAt resolves entity/comp at q, consulting the cache before falling
// back to a real query.Engine.LatestAt call. Concurrent callers that miss
// on the exact same key are deduplicated via callgroup, so a poll storm
// against one freshly-invalidated key computes the underlying query once.
func (c *Cache) LatestAt(entity entitypath.Path, q query.LatestAtQuery, comp component.Identifier) (*Bucket, error) {
	key := dedupeKeyFor(entity, q.Timeline, comp)
	pk := c.perKey(key)

	pk.mu.Lock()
	pk.handlePendingInvalidationLocked()

	if pk.static != nil {
		b := pk.static
		pk.mu.Unlock()
		return b, nil
	}

	if b, ok := pk.perQueryTime.Get(q.At); ok {
		pk.mu.Unlock()
		return b, nil
	}
	pk.mu.Unlock()

	// Full miss (or data-time hit, resolved below): run the real query,
	// deduplicating concurrent identical misses by key. Note this
	// collapses misses across distinct `at` values for the same key onto
	// one in-flight call, which is safe because the underlying store
	// query is idempotent and cheap relative to decode; it only means two
	// callers racing on different `at` values momentarily share one
	// store round-trip instead of issuing two.
	var result query.LatestAtResult
	errCh := c.group.DoChan(key, func() error {
		results, err := c.engine.LatestAt(entity, q, []component.Identifier{comp})
		if err != nil {
			return err
		}
		result = results[comp]
		return nil
	})
	if err := <-errCh; err != nil {
		return nil, err
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()

	if result.Static {
		if pk.static == nil {
			pk.static = newBucket(result)
			pk.ref(pk.static)
		}
		pk.ref(pk.static) // the per_query_time[at] slot also aliases it
		pk.perQueryTime.Insert(q.At, pk.static)
		return pk.static, nil
	}

	if b, ok := pk.perDataTime.Get(result.DataTime); ok {
		pk.ref(b)
		pk.perQueryTime.Insert(q.At, b)
		// §4.5.1(2): also alias per_query_time[data_time], so a later query
		// landing exactly on data_time is a query-time hit too.
		if _, already := pk.perQueryTime.Get(result.DataTime); !already {
			pk.ref(b)
			pk.perQueryTime.Insert(result.DataTime, b)
		}
		return b, nil
	}

	b := newBucket(result)
	pk.ref(b) // per_data_time slot
	pk.perDataTime.Insert(result.DataTime, b)
	pk.ref(b) // per_query_time slot
	pk.perQueryTime.Insert(q.At, b)
	return b, nil
}

// HandleStoreEvent is a store.Subscriber: it records pending invalidations
// for every (entity, timeline, component) combination the batch's chunks
// could affect, per §4.5.2, then wakes anyone waiting on InvalidationSignal.
// It holds each affected key's lock only long enough to append a pending
// mark — actual eviction happens lazily, inside the next LatestAt call for
// that key.
func (c *Cache) HandleStoreEvent(events []store.Event) {
	touched := false
	for _, ev := range events {
		ch := ev.Diff.Chunk
		if ch == nil {
			continue
		}
		entity := ch.Entity()

		if ch.IsStatic() {
			for _, comp := range ch.Components() {
				key := keyInternal{entity: entity.Format(), component: comp}
				c.markTimelessForAllTimelines(key)
				touched = true
			}
			continue
		}

		for _, tl := range ch.Timelines() {
			rng, ok := ch.TimeRange(tl)
			if !ok {
				continue
			}
			for _, comp := range ch.Components() {
				if !ch.HasComponent(comp) {
					continue
				}
				key := keyInternal{entity: entity.Format(), timeline: tl, component: comp}
				pk := c.perKey(key)
				pk.markTimeful(rng.Lo)
				if rng.Hi != rng.Lo {
					pk.markTimeful(rng.Hi)
				}
				touched = true
			}
		}
	}
	if touched {
		c.signal.Notify()
	}
}

// markTimelessForAllTimelines marks the timeless (static) invalidation on
// every per-key cache entry sharing key's entity/component regardless of
// timeline, since a static write can shadow or be shadowed by any
// timeline's latest-at query.
func (c *Cache) markTimelessForAllTimelines(key keyInternal) {
	c.mu.Lock()
	var matches []*perKeyCache
	for k, pk := range c.keys {
		if k.entity == key.entity && k.component == key.component {
			matches = append(matches, pk)
		}
	}
	c.mu.Unlock()
	for _, pk := range matches {
		pk.markTimeless()
	}
	// Also seed a (zero-value timeline) key's own cache so a future first
	// query on a brand-new timeline still observes the pending mark.
	pk := c.perKey(key)
	pk.markTimeless()
}

// TruncateBefore drops every cached bucket for times strictly before t,
// across every key (§4.5.4). The cache runs no background goroutine of
// its own; a host calls this periodically (e.g. alongside store.GC).
func (c *Cache) TruncateBefore(t timeline.TimeInt) {
	c.mu.Lock()
	all := make([]*perKeyCache, 0, len(c.keys))
	for _, pk := range c.keys {
		all = append(all, pk)
	}
	c.mu.Unlock()

	for _, pk := range all {
		pk.mu.Lock()
		pk.truncateBeforeLocked(t)
		pk.mu.Unlock()
	}
}

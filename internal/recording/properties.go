// Package recording implements the recording container (§3, §4.8): a
// named pair of data/blueprint stores addressable by a StoreID, plus the
// per-entity property map whose merge semantics distinguish system-set
// ("auto") values from user edits.
package recording

import "rerun-chunkstore/internal/entitypath"

// PropertySlot holds a value of type T alongside whether it was set by
// the system (Auto) or by the user (UserEdited). Auto updates never
// clobber a UserEdited value; see PropertySlot.Or and
// EntityProperties.Merge.
type PropertySlot[T comparable] struct {
	Value      T
	UserEdited bool
}

// Auto returns a system-computed slot.
func Auto[T comparable](v T) PropertySlot[T] { return PropertySlot[T]{Value: v} }

// UserEditedValue returns a user-set slot.
func UserEditedValue[T comparable](v T) PropertySlot[T] {
	return PropertySlot[T]{Value: v, UserEdited: true}
}

// Or returns other unless s is UserEdited and other is Auto, in which
// case it returns s: an auto value never replaces a user edit, and any
// other combination takes other.
func (s PropertySlot[T]) Or(other PropertySlot[T]) PropertySlot[T] {
	if s.UserEdited && !other.UserEdited {
		return s
	}
	return other
}

// HasEdits reports whether s differs from other in a way attributable to
// a user edit: either side is UserEdited and the values differ.
func (s PropertySlot[T]) HasEdits(other PropertySlot[T]) bool {
	return s.Value != other.Value && (s.UserEdited || other.UserEdited)
}

// ColorMapper selects how scalar/depth data is mapped to color.
type ColorMapper int

const (
	ColorMapperTurbo ColorMapper = iota
	ColorMapperGrayscale
	ColorMapperInferno
	ColorMapperMagma
	ColorMapperPlasma
	ColorMapperViridis
)

// AggregationPolicy selects how a time-series view aggregates samples
// that land in the same pixel column.
type AggregationPolicy int

const (
	AggregationOff AggregationPolicy = iota
	AggregationAverage
	AggregationMin
	AggregationMax
	AggregationMinMax
	AggregationSum
)

// EntityProperties are the opaque, per-entity UI/behavior knobs the spec
// (§4.8) names as examples: visibility, interactivity, color mapping,
// depth-from-world scale, aggregation policy. The core only cares about
// the slot-level merge/overwrite/has-edits semantics; the field set is
// otherwise inert data carried through the store unchanged.
type EntityProperties struct {
	Visible                PropertySlot[bool]
	Interactive            PropertySlot[bool]
	ColorMapper            PropertySlot[ColorMapper]
	DepthFromWorldScale    PropertySlot[float64]
	BackprojectRadiusScale PropertySlot[float64]
	TimeSeriesAggregator   PropertySlot[AggregationPolicy]
}

// DefaultEntityProperties returns the properties a freshly-seen entity
// has before anything sets them explicitly.
func DefaultEntityProperties() EntityProperties {
	return EntityProperties{
		Visible:                Auto(true),
		Interactive:            Auto(true),
		ColorMapper:            Auto(ColorMapperTurbo),
		DepthFromWorldScale:    Auto(1.0),
		BackprojectRadiusScale: Auto(1.0),
		TimeSeriesAggregator:   Auto(AggregationOff),
	}
}

// Merge combines self with other, preferring other's values unless they
// are Auto and self's are UserEdited — the "combine an up-to-date
// auto-layer with a possibly-stale user layer loaded from storage" rule
// the source's EntityProperty::merge_with implements.
func (p EntityProperties) Merge(other EntityProperties) EntityProperties {
	return EntityProperties{
		Visible:                p.Visible.Or(other.Visible),
		Interactive:            p.Interactive.Or(other.Interactive),
		ColorMapper:            p.ColorMapper.Or(other.ColorMapper),
		DepthFromWorldScale:    p.DepthFromWorldScale.Or(other.DepthFromWorldScale),
		BackprojectRadiusScale: p.BackprojectRadiusScale.Or(other.BackprojectRadiusScale),
		TimeSeriesAggregator:   p.TimeSeriesAggregator.Or(other.TimeSeriesAggregator),
	}
}

// HasEdits reports whether p differs from other in any user-attributable
// way.
func (p EntityProperties) HasEdits(other EntityProperties) bool {
	return p.Visible.HasEdits(other.Visible) ||
		p.Interactive.HasEdits(other.Interactive) ||
		p.ColorMapper.HasEdits(other.ColorMapper) ||
		p.DepthFromWorldScale.HasEdits(other.DepthFromWorldScale) ||
		p.BackprojectRadiusScale.HasEdits(other.BackprojectRadiusScale) ||
		p.TimeSeriesAggregator.HasEdits(other.TimeSeriesAggregator)
}

func (p EntityProperties) isDefault() bool {
	return p == DefaultEntityProperties()
}

// PropertyMap is the (entity path -> EntityProperties) mapping of §3 and
// §4.8. Build it with NewPropertyMap: Get, GetOpt, Len and HasEdits also
// accept a nil or zero PropertyMap, but Update and Overwrite store into
// the map NewPropertyMap allocates.
type PropertyMap struct {
	props map[string]EntityProperties
}

// NewPropertyMap returns an empty PropertyMap.
func NewPropertyMap() *PropertyMap {
	return &PropertyMap{props: make(map[string]EntityProperties)}
}

// Get returns the properties recorded for entity, or the defaults if
// none have ever been set.
func (m *PropertyMap) Get(entity entitypath.Path) EntityProperties {
	if m == nil {
		return DefaultEntityProperties()
	}
	if p, ok := m.props[entity.Format()]; ok {
		return p
	}
	return DefaultEntityProperties()
}

// GetOpt returns the properties recorded for entity and true, or the
// zero value and false if nothing has ever been set.
func (m *PropertyMap) GetOpt(entity entitypath.Path) (EntityProperties, bool) {
	if m == nil {
		return EntityProperties{}, false
	}
	p, ok := m.props[entity.Format()]
	return p, ok
}

// Update merges prop into whatever is already recorded for entity,
// preserving user edits over auto values (§4.8 Update). Passing the
// literal defaults resets the entity outright (removes the entry, to
// save space) regardless of what was previously recorded — this mirrors
// the source's `prop == EntityProperties::default()` early-out, checked
// against the incoming value rather than the merge result.
func (m *PropertyMap) Update(entity entitypath.Path, prop EntityProperties) {
	key := entity.Format()
	if prop.isDefault() {
		delete(m.props, key)
		return
	}
	existing, ok := m.props[key]
	if !ok {
		m.props[key] = prop
		return
	}
	m.props[key] = existing.Merge(prop)
}

// Overwrite replaces whatever is recorded for entity with prop outright,
// even clobbering user edits (§4.8 Overwrite).
func (m *PropertyMap) Overwrite(entity entitypath.Path, prop EntityProperties) {
	key := entity.Format()
	if prop.isDefault() {
		delete(m.props, key)
		return
	}
	m.props[key] = prop
}

// HasEdits reports whether m has any user-edit that other lacks or
// disagrees with — used to decide whether a blueprint needs saving.
func (m *PropertyMap) HasEdits(other *PropertyMap) bool {
	if m == nil {
		m = NewPropertyMap()
	}
	if other == nil {
		other = NewPropertyMap()
	}
	if len(m.props) != len(other.props) {
		return true
	}
	for key, val := range m.props {
		otherVal, ok := other.props[key]
		if !ok || val.HasEdits(otherVal) {
			return true
		}
	}
	return false
}

// Len reports how many entities carry non-default properties.
func (m *PropertyMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.props)
}

package recording

import (
	"fmt"
	"log/slog"

	"rerun-chunkstore/internal/logging"
	"rerun-chunkstore/internal/store"
)

// StoreKind distinguishes the two stores a Recording bundles.
type StoreKind int

const (
	// Data holds logged component data.
	Data StoreKind = iota
	// Blueprint holds view/layout configuration.
	Blueprint
)

func (k StoreKind) String() string {
	if k == Blueprint {
		return "blueprint"
	}
	return "data"
}

// StoreID identifies one store within a recording: an application id, a
// recording id, and a kind (data vs. blueprint), per §3's "Recording
// container: ... a store identifier (application id + recording id +
// kind)".
type StoreID struct {
	ApplicationID string
	RecordingID   string
	Kind          StoreKind
}

// String renders a StoreID as the opaque id string store.Store takes at
// construction.
func (id StoreID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.ApplicationID, id.RecordingID, id.Kind)
}

// Recording groups one data store and one blueprint store under a shared
// application/recording identity, plus the entity property map that
// carries UI hints across both (§3 "Recording container").
type Recording struct {
	AppID       string
	RecordingID string

	Data       *store.Store
	Blueprint  *store.Store
	Properties *PropertyMap

	levels *logging.ComponentFilterHandler
}

// New constructs a Recording with fresh, empty data and blueprint stores.
// The data and blueprint stores share one ComponentFilterHandler root
// (installed here, before either store.New call, so both reuse it rather
// than each installing its own) — a single SetLogLevel call on the
// Recording, or on either store it bundles, adjusts log verbosity for all
// three.
func New(appID, recordingID string, logger *slog.Logger) *Recording {
	logger, levels := logging.NewFiltered(logger, slog.LevelInfo)
	dataID := StoreID{ApplicationID: appID, RecordingID: recordingID, Kind: Data}
	blueprintID := StoreID{ApplicationID: appID, RecordingID: recordingID, Kind: Blueprint}
	return &Recording{
		AppID:       appID,
		RecordingID: recordingID,
		Data:        store.New(dataID.String(), logger.With("store_id", dataID.String())),
		Blueprint:   store.New(blueprintID.String(), logger.With("store_id", blueprintID.String())),
		Properties:  NewPropertyMap(),
		levels:      levels,
	}
}

// SetLogLevel adjusts the minimum level at which log records tagged with
// component are emitted by this recording's data store, blueprint store,
// and any logger derived from them.
func (r *Recording) SetLogLevel(component string, level slog.Level) {
	r.levels.SetLevel(component, level)
}

// StoreFor returns the store of the requested kind.
func (r *Recording) StoreFor(kind StoreKind) *store.Store {
	if kind == Blueprint {
		return r.Blueprint
	}
	return r.Data
}

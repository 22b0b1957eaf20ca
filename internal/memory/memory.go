// Package memory provides the versioned working-memory backends, the
// offline replay evaluator, and the promotion policy that switches the
// active design.
package memory

import (
	"sort"

	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

// Design ids. Adding a design means adding a registry row; nothing else
// in the system names implementations directly.
const (
	DesignKVv1  = "kv_v1"
	DesignFTSv2 = "fts_v2"
)

// Backend is the capability set of one working-memory implementation.
// Exactly one backend is active at a time.
type Backend interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
	IterAll() ([]store.WorkingMemoryEntry, error)
	// AsContextBlob packs memory into at most budget characters for
	// prompt inclusion.
	AsContextBlob(budget int) (string, error)
}

// Searcher is the optional recall surface. fts_v2 implements it; tools
// fall back to scanning when the active design does not.
type Searcher interface {
	Search(query string, limit int) ([]store.WorkingMemoryEntry, error)
}

// kvStore is the storage seam backends are built over. *store.Store
// satisfies it; eval replays run against an in-memory scratch instead.
type kvStore interface {
	MemPut(key, value string) error
	MemGet(key string) (string, bool, error)
	MemDelete(key string) error
	MemIterAll() ([]store.WorkingMemoryEntry, error)
}

type designSpec struct {
	schemaVersion int
	build         func(kv kvStore) Backend
}

var registry = map[string]designSpec{
	DesignKVv1:  {schemaVersion: 1, build: func(kv kvStore) Backend { return &kvV1{kv: kv} }},
	DesignFTSv2: {schemaVersion: 2, build: func(kv kvStore) Backend { return &ftsV2{kvV1{kv: kv}} }},
}

// New builds a backend by design id over the given storage.
func New(designID string, kv kvStore) (Backend, error) {
	spec, ok := registry[designID]
	if !ok {
		return nil, errors.NewNotFound("memory design", designID)
	}
	return spec.build(kv), nil
}

// Designs lists every registered design, stable order.
func Designs() []store.MemoryDesignVersion {
	out := make([]store.MemoryDesignVersion, 0, len(registry))
	for id, spec := range registry {
		out = append(out, store.MemoryDesignVersion{DesignID: id, SchemaVersion: spec.schemaVersion})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DesignID < out[j].DesignID })
	return out
}

// Version returns the registered schema version for a design id.
func Version(designID string) (store.MemoryDesignVersion, error) {
	spec, ok := registry[designID]
	if !ok {
		return store.MemoryDesignVersion{}, errors.NewNotFound("memory design", designID)
	}
	return store.MemoryDesignVersion{DesignID: designID, SchemaVersion: spec.schemaVersion}, nil
}

// OpenActive resolves the persisted active designator and builds that
// backend. First run defaults to kv_v1, persists the designator, and
// archives every registered design.
func OpenActive(st *store.Store) (Backend, store.MemoryDesignVersion, error) {
	active, err := st.ActiveMemoryDesign()
	if err != nil {
		return nil, store.MemoryDesignVersion{}, err
	}
	if active == nil {
		v := store.MemoryDesignVersion{DesignID: DesignKVv1, SchemaVersion: registry[DesignKVv1].schemaVersion}
		if err := st.SetActiveMemoryDesign(v); err != nil {
			return nil, store.MemoryDesignVersion{}, err
		}
		for _, d := range Designs() {
			if err := st.ArchiveMemoryDesign(d, "registered at startup"); err != nil {
				return nil, store.MemoryDesignVersion{}, err
			}
		}
		active = &v
	}
	b, err := New(active.DesignID, st)
	if err != nil {
		return nil, store.MemoryDesignVersion{}, err
	}
	return b, *active, nil
}

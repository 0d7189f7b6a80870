package ctldir

import (
	"sort"
	"sync"

	"github.com/marmos91/snapfs/pkg/catalog"
)

// objsetKey identifies a snapshot across pools. Pools are compared by
// pointer, so identically numbered objsets on different pools never
// collide.
type objsetKey struct {
	pool     *catalog.Pool
	objsetID uint64
}

// snapRegistry indexes live automount entries by full snapshot name and
// by (pool, objset id).
//
// Both indexes always contain the same entries: every mutation updates
// them together under the write lock.
type snapRegistry struct {
	mu       sync.RWMutex
	byName   map[string]*snapEntry
	byObjset map[objsetKey]*snapEntry
}

func newSnapRegistry() *snapRegistry {
	return &snapRegistry{
		byName:   make(map[string]*snapEntry),
		byObjset: make(map[objsetKey]*snapEntry),
	}
}

// addLocked inserts an entry into both indexes and takes the registry's
// reference on it. The caller must hold the write lock. The entry must
// not already be present; a duplicate insert means the indexes have
// diverged from the mount state.
func (r *snapRegistry) addLocked(se *snapEntry) {
	key := objsetKey{pool: se.pool, objsetID: se.objsetID}
	if _, ok := r.byName[se.name]; ok {
		panic("ctldir: duplicate snapshot entry name " + se.name)
	}
	if _, ok := r.byObjset[key]; ok {
		panic("ctldir: duplicate snapshot entry objset id")
	}
	se.hold()
	r.byName[se.name] = se
	r.byObjset[key] = se
}

// add inserts an entry under the write lock.
func (r *snapRegistry) add(se *snapEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(se)
}

// removeLocked removes an entry from both indexes and drops the
// registry's reference. The caller must hold the write lock.
func (r *snapRegistry) removeLocked(se *snapEntry) {
	delete(r.byName, se.name)
	delete(r.byObjset, objsetKey{pool: se.pool, objsetID: se.objsetID})
	se.release()
}

// findByName looks up an entry by full snapshot name. On success the
// returned entry carries a reference the caller must release.
func (r *snapRegistry) findByName(name string) (*snapEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	se.hold()
	return se, true
}

// findByObjset looks up an entry by (pool, objset id). On success the
// returned entry carries a reference the caller must release.
func (r *snapRegistry) findByObjset(pool *catalog.Pool, objsetID uint64) (*snapEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.byObjset[objsetKey{pool: pool, objsetID: objsetID}]
	if !ok {
		return nil, false
	}
	se.hold()
	return se, true
}

// renameLocked atomically renames an entry in the name index. The
// caller must hold the write lock. Returns false if no entry with the
// old name exists.
func (r *snapRegistry) renameLocked(oldName, newName string) bool {
	se, ok := r.byName[oldName]
	if !ok {
		return false
	}
	delete(r.byName, oldName)
	se.name = newName
	r.byName[newName] = se
	return true
}

// removeByObjset removes the entry for (pool, objsetID) from both
// indexes. On success the returned entry carries a reference the caller
// must release.
func (r *snapRegistry) removeByObjset(pool *catalog.Pool, objsetID uint64) (*snapEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	se, ok := r.byObjset[objsetKey{pool: pool, objsetID: objsetID}]
	if !ok {
		return nil, false
	}
	se.hold()
	r.removeLocked(se)
	return se, true
}

// removeAll empties both indexes and returns the removed entries sorted
// by name. Each returned entry carries a reference the caller must
// release.
func (r *snapRegistry) removeAll() []*snapEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*snapEntry, 0, len(r.byName))
	for _, se := range r.byName {
		se.hold()
		out = append(out, se)
	}
	for _, se := range out {
		r.removeLocked(se)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// renameWith runs apply under the write lock and, if it succeeds,
// renames the matching entry. Holding the lock across apply keeps a
// concurrent expiry from reading the old name after the catalog has
// already switched to the new one.
func (r *snapRegistry) renameWith(oldName, newName string, apply func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := apply(); err != nil {
		return err
	}
	// Not finding an entry just means the snapshot was not mounted.
	r.renameLocked(oldName, newName)
	return nil
}

// isMounted reports whether an entry exists for the full snapshot name.
func (r *snapRegistry) isMounted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byName[name]
	return ok
}

// nameOf reads an entry's current name under the registry lock, so a
// concurrent rename is either fully visible or not at all.
func (r *snapRegistry) nameOf(se *snapEntry) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return se.name
}

// pathOf reads an entry's mounted path. Paths never change after mount,
// but reading under the lock keeps the accessor uniform with nameOf.
func (r *snapRegistry) pathOf(se *snapEntry) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return se.path
}

// entries returns a snapshot of all live entries sorted by name. Each
// returned entry carries a reference the caller must release.
func (r *snapRegistry) entries() []*snapEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*snapEntry, 0, len(r.byName))
	for _, se := range r.byName {
		se.hold()
		out = append(out, se)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// count returns the number of live entries.
func (r *snapRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byName)
}

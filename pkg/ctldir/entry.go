package ctldir

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/snapfs/pkg/catalog"
	"github.com/marmos91/snapfs/pkg/schedule"
)

// snapEntry tracks one automounted snapshot.
//
// An entry is created when a snapshot mount succeeds and removed when
// the filesystem reports the snapshot unmounted. The registry holds one
// reference for the lifetime of the entry; the expiry machinery takes
// additional short-lived references while a delayed unmount is armed or
// firing.
type snapEntry struct {
	// name is the full snapshot name ("dataset@snap"). Guarded by the
	// owning registry's lock so that rename and expiry never observe a
	// torn value.
	name string

	// path is the automounted directory path.
	path string

	// pool identifies the originating pool. Compared by pointer: the
	// catalog hands out one stable *Pool per pool per process.
	pool *catalog.Pool

	// objsetID is the snapshot's objset identifier within the pool.
	objsetID uint64

	// refs counts live references to this entry.
	refs atomic.Int64

	// taskMu guards taskID.
	taskMu sync.Mutex

	// taskID is the pending delayed-unmount task, or schedule.TaskNone
	// when no unmount is armed.
	taskID schedule.TaskID
}

func newSnapEntry(name, path string, pool *catalog.Pool, objsetID uint64) *snapEntry {
	return &snapEntry{
		name:     name,
		path:     path,
		pool:     pool,
		objsetID: objsetID,
	}
}

// hold takes a reference on the entry.
func (se *snapEntry) hold() {
	se.refs.Add(1)
}

// release drops a reference. The count must never go negative; a
// negative count means a release without a matching hold, which is a
// programming error.
func (se *snapEntry) release() {
	if n := se.refs.Add(-1); n < 0 {
		panic("ctldir: snapshot entry reference count underflow")
	}
}

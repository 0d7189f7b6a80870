package ctldir

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/snapfs/pkg/catalog"
)

func testPool(name string) *catalog.Pool {
	return &catalog.Pool{Name: name, GUID: uuid.New()}
}

func TestRegistryAddAndFind(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")

	se := newSnapEntry("tank/data@monday", "/tank/data/.zfs/snapshot/monday", pool, 7)
	r.add(se)

	assert.Equal(t, int64(1), se.refs.Load(), "registry holds one reference")
	assert.Equal(t, 1, r.count())
	assert.True(t, r.isMounted("tank/data@monday"))

	byName, ok := r.findByName("tank/data@monday")
	require.True(t, ok)
	assert.Same(t, se, byName)
	assert.Equal(t, int64(2), se.refs.Load(), "find hands out a held reference")
	byName.release()

	byObjset, ok := r.findByObjset(pool, 7)
	require.True(t, ok)
	assert.Same(t, se, byObjset)
	byObjset.release()

	assert.Equal(t, int64(1), se.refs.Load())
}

func TestRegistryFindMisses(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	r.add(newSnapEntry("tank/data@monday", "/p", pool, 7))

	_, ok := r.findByName("tank/data@missing")
	assert.False(t, ok)

	_, ok = r.findByObjset(pool, 8)
	assert.False(t, ok)

	// Same objset id on a different pool is a different snapshot.
	_, ok = r.findByObjset(testPool("dozer"), 7)
	assert.False(t, ok)
}

func TestRegistryRemoveByObjset(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	se := newSnapEntry("tank/data@monday", "/p", pool, 7)
	r.add(se)

	removed, ok := r.removeByObjset(pool, 7)
	require.True(t, ok)
	assert.Same(t, se, removed)
	// The caller's hold replaced the registry's reference.
	assert.Equal(t, int64(1), se.refs.Load())
	removed.release()

	assert.Equal(t, 0, r.count())
	assert.False(t, r.isMounted("tank/data@monday"))

	_, ok = r.removeByObjset(pool, 7)
	assert.False(t, ok)
}

func TestRegistryDuplicateAddPanics(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	r.add(newSnapEntry("tank/data@monday", "/p", pool, 7))

	assert.Panics(t, func() {
		r.add(newSnapEntry("tank/data@monday", "/p", pool, 8))
	}, "duplicate name must panic")

	assert.Panics(t, func() {
		r.add(newSnapEntry("tank/data@other", "/p", pool, 7))
	}, "duplicate objset id must panic")
}

func TestReleaseUnderflowPanics(t *testing.T) {
	se := newSnapEntry("tank/data@monday", "/p", testPool("tank"), 7)
	assert.Panics(t, func() {
		se.release()
	})
}

func TestRegistryRename(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	se := newSnapEntry("tank/data@snap1", "/p", pool, 7)
	r.add(se)

	err := r.renameWith("tank/data@snap1", "tank/data@snap2", func() error { return nil })
	require.NoError(t, err)

	assert.False(t, r.isMounted("tank/data@snap1"))
	assert.True(t, r.isMounted("tank/data@snap2"))
	assert.Equal(t, "tank/data@snap2", r.nameOf(se))

	// The objset index is untouched by a rename.
	byObjset, ok := r.findByObjset(pool, 7)
	require.True(t, ok)
	assert.Same(t, se, byObjset)
	byObjset.release()
}

func TestRegistryRenameWithFailedApply(t *testing.T) {
	r := newSnapRegistry()
	r.add(newSnapEntry("tank/data@snap1", "/p", testPool("tank"), 7))

	applyErr := errors.New("boom")
	err := r.renameWith("tank/data@snap1", "tank/data@snap2", func() error { return applyErr })
	assert.ErrorIs(t, err, applyErr)

	// The index must not change when apply fails.
	assert.True(t, r.isMounted("tank/data@snap1"))
	assert.False(t, r.isMounted("tank/data@snap2"))
}

func TestRegistryRenameMissingEntryIsIgnored(t *testing.T) {
	r := newSnapRegistry()

	// The catalog renamed an unmounted snapshot; no registry entry
	// exists and that is fine.
	err := r.renameWith("tank/data@snap1", "tank/data@snap2", func() error { return nil })
	assert.NoError(t, err)
}

func TestRegistryEntriesSorted(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	for i, name := range []string{"charlie", "alpha", "bravo"} {
		r.add(newSnapEntry("tank/data@"+name, "/p/"+name, pool, uint64(i+1)))
	}

	entries := r.entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "tank/data@alpha", entries[0].name)
	assert.Equal(t, "tank/data@bravo", entries[1].name)
	assert.Equal(t, "tank/data@charlie", entries[2].name)
	for _, se := range entries {
		se.release()
	}
}

func TestRegistryRemoveAll(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	for i := 0; i < 3; i++ {
		r.add(newSnapEntry(fmt.Sprintf("tank/data@snap%d", i), "/p", pool, uint64(i+1)))
	}

	removed := r.removeAll()
	assert.Len(t, removed, 3)
	assert.Equal(t, 0, r.count())
	for _, se := range removed {
		assert.Equal(t, int64(1), se.refs.Load())
		se.release()
	}
}

func TestRegistryConcurrentRenameAndLookup(t *testing.T) {
	r := newSnapRegistry()
	pool := testPool("tank")
	se := newSnapEntry("tank/data@a", "/p", pool, 7)
	r.add(se)

	stop := make(chan struct{})
	var renamer sync.WaitGroup
	renamer.Add(1)
	go func() {
		defer renamer.Done()
		names := [2]string{"tank/data@a", "tank/data@b"}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = r.renameWith(names[i%2], names[(i+1)%2], func() error { return nil })
		}
	}()

	var readers sync.WaitGroup
	for w := 0; w < 4; w++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 2000; i++ {
				// Whatever the current name is, it must be one of the
				// two and the objset index must always resolve.
				name := r.nameOf(se)
				if name != "tank/data@a" && name != "tank/data@b" {
					t.Errorf("torn name observed: %q", name)
					return
				}
				got, ok := r.findByObjset(pool, 7)
				if !ok {
					t.Error("entry vanished during rename")
					return
				}
				got.release()
			}
		}()
	}

	readers.Wait()
	close(stop)
	renamer.Wait()

	assert.Equal(t, 1, r.count())
	assert.Equal(t, int64(1), se.refs.Load())
}

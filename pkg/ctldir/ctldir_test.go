package ctldir

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/snapfs/pkg/catalog"
	"github.com/marmos91/snapfs/pkg/catalog/memory"
	"github.com/marmos91/snapfs/pkg/mounter"
)

// mockMounter records helper invocations and simulates the OS-level
// teardown hook on successful unmounts.
type mockMounter struct {
	mu          sync.Mutex
	mounts      []string // paths passed to Mount
	unmounts    []string // paths passed to Unmount
	forced      []bool   // force flag per Unmount call
	flushes     int
	mountErr    error
	mountDelay  time.Duration
	unmountErrs []error // consumed one per call; empty means success
	onUnmounted func(path string)
}

func (m *mockMounter) Mount(ctx context.Context, fullName, path string, opts mounter.Options) error {
	if m.mountDelay > 0 {
		time.Sleep(m.mountDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounts = append(m.mounts, path)
	return m.mountErr
}

func (m *mockMounter) Unmount(ctx context.Context, path string, force bool) error {
	m.mu.Lock()
	m.unmounts = append(m.unmounts, path)
	m.forced = append(m.forced, force)
	var err error
	if len(m.unmountErrs) > 0 {
		err = m.unmountErrs[0]
		m.unmountErrs = m.unmountErrs[1:]
	}
	hook := m.onUnmounted
	m.mu.Unlock()

	if err == nil && hook != nil {
		// A real unmount triggers the filesystem teardown, which is
		// what reports the mount gone.
		hook(path)
	}
	return err
}

func (m *mockMounter) FlushExports(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *mockMounter) mountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mounts)
}

func (m *mockMounter) unmountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unmounts)
}

// testEnv wires a control directory over a memory catalog with one
// dataset and one snapshot.
type testEnv struct {
	ctl  *ControlDir
	cat  *memory.Catalog
	mnt  *mockMounter
	fs   *catalog.Filesystem
	snap *catalog.Snapshot
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	cat := memory.New()
	fs, err := cat.CreateDataset(ctx, "tank", "tank/data", "/tank/data")
	require.NoError(t, err)
	snap, err := cat.CreateSnapshot(ctx, "tank/data", "monday")
	require.NoError(t, err)

	mnt := &mockMounter{}
	ctl := New(cfg, cat, mnt)
	t.Cleanup(func() {
		_ = ctl.Close(context.Background())
	})

	env := &testEnv{ctl: ctl, cat: cat, mnt: mnt, fs: fs, snap: snap}
	// Wire the teardown hook the way the filesystem layer would: a
	// successful unmount reports the torn-down mount by objset id.
	mnt.onUnmounted = func(path string) {
		for _, ms := range ctl.MountedSnapshots() {
			if ms.Path == path {
				ctl.NotifyUnmounted(ms.Pool, ms.ObjsetID)
				return
			}
		}
	}
	return env
}

func TestLookupMountsOnFirstAccess(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	handle, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	assert.Equal(t, "tank/data@monday", handle.Name)
	assert.Equal(t, filepath.Join("/tank/data", ".zfs/snapshot", "monday"), handle.Path)
	assert.Same(t, env.fs.Pool, handle.Pool)
	assert.Equal(t, env.snap.ObjsetID, handle.ObjsetID)

	assert.Equal(t, 1, env.mnt.mountCount())
	assert.True(t, env.ctl.IsMounted("tank/data@monday"))
}

func TestLookupSecondAccessDoesNotRemount(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)
	_, err = env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	assert.Equal(t, 1, env.mnt.mountCount())
}

func TestLookupUnknownSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.ctl.Lookup(context.Background(), env.fs, "missing")
	assert.True(t, IsNotFound(err))
	assert.Zero(t, env.mnt.mountCount())
}

func TestLookupInvalidName(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, name := range []string{"", ".", "..", "bad/name", "bad@name"} {
		_, err := env.ctl.Lookup(context.Background(), env.fs, name)
		assert.True(t, IsInvalidName(err), "component %q", name)
	}
}

func TestConcurrentLookupsShareOneMount(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.mnt.mountDelay = 20 * time.Millisecond
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ctl.Lookup(ctx, env.fs, "monday")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, env.mnt.mountCount(), "helper must be invoked at most once")
}

func TestLookupBusyMountIsSoftSuccess(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.mnt.mountErr = mounter.ErrBusy

	handle, err := env.ctl.Lookup(context.Background(), env.fs, "monday")
	require.NoError(t, err)
	assert.Equal(t, "tank/data@monday", handle.Name)

	// The mount lost a benign race; no entry of ours exists.
	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
}

func TestLookupMountFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.mnt.mountErr = context.DeadlineExceeded

	_, err := env.ctl.Lookup(context.Background(), env.fs, "monday")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
}

func TestUnmountSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	require.NoError(t, env.ctl.UnmountSnapshot(ctx, "tank/data@monday", false))

	// The teardown hook removed the entry.
	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
	assert.Equal(t, 1, env.mnt.unmountCount())
	assert.Equal(t, 1, env.mnt.flushes, "export caches are flushed before unmounting")
}

func TestUnmountSnapshotNotMounted(t *testing.T) {
	env := newTestEnv(t, Config{})

	err := env.ctl.UnmountSnapshot(context.Background(), "tank/data@monday", false)
	assert.True(t, IsNotFound(err))
}

func TestUnmountSnapshotBusy(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	env.mnt.mu.Lock()
	env.mnt.unmountErrs = []error{mounter.ErrBusy}
	env.mnt.mu.Unlock()

	err = env.ctl.UnmountSnapshot(ctx, "tank/data@monday", false)
	assert.True(t, IsBusy(err))

	// A busy unmount leaves the snapshot mounted.
	assert.True(t, env.ctl.IsMounted("tank/data@monday"))
}

func TestNotifyUnmountedUnknownIDIgnored(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.ctl.NotifyUnmounted(env.fs.Pool, 424242)
}

func TestMountedSnapshotsSorted(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha"} {
		_, err := env.cat.CreateSnapshot(ctx, "tank/data", name)
		require.NoError(t, err)
	}
	for _, name := range []string{"monday", "charlie", "alpha"} {
		_, err := env.ctl.Lookup(ctx, env.fs, name)
		require.NoError(t, err)
	}

	mounted := env.ctl.MountedSnapshots()
	require.Len(t, mounted, 3)
	assert.Equal(t, "tank/data@alpha", mounted[0].Name)
	assert.Equal(t, "tank/data@charlie", mounted[1].Name)
	assert.Equal(t, "tank/data@monday", mounted[2].Name)
}

func TestExpiryUnmountsIdleSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: 1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	// Pull the armed expiry in so the test does not sleep a full
	// interval.
	require.NoError(t, env.ctl.ScheduleUnmount(env.fs.Pool, env.snap.ObjsetID, 10*time.Millisecond))

	require.Eventually(t, func() bool {
		return !env.ctl.IsMounted("tank/data@monday")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.mnt.unmountCount())
}

func TestExpiryDisabledNeverUnmounts(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: -1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, env.ctl.IsMounted("tank/data@monday"))
	assert.Zero(t, env.mnt.unmountCount())
}

func TestExpiryDisabledAtFireTime(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: 1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	// Disable expiry after the timer is armed; the callback must
	// re-check and leave the mount alone.
	env.ctl.SetExpireAfter(0)
	require.NoError(t, env.ctl.ScheduleUnmount(env.fs.Pool, env.snap.ObjsetID, 10*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	assert.True(t, env.ctl.IsMounted("tank/data@monday"))
	assert.Zero(t, env.mnt.unmountCount())
}

func TestExpiryBusyRetryConverges(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: 1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	// First two expiries find the snapshot busy; the third succeeds.
	env.mnt.mu.Lock()
	env.mnt.unmountErrs = []error{mounter.ErrBusy, mounter.ErrBusy}
	env.mnt.mu.Unlock()

	require.NoError(t, env.ctl.ScheduleUnmount(env.fs.Pool, env.snap.ObjsetID, 10*time.Millisecond))

	// Each busy attempt re-arms a full interval; allow for two of them.
	require.Eventually(t, func() bool {
		return !env.ctl.IsMounted("tank/data@monday")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, env.mnt.unmountCount())
}

func TestDelayUnmountWhilePendingIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: -1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	se, ok := env.ctl.registry.findByName("tank/data@monday")
	require.True(t, ok)
	defer se.release()

	// Arming twice without a cancel in between must leave exactly one
	// pending task; the second arm drops its own reference.
	env.ctl.delayUnmount(se, time.Hour)
	env.ctl.delayUnmount(se, time.Hour)

	assert.Equal(t, 1, env.ctl.tasks.Len())
	// registry + our lookup + the single pending task
	assert.Equal(t, int64(3), se.refs.Load())

	env.ctl.cancelUnmount(se)
	assert.Equal(t, 0, env.ctl.tasks.Len())
	assert.Equal(t, int64(2), se.refs.Load())
}

func TestDelayUnmountDoubleArmFiresOnce(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: -1})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	se, ok := env.ctl.registry.findByName("tank/data@monday")
	require.True(t, ok)

	env.ctl.SetExpireAfter(1)
	env.ctl.delayUnmount(se, 10*time.Millisecond)
	env.ctl.delayUnmount(se, 10*time.Millisecond)

	// One firing tears the mount down and drops every task reference;
	// only our own lookup hold remains.
	require.Eventually(t, func() bool {
		return env.ctl.tasks.Len() == 0 && se.refs.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.mnt.unmountCount())
	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
	se.release()
}

func TestScheduleUnmountNotFound(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: 1})

	err := env.ctl.ScheduleUnmount(env.fs.Pool, 424242, time.Millisecond)
	assert.True(t, IsNotFound(err))
}

func TestAdminMutationsDisabledByDefault(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.ctl.Mkdir(ctx, env.fs, "fresh")
	assert.True(t, IsPermissionDenied(err))

	assert.True(t, IsPermissionDenied(env.ctl.Rmdir(ctx, env.fs, "monday")))
	assert.True(t, IsPermissionDenied(env.ctl.Rename(ctx, env.fs, "monday", "tuesday")))
}

func TestMkdirCreatesAndMounts(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	handle, err := env.ctl.Mkdir(ctx, env.fs, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "tank/data@fresh", handle.Name)
	assert.True(t, env.ctl.IsMounted("tank/data@fresh"))

	// The snapshot now exists in the catalog.
	_, err = env.cat.ResolveSnapshotID(ctx, "tank/data", "fresh")
	require.NoError(t, err)
}

func TestMkdirDuplicate(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})

	_, err := env.ctl.Mkdir(context.Background(), env.fs, "monday")
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrAlreadyExists, domainErr.Code)
}

func TestMkdirInvalidName(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})

	_, err := env.ctl.Mkdir(context.Background(), env.fs, "bad@name")
	assert.True(t, IsInvalidName(err))
}

func TestRmdirDestroysMountedSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	require.NoError(t, env.ctl.Rmdir(ctx, env.fs, "monday"))

	// Force-unmounted, then destroyed.
	env.mnt.mu.Lock()
	forced := append([]bool(nil), env.mnt.forced...)
	env.mnt.mu.Unlock()
	require.Len(t, forced, 1)
	assert.True(t, forced[0])

	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
	_, err = env.cat.ResolveSnapshotID(ctx, "tank/data", "monday")
	assert.True(t, catalog.IsNotFound(err))
}

func TestRmdirUnmountedSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	require.NoError(t, env.ctl.Rmdir(ctx, env.fs, "monday"))
	assert.Zero(t, env.mnt.unmountCount())

	_, err := env.cat.ResolveSnapshotID(ctx, "tank/data", "monday")
	assert.True(t, catalog.IsNotFound(err))
}

func TestRmdirBusySnapshot(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	env.mnt.mu.Lock()
	env.mnt.unmountErrs = []error{mounter.ErrBusy}
	env.mnt.mu.Unlock()

	// A pinned snapshot cannot be destroyed.
	assert.True(t, IsBusy(env.ctl.Rmdir(ctx, env.fs, "monday")))
	_, err = env.cat.ResolveSnapshotID(ctx, "tank/data", "monday")
	require.NoError(t, err, "snapshot must survive a failed rmdir")
}

func TestRmdirUnknownSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})

	assert.True(t, IsNotFound(env.ctl.Rmdir(context.Background(), env.fs, "missing")))
}

func TestRenameFollowsMountedEntry(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	_, err := env.ctl.Lookup(ctx, env.fs, "monday")
	require.NoError(t, err)

	require.NoError(t, env.ctl.Rename(ctx, env.fs, "monday", "tuesday"))

	assert.False(t, env.ctl.IsMounted("tank/data@monday"))
	assert.True(t, env.ctl.IsMounted("tank/data@tuesday"))

	// Catalog agrees.
	_, err = env.cat.ResolveSnapshotID(ctx, "tank/data", "tuesday")
	require.NoError(t, err)
}

func TestRenameUnmountedSnapshot(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	require.NoError(t, env.ctl.Rename(ctx, env.fs, "monday", "tuesday"))

	_, err := env.cat.ResolveSnapshotID(ctx, "tank/data", "tuesday")
	require.NoError(t, err)
}

func TestRenameSameNameIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})

	require.NoError(t, env.ctl.Rename(context.Background(), env.fs, "monday", "monday"))
}

func TestRenameErrors(t *testing.T) {
	env := newTestEnv(t, Config{AdminMutationsEnabled: true})
	ctx := context.Background()

	_, err := env.cat.CreateSnapshot(ctx, "tank/data", "taken")
	require.NoError(t, err)

	assert.True(t, IsNotFound(env.ctl.Rename(ctx, env.fs, "missing", "other")))
	assert.True(t, IsInvalidName(env.ctl.Rename(ctx, env.fs, "monday", "bad@name")))

	err = env.ctl.Rename(ctx, env.fs, "monday", "taken")
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrAlreadyExists, domainErr.Code)
}

func TestCloseForceUnmountsEverything(t *testing.T) {
	env := newTestEnv(t, Config{ExpireAfterSeconds: 300})
	ctx := context.Background()

	for _, name := range []string{"alpha", "bravo"} {
		_, err := env.cat.CreateSnapshot(ctx, "tank/data", name)
		require.NoError(t, err)
		_, err = env.ctl.Lookup(ctx, env.fs, name)
		require.NoError(t, err)
	}

	require.NoError(t, env.ctl.Close(ctx))

	assert.Empty(t, env.ctl.MountedSnapshots())
	assert.Equal(t, 2, env.mnt.unmountCount())
	env.mnt.mu.Lock()
	for _, forced := range env.mnt.forced {
		assert.True(t, forced, "shutdown unmounts are forced")
	}
	env.mnt.mu.Unlock()
	assert.Equal(t, 0, env.ctl.tasks.Len(), "no timers may survive Close")
}

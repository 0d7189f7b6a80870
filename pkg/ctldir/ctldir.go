// Package ctldir implements the snapshot control directory: every
// snapshot of a dataset is presented as a directory entry under the
// dataset's snapshot directory, mounted on first lookup and unmounted
// again after a period of inactivity.
//
// The package tracks live automounts in a refcounted registry indexed
// both by full snapshot name and by (pool, objset id), and drives a
// delayed-unmount state machine per entry: mounting arms an expiry
// timer, renames follow the entry atomically, and an expiry that finds
// the snapshot busy re-arms itself for another full interval.
package ctldir

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/snapfs/internal/logger"
	"github.com/marmos91/snapfs/pkg/catalog"
	"github.com/marmos91/snapfs/pkg/metrics"
	"github.com/marmos91/snapfs/pkg/mounter"
	"github.com/marmos91/snapfs/pkg/schedule"
)

// DefaultDirectoryName is where snapshots appear under a dataset's
// mountpoint.
const DefaultDirectoryName = ".zfs/snapshot"

// DefaultExpireAfterSeconds is the default automount idle lifetime.
const DefaultExpireAfterSeconds = 300

// Config configures a ControlDir.
type Config struct {
	// ExpireAfterSeconds is how long an automounted snapshot stays
	// mounted without being re-armed. Values <= 0 disable automatic
	// expiry entirely.
	ExpireAfterSeconds int

	// AdminMutationsEnabled allows Mkdir, Rmdir, and Rename to mutate
	// snapshots. When false those operations fail with
	// ErrPermissionDenied.
	AdminMutationsEnabled bool

	// DenySetuidOnAutomount mounts snapshots nosuid.
	DenySetuidOnAutomount bool

	// DirectoryName is the snapshot directory path relative to the
	// dataset mountpoint. Defaults to DefaultDirectoryName.
	DirectoryName string

	// Metrics receives operation metrics. Optional; nil disables.
	Metrics metrics.SnapdirMetrics
}

// MountedSnapshot describes a snapshot presented as a directory.
type MountedSnapshot struct {
	// Name is the full "dataset@snap" snapshot name
	Name string

	// Path is the directory the snapshot is mounted at
	Path string

	// Pool is the owning pool
	Pool *catalog.Pool

	// ObjsetID is the snapshot's objset id within the pool
	ObjsetID uint64
}

// ControlDir supervises snapshot automounts for a catalog of datasets.
//
// All methods are safe for concurrent use.
type ControlDir struct {
	catalog catalog.Catalog
	mounter mounter.Mounter
	metrics metrics.SnapdirMetrics

	registry *snapRegistry
	tasks    *schedule.Queue

	// mountGroup collapses concurrent automounts of the same snapshot
	// into a single helper invocation.
	mountGroup singleflight.Group

	directoryName string

	// Tunable at runtime, mirroring their config knobs.
	expireSeconds atomic.Int64
	adminEnabled  atomic.Bool
	denySetuid    atomic.Bool
}

// New creates a ControlDir over the given catalog and mounter.
func New(cfg Config, cat catalog.Catalog, mnt mounter.Mounter) *ControlDir {
	if cfg.DirectoryName == "" {
		cfg.DirectoryName = DefaultDirectoryName
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSnapdirMetrics()
	}

	c := &ControlDir{
		catalog:       cat,
		mounter:       mnt,
		metrics:       cfg.Metrics,
		registry:      newSnapRegistry(),
		tasks:         schedule.NewQueue(),
		directoryName: cfg.DirectoryName,
	}
	c.expireSeconds.Store(int64(cfg.ExpireAfterSeconds))
	c.adminEnabled.Store(cfg.AdminMutationsEnabled)
	c.denySetuid.Store(cfg.DenySetuidOnAutomount)
	return c
}

// SetExpireAfter changes the automount idle lifetime. Values <= 0
// disable expiry; already-armed timers check again when they fire.
func (c *ControlDir) SetExpireAfter(seconds int) {
	c.expireSeconds.Store(int64(seconds))
}

// SetAdminMutations toggles Mkdir/Rmdir/Rename at runtime.
func (c *ControlDir) SetAdminMutations(enabled bool) {
	c.adminEnabled.Store(enabled)
}

// SetDenySetuid toggles nosuid on subsequent automounts.
func (c *ControlDir) SetDenySetuid(deny bool) {
	c.denySetuid.Store(deny)
}

func (c *ControlDir) expireDelay() time.Duration {
	return time.Duration(c.expireSeconds.Load()) * time.Second
}

// Lookup resolves a snapshot component name under the dataset and
// ensures the snapshot is mounted, mounting it on first access.
//
// Concurrent lookups of the same snapshot share one mount attempt. A
// helper that reports the filesystem already mounted is treated as
// success: some other actor won the race.
func (c *ControlDir) Lookup(ctx context.Context, fs *catalog.Filesystem, component string) (*MountedSnapshot, error) {
	fullName, err := catalog.SnapshotName(fs.Dataset, component)
	if err != nil {
		return nil, InvalidName(component)
	}

	v, err, _ := c.mountGroup.Do(fullName, func() (interface{}, error) {
		return c.mountOnce(ctx, fs, component, fullName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MountedSnapshot), nil
}

// mountOnce performs a single automount attempt for fullName. Callers
// serialize through the singleflight group.
func (c *ControlDir) mountOnce(ctx context.Context, fs *catalog.Filesystem, component, fullName string) (*MountedSnapshot, error) {
	objsetID, err := c.catalog.ResolveSnapshotID(ctx, fs.Dataset, component)
	if err != nil {
		if catalog.IsNotFound(err) {
			return nil, NotFound(fullName)
		}
		return nil, Unavailable(fullName, "snapshot resolution failed: "+err.Error())
	}

	path := filepath.Join(fs.Mountpoint, c.directoryName, component)
	handle := &MountedSnapshot{
		Name:     fullName,
		Path:     path,
		Pool:     fs.Pool,
		ObjsetID: objsetID,
	}

	// Already mounted: refresh nothing, just re-arm nothing. The entry
	// keeps its pending expiry; re-arming belongs to ScheduleUnmount.
	if c.registry.isMounted(fullName) {
		return handle, nil
	}

	err = c.mounter.Mount(ctx, fullName, path, mounter.Options{
		DenySetuid: c.denySetuid.Load(),
	})
	if errors.Is(err, mounter.ErrBusy) {
		// Someone else mounted it first. If the teardown hook has not
		// registered it with us, still hand back a usable handle.
		c.metrics.RecordMount(metrics.ResultBusy)
		logger.Debug("Snapshot %s already mounted at %s", fullName, path)
		return handle, nil
	}
	if err != nil {
		c.metrics.RecordMount(metrics.ResultError)
		logger.Error("Failed to mount snapshot %s at %s: %v", fullName, path, err)
		return nil, Unavailable(fullName, "mount failed: "+err.Error())
	}

	se := newSnapEntry(fullName, path, fs.Pool, objsetID)
	c.registry.add(se)

	c.delayUnmount(se, c.expireDelay())

	c.metrics.RecordMount(metrics.ResultOK)
	c.metrics.SetMountedSnapshots(c.registry.count())
	logger.Info("Mounted snapshot %s at %s (objset %d)", fullName, path, objsetID)
	return handle, nil
}

// UnmountSnapshot unmounts an automounted snapshot by full name,
// forcibly when force is set. Returns ErrNotFound if the snapshot is
// not automounted and ErrBusy if the helper could not unmount it.
//
// Success does not remove the registry entry: removal happens when the
// filesystem teardown reaches NotifyUnmounted.
func (c *ControlDir) UnmountSnapshot(ctx context.Context, fullName string, force bool) error {
	se, ok := c.registry.findByName(fullName)
	if !ok {
		return NotFound(fullName)
	}
	path := c.registry.pathOf(se)
	err := c.unmountHelper(ctx, fullName, path, force)
	se.release()
	if err != nil {
		return Busy(fullName)
	}
	return nil
}

// unmountHelper flushes export caches and invokes the unmount helper.
func (c *ControlDir) unmountHelper(ctx context.Context, fullName, path string, force bool) error {
	// A cached export can pin the mount; flush before trying.
	c.mounter.FlushExports(ctx)

	err := c.mounter.Unmount(ctx, path, force)
	if err != nil {
		c.metrics.RecordUnmount(metrics.ResultBusy)
		return err
	}
	c.metrics.RecordUnmount(metrics.ResultOK)
	logger.Info("Unmounted snapshot %s from %s", fullName, path)
	return nil
}

// NotifyUnmounted is the teardown hook: the filesystem layer calls it
// when a snapshot mount identified by (pool, objset id) is torn down,
// however the unmount was initiated. It removes the registry entry and
// disarms any pending expiry. Unknown ids are ignored.
func (c *ControlDir) NotifyUnmounted(pool *catalog.Pool, objsetID uint64) {
	se, ok := c.registry.removeByObjset(pool, objsetID)
	if !ok {
		return
	}
	c.cancelUnmount(se)
	se.release()
	c.metrics.SetMountedSnapshots(c.registry.count())
}

// IsMounted reports whether the named snapshot is currently
// automounted.
func (c *ControlDir) IsMounted(fullName string) bool {
	return c.registry.isMounted(fullName)
}

// MountedSnapshots returns the live automounts sorted by name.
func (c *ControlDir) MountedSnapshots() []*MountedSnapshot {
	entries := c.registry.entries()
	out := make([]*MountedSnapshot, 0, len(entries))
	for _, se := range entries {
		out = append(out, &MountedSnapshot{
			Name:     c.registry.nameOf(se),
			Path:     c.registry.pathOf(se),
			Pool:     se.pool,
			ObjsetID: se.objsetID,
		})
		se.release()
	}
	return out
}

// Mkdir creates a snapshot named component and mounts it, so creating a
// directory inside the snapshot directory behaves like taking a
// snapshot. Requires admin mutations to be enabled.
func (c *ControlDir) Mkdir(ctx context.Context, fs *catalog.Filesystem, component string) (*MountedSnapshot, error) {
	if !c.adminEnabled.Load() {
		return nil, PermissionDenied("mkdir")
	}
	if err := catalog.ComponentNameCheck(component); err != nil {
		return nil, InvalidName(component)
	}

	if _, err := c.catalog.CreateSnapshot(ctx, fs.Dataset, component); err != nil {
		if catalog.IsAlreadyExists(err) {
			return nil, &Error{Code: ErrAlreadyExists, Message: "snapshot already exists", Name: component}
		}
		if catalog.IsNotFound(err) {
			return nil, NotFound(fs.Dataset)
		}
		return nil, Unavailable(component, "snapshot creation failed: "+err.Error())
	}

	return c.Lookup(ctx, fs, component)
}

// Rmdir destroys the snapshot named component, force-unmounting it
// first if it is automounted. Requires admin mutations to be enabled.
func (c *ControlDir) Rmdir(ctx context.Context, fs *catalog.Filesystem, component string) error {
	if !c.adminEnabled.Load() {
		return PermissionDenied("rmdir")
	}
	fullName, err := catalog.SnapshotName(fs.Dataset, component)
	if err != nil {
		return InvalidName(component)
	}

	// The snapshot must be unmounted before it can be destroyed. Not
	// being mounted at all is fine.
	if err := c.UnmountSnapshot(ctx, fullName, true); err != nil && !IsNotFound(err) {
		return err
	}

	if err := c.catalog.DestroySnapshot(ctx, fullName); err != nil {
		if catalog.IsNotFound(err) {
			return NotFound(fullName)
		}
		return Unavailable(fullName, "snapshot destroy failed: "+err.Error())
	}
	return nil
}

// Rename renames the snapshot oldComponent to newComponent. A mounted
// snapshot keeps its automount entry, which follows the name change
// atomically with respect to expiry and lookups. Renaming a snapshot to
// its own name is a no-op. Requires admin mutations to be enabled.
func (c *ControlDir) Rename(ctx context.Context, fs *catalog.Filesystem, oldComponent, newComponent string) error {
	if !c.adminEnabled.Load() {
		return PermissionDenied("rename")
	}
	oldName, err := catalog.SnapshotName(fs.Dataset, oldComponent)
	if err != nil {
		return InvalidName(oldComponent)
	}
	newName, err := catalog.SnapshotName(fs.Dataset, newComponent)
	if err != nil {
		return InvalidName(newComponent)
	}
	if oldComponent == newComponent {
		return nil
	}

	err = c.registry.renameWith(oldName, newName, func() error {
		return c.catalog.RenameSnapshot(ctx, fs.Dataset, oldComponent, newComponent)
	})
	if err != nil {
		if catalog.IsNotFound(err) {
			return NotFound(oldName)
		}
		if catalog.IsAlreadyExists(err) {
			return &Error{Code: ErrAlreadyExists, Message: "snapshot already exists", Name: newName}
		}
		return Unavailable(oldName, "snapshot rename failed: "+err.Error())
	}
	return nil
}

// Close tears the subsystem down: every live automount is
// force-unmounted and its entry dropped, pending expiries are
// cancelled, and the task queue is stopped. The catalog is not closed;
// the caller owns it.
func (c *ControlDir) Close(ctx context.Context) error {
	entries := c.registry.removeAll()
	for _, se := range entries {
		c.cancelUnmount(se)
		name := se.name
		if err := c.unmountHelper(ctx, name, se.path, true); err != nil {
			logger.Warn("Failed to unmount snapshot %s during shutdown: %v", name, err)
		}
		se.release()
	}
	c.metrics.SetMountedSnapshots(0)

	c.tasks.Stop()
	return nil
}

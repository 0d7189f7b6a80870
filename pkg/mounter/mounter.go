// Package mounter defines the external mount/unmount port used by the
// control directory, plus the default implementation that shells out to
// the system mount and umount helpers.
//
// The port exists so the orchestrator's retry and race handling can be
// exercised in tests without performing real OS mounts.
package mounter

import (
	"context"
	"errors"
)

// ErrBusy indicates the external helper reported the filesystem busy
// (or already mounted). The mount path treats it as a benign race; the
// unmount path reports it to the caller, who retries later.
var ErrBusy = errors.New("mount helper reported busy")

// Options control how a snapshot automount is performed.
type Options struct {
	// DenySetuid mounts the snapshot nosuid
	DenySetuid bool
}

// Mounter performs the OS-level mount and unmount of snapshot
// filesystems.
//
// Implementations must be safe for concurrent use. All errors other
// than ErrBusy are treated by callers as "cannot present as directory".
type Mounter interface {
	// Mount mounts the named snapshot at path.
	Mount(ctx context.Context, fullName, path string, opts Options) error

	// Unmount unmounts the filesystem at path, forcibly when force is
	// set. A non-zero helper exit is normalized to ErrBusy: the helper
	// gives no reliable way to distinguish failure causes.
	Unmount(ctx context.Context, path string, force bool) error

	// FlushExports flushes external caches (NFS export tables) that may
	// pin a mount. Best effort; failures are not reported.
	FlushExports(ctx context.Context)
}

// Package catalog defines the snapshot catalog: the authority on which
// pools, datasets, and snapshots exist, and on the immutable numeric
// objset id assigned to each snapshot.
//
// The catalog is a collaborator of the control directory (pkg/ctldir):
// the control directory asks it to resolve names to objset ids and to
// create, destroy, and rename snapshots, but never stores mount state
// in it. Mount state is ephemeral and lives in the control directory's
// own registry.
//
// Two implementations are provided:
//   - memory: in-memory catalog for tests and ephemeral deployments
//   - badger: BadgerDB-backed catalog that persists across restarts
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Pool identifies a storage pool.
//
// Pools are compared by identity: a Catalog implementation must return
// the same *Pool pointer for the same pool for the lifetime of the
// process. The GUID exists for logging and persistence, not for
// equality checks on the hot path.
type Pool struct {
	// Name is the pool name (e.g., "tank")
	Name string

	// GUID is the stable pool identifier
	GUID uuid.UUID
}

// Filesystem describes a mounted dataset (a "head" filesystem).
//
// The control directory uses the recorded mountpoint to compute the
// automount path for snapshots of this dataset.
type Filesystem struct {
	// Pool is the owning pool
	Pool *Pool

	// Dataset is the full dataset name (e.g., "tank/data")
	Dataset string

	// Mountpoint is the absolute path the dataset is mounted at
	Mountpoint string

	// ObjsetID is the dataset's objset id, unique within the pool
	ObjsetID uint64
}

// Snapshot describes one snapshot of a dataset.
type Snapshot struct {
	// Dataset is the full dataset name the snapshot belongs to
	Dataset string

	// Name is the snapshot component name (the part after '@')
	Name string

	// ObjsetID is the snapshot's objset id, unique within the pool
	ObjsetID uint64

	// CreatedAt is the snapshot creation time
	CreatedAt time.Time
}

// FullName returns the dataset-qualified snapshot name
// ("tank/data@monday").
func (s *Snapshot) FullName() string {
	return s.Dataset + "@" + s.Name
}

// Catalog is the snapshot/dataset store consumed by the control
// directory.
//
// All methods are safe for concurrent use. Name arguments are expected
// to have passed ComponentNameCheck where applicable; implementations
// may re-validate.
type Catalog interface {
	// CreateDataset registers a dataset under the named pool, creating
	// the pool on first use. Returns ErrAlreadyExists if the dataset is
	// already registered.
	CreateDataset(ctx context.Context, pool, dataset, mountpoint string) (*Filesystem, error)

	// LookupDataset returns the filesystem record for a dataset.
	// Returns ErrNotFound if the dataset is not registered.
	LookupDataset(ctx context.Context, dataset string) (*Filesystem, error)

	// ResolveSnapshotID resolves a snapshot component name under a
	// dataset to its objset id. Returns ErrNotFound when no such
	// snapshot exists.
	ResolveSnapshotID(ctx context.Context, dataset, name string) (uint64, error)

	// CreateSnapshot creates a snapshot of the dataset. Returns
	// ErrAlreadyExists if a snapshot with the same name exists and
	// ErrNotFound if the dataset is not registered.
	CreateSnapshot(ctx context.Context, dataset, name string) (*Snapshot, error)

	// DestroySnapshot destroys a snapshot by its full
	// "dataset@name" form. Returns ErrInvalidName when the name is
	// malformed and ErrNotFound when absent.
	DestroySnapshot(ctx context.Context, fullName string) error

	// RenameSnapshot renames a snapshot of the dataset. Returns
	// ErrNotFound when oldName is absent and ErrAlreadyExists when
	// newName is taken.
	RenameSnapshot(ctx context.Context, dataset, oldName, newName string) error

	// ListSnapshots returns all snapshots of the dataset sorted by
	// name. Returns ErrNotFound if the dataset is not registered.
	ListSnapshots(ctx context.Context, dataset string) ([]*Snapshot, error)

	// Close releases catalog resources.
	Close() error
}

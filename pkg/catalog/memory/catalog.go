// Package memory provides an in-memory catalog implementation.
//
// The memory catalog keeps all pools, datasets, and snapshots in maps
// guarded by a single RWMutex. It is the default backend for tests and
// for deployments that rebuild their dataset view at startup.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/snapfs/pkg/catalog"
)

// Catalog implements catalog.Catalog with in-memory state.
//
// Thread Safety: Safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	pools    map[string]*catalog.Pool       // pool name -> pool
	datasets map[string]*catalog.Filesystem // dataset name -> filesystem
	snaps    map[string]*catalog.Snapshot   // full "dataset@name" -> snapshot
	nextID   uint64                         // next objset id
}

// New creates an empty in-memory catalog.
func New() *Catalog {
	return &Catalog{
		pools:    make(map[string]*catalog.Pool),
		datasets: make(map[string]*catalog.Filesystem),
		snaps:    make(map[string]*catalog.Snapshot),
		nextID:   1,
	}
}

// CreateDataset registers a dataset, creating its pool on first use.
func (c *Catalog) CreateDataset(ctx context.Context, pool, dataset, mountpoint string) (*catalog.Filesystem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.datasets[dataset]; exists {
		return nil, catalog.AlreadyExists(dataset)
	}

	p, exists := c.pools[pool]
	if !exists {
		p = &catalog.Pool{Name: pool, GUID: uuid.New()}
		c.pools[pool] = p
	}

	fs := &catalog.Filesystem{
		Pool:       p,
		Dataset:    dataset,
		Mountpoint: mountpoint,
		ObjsetID:   c.allocID(),
	}
	c.datasets[dataset] = fs
	return fs, nil
}

// LookupDataset returns the filesystem record for a dataset.
func (c *Catalog) LookupDataset(ctx context.Context, dataset string) (*catalog.Filesystem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fs, exists := c.datasets[dataset]
	if !exists {
		return nil, catalog.NotFound(dataset)
	}
	return fs, nil
}

// ResolveSnapshotID resolves a snapshot component name to its objset id.
func (c *Catalog) ResolveSnapshotID(ctx context.Context, dataset, name string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, exists := c.snaps[dataset+"@"+name]
	if !exists {
		return 0, catalog.NotFound(dataset + "@" + name)
	}
	return snap.ObjsetID, nil
}

// CreateSnapshot creates a snapshot of the dataset.
func (c *Catalog) CreateSnapshot(ctx context.Context, dataset, name string) (*catalog.Snapshot, error) {
	if err := catalog.ComponentNameCheck(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.datasets[dataset]; !exists {
		return nil, catalog.NotFound(dataset)
	}

	full := dataset + "@" + name
	if _, exists := c.snaps[full]; exists {
		return nil, catalog.AlreadyExists(full)
	}

	snap := &catalog.Snapshot{
		Dataset:   dataset,
		Name:      name,
		ObjsetID:  c.allocID(),
		CreatedAt: time.Now(),
	}
	c.snaps[full] = snap
	return snap, nil
}

// DestroySnapshot destroys a snapshot by its full name.
func (c *Catalog) DestroySnapshot(ctx context.Context, fullName string) error {
	if _, _, err := catalog.SplitSnapshotName(fullName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.snaps[fullName]; !exists {
		return catalog.NotFound(fullName)
	}
	delete(c.snaps, fullName)
	return nil
}

// RenameSnapshot renames a snapshot of the dataset. The objset id and
// creation time are preserved.
func (c *Catalog) RenameSnapshot(ctx context.Context, dataset, oldName, newName string) error {
	if err := catalog.ComponentNameCheck(newName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldFull := dataset + "@" + oldName
	snap, exists := c.snaps[oldFull]
	if !exists {
		return catalog.NotFound(oldFull)
	}

	newFull := dataset + "@" + newName
	if _, exists := c.snaps[newFull]; exists {
		return catalog.AlreadyExists(newFull)
	}

	delete(c.snaps, oldFull)
	renamed := *snap
	renamed.Name = newName
	c.snaps[newFull] = &renamed
	return nil
}

// ListSnapshots returns all snapshots of the dataset sorted by name.
func (c *Catalog) ListSnapshots(ctx context.Context, dataset string) ([]*catalog.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, exists := c.datasets[dataset]; !exists {
		return nil, catalog.NotFound(dataset)
	}

	var snaps []*catalog.Snapshot
	for _, snap := range c.snaps {
		if snap.Dataset == dataset {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps, nil
}

// Close is a no-op for the memory catalog.
func (c *Catalog) Close() error {
	return nil
}

// allocID hands out the next objset id. Caller must hold c.mu.
func (c *Catalog) allocID() uint64 {
	id := c.nextID
	c.nextID++
	return id
}

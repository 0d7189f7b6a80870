// Package badger provides a BadgerDB-backed catalog implementation.
//
// Unlike the in-memory catalog this backend persists pools, datasets,
// and snapshots (and the objset id sequence) across restarts, so
// snapshot objset ids remain stable. Note this persists the catalog
// only: automount state is always rebuilt on demand and is never
// written here.
//
// Key schema:
//
//	pool/<name>           -> pool GUID (16 bytes)
//	ds/<dataset>          -> JSON dataset record
//	snap/<dataset>@<name> -> JSON snapshot record
//
// Objset ids come from a Badger sequence so they are never reused.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/snapfs/pkg/catalog"
)

const (
	poolPrefix = "pool/"
	dsPrefix   = "ds/"
	snapPrefix = "snap/"
	seqKey     = "seq/objsetid"

	// seqBandwidth is how many ids a sequence lease reserves at once
	seqBandwidth = 64
)

// Catalog implements catalog.Catalog on top of BadgerDB.
//
// Thread Safety: Badger transactions provide isolation for the stored
// records; the pools map (needed for pointer-identity pool comparison)
// is guarded by its own mutex.
type Catalog struct {
	db  *badger.DB
	seq *badger.Sequence

	// poolsMu guards pools. Pool records are cached here so the same
	// *catalog.Pool pointer is returned for a pool for the process
	// lifetime, which the registry relies on for identity comparison.
	poolsMu sync.Mutex
	pools   map[string]*catalog.Pool
}

// Config contains configuration for the Badger catalog.
type Config struct {
	// Dir is the directory Badger stores its data in
	Dir string `mapstructure:"dir"`

	// InMemory runs Badger without touching disk (testing only)
	InMemory bool `mapstructure:"in_memory"`
}

type datasetRecord struct {
	Pool       string `json:"pool"`
	Mountpoint string `json:"mountpoint"`
	ObjsetID   uint64 `json:"objset_id"`
}

type snapshotRecord struct {
	ObjsetID  uint64    `json:"objset_id"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens (or creates) a Badger-backed catalog.
func New(cfg Config) (*Catalog, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalog: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open objset id sequence: %w", err)
	}

	return &Catalog{
		db:    db,
		seq:   seq,
		pools: make(map[string]*catalog.Pool),
	}, nil
}

// CreateDataset registers a dataset, creating its pool on first use.
func (c *Catalog) CreateDataset(ctx context.Context, pool, dataset, mountpoint string) (*catalog.Filesystem, error) {
	p, err := c.getOrCreatePool(pool)
	if err != nil {
		return nil, err
	}

	id, err := c.nextID()
	if err != nil {
		return nil, err
	}

	rec := datasetRecord{Pool: pool, Mountpoint: mountpoint, ObjsetID: id}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, &catalog.Error{Code: catalog.ErrIOError, Message: err.Error(), Name: dataset}
	}

	key := []byte(dsPrefix + dataset)
	err = c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return catalog.AlreadyExists(dataset)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return nil, wrapErr(err, dataset)
	}

	return &catalog.Filesystem{
		Pool:       p,
		Dataset:    dataset,
		Mountpoint: mountpoint,
		ObjsetID:   id,
	}, nil
}

// LookupDataset returns the filesystem record for a dataset.
func (c *Catalog) LookupDataset(ctx context.Context, dataset string) (*catalog.Filesystem, error) {
	var rec datasetRecord
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dsPrefix + dataset))
		if err == badger.ErrKeyNotFound {
			return catalog.NotFound(dataset)
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, wrapErr(err, dataset)
	}

	p, err := c.getOrCreatePool(rec.Pool)
	if err != nil {
		return nil, err
	}

	return &catalog.Filesystem{
		Pool:       p,
		Dataset:    dataset,
		Mountpoint: rec.Mountpoint,
		ObjsetID:   rec.ObjsetID,
	}, nil
}

// ResolveSnapshotID resolves a snapshot component name to its objset id.
func (c *Catalog) ResolveSnapshotID(ctx context.Context, dataset, name string) (uint64, error) {
	full := dataset + "@" + name
	var rec snapshotRecord
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapPrefix + full))
		if err == badger.ErrKeyNotFound {
			return catalog.NotFound(full)
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return 0, wrapErr(err, full)
	}
	return rec.ObjsetID, nil
}

// CreateSnapshot creates a snapshot of the dataset.
func (c *Catalog) CreateSnapshot(ctx context.Context, dataset, name string) (*catalog.Snapshot, error) {
	if err := catalog.ComponentNameCheck(name); err != nil {
		return nil, err
	}

	id, err := c.nextID()
	if err != nil {
		return nil, err
	}

	snap := &catalog.Snapshot{
		Dataset:   dataset,
		Name:      name,
		ObjsetID:  id,
		CreatedAt: time.Now(),
	}
	value, err := json.Marshal(snapshotRecord{ObjsetID: snap.ObjsetID, CreatedAt: snap.CreatedAt})
	if err != nil {
		return nil, &catalog.Error{Code: catalog.ErrIOError, Message: err.Error(), Name: snap.FullName()}
	}

	full := snap.FullName()
	err = c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(dsPrefix + dataset)); err == badger.ErrKeyNotFound {
			return catalog.NotFound(dataset)
		} else if err != nil {
			return err
		}
		key := []byte(snapPrefix + full)
		if _, err := txn.Get(key); err == nil {
			return catalog.AlreadyExists(full)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return nil, wrapErr(err, full)
	}
	return snap, nil
}

// DestroySnapshot destroys a snapshot by its full name.
func (c *Catalog) DestroySnapshot(ctx context.Context, fullName string) error {
	if _, _, err := catalog.SplitSnapshotName(fullName); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		key := []byte(snapPrefix + fullName)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return catalog.NotFound(fullName)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return wrapErr(err, fullName)
}

// RenameSnapshot renames a snapshot of the dataset in one transaction.
func (c *Catalog) RenameSnapshot(ctx context.Context, dataset, oldName, newName string) error {
	if err := catalog.ComponentNameCheck(newName); err != nil {
		return err
	}

	oldFull := dataset + "@" + oldName
	newFull := dataset + "@" + newName
	err := c.db.Update(func(txn *badger.Txn) error {
		oldKey := []byte(snapPrefix + oldFull)
		item, err := txn.Get(oldKey)
		if err == badger.ErrKeyNotFound {
			return catalog.NotFound(oldFull)
		} else if err != nil {
			return err
		}

		newKey := []byte(snapPrefix + newFull)
		if _, err := txn.Get(newKey); err == nil {
			return catalog.AlreadyExists(newFull)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(oldKey); err != nil {
			return err
		}
		return txn.Set(newKey, value)
	})
	return wrapErr(err, oldFull)
}

// ListSnapshots returns all snapshots of the dataset sorted by name.
func (c *Catalog) ListSnapshots(ctx context.Context, dataset string) ([]*catalog.Snapshot, error) {
	var snaps []*catalog.Snapshot
	prefix := []byte(snapPrefix + dataset + "@")

	err := c.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(dsPrefix + dataset)); err == badger.ErrKeyNotFound {
			return catalog.NotFound(dataset)
		} else if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(prefix))
			var rec snapshotRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			snaps = append(snaps, &catalog.Snapshot{
				Dataset:   dataset,
				Name:      name,
				ObjsetID:  rec.ObjsetID,
				CreatedAt: rec.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, dataset)
	}
	// Badger iterates keys in byte order, which is already the name order.
	return snaps, nil
}

// Close releases the id sequence and closes the database.
func (c *Catalog) Close() error {
	if err := c.seq.Release(); err != nil {
		_ = c.db.Close()
		return fmt.Errorf("failed to release objset id sequence: %w", err)
	}
	return c.db.Close()
}

// getOrCreatePool returns the process-stable *Pool for a pool name,
// loading or persisting its GUID as needed.
func (c *Catalog) getOrCreatePool(name string) (*catalog.Pool, error) {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()

	if p, ok := c.pools[name]; ok {
		return p, nil
	}

	key := []byte(poolPrefix + name)
	var guid uuid.UUID
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			return item.Value(func(val []byte) error {
				parsed, err := uuid.FromBytes(val)
				if err != nil {
					return err
				}
				guid = parsed
				return nil
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		guid = uuid.New()
		return txn.Set(key, guid[:])
	})
	if err != nil {
		return nil, wrapErr(err, name)
	}

	p := &catalog.Pool{Name: name, GUID: guid}
	c.pools[name] = p
	return p, nil
}

// nextID allocates the next objset id. Ids start at 1; the sequence's
// first value (0) is skipped because 0 is reserved as "no objset".
func (c *Catalog) nextID() (uint64, error) {
	for {
		id, err := c.seq.Next()
		if err != nil {
			return 0, &catalog.Error{Code: catalog.ErrIOError, Message: "objset id allocation failed: " + err.Error()}
		}
		if id != 0 {
			return id, nil
		}
	}
}

// wrapErr passes catalog errors through and tags everything else as an
// IO error.
func wrapErr(err error, name string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*catalog.Error); ok {
		return err
	}
	return &catalog.Error{Code: catalog.ErrIOError, Message: err.Error(), Name: name}
}

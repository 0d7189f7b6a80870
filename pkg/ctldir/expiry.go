package ctldir

import (
	"context"
	"time"

	"github.com/marmos91/snapfs/internal/logger"
	"github.com/marmos91/snapfs/pkg/catalog"
	"github.com/marmos91/snapfs/pkg/schedule"
)

// delayUnmount arms a delayed unmount for the entry. No-op if delay is
// not positive or an unmount is already pending. The pending task holds
// a reference on the entry until it fires or is cancelled.
func (c *ControlDir) delayUnmount(se *snapEntry, delay time.Duration) {
	if delay <= 0 {
		return
	}

	se.hold()

	se.taskMu.Lock()
	if se.taskID != schedule.TaskNone {
		se.taskMu.Unlock()
		se.release()
		return
	}

	id := c.tasks.Dispatch(delay, func() {
		c.expireEntry(se)
	})
	if id == schedule.TaskNone {
		// Queue stopped: teardown in progress, nothing to arm.
		se.taskMu.Unlock()
		se.release()
		return
	}
	se.taskID = id
	se.taskMu.Unlock()
}

// cancelUnmount disarms a pending delayed unmount, if any. A callback
// that is already running is left to finish; it drops its own
// reference.
func (c *ControlDir) cancelUnmount(se *snapEntry) {
	se.taskMu.Lock()
	id := se.taskID
	se.taskID = schedule.TaskNone
	se.taskMu.Unlock()

	if id == schedule.TaskNone {
		return
	}
	if c.tasks.Cancel(id) == schedule.CancelOK {
		// Drop the reference the pending task was holding.
		se.release()
	}
}

// expireEntry is the delayed-unmount callback. It attempts a
// non-forced unmount and, if the snapshot is still mounted afterwards
// (the unmount was busy), arms another full expiry interval.
//
// The entry carries the reference taken by delayUnmount; it is released
// here. The re-arm deliberately looks the entry up again by
// (pool, objset id): if the unmount succeeded and the teardown hook
// already removed the entry, there is nothing left to re-arm.
func (c *ControlDir) expireEntry(se *snapEntry) {
	pool := se.pool
	objsetID := se.objsetID

	c.metrics.RecordExpiry()

	se.taskMu.Lock()
	se.taskID = schedule.TaskNone
	se.taskMu.Unlock()

	// Expiry may have been disabled since this task was armed.
	if c.expireSeconds.Load() <= 0 {
		se.release()
		return
	}

	name := c.registry.nameOf(se)
	path := c.registry.pathOf(se)
	if err := c.unmountHelper(context.Background(), name, path, false); err != nil {
		logger.Debug("Snapshot %s still busy at expiry: %v", name, err)
	}
	se.release()

	if se2, ok := c.registry.findByObjset(pool, objsetID); ok {
		c.metrics.RecordExpiryReschedule()
		c.delayUnmount(se2, c.expireDelay())
		se2.release()
	}
}

// ScheduleUnmount re-arms the delayed unmount for a mounted snapshot
// identified by pool and objset id, replacing any pending one. Returns
// ErrNotFound if no such snapshot is automounted.
func (c *ControlDir) ScheduleUnmount(pool *catalog.Pool, objsetID uint64, delay time.Duration) error {
	se, ok := c.registry.findByObjset(pool, objsetID)
	if !ok {
		return NotFound("")
	}
	c.cancelUnmount(se)
	c.delayUnmount(se, delay)
	se.release()
	return nil
}

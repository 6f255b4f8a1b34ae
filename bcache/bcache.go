// bcache mirrors on-disk blocks in memory and tracks their dirtiness.
//
// Every filesystem structure (bitmap words, inode slots, indirect tables,
// data blocks) is accessed through a Cache entry, so all holders of one
// block id observe a single consistent buffer. Writes stay in memory until
// Sync or eviction; SyncAll is the durability point after each mutating
// filesystem operation.
package bcache

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvcore/disk"
	"github.com/rvos-dev/rvcore/util"
)

// CacheSize bounds the number of resident block buffers.
const CacheSize = 16

// Cache is the in-memory mirror of one on-disk block.
type Cache struct {
	mu       sync.Mutex
	blkno    uint64
	blk      disk.Block
	dev      disk.Device
	modified bool

	// pins counts outstanding GetBlock handles; guarded by the manager
	// lock, not mu. A pinned entry is never evicted.
	pins int
	mgr  *Manager
}

// Read interprets the sz bytes at off as one disk object and passes them to
// f. The view is only valid for the duration of the call.
func (c *Cache) Read(off uint64, sz uint64, f func(b []byte)) {
	if off+sz > disk.BlockSize {
		panic(fmt.Sprintf("bcache: read [%d,%d) outside block", off, off+sz))
	}
	c.mu.Lock()
	f(c.blk[off : off+sz])
	c.mu.Unlock()
}

// Modify is Read with write intent: the entry is marked dirty.
func (c *Cache) Modify(off uint64, sz uint64, f func(b []byte)) {
	if off+sz > disk.BlockSize {
		panic(fmt.Sprintf("bcache: modify [%d,%d) outside block", off, off+sz))
	}
	c.mu.Lock()
	c.modified = true
	f(c.blk[off : off+sz])
	c.mu.Unlock()
}

// Sync writes the buffer back iff it has uncommitted modifications.
func (c *Cache) Sync() {
	c.mu.Lock()
	if c.modified {
		c.modified = false
		c.dev.WriteBlock(c.blkno, c.blk)
	}
	c.mu.Unlock()
}

// Release returns the handle obtained from GetBlock. The caller must not
// touch the entry afterwards.
func (c *Cache) Release() {
	c.mgr.mu.Lock()
	if c.pins <= 0 {
		panic("bcache: release of unpinned entry")
	}
	c.pins--
	c.mgr.mu.Unlock()
}

// Manager is a bounded pool of Cache entries keyed by block id.
type Manager struct {
	mu      sync.Mutex
	dev     disk.Device
	entries []*Cache // arrival order; eviction scans from the front
}

func MkManager(dev disk.Device) *Manager {
	return &Manager{dev: dev}
}

// Device exposes the underlying block device (mkfs needs it to size
// regions; tests use it to bypass the cache).
func (m *Manager) Device() disk.Device {
	return m.dev
}

// GetBlock returns the pinned cache entry for blkno, reading the block from
// the device on first access. When the pool is full the first unpinned entry
// is written back (if dirty) and evicted; if every entry is pinned there are
// more concurrent block holders than the pool can represent, which is a
// logic error and fatal.
func (m *Manager) GetBlock(blkno uint64) *Cache {
	m.mu.Lock()
	for _, c := range m.entries {
		if c.blkno == blkno {
			c.pins++
			m.mu.Unlock()
			return c
		}
	}
	if len(m.entries) == CacheSize {
		victim := -1
		for i, c := range m.entries {
			if c.pins == 0 {
				victim = i
				break
			}
		}
		if victim < 0 {
			panic("bcache: run out of block cache entries")
		}
		evicted := m.entries[victim]
		m.entries = append(m.entries[:victim], m.entries[victim+1:]...)
		util.DPrintf(10, "bcache: evict %d\n", evicted.blkno)
		// pins == 0 means nobody holds the entry; syncing under the
		// manager lock cannot deadlock.
		evicted.Sync()
	}
	c := &Cache{
		blkno: blkno,
		blk:   disk.NewBlock(),
		dev:   m.dev,
		pins:  1,
		mgr:   m,
	}
	c.dev.ReadBlock(blkno, c.blk)
	m.entries = append(m.entries, c)
	m.mu.Unlock()
	return c
}

// Read runs f over the object at (blkno, off) and releases the entry.
//
// f must not touch blkno through the manager again; entry locks do not
// nest. Other block ids are fine.
func (m *Manager) Read(blkno uint64, off uint64, sz uint64, f func(b []byte)) {
	c := m.GetBlock(blkno)
	c.Read(off, sz, f)
	c.Release()
}

// Modify runs f over the object at (blkno, off) with write intent and
// releases the entry.
func (m *Manager) Modify(blkno uint64, off uint64, sz uint64, f func(b []byte)) {
	c := m.GetBlock(blkno)
	c.Modify(off, sz, f)
	c.Release()
}

// SyncAll writes every dirty entry back to the device. There is no journal;
// each user-visible filesystem mutation calls this before returning.
func (m *Manager) SyncAll() {
	m.mu.Lock()
	entries := make([]*Cache, len(m.entries))
	copy(entries, m.entries)
	m.mu.Unlock()
	for _, c := range entries {
		c.Sync()
	}
	m.dev.Barrier()
}

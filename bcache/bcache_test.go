package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvos-dev/rvcore/disk"
)

func TestModifyThenRead(t *testing.T) {
	assert := assert.New(t)
	m := MkManager(disk.NewMemDisk(32))

	m.Modify(3, 10, 4, func(b []byte) {
		copy(b, []byte{1, 2, 3, 4})
	})
	// a separate GetBlock for the same id sees the uncommitted write
	m.Read(3, 10, 4, func(b []byte) {
		assert.Equal([]byte{1, 2, 3, 4}, b)
	})
}

func TestWriteBackOnSyncAll(t *testing.T) {
	assert := assert.New(t)
	dev := disk.NewMemDisk(32)
	m := MkManager(dev)

	m.Modify(7, 0, 2, func(b []byte) {
		b[0] = 0xaa
		b[1] = 0xbb
	})

	// not yet durable
	blk := disk.NewBlock()
	dev.ReadBlock(7, blk)
	assert.Equal(byte(0), blk[0])

	m.SyncAll()
	dev.ReadBlock(7, blk)
	assert.Equal(byte(0xaa), blk[0])
	assert.Equal(byte(0xbb), blk[1])
}

func TestEvictionWritesBack(t *testing.T) {
	assert := assert.New(t)
	dev := disk.NewMemDisk(64)
	m := MkManager(dev)

	m.Modify(0, 0, 1, func(b []byte) { b[0] = 0x5a })

	// touch enough other blocks to force block 0 out of the pool
	for bn := uint64(1); bn <= CacheSize; bn++ {
		m.Read(bn, 0, 1, func(b []byte) {})
	}

	blk := disk.NewBlock()
	dev.ReadBlock(0, blk)
	assert.Equal(byte(0x5a), blk[0], "dirty block written back on eviction")
}

func TestSingleEntryPerBlock(t *testing.T) {
	assert := assert.New(t)
	m := MkManager(disk.NewMemDisk(8))

	a := m.GetBlock(5)
	b := m.GetBlock(5)
	assert.True(a == b, "one cache entry per block id")
	a.Release()
	b.Release()
}

func TestPinnedEntrySurvivesPressure(t *testing.T) {
	assert := assert.New(t)
	m := MkManager(disk.NewMemDisk(64))

	c := m.GetBlock(0)
	c.Modify(0, 1, func(b []byte) { b[0] = 9 })
	for bn := uint64(1); bn <= CacheSize; bn++ {
		m.Read(bn, 0, 1, func(b []byte) {})
	}
	// still the same entry, with the modification visible
	d := m.GetBlock(0)
	assert.True(c == d)
	d.Read(0, 1, func(b []byte) {
		assert.Equal(byte(9), b[0])
	})
	d.Release()
	c.Release()
}

func TestOutOfBoundsAccessPanics(t *testing.T) {
	m := MkManager(disk.NewMemDisk(8))
	assert.Panics(t, func() {
		m.Read(0, disk.BlockSize-2, 4, func(b []byte) {})
	})
}

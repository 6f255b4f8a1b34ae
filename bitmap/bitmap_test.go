package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/disk"
)

func mkCache(nblocks uint64) *bcache.Manager {
	return bcache.MkManager(disk.NewMemDisk(nblocks))
}

func TestAllocSequential(t *testing.T) {
	assert := assert.New(t)
	cache := mkCache(4)
	bm := New(0, 2)

	for i := uint64(0); i < 10; i++ {
		bit, ok := bm.Alloc(cache)
		assert.True(ok)
		assert.Equal(i, bit, "lowest clear bit first")
	}
}

func TestAllocDeallocRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cache := mkCache(4)
	bm := New(0, 1)

	bit, ok := bm.Alloc(cache)
	assert.True(ok)
	bm.Dealloc(cache, bit)

	// the bitmap block must be all-zero again
	cache.SyncAll()
	blk := disk.NewBlock()
	cache.Device().ReadBlock(0, blk)
	for _, b := range blk {
		assert.Equal(byte(0), b)
	}

	// the freed bit is handed out again
	bit2, ok := bm.Alloc(cache)
	assert.True(ok)
	assert.Equal(bit, bit2)
}

func TestExhaustion(t *testing.T) {
	assert := assert.New(t)
	cache := mkCache(4)
	bm := New(0, 1)

	assert.Equal(common.NBITBLOCK, bm.Maximum())
	for i := uint64(0); i < bm.Maximum(); i++ {
		_, ok := bm.Alloc(cache)
		assert.True(ok)
	}
	_, ok := bm.Alloc(cache)
	assert.False(ok, "a full bitmap must not allocate")
}

func TestMultiBlockSpill(t *testing.T) {
	assert := assert.New(t)
	cache := mkCache(4)
	bm := New(1, 2)

	for i := uint64(0); i < common.NBITBLOCK; i++ {
		_, ok := bm.Alloc(cache)
		assert.True(ok)
	}
	bit, ok := bm.Alloc(cache)
	assert.True(ok)
	assert.Equal(common.NBITBLOCK, bit, "allocation crosses into the second block")
}

func TestDoubleFreePanics(t *testing.T) {
	cache := mkCache(4)
	bm := New(0, 1)

	bit, _ := bm.Alloc(cache)
	bm.Dealloc(cache, bit)
	assert.Panics(t, func() { bm.Dealloc(cache, bit) })
}

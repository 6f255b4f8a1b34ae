package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/disk"
)

func testCache(nblocks uint64) *bcache.Manager {
	return bcache.MkManager(disk.NewMemDisk(nblocks))
}

func TestSuperBlockCodec(t *testing.T) {
	var sb SuperBlock
	sb.Initialize(4096, 1, 25, 1, 4068)
	assert.True(t, sb.IsValid())

	b := make([]byte, SuperBlockSize)
	sb.Encode(b)
	got := DecodeSuperBlock(b)
	if diff := cmp.Diff(sb, got); diff != "" {
		t.Errorf("superblock round trip (-want +got):\n%s", diff)
	}

	got.Magic = 0
	assert.False(t, got.IsValid())
}

func TestDirEntry(t *testing.T) {
	de := NewDirEntry("filea", 5)
	assert.Equal(t, "filea", de.Name())
	assert.Equal(t, common.Inum(5), de.InodeID())
	assert.False(t, de.IsEmpty())

	got := DecodeDirEntry(de.Bytes())
	assert.Equal(t, de.Name(), got.Name())
	assert.Equal(t, de.InodeID(), got.InodeID())

	empty := EmptyDirEntry()
	assert.True(t, empty.IsEmpty())

	// a 27-char name fills the field exactly
	long := "abcdefghijklmnopqrstuvwxyza"
	de = NewDirEntry(long, 1)
	assert.Equal(t, long, de.Name())
	assert.Panics(t, func() {
		NewDirEntry(long+"x", 1)
	})
}

func TestInodeCodec(t *testing.T) {
	var d DiskInode
	d.Initialize(DirInode)
	d.Size = 12345
	d.Direct[0] = 7
	d.Direct[common.NDIRECT-1] = 9
	d.Indirect1 = 77
	d.Indirect2 = 88
	d.Nlink = 3

	b := make([]byte, common.INODESZ)
	d.Encode(b)
	got := DecodeInode(b)
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("inode round trip (-want +got):\n%s", diff)
	}
	assert.True(t, got.IsDir())
	assert.False(t, got.IsFile())
}

func TestTotalBlocks(t *testing.T) {
	bs := uint32(common.BlockSize)

	assert.Equal(t, uint64(0), TotalBlocks(0))
	assert.Equal(t, uint64(1), TotalBlocks(1))
	assert.Equal(t, uint64(1), TotalBlocks(bs))
	assert.Equal(t, uint64(2), TotalBlocks(bs+1))

	// last all-direct size
	assert.Equal(t, uint64(common.NDIRECT), TotalBlocks(uint32(common.NDIRECT)*bs))
	// one block past the direct slots brings in the indirect1 table
	assert.Equal(t, uint64(common.NDIRECT)+2, TotalBlocks((uint32(common.NDIRECT)+1)*bs))
	// last size served by indirect1 alone
	assert.Equal(t, uint64(common.INDIRECT1BOUND)+1,
		TotalBlocks(uint32(common.INDIRECT1BOUND)*bs))
	// one more data block adds indirect2 plus its first indirect1 table
	assert.Equal(t, uint64(common.INDIRECT1BOUND)+1+3,
		TotalBlocks((uint32(common.INDIRECT1BOUND)+1)*bs))
}

func TestBlocksNumNeeded(t *testing.T) {
	var d DiskInode
	d.Initialize(FileInode)
	assert.Equal(t, uint64(1), d.BlocksNumNeeded(1))
	d.Size = uint32(common.BlockSize)
	assert.Equal(t, uint64(0), d.BlocksNumNeeded(uint32(common.BlockSize)))
	assert.Panics(t, func() {
		d.BlocksNumNeeded(0)
	})
}

// grow grows d to nblocks data blocks, handing it synthetic ids starting
// after the already-granted ones, and returns all ids granted so far.
func grow(t *testing.T, d *DiskInode, cache *bcache.Manager, nblocks uint64, granted []uint32) []uint32 {
	newSize := uint32(nblocks * common.BlockSize)
	need := d.BlocksNumNeeded(newSize)
	next := uint32(1 + len(granted))
	var ids []uint32
	for i := uint64(0); i < need; i++ {
		ids = append(ids, next+uint32(i))
	}
	d.IncreaseSize(newSize, ids, cache)
	return append(granted, ids...)
}

func TestIncreaseSizeAndClear(t *testing.T) {
	cache := testCache(300)
	var d DiskInode
	d.Initialize(FileInode)

	// grow in stages across both indirect boundaries
	granted := grow(t, &d, cache, 10, nil)
	granted = grow(t, &d, cache, common.NDIRECT+5, granted)
	granted = grow(t, &d, cache, 200, granted)
	assert.Equal(t, TotalBlocks(d.Size), uint64(len(granted)))

	// the direct slots got the first ids, in order
	for i := uint64(0); i < common.NDIRECT; i++ {
		assert.Equal(t, uint32(i+1), d.GetBlockID(i, cache))
	}
	// every data block resolves to a distinct granted id
	seen := make(map[uint32]bool)
	for i := uint64(0); i < 200; i++ {
		bid := d.GetBlockID(i, cache)
		assert.False(t, seen[bid], "block %d handed out twice", bid)
		assert.True(t, bid >= 1 && bid <= uint32(len(granted)))
		seen[bid] = true
	}

	// clear returns exactly the granted ids
	freed := d.ClearSize(cache)
	assert.Equal(t, len(granted), len(freed))
	freedSet := make(map[uint32]bool)
	for _, bid := range freed {
		assert.False(t, freedSet[bid], "block %d freed twice", bid)
		freedSet[bid] = true
	}
	for _, bid := range granted {
		assert.True(t, freedSet[bid], "block %d never freed", bid)
	}
	assert.Equal(t, uint32(0), d.Size)
	assert.Equal(t, uint64(0), d.DataBlocks())
}

func TestReadWriteAt(t *testing.T) {
	cache := testCache(300)
	var d DiskInode
	d.Initialize(FileInode)

	// spans direct, indirect1 and indirect2 blocks
	const nblocks = 160
	data := make([]byte, nblocks*common.BlockSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	grow(t, &d, cache, nblocks, nil)

	assert.Equal(t, uint64(len(data)), d.WriteAt(0, data, cache))
	back := make([]byte, len(data))
	assert.Equal(t, uint64(len(back)), d.ReadAt(0, back, cache))
	assert.Equal(t, data, back)

	// unaligned window crossing a block boundary
	win := make([]byte, 100)
	assert.Equal(t, uint64(100), d.ReadAt(common.BlockSize-50, win, cache))
	assert.Equal(t, data[common.BlockSize-50:common.BlockSize+50], win)

	// reads clamp at the size, writes past it are rejected
	assert.Equal(t, uint64(0), d.ReadAt(uint64(len(data)), win, cache))
	tail := make([]byte, 10)
	n := d.ReadAt(uint64(len(data))-5, tail, cache)
	assert.Equal(t, uint64(5), n)
	assert.Panics(t, func() {
		d.WriteAt(uint64(len(data))+1, []byte{1}, cache)
	})
}

package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/util"
)

type InodeType uint32

const (
	FileInode InodeType = 0
	DirInode  InodeType = 1
)

// DiskInode is the fixed 128-byte on-disk metadata record of one file or
// directory. The blocks reachable through Direct/Indirect1/Indirect2 are
// exactly ceil(Size/BlockSize); indirect2 entries point at indirect1
// tables.
//
// DiskInode values are decoded out of a cached block, mutated, and encoded
// back; they are never a long-lived cache of on-disk state.
type DiskInode struct {
	Size      uint32
	Direct    [common.NDIRECT]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      InodeType
	Nlink     uint32
}

// Initialize resets the inode for fresh use: zero length, no blocks, one
// link.
func (d *DiskInode) Initialize(t InodeType) {
	d.Size = 0
	for i := range d.Direct {
		d.Direct[i] = 0
	}
	d.Indirect1 = 0
	d.Indirect2 = 0
	d.Type = t
	d.Nlink = 1
}

func (d *DiskInode) IsDir() bool {
	return d.Type == DirInode
}

func (d *DiskInode) IsFile() bool {
	return d.Type == FileInode
}

func (d *DiskInode) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], d.Size)
	for i, bn := range d.Direct {
		binary.LittleEndian.PutUint32(b[4+i*4:], bn)
	}
	binary.LittleEndian.PutUint32(b[112:], d.Indirect1)
	binary.LittleEndian.PutUint32(b[116:], d.Indirect2)
	binary.LittleEndian.PutUint32(b[120:], uint32(d.Type))
	binary.LittleEndian.PutUint32(b[124:], d.Nlink)
}

func DecodeInode(b []byte) DiskInode {
	var d DiskInode
	d.Size = binary.LittleEndian.Uint32(b[0:])
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(b[4+i*4:])
	}
	d.Indirect1 = binary.LittleEndian.Uint32(b[112:])
	d.Indirect2 = binary.LittleEndian.Uint32(b[116:])
	d.Type = InodeType(binary.LittleEndian.Uint32(b[120:]))
	d.Nlink = binary.LittleEndian.Uint32(b[124:])
	return d
}

// indirect table accessors; an indirect block is an array of 128 u32 block
// ids
func indirectGet(b []byte, idx uint64) uint32 {
	return binary.LittleEndian.Uint32(b[idx*4:])
}

func indirectPut(b []byte, idx uint64, v uint32) {
	binary.LittleEndian.PutUint32(b[idx*4:], v)
}

func dataBlocksFor(size uint32) uint64 {
	return util.RoundUp(uint64(size), common.BlockSize)
}

// DataBlocks is the number of data blocks backing the current size.
func (d *DiskInode) DataBlocks() uint64 {
	return dataBlocksFor(d.Size)
}

// TotalBlocks counts data blocks plus the indirect index blocks needed to
// reach them at the given size.
func TotalBlocks(size uint32) uint64 {
	dataBlocks := dataBlocksFor(size)
	total := dataBlocks
	if dataBlocks > common.NDIRECT {
		total += 1 // indirect1
	}
	if dataBlocks > common.INDIRECT1BOUND {
		total += 1 // indirect2
		// indirect1 tables hanging off indirect2
		total += util.RoundUp(dataBlocks-common.INDIRECT1BOUND, common.NINDIRECT)
	}
	return total
}

// BlocksNumNeeded is how many additional blocks (data plus index) growing to
// newSize requires.
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint64 {
	if newSize < d.Size {
		panic("layout: inode cannot shrink via BlocksNumNeeded")
	}
	return TotalBlocks(newSize) - TotalBlocks(d.Size)
}

// GetBlockID resolves the inner-th data block of this inode to an absolute
// block id, walking the indirect tables through the cache as needed.
func (d *DiskInode) GetBlockID(inner uint64, cache *bcache.Manager) uint32 {
	if inner < common.NDIRECT {
		return d.Direct[inner]
	}
	if inner < common.INDIRECT1BOUND {
		var bid uint32
		cache.Read(uint64(d.Indirect1), 0, common.BlockSize, func(b []byte) {
			bid = indirectGet(b, inner-common.NDIRECT)
		})
		return bid
	}
	last := inner - common.INDIRECT1BOUND
	var ind1 uint32
	cache.Read(uint64(d.Indirect2), 0, common.BlockSize, func(b []byte) {
		ind1 = indirectGet(b, last/common.NINDIRECT)
	})
	var bid uint32
	cache.Read(uint64(ind1), 0, common.BlockSize, func(b []byte) {
		bid = indirectGet(b, last%common.NINDIRECT)
	})
	return bid
}

// IncreaseSize grows the inode to newSize, threading the pre-allocated block
// ids into direct slots, then the indirect1 table, then indirect2 tables.
// newBlocks must hold exactly BlocksNumNeeded(newSize) ids.
func (d *DiskInode) IncreaseSize(newSize uint32, newBlocks []uint32, cache *bcache.Manager) {
	if newSize < d.Size {
		panic("layout: IncreaseSize would shrink inode")
	}
	if uint64(len(newBlocks)) != d.BlocksNumNeeded(newSize) {
		panic(fmt.Sprintf("layout: IncreaseSize given %d blocks, needs %d",
			len(newBlocks), d.BlocksNumNeeded(newSize)))
	}
	currentBlocks := d.DataBlocks()
	d.Size = newSize
	totalBlocks := d.DataBlocks()
	next := 0
	takeNext := func() uint32 {
		bn := newBlocks[next]
		next++
		return bn
	}

	// direct slots
	for currentBlocks < util.Min(totalBlocks, common.NDIRECT) {
		d.Direct[currentBlocks] = takeNext()
		currentBlocks++
	}
	if totalBlocks <= common.NDIRECT {
		return
	}
	// the indirect1 table, allocated when first crossed
	if currentBlocks == common.NDIRECT {
		d.Indirect1 = takeNext()
	}
	currentBlocks -= common.NDIRECT
	totalBlocks -= common.NDIRECT
	cache.Modify(uint64(d.Indirect1), 0, common.BlockSize, func(b []byte) {
		for currentBlocks < util.Min(totalBlocks, common.NINDIRECT) {
			indirectPut(b, currentBlocks, takeNext())
			currentBlocks++
		}
	})
	if totalBlocks <= common.NINDIRECT {
		return
	}
	// the indirect2 table of tables
	if currentBlocks == common.NINDIRECT {
		d.Indirect2 = takeNext()
	}
	currentBlocks -= common.NINDIRECT
	totalBlocks -= common.NINDIRECT
	a0, b0 := currentBlocks/common.NINDIRECT, currentBlocks%common.NINDIRECT
	a1, b1 := totalBlocks/common.NINDIRECT, totalBlocks%common.NINDIRECT
	cache.Modify(uint64(d.Indirect2), 0, common.BlockSize, func(ind2 []byte) {
		for a0 < a1 || (a0 == a1 && b0 < b1) {
			if b0 == 0 {
				indirectPut(ind2, a0, takeNext())
			}
			ind1 := indirectGet(ind2, a0)
			cache.Modify(uint64(ind1), 0, common.BlockSize, func(b []byte) {
				indirectPut(b, b0, takeNext())
			})
			b0++
			if b0 == common.NINDIRECT {
				b0 = 0
				a0++
			}
		}
	})
}

// ClearSize shrinks the inode to zero, returning every block id it held:
// all data blocks plus the indirect index blocks, in walk order. The caller
// returns them to the data bitmap.
func (d *DiskInode) ClearSize(cache *bcache.Manager) []uint32 {
	var v []uint32
	dataBlocks := d.DataBlocks()
	d.Size = 0
	current := uint64(0)
	for current < util.Min(dataBlocks, common.NDIRECT) {
		v = append(v, d.Direct[current])
		d.Direct[current] = 0
		current++
	}
	if dataBlocks <= common.NDIRECT {
		return v
	}
	v = append(v, d.Indirect1)
	dataBlocks -= common.NDIRECT
	current = 0
	cache.Read(uint64(d.Indirect1), 0, common.BlockSize, func(b []byte) {
		for current < util.Min(dataBlocks, common.NINDIRECT) {
			v = append(v, indirectGet(b, current))
			current++
		}
	})
	d.Indirect1 = 0
	if dataBlocks <= common.NINDIRECT {
		return v
	}
	v = append(v, d.Indirect2)
	dataBlocks -= common.NINDIRECT
	a1, b1 := dataBlocks/common.NINDIRECT, dataBlocks%common.NINDIRECT
	cache.Read(uint64(d.Indirect2), 0, common.BlockSize, func(ind2 []byte) {
		for a := uint64(0); a < a1; a++ {
			ind1 := indirectGet(ind2, a)
			v = append(v, ind1)
			cache.Read(uint64(ind1), 0, common.BlockSize, func(b []byte) {
				for j := uint64(0); j < common.NINDIRECT; j++ {
					v = append(v, indirectGet(b, j))
				}
			})
		}
		if b1 > 0 {
			ind1 := indirectGet(ind2, a1)
			v = append(v, ind1)
			cache.Read(uint64(ind1), 0, common.BlockSize, func(b []byte) {
				for j := uint64(0); j < b1; j++ {
					v = append(v, indirectGet(b, j))
				}
			})
		}
	})
	d.Indirect2 = 0
	return v
}

// ReadAt copies up to len(buf) bytes starting at offset into buf, clamped to
// the inode size. Returns the number of bytes read.
func (d *DiskInode) ReadAt(offset uint64, buf []byte, cache *bcache.Manager) uint64 {
	start := offset
	end := util.Min(offset+uint64(len(buf)), uint64(d.Size))
	if start >= end {
		return 0
	}
	startBlock := start / common.BlockSize
	read := uint64(0)
	for {
		endCurrent := util.Min((start/common.BlockSize+1)*common.BlockSize, end)
		n := endCurrent - start
		bid := d.GetBlockID(startBlock, cache)
		cache.Read(uint64(bid), 0, common.BlockSize, func(b []byte) {
			off := start % common.BlockSize
			copy(buf[read:read+n], b[off:off+n])
		})
		read += n
		if endCurrent == end {
			break
		}
		startBlock++
		start = endCurrent
	}
	return read
}

// WriteAt copies buf into the inode starting at offset. The inode must
// already be large enough (the caller grows it first); writing past Size is
// a logic error.
func (d *DiskInode) WriteAt(offset uint64, buf []byte, cache *bcache.Manager) uint64 {
	start := offset
	end := util.Min(offset+uint64(len(buf)), uint64(d.Size))
	if start > end {
		panic("layout: write beyond inode size")
	}
	if start == end {
		return 0
	}
	startBlock := start / common.BlockSize
	written := uint64(0)
	for {
		endCurrent := util.Min((start/common.BlockSize+1)*common.BlockSize, end)
		n := endCurrent - start
		bid := d.GetBlockID(startBlock, cache)
		cache.Modify(uint64(bid), 0, common.BlockSize, func(b []byte) {
			off := start % common.BlockSize
			copy(b[off:off+n], buf[written:written+n])
		})
		written += n
		if endCurrent == end {
			break
		}
		startBlock++
		start = endCurrent
	}
	return written
}

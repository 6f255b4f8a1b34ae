// bitmap allocates and frees single bits in a contiguous run of on-disk
// blocks. One bitmap manages inode ids, another manages data block ids; bit
// i is set iff resource i is allocated.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/common"
)

const wordsPerBlock = common.BlockSize / 8

// Bitmap is a view over blocks consecutive bitmap blocks starting at
// startBlockID, each holding BlockSize*8 allocation bits.
type Bitmap struct {
	startBlockID uint64
	blocks       uint64
}

func New(startBlockID uint64, blocks uint64) *Bitmap {
	return &Bitmap{startBlockID: startBlockID, blocks: blocks}
}

// Alloc finds the lowest clear bit, sets it, and returns its absolute
// position. Returns false when every bit is set.
func (bm *Bitmap) Alloc(cache *bcache.Manager) (uint64, bool) {
	for blockPos := uint64(0); blockPos < bm.blocks; blockPos++ {
		var pos uint64
		var found bool
		cache.Modify(bm.startBlockID+blockPos, 0, common.BlockSize, func(b []byte) {
			for w := uint64(0); w < wordsPerBlock; w++ {
				word := binary.LittleEndian.Uint64(b[w*8:])
				if word != ^uint64(0) {
					inner := uint64(bits.TrailingZeros64(^word))
					binary.LittleEndian.PutUint64(b[w*8:], word|(1<<inner))
					pos = blockPos*common.NBITBLOCK + w*64 + inner
					found = true
					return
				}
			}
		})
		if found {
			return pos, true
		}
	}
	return 0, false
}

// decomposition splits an absolute bit position into (block, word, inner).
func decomposition(bit uint64) (uint64, uint64, uint64) {
	blockPos := bit / common.NBITBLOCK
	bit %= common.NBITBLOCK
	return blockPos, bit / 64, bit % 64
}

// Dealloc clears bit. Clearing a bit that is not set is a double free and
// fatal.
func (bm *Bitmap) Dealloc(cache *bcache.Manager, bit uint64) {
	blockPos, wordPos, inner := decomposition(bit)
	if blockPos >= bm.blocks {
		panic(fmt.Sprintf("bitmap: bit %d out of range", bit))
	}
	cache.Modify(bm.startBlockID+blockPos, 0, common.BlockSize, func(b []byte) {
		word := binary.LittleEndian.Uint64(b[wordPos*8:])
		if word&(1<<inner) == 0 {
			panic(fmt.Sprintf("bitmap: double free of bit %d", bit))
		}
		binary.LittleEndian.PutUint64(b[wordPos*8:], word&^(1<<inner))
	})
}

// Maximum is the total addressable id space.
func (bm *Bitmap) Maximum() uint64 {
	return bm.blocks * common.NBITBLOCK
}

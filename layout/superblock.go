// layout defines the fixed on-disk byte layouts (superblock, inodes,
// directory entries, indirect tables) and the block arithmetic over them.
// All multi-byte fields are little-endian.
package layout

import (
	"encoding/binary"

	"github.com/rvos-dev/rvcore/common"
)

// SuperBlockSize is the encoded size of the superblock at the head of
// block 0.
const SuperBlockSize uint64 = 24

// SuperBlock records the extent of each disk region. Regions follow in
// order: superblock, inode bitmap, inode area, data bitmap, data area.
type SuperBlock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

func (sb *SuperBlock) Initialize(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks uint32) {
	sb.Magic = common.EFSMAGIC
	sb.TotalBlocks = totalBlocks
	sb.InodeBitmapBlocks = inodeBitmapBlocks
	sb.InodeAreaBlocks = inodeAreaBlocks
	sb.DataBitmapBlocks = dataBitmapBlocks
	sb.DataAreaBlocks = dataAreaBlocks
}

func (sb *SuperBlock) IsValid() bool {
	return sb.Magic == common.EFSMAGIC
}

func (sb *SuperBlock) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(b[8:], sb.InodeBitmapBlocks)
	binary.LittleEndian.PutUint32(b[12:], sb.InodeAreaBlocks)
	binary.LittleEndian.PutUint32(b[16:], sb.DataBitmapBlocks)
	binary.LittleEndian.PutUint32(b[20:], sb.DataAreaBlocks)
}

func DecodeSuperBlock(b []byte) SuperBlock {
	return SuperBlock{
		Magic:             binary.LittleEndian.Uint32(b[0:]),
		TotalBlocks:       binary.LittleEndian.Uint32(b[4:]),
		InodeBitmapBlocks: binary.LittleEndian.Uint32(b[8:]),
		InodeAreaBlocks:   binary.LittleEndian.Uint32(b[12:]),
		DataBitmapBlocks:  binary.LittleEndian.Uint32(b[16:]),
		DataAreaBlocks:    binary.LittleEndian.Uint32(b[20:]),
	}
}

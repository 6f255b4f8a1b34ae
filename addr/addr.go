package addr

import (
	"fmt"

	"github.com/rvos-dev/rvcore/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the byte
// offset of the object within the block. The size of the object is
// determined by the context in which Addr is used (a DiskInode slot, a
// directory entry, an indirect table slot).
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bytes
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkInodeAddr locates the n-th DiskInode slot of the inode area starting at
// block start.
func MkInodeAddr(start common.Bnum, n common.Inum) Addr {
	blkno := start + common.Bnum(uint64(n)/common.INODEBLK)
	off := (uint64(n) % common.INODEBLK) * common.INODESZ
	return MkAddr(blkno, off)
}

func (a Addr) Flatid() uint64 {
	return uint64(a.Blkno)*common.BlockSize + a.Off
}

func (a Addr) String() string {
	return fmt.Sprintf("{%d,%d}", a.Blkno, a.Off)
}

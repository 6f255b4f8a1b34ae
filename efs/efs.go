// efs is the disk block manager and inode layer: it owns the superblock,
// the inode and data bitmaps, and the region arithmetic that turns inode
// ids and data block ids into absolute disk positions.
package efs

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvcore/addr"
	"github.com/rvos-dev/rvcore/bcache"
	"github.com/rvos-dev/rvcore/bitmap"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/layout"
	"github.com/rvos-dev/rvcore/util"
)

// EasyFileSystem owns allocation of inode ids and data block ids. The
// single mutex is the only ordering mechanism for multi-step inode
// mutations; every public Inode operation holds it end to end.
type EasyFileSystem struct {
	mu    sync.Mutex
	cache *bcache.Manager

	inodeBitmap    *bitmap.Bitmap
	dataBitmap     *bitmap.Bitmap
	inodeAreaStart common.Bnum
	dataAreaStart  common.Bnum
	totalBlocks    uint32
}

// Create formats the device behind cache with a fresh filesystem: zeroed
// regions, a superblock, and a root directory at inode 0.
func Create(cache *bcache.Manager, totalBlocks uint32, inodeBitmapBlocks uint32) *EasyFileSystem {
	inodeBitmap := bitmap.New(1, uint64(inodeBitmapBlocks))
	inodeNum := inodeBitmap.Maximum()
	inodeAreaBlocks := uint32(util.RoundUp(inodeNum*common.INODESZ, common.BlockSize))
	inodeTotal := inodeBitmapBlocks + inodeAreaBlocks
	dataTotal := totalBlocks - 1 - inodeTotal
	// each data bitmap block covers itself plus 4096 data blocks
	dataBitmapBlocks := (dataTotal + 4096) / 4097
	dataAreaBlocks := dataTotal - dataBitmapBlocks
	fs := &EasyFileSystem{
		cache:          cache,
		inodeBitmap:    inodeBitmap,
		dataBitmap:     bitmap.New(uint64(1+inodeTotal), uint64(dataBitmapBlocks)),
		inodeAreaStart: common.Bnum(1 + inodeBitmapBlocks),
		dataAreaStart:  common.Bnum(1 + inodeTotal + dataBitmapBlocks),
		totalBlocks:    totalBlocks,
	}
	for i := uint32(0); i < totalBlocks; i++ {
		cache.Modify(uint64(i), 0, common.BlockSize, func(b []byte) {
			for j := range b {
				b[j] = 0
			}
		})
	}
	cache.Modify(0, 0, layout.SuperBlockSize, func(b []byte) {
		var sb layout.SuperBlock
		sb.Initialize(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks,
			dataBitmapBlocks, dataAreaBlocks)
		sb.Encode(b)
	})
	// root directory
	rootID := fs.allocInode()
	if rootID != common.ROOTINUM {
		panic("efs: root inode is not inode 0")
	}
	pos := fs.GetDiskInodePos(rootID)
	cache.Modify(pos.Blkno, pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		d.Initialize(layout.DirInode)
		d.Encode(b)
	})
	cache.SyncAll()
	util.DPrintf(1, "efs: created fs with %d blocks (%d inodes, %d data blocks)\n",
		totalBlocks, inodeNum, dataAreaBlocks)
	return fs
}

// Open mounts an existing filesystem. A bad magic number means the image
// was never formatted; that is unrecoverable here.
func Open(cache *bcache.Manager) *EasyFileSystem {
	var sb layout.SuperBlock
	cache.Read(0, 0, layout.SuperBlockSize, func(b []byte) {
		sb = layout.DecodeSuperBlock(b)
	})
	if !sb.IsValid() {
		panic("efs: bad magic, not an efs image")
	}
	inodeTotal := sb.InodeBitmapBlocks + sb.InodeAreaBlocks
	return &EasyFileSystem{
		cache:          cache,
		inodeBitmap:    bitmap.New(1, uint64(sb.InodeBitmapBlocks)),
		dataBitmap:     bitmap.New(uint64(1+inodeTotal), uint64(sb.DataBitmapBlocks)),
		inodeAreaStart: common.Bnum(1 + sb.InodeBitmapBlocks),
		dataAreaStart:  common.Bnum(1 + inodeTotal + sb.DataBitmapBlocks),
		totalBlocks:    sb.TotalBlocks,
	}
}

// RootInode is the handle for the root directory.
func (fs *EasyFileSystem) RootInode() *Inode {
	return &Inode{pos: fs.GetDiskInodePos(common.ROOTINUM), fs: fs}
}

// GetDiskInodePos locates an inode id inside the inode area.
func (fs *EasyFileSystem) GetDiskInodePos(inum common.Inum) addr.Addr {
	return addr.MkInodeAddr(fs.inodeAreaStart, inum)
}

// allocInode hands out a fresh inode id. Running out of inodes has no
// graceful degradation path.
func (fs *EasyFileSystem) allocInode() common.Inum {
	bit, ok := fs.inodeBitmap.Alloc(fs.cache)
	if !ok {
		panic("efs: out of inodes")
	}
	return common.Inum(bit)
}

// allocData hands out an absolute data block id.
func (fs *EasyFileSystem) allocData() common.Bnum {
	bit, ok := fs.dataBitmap.Alloc(fs.cache)
	if !ok {
		panic("efs: out of data blocks")
	}
	return fs.dataAreaStart + bit
}

// deallocData returns an absolute data block id to the bitmap and zeroes
// the block.
func (fs *EasyFileSystem) deallocData(bn common.Bnum) {
	if bn < fs.dataAreaStart {
		panic(fmt.Sprintf("efs: dealloc of non-data block %d", bn))
	}
	fs.cache.Modify(bn, 0, common.BlockSize, func(b []byte) {
		for i := range b {
			b[i] = 0
		}
	})
	fs.dataBitmap.Dealloc(fs.cache, bn-fs.dataAreaStart)
}

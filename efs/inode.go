package efs

import (
	"fmt"

	"github.com/rvos-dev/rvcore/addr"
	"github.com/rvos-dev/rvcore/common"
	"github.com/rvos-dev/rvcore/layout"
	"github.com/rvos-dev/rvcore/util"
)

// Inode is the in-memory handle for one file or directory: the on-disk
// position of its DiskInode plus the owning filesystem. It caches nothing;
// every operation re-reads through the block cache, so any number of
// handles may alias one DiskInode.
type Inode struct {
	pos addr.Addr
	fs  *EasyFileSystem
}

// readDiskInode decodes the DiskInode and passes it to f read-only.
func (ino *Inode) readDiskInode(f func(d *layout.DiskInode)) {
	ino.fs.cache.Read(ino.pos.Blkno, ino.pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		f(&d)
	})
}

// modifyDiskInode decodes the DiskInode, applies f, and encodes the result
// back into the cached block.
func (ino *Inode) modifyDiskInode(f func(d *layout.DiskInode)) {
	ino.fs.cache.Modify(ino.pos.Blkno, ino.pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		f(&d)
		d.Encode(b)
	})
}

// findInodeID scans the directory's packed entry array for name.
func (ino *Inode) findInodeID(name string, d *layout.DiskInode) (common.Inum, bool) {
	if !d.IsDir() {
		panic("efs: lookup in a non-directory inode")
	}
	fileCount := uint64(d.Size) / common.DIRENTSZ
	buf := make([]byte, common.DIRENTSZ)
	for i := uint64(0); i < fileCount; i++ {
		if n := d.ReadAt(i*common.DIRENTSZ, buf, ino.fs.cache); n != common.DIRENTSZ {
			panic(fmt.Sprintf("efs: short directory record (%d bytes)", n))
		}
		de := layout.DecodeDirEntry(buf)
		if !de.IsEmpty() && de.Name() == name {
			return de.InodeID(), true
		}
	}
	return 0, false
}

// removeDirent overwrites name's slot with an empty record. Directory space
// is never compacted.
func (ino *Inode) removeDirent(name string, d *layout.DiskInode) {
	if !d.IsDir() {
		panic("efs: unlink in a non-directory inode")
	}
	fileCount := uint64(d.Size) / common.DIRENTSZ
	buf := make([]byte, common.DIRENTSZ)
	for i := uint64(0); i < fileCount; i++ {
		if n := d.ReadAt(i*common.DIRENTSZ, buf, ino.fs.cache); n != common.DIRENTSZ {
			panic(fmt.Sprintf("efs: short directory record (%d bytes)", n))
		}
		de := layout.DecodeDirEntry(buf)
		if !de.IsEmpty() && de.Name() == name {
			empty := layout.EmptyDirEntry()
			d.WriteAt(i*common.DIRENTSZ, empty.Bytes(), ino.fs.cache)
			return
		}
	}
}

// increaseSize grows d to cover newSize, allocating the needed data and
// index blocks from the data bitmap. Caller holds the filesystem lock.
func (ino *Inode) increaseSize(newSize uint32, d *layout.DiskInode) {
	if newSize < d.Size {
		return
	}
	needed := d.BlocksNumNeeded(newSize)
	v := make([]uint32, 0, needed)
	for i := uint64(0); i < needed; i++ {
		v = append(v, uint32(ino.fs.allocData()))
	}
	d.IncreaseSize(newSize, v, ino.fs.cache)
}

// appendDirent grows the directory by one record and writes de into it.
// Freed slots are not reused; the directory only ever appends.
func (ino *Inode) appendDirent(de layout.DirEntry, d *layout.DiskInode) {
	fileCount := uint64(d.Size) / common.DIRENTSZ
	ino.increaseSize(uint32((fileCount+1)*common.DIRENTSZ), d)
	d.WriteAt(fileCount*common.DIRENTSZ, de.Bytes(), ino.fs.cache)
}

// Create makes a new empty file under this directory. Returns nil if name
// already exists.
func (ino *Inode) Create(name string) *Inode {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	exists := false
	ino.readDiskInode(func(d *layout.DiskInode) {
		_, exists = ino.findInodeID(name, d)
	})
	if exists {
		return nil
	}
	newID := fs.allocInode()
	pos := fs.GetDiskInodePos(newID)
	fs.cache.Modify(pos.Blkno, pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		d.Initialize(layout.FileInode)
		d.Encode(b)
	})
	ino.modifyDiskInode(func(d *layout.DiskInode) {
		ino.appendDirent(layout.NewDirEntry(name, newID), d)
	})
	fs.cache.SyncAll()
	return &Inode{pos: pos, fs: fs}
}

// Find looks name up under this directory. Returns nil if absent.
func (ino *Inode) Find(name string) *Inode {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return ino.findLocked(name)
}

func (ino *Inode) findLocked(name string) *Inode {
	var result *Inode
	ino.readDiskInode(func(d *layout.DiskInode) {
		if id, ok := ino.findInodeID(name, d); ok {
			result = &Inode{pos: ino.fs.GetDiskInodePos(id), fs: ino.fs}
		}
	})
	return result
}

// Link makes newName alias oldName's inode, bumping its link count.
// Returns nil if newName exists or oldName does not.
func (ino *Inode) Link(oldName string, newName string) *Inode {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var oldID common.Inum
	found := false
	clash := false
	ino.readDiskInode(func(d *layout.DiskInode) {
		if _, ok := ino.findInodeID(newName, d); ok {
			clash = true
			return
		}
		oldID, found = ino.findInodeID(oldName, d)
	})
	if clash || !found {
		return nil
	}
	pos := fs.GetDiskInodePos(oldID)
	fs.cache.Modify(pos.Blkno, pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		d.Nlink++
		d.Encode(b)
	})
	ino.modifyDiskInode(func(d *layout.DiskInode) {
		ino.appendDirent(layout.NewDirEntry(newName, oldID), d)
	})
	fs.cache.SyncAll()
	return &Inode{pos: pos, fs: fs}
}

// Unlink drops name. When the last link goes away the inode's blocks are
// reclaimed before the directory entry is cleared.
func (ino *Inode) Unlink(name string) bool {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var id common.Inum
	found := false
	ino.readDiskInode(func(d *layout.DiskInode) {
		id, found = ino.findInodeID(name, d)
	})
	if !found {
		return false
	}
	pos := fs.GetDiskInodePos(id)
	lastLink := false
	fs.cache.Modify(pos.Blkno, pos.Off, common.INODESZ, func(b []byte) {
		d := layout.DecodeInode(b)
		d.Nlink--
		lastLink = d.Nlink == 0
		d.Encode(b)
	})
	if lastLink {
		target := &Inode{pos: pos, fs: fs}
		target.clearLocked()
		fs.inodeBitmap.Dealloc(fs.cache, uint64(id))
	}
	ino.modifyDiskInode(func(d *layout.DiskInode) {
		ino.removeDirent(name, d)
	})
	fs.cache.SyncAll()
	return true
}

// Ls lists the names under this directory, skipping cleared slots.
func (ino *Inode) Ls() []string {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var names []string
	ino.readDiskInode(func(d *layout.DiskInode) {
		fileCount := uint64(d.Size) / common.DIRENTSZ
		buf := make([]byte, common.DIRENTSZ)
		for i := uint64(0); i < fileCount; i++ {
			if n := d.ReadAt(i*common.DIRENTSZ, buf, fs.cache); n != common.DIRENTSZ {
				panic(fmt.Sprintf("efs: short directory record (%d bytes)", n))
			}
			de := layout.DecodeDirEntry(buf)
			if !de.IsEmpty() {
				names = append(names, de.Name())
			}
		}
	})
	return names
}

// ReadAt reads up to len(buf) bytes at offset, clamped to the file size.
func (ino *Inode) ReadAt(offset uint64, buf []byte) uint64 {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n uint64
	ino.readDiskInode(func(d *layout.DiskInode) {
		n = d.ReadAt(offset, buf, fs.cache)
	})
	return n
}

// WriteAt writes buf at offset, growing the file first so the whole range
// is covered. New blocks come from the data bitmap under the held lock.
func (ino *Inode) WriteAt(offset uint64, buf []byte) uint64 {
	if util.SumOverflows(offset, uint64(len(buf))) {
		panic("efs: write range wraps around")
	}
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n uint64
	ino.modifyDiskInode(func(d *layout.DiskInode) {
		ino.increaseSize(uint32(offset+uint64(len(buf))), d)
		n = d.WriteAt(offset, buf, fs.cache)
	})
	fs.cache.SyncAll()
	return n
}

// Clear truncates the file to zero bytes and returns its blocks to the
// data bitmap.
func (ino *Inode) Clear() {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino.clearLocked()
	fs.cache.SyncAll()
}

func (ino *Inode) clearLocked() {
	fs := ino.fs
	ino.modifyDiskInode(func(d *layout.DiskInode) {
		size := d.Size
		freed := d.ClearSize(fs.cache)
		if uint64(len(freed)) != layout.TotalBlocks(size) {
			panic(fmt.Sprintf("efs: clear freed %d blocks, expected %d",
				len(freed), layout.TotalBlocks(size)))
		}
		for _, bn := range freed {
			fs.deallocData(common.Bnum(bn))
		}
	})
}

// Fstat reports the block holding this inode and its link count.
func (ino *Inode) Fstat() (uint64, uint32) {
	fs := ino.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var nlink uint32
	ino.readDiskInode(func(d *layout.DiskInode) {
		nlink = d.Nlink
	})
	return ino.pos.Blkno, nlink
}

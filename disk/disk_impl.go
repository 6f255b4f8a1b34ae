package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var _ Device = (*FileDisk)(nil)

// FileDisk is a disk backed by a file (or a raw host device).
type FileDisk struct {
	fd        int
	numBlocks uint64
}

func NewFileDisk(path string, numBlocks uint64) (FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return FileDisk{}, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		return FileDisk{}, err
	}
	if (stat.Mode&unix.S_IFREG) != 0 && uint64(stat.Size) != numBlocks*BlockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
		if err != nil {
			return FileDisk{}, err
		}
	}
	return FileDisk{fd, numBlocks}, nil
}

func (d FileDisk) ReadBlock(a uint64, buf Block) {
	if uint64(len(buf)) != BlockSize {
		panic("buffer is not block-sized")
	}
	if a >= d.numBlocks {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	_, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		panic("read failed: " + err.Error())
	}
}

func (d FileDisk) WriteBlock(a uint64, v Block) {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	if a >= d.numBlocks {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		panic("write failed: " + err.Error())
	}
}

func (d FileDisk) Size() uint64 {
	return d.numBlocks
}

func (d FileDisk) Barrier() {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is an fcntl syscall with cmd
	// F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		panic("file sync failed: " + err.Error())
	}
}

func (d FileDisk) Close() error {
	return unix.Close(d.fd)
}

var _ Device = (*MemDisk)(nil)

// MemDisk keeps all blocks in memory; it stands in for the real block device
// collaborators (virtio-blk, SD card) that live outside this module.
type MemDisk struct {
	l      *sync.RWMutex
	blocks [][]byte
}

func NewMemDisk(numBlocks uint64) MemDisk {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, BlockSize)
	}
	return MemDisk{l: new(sync.RWMutex), blocks: blocks}
}

func (d MemDisk) ReadBlock(a uint64, buf Block) {
	if uint64(len(buf)) != BlockSize {
		panic("buffer is not block-sized")
	}
	d.l.RLock()
	defer d.l.RUnlock()
	if a >= uint64(len(d.blocks)) {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	copy(buf, d.blocks[a])
}

func (d MemDisk) WriteBlock(a uint64, v Block) {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block-sized (%d bytes)", len(v)))
	}
	d.l.Lock()
	defer d.l.Unlock()
	if a >= uint64(len(d.blocks)) {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	copy(d.blocks[a], v)
}

func (d MemDisk) Size() uint64 {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.blocks))
}

func (d MemDisk) Barrier() {}

func (d MemDisk) Close() error { return nil }

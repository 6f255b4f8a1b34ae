package common

// BlockSize is the atomic unit of disk I/O and of the block cache.
const BlockSize uint64 = 512

const (
	// NBITBLOCK is the number of allocation bits held by one bitmap block.
	NBITBLOCK uint64 = BlockSize * 8

	// INODESZ is the on-disk size of a DiskInode.
	INODESZ uint64 = 128
	// INODEBLK inodes fit in one inode-area block.
	INODEBLK uint64 = BlockSize / INODESZ

	// NDIRECT direct block slots per inode.
	NDIRECT uint64 = 27
	// NINDIRECT block ids held by one indirect index block.
	NINDIRECT uint64 = BlockSize / 4

	DIRECTBOUND    uint64 = NDIRECT
	INDIRECT1BOUND uint64 = DIRECTBOUND + NINDIRECT
	INDIRECT2BOUND uint64 = INDIRECT1BOUND + NINDIRECT*NINDIRECT

	// NAMELEN is the longest directory entry name, excluding the NUL
	// terminator.
	NAMELEN uint64 = 27
	// DIRENTSZ is the on-disk size of a directory entry.
	DIRENTSZ uint64 = 32

	// EFSMAGIC marks a formatted superblock.
	EFSMAGIC uint32 = 0x3b800001
)

// Bnum is an absolute block number on a device.
type Bnum = uint64

// Inum is an inode id within the inode area.
type Inum = uint32

const ROOTINUM Inum = 0

package disk

import "github.com/rvos-dev/rvcore/common"

// Block is a 512-byte buffer
type Block = []byte

const BlockSize uint64 = common.BlockSize

// Device provides access to a logical block-based disk.
//
// The core assumes block I/O is synchronous and either succeeds or panics;
// there is no recoverable I/O error at this layer.
type Device interface {
	// ReadBlock reads the disk block at a into buf.
	//
	// Expects a < Size() and len(buf) == BlockSize.
	ReadBlock(a uint64, buf Block)

	// WriteBlock updates the disk block at a.
	//
	// Expects a < Size() and len(v) == BlockSize.
	WriteBlock(a uint64, v Block)

	// Size reports how big the disk is, in blocks
	Size() uint64

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably
	// on disk.
	Barrier()

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

// NewBlock allocates a zeroed block-sized buffer.
func NewBlock() Block {
	return make([]byte, BlockSize)
}

package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/rvos-dev/rvcore/common"
)

// DirEntry is one record of a directory's packed entry array: a NUL-padded
// name followed by the inode id. A record whose name is empty marks a
// deleted slot; slots are overwritten in place and never compacted.
type DirEntry struct {
	name    [common.NAMELEN + 1]byte
	inodeID common.Inum
}

func NewDirEntry(name string, inodeID common.Inum) DirEntry {
	if uint64(len(name)) > common.NAMELEN {
		panic("layout: directory entry name too long")
	}
	var de DirEntry
	copy(de.name[:], name)
	de.inodeID = inodeID
	return de
}

func EmptyDirEntry() DirEntry {
	return DirEntry{}
}

func (de *DirEntry) Name() string {
	end := bytes.IndexByte(de.name[:], 0)
	if end < 0 {
		end = len(de.name)
	}
	return string(de.name[:end])
}

func (de *DirEntry) InodeID() common.Inum {
	return de.inodeID
}

func (de *DirEntry) IsEmpty() bool {
	return de.name[0] == 0
}

func (de *DirEntry) Encode(b []byte) {
	copy(b[:common.NAMELEN+1], de.name[:])
	binary.LittleEndian.PutUint32(b[common.NAMELEN+1:], de.inodeID)
}

func (de *DirEntry) Bytes() []byte {
	b := make([]byte, common.DIRENTSZ)
	de.Encode(b)
	return b
}

func DecodeDirEntry(b []byte) DirEntry {
	var de DirEntry
	copy(de.name[:], b[:common.NAMELEN+1])
	de.inodeID = binary.LittleEndian.Uint32(b[common.NAMELEN+1:])
	return de
}

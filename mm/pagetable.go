package mm

import (
	"encoding/binary"
	"fmt"
)

type PTEFlags uint8

const (
	PTEV PTEFlags = 1 << 0 // valid
	PTER PTEFlags = 1 << 1 // readable
	PTEW PTEFlags = 1 << 2 // writable
	PTEX PTEFlags = 1 << 3 // executable
	PTEU PTEFlags = 1 << 4 // user-accessible
	PTEG PTEFlags = 1 << 5 // global
	PTEA PTEFlags = 1 << 6 // accessed
	PTED PTEFlags = 1 << 7 // dirty
)

// PageTableEntry is the raw 64-bit SV39 entry: physical page number in bits
// 10..53, flag bits in 0..7.
type PageTableEntry uint64

func NewPTE(ppn PhysPageNum, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

func EmptyPTE() PageTableEntry {
	return 0
}

func (pte PageTableEntry) PPN() PhysPageNum {
	return PhysPageNum((uint64(pte) >> 10) & ((1 << 44) - 1))
}

func (pte PageTableEntry) Flags() PTEFlags {
	return PTEFlags(pte & 0xff)
}

func (pte PageTableEntry) IsValid() bool {
	return pte.Flags()&PTEV != 0
}

func (pte PageTableEntry) Readable() bool {
	return pte.Flags()&PTER != 0
}

func (pte PageTableEntry) Writable() bool {
	return pte.Flags()&PTEW != 0
}

func (pte PageTableEntry) Executable() bool {
	return pte.Flags()&PTEX != 0
}

// PageTable is a three-level SV39 table. It owns the frames backing its
// internal nodes; leaf data frames belong to the MapArea that mapped them.
type PageTable struct {
	rootPPN PhysPageNum
	frames  []*FrameTracker
	alloc   *FrameAllocator
}

func NewPageTable(alloc *FrameAllocator) *PageTable {
	ft, ok := alloc.Alloc()
	if !ok {
		panic("mm: no frame for page table root")
	}
	return &PageTable{
		rootPPN: ft.PPN,
		frames:  []*FrameTracker{ft},
		alloc:   alloc,
	}
}

// FromToken wraps an existing table root for read-only walks (user pointer
// translation). It owns no frames.
func FromToken(token uint64, alloc *FrameAllocator) *PageTable {
	return &PageTable{
		rootPPN: PhysPageNum(token & ((1 << 44) - 1)),
		alloc:   alloc,
	}
}

// node entry accessors; a page-table node is an array of 512 u64 entries
func (pt *PageTable) entryAt(node PhysPageNum, idx uint64) PageTableEntry {
	b := pt.alloc.PageBytes(node)
	return PageTableEntry(binary.LittleEndian.Uint64(b[idx*8:]))
}

func (pt *PageTable) setEntryAt(node PhysPageNum, idx uint64, pte PageTableEntry) {
	b := pt.alloc.PageBytes(node)
	binary.LittleEndian.PutUint64(b[idx*8:], uint64(pte))
}

// findPTECreate walks to vpn's leaf slot, allocating zeroed intermediate
// nodes (valid-only entries) on the way down.
func (pt *PageTable) findPTECreate(vpn VirtPageNum) (PhysPageNum, uint64) {
	idxs := vpn.Indexes()
	node := pt.rootPPN
	for i := 0; i < 2; i++ {
		pte := pt.entryAt(node, idxs[i])
		if !pte.IsValid() {
			ft, ok := pt.alloc.Alloc()
			if !ok {
				panic("mm: no frame for page table node")
			}
			pt.frames = append(pt.frames, ft)
			pte = NewPTE(ft.PPN, PTEV)
			pt.setEntryAt(node, idxs[i], pte)
		}
		node = pte.PPN()
	}
	return node, idxs[2]
}

// findPTE is the read-only walk; it fails instead of allocating.
func (pt *PageTable) findPTE(vpn VirtPageNum) (PhysPageNum, uint64, bool) {
	idxs := vpn.Indexes()
	node := pt.rootPPN
	for i := 0; i < 2; i++ {
		pte := pt.entryAt(node, idxs[i])
		if !pte.IsValid() {
			return 0, 0, false
		}
		node = pte.PPN()
	}
	return node, idxs[2], true
}

// Map installs vpn -> ppn. Mapping an already-mapped page is a programmer
// error. V, A and D are forced on.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) {
	node, idx := pt.findPTECreate(vpn)
	if pt.entryAt(node, idx).IsValid() {
		panic(fmt.Sprintf("mm: vpn %#x is mapped before mapping", uint64(vpn)))
	}
	pt.setEntryAt(node, idx, NewPTE(ppn, flags|PTEV|PTED|PTEA))
}

// Unmap clears vpn's entry. Unmapping an unmapped page is a programmer
// error.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	node, idx, ok := pt.findPTE(vpn)
	if !ok || !pt.entryAt(node, idx).IsValid() {
		panic(fmt.Sprintf("mm: vpn %#x is invalid before unmapping", uint64(vpn)))
	}
	pt.setEntryAt(node, idx, EmptyPTE())
}

// Translate returns vpn's leaf entry, false if no walk reaches it.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	node, idx, ok := pt.findPTE(vpn)
	if !ok {
		return EmptyPTE(), false
	}
	return pt.entryAt(node, idx), true
}

// TranslateVA resolves a virtual address to a byte-exact physical address.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	pte, ok := pt.Translate(va.Floor())
	if !ok || !pte.IsValid() {
		return 0, false
	}
	return pte.PPN().Addr() + PhysAddr(va.PageOffset()), true
}

// Token packs the SV39 SATP encoding for this table.
func (pt *PageTable) Token() uint64 {
	return 8<<60 | uint64(pt.rootPPN)
}

// Free returns the internal node frames. The owning MemorySet calls this
// after leaf frames are released.
func (pt *PageTable) Free() {
	for _, ft := range pt.frames {
		ft.Free()
	}
	pt.frames = nil
}

package mm

import (
	"fmt"

	"github.com/rvos-dev/rvcore/util"
)

type MapType int

const (
	// MapIdentical maps VPN n to PPN n and owns no frames (kernel
	// sections and MMIO windows).
	MapIdentical MapType = iota
	// MapFramed backs every page with an allocator-owned frame.
	MapFramed
)

// MapPermission is the R/W/X/U subset of the PTE flag bits, at the same
// positions.
type MapPermission uint8

const (
	PermR MapPermission = 1 << 1
	PermW MapPermission = 1 << 2
	PermX MapPermission = 1 << 3
	PermU MapPermission = 1 << 4
)

func (p MapPermission) pteFlags() PTEFlags {
	return PTEFlags(p)
}

// MapArea is a contiguous virtual page range [start, end) mapped with one
// type and one permission set.
type MapArea struct {
	start      VirtPageNum
	end        VirtPageNum
	dataFrames map[VirtPageNum]*FrameTracker
	mapType    MapType
	perm       MapPermission
}

func NewMapArea(startVA VirtAddr, endVA VirtAddr, t MapType, perm MapPermission) *MapArea {
	return &MapArea{
		start:      startVA.Floor(),
		end:        endVA.Ceil(),
		dataFrames: make(map[VirtPageNum]*FrameTracker),
		mapType:    t,
		perm:       perm,
	}
}

// fromAnother clones the shape of an area; frames are allocated on map.
func fromAnother(a *MapArea) *MapArea {
	return &MapArea{
		start:      a.start,
		end:        a.end,
		dataFrames: make(map[VirtPageNum]*FrameTracker),
		mapType:    a.mapType,
		perm:       a.perm,
	}
}

func (a *MapArea) conflictsWith(start VirtPageNum, end VirtPageNum) bool {
	return a.start < end && start < a.end
}

func (a *MapArea) mapOne(pt *PageTable, alloc *FrameAllocator, vpn VirtPageNum) {
	var ppn PhysPageNum
	switch a.mapType {
	case MapIdentical:
		ppn = PhysPageNum(vpn)
	case MapFramed:
		ft, ok := alloc.Alloc()
		if !ok {
			panic("mm: no frame for mapped page")
		}
		a.dataFrames[vpn] = ft
		ppn = ft.PPN
	}
	pt.Map(vpn, ppn, a.perm.pteFlags())
}

func (a *MapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	if a.mapType == MapFramed {
		ft, ok := a.dataFrames[vpn]
		if !ok {
			panic(fmt.Sprintf("mm: framed area missing frame for vpn %#x", uint64(vpn)))
		}
		delete(a.dataFrames, vpn)
		defer ft.Free()
	}
	pt.Unmap(vpn)
}

func (a *MapArea) mapAll(pt *PageTable, alloc *FrameAllocator) {
	for vpn := a.start; vpn < a.end; vpn++ {
		a.mapOne(pt, alloc, vpn)
	}
}

func (a *MapArea) unmapAll(pt *PageTable) {
	for vpn := a.start; vpn < a.end; vpn++ {
		a.unmapOne(pt, vpn)
	}
}

func (a *MapArea) shrinkTo(pt *PageTable, newEnd VirtPageNum) {
	for vpn := newEnd; vpn < a.end; vpn++ {
		a.unmapOne(pt, vpn)
	}
	a.end = newEnd
}

func (a *MapArea) appendTo(pt *PageTable, alloc *FrameAllocator, newEnd VirtPageNum) {
	for vpn := a.end; vpn < newEnd; vpn++ {
		a.mapOne(pt, alloc, vpn)
	}
	a.end = newEnd
}

// copyData fills the area's frames from data, starting offset bytes into
// the first page (segments need not be page-aligned). Framed areas only.
func (a *MapArea) copyData(pt *PageTable, alloc *FrameAllocator, data []byte, offset uint64) {
	if a.mapType != MapFramed {
		panic("mm: copyData into a non-framed area")
	}
	start := uint64(0)
	pageOffset := offset
	vpn := a.start
	length := uint64(len(data))
	for start < length {
		src := data[start:util.Min(length, start+PageSize-pageOffset)]
		pte, ok := pt.Translate(vpn)
		if !ok || !pte.IsValid() {
			panic("mm: copyData into unmapped page")
		}
		dst := alloc.PageBytes(pte.PPN())
		copy(dst[pageOffset:pageOffset+uint64(len(src))], src)
		start += PageSize - pageOffset
		pageOffset = 0
		vpn++
	}
}

// MemorySet is one address space: a page table, the ordered areas mapped
// into it, and the per-page heap map grown on demand by brk.
type MemorySet struct {
	pt       *PageTable
	areas    []*MapArea
	heapArea map[VirtPageNum]*FrameTracker
	alloc    *FrameAllocator
}

func NewBare(alloc *FrameAllocator) *MemorySet {
	return &MemorySet{
		pt:       NewPageTable(alloc),
		heapArea: make(map[VirtPageNum]*FrameTracker),
		alloc:    alloc,
	}
}

func (ms *MemorySet) Token() uint64 {
	return ms.pt.Token()
}

func (ms *MemorySet) PageTable() *PageTable {
	return ms.pt
}

func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.pt.Translate(vpn)
}

// push maps the area and, if data is given, copies it into the fresh
// frames. Assumes the range does not conflict with existing areas.
func (ms *MemorySet) push(a *MapArea, data []byte, offset uint64) {
	a.mapAll(ms.pt, ms.alloc)
	if data != nil {
		a.copyData(ms.pt, ms.alloc, data, offset)
	}
	ms.areas = append(ms.areas, a)
}

// IsConflictWithVA reports whether [startVA, endVA) overlaps any area.
func (ms *MemorySet) IsConflictWithVA(startVA VirtAddr, endVA VirtAddr) bool {
	start, end := startVA.Floor(), endVA.Ceil()
	for _, a := range ms.areas {
		if a.conflictsWith(start, end) {
			return true
		}
	}
	return false
}

// InsertFramedArea maps [startVA, endVA) with fresh frames. Assumes no
// conflicts.
func (ms *MemorySet) InsertFramedArea(startVA VirtAddr, endVA VirtAddr, perm MapPermission) {
	ms.push(NewMapArea(startVA, endVA, MapFramed, perm), nil, 0)
}

// InsertFramedAreaWithData additionally seeds the new pages with data.
func (ms *MemorySet) InsertFramedAreaWithData(startVA VirtAddr, endVA VirtAddr, perm MapPermission, data []byte) {
	ms.push(NewMapArea(startVA, endVA, MapFramed, perm), data, 0)
}

// RemoveAreaWithVA unmaps the area matching exactly [startVA, endVA),
// freeing its frames. Returns false if no area matches.
func (ms *MemorySet) RemoveAreaWithVA(startVA VirtAddr, endVA VirtAddr) bool {
	for i, a := range ms.areas {
		if a.start == startVA.Floor() && a.end == endVA.Ceil() {
			a.unmapAll(ms.pt)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAreaWithStartVPN unmaps the area starting at startVPN, if any.
func (ms *MemorySet) RemoveAreaWithStartVPN(startVPN VirtPageNum) {
	for i, a := range ms.areas {
		if a.start == startVPN {
			a.unmapAll(ms.pt)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return
		}
	}
}

// MapTrampoline installs the trampoline page at its fixed address, outside
// the area list. It is never unmapped.
func (ms *MemorySet) MapTrampoline(ppn PhysPageNum) {
	ms.pt.Map(VirtAddr(TrampolineVA).Floor(), ppn, PTER|PTEX)
}

// ShrinkTo trims the area starting at start down to newEnd. Returns false
// if no area starts there.
func (ms *MemorySet) ShrinkTo(start VirtAddr, newEnd VirtAddr) bool {
	for _, a := range ms.areas {
		if a.start == start.Floor() {
			a.shrinkTo(ms.pt, newEnd.Ceil())
			return true
		}
	}
	return false
}

// AppendTo extends the area starting at start up to newEnd. Returns false
// if no area starts there.
func (ms *MemorySet) AppendTo(start VirtAddr, newEnd VirtAddr) bool {
	for _, a := range ms.areas {
		if a.start == start.Floor() {
			a.appendTo(ms.pt, ms.alloc, newEnd.Ceil())
			return true
		}
	}
	return false
}

// MapHeap grows the heap one frame per page from current up to (not
// including) target. Heap pages are tracked individually rather than as one
// area, which keeps non-monotonic brk cheap.
func (ms *MemorySet) MapHeap(current VirtAddr, target VirtAddr) {
	for va := current; va < target; va += VirtAddr(PageSize) {
		ft, ok := ms.alloc.Alloc()
		if !ok {
			panic("mm: no frame for heap page")
		}
		vpn := va.Floor()
		ms.pt.Map(vpn, ft.PPN, PTEU|PTER|PTEW)
		ms.heapArea[vpn] = ft
	}
}

// Release unmaps every area and heap page, frees their frames, and then
// frees the page-table nodes. The set is unusable afterwards.
func (ms *MemorySet) Release() {
	for _, a := range ms.areas {
		a.unmapAll(ms.pt)
	}
	ms.areas = nil
	for vpn, ft := range ms.heapArea {
		ms.pt.Unmap(vpn)
		ft.Free()
	}
	ms.heapArea = make(map[VirtPageNum]*FrameTracker)
	ms.pt.Free()
}

// FromExistedUser deep-clones a user address space: same ranges, types and
// permissions, freshly allocated frames, bytes copied page by page. Fork is
// a full copy; there is no copy-on-write.
func FromExistedUser(other *MemorySet) *MemorySet {
	ms := NewBare(other.alloc)
	for _, a := range other.areas {
		na := fromAnother(a)
		ms.push(na, nil, 0)
		if a.mapType != MapFramed {
			continue
		}
		for vpn := a.start; vpn < a.end; vpn++ {
			srcPTE, ok := other.Translate(vpn)
			if !ok {
				panic("mm: source page vanished during clone")
			}
			dstPTE, _ := ms.Translate(vpn)
			copy(ms.alloc.PageBytes(dstPTE.PPN()), other.alloc.PageBytes(srcPTE.PPN()))
		}
	}
	for vpn, src := range other.heapArea {
		ft, ok := ms.alloc.Alloc()
		if !ok {
			panic("mm: no frame for cloned heap page")
		}
		ms.pt.Map(vpn, ft.PPN, PTEU|PTER|PTEW)
		ms.heapArea[vpn] = ft
		copy(ft.Bytes(), src.Bytes())
	}
	return ms
}

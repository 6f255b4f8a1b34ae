// mm is the virtual memory core: physical frame allocation over an explicit
// page arena, SV39 page tables, and per-process address spaces built from
// mapped areas.
package mm

const (
	PageSize     uint64 = 4096
	PageSizeBits uint64 = 12

	// ptesPerPage entries fit in one page-table node.
	ptesPerPage uint64 = PageSize / 8

	// MaxVA is the top of the SV39 lower virtual address range.
	MaxVA uint64 = 1 << 38

	// TrampolineVA is the fixed home of the trampoline page, above every
	// tracked area and never unmapped.
	TrampolineVA uint64 = MaxVA - PageSize

	// UserStackSize bytes of stack sit one guard page above the loaded
	// image.
	UserStackSize uint64 = 0x8000
)

type (
	PhysAddr    uint64
	VirtAddr    uint64
	PhysPageNum uint64
	VirtPageNum uint64
)

func (pa PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(uint64(pa) / PageSize)
}

func (pa PhysAddr) Ceil() PhysPageNum {
	return PhysPageNum((uint64(pa) + PageSize - 1) / PageSize)
}

func (pa PhysAddr) PageOffset() uint64 {
	return uint64(pa) % PageSize
}

func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(uint64(va) / PageSize)
}

func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) / PageSize)
}

func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) % PageSize
}

func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(vpn) * PageSize)
}

func (ppn PhysPageNum) Addr() PhysAddr {
	return PhysAddr(uint64(ppn) * PageSize)
}

// Indexes splits a virtual page number into its three SV39 page-table
// indexes, root level first.
func (vpn VirtPageNum) Indexes() [3]uint64 {
	v := uint64(vpn)
	return [3]uint64{(v >> 18) & 0x1ff, (v >> 9) & 0x1ff, v & 0x1ff}
}

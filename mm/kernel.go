package mm

import (
	"github.com/rvos-dev/rvcore/util"
)

// Range is a half-open byte range [Start, End) of physical/virtual space
// (identical mapping makes the distinction moot for the kernel).
type Range struct {
	Start uint64
	End   uint64
}

// KernelLayout describes where the linker put the kernel sections and what
// device windows the platform exposes.
type KernelLayout struct {
	Text   Range
	Rodata Range
	Data   Range
	Bss    Range
	// PhysEnd bounds the identical mapping of free physical memory that
	// starts where Bss ends.
	PhysEnd uint64
	// MMIO windows get identical R/W mappings.
	MMIO []Range
	// TrampolinePhys is the frame holding the trampoline code.
	TrampolinePhys PhysPageNum
}

// NewKernel builds the kernel address space: identically mapped sections
// with section-appropriate permissions, the free physical range, the MMIO
// windows, and the trampoline at its fixed slot.
func NewKernel(alloc *FrameAllocator, layout KernelLayout) *MemorySet {
	ms := NewBare(alloc)
	ms.MapTrampoline(layout.TrampolinePhys)
	util.DPrintf(1, "mm: .text   [%#x, %#x)\n", layout.Text.Start, layout.Text.End)
	util.DPrintf(1, "mm: .rodata [%#x, %#x)\n", layout.Rodata.Start, layout.Rodata.End)
	util.DPrintf(1, "mm: .data   [%#x, %#x)\n", layout.Data.Start, layout.Data.End)
	util.DPrintf(1, "mm: .bss    [%#x, %#x)\n", layout.Bss.Start, layout.Bss.End)
	ms.push(NewMapArea(VirtAddr(layout.Text.Start), VirtAddr(layout.Text.End),
		MapIdentical, PermR|PermX), nil, 0)
	ms.push(NewMapArea(VirtAddr(layout.Rodata.Start), VirtAddr(layout.Rodata.End),
		MapIdentical, PermR), nil, 0)
	ms.push(NewMapArea(VirtAddr(layout.Data.Start), VirtAddr(layout.Data.End),
		MapIdentical, PermR|PermW), nil, 0)
	ms.push(NewMapArea(VirtAddr(layout.Bss.Start), VirtAddr(layout.Bss.End),
		MapIdentical, PermR|PermW), nil, 0)
	ms.push(NewMapArea(VirtAddr(layout.Bss.End), VirtAddr(layout.PhysEnd),
		MapIdentical, PermR|PermW), nil, 0)
	for _, w := range layout.MMIO {
		ms.push(NewMapArea(VirtAddr(w.Start), VirtAddr(w.End),
			MapIdentical, PermR|PermW), nil, 0)
	}
	return ms
}

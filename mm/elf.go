package mm

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/rvos-dev/rvcore/util"
)

// FromELF builds a user address space from an ELF image: one framed area
// per PT_LOAD segment, then a guard page, the user stack, and another guard
// page below the heap base. Returns the space, the heap base, the initial
// stack top, and the entry point.
func FromELF(alloc *FrameAllocator, data []byte) (*MemorySet, uint64, uint64, uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("mm: parse elf: %w", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, 0, 0, 0, fmt.Errorf("mm: not a 64-bit RISC-V image (class %v machine %v)",
			f.Class, f.Machine)
	}

	ms := NewBare(alloc)
	maxEnd := VirtPageNum(0)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		startVA := VirtAddr(p.Vaddr)
		endVA := VirtAddr(p.Vaddr + p.Memsz)
		perm := PermU
		if p.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		area := NewMapArea(startVA, endVA, MapFramed, perm)
		if area.end > maxEnd {
			maxEnd = area.end
		}
		if p.Off+p.Filesz > uint64(len(data)) {
			return nil, 0, 0, 0, fmt.Errorf("mm: segment at %#x extends past the image", p.Vaddr)
		}
		ms.push(area, data[p.Off:p.Off+p.Filesz], startVA.PageOffset())
		util.DPrintf(2, "mm: load segment [%#x, %#x) perm %#x\n",
			uint64(startVA), uint64(endVA), perm)
	}
	if maxEnd == 0 {
		ms.Release()
		return nil, 0, 0, 0, fmt.Errorf("mm: image has no loadable segments")
	}

	// guard page between image and stack, another between stack and heap
	stackBottom := uint64(maxEnd.Addr()) + PageSize
	stackTop := stackBottom + UserStackSize
	ms.InsertFramedArea(VirtAddr(stackBottom), VirtAddr(stackTop), PermR|PermW|PermU)
	heapBase := stackTop + PageSize

	return ms, heapBase, stackTop, f.Entry, nil
}

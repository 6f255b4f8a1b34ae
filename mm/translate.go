package mm

import (
	"fmt"

	"github.com/rvos-dev/rvcore/util"
)

// TranslatedByteBuffer resolves a user buffer [ptr, ptr+length) through the
// address space named by token into per-page slices of the backing frames.
// Unmapped pages inside the range are fatal; the caller validated the
// syscall arguments.
func TranslatedByteBuffer(alloc *FrameAllocator, token uint64, ptr uint64, length uint64) [][]byte {
	if util.SumOverflows(ptr, length) {
		panic(fmt.Sprintf("mm: user buffer [%#x, +%#x) wraps the address space", ptr, length))
	}
	pt := FromToken(token, alloc)
	var out [][]byte
	start := VirtAddr(ptr)
	end := VirtAddr(ptr + length)
	for start < end {
		vpn := start.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok || !pte.IsValid() {
			panic(fmt.Sprintf("mm: user buffer touches unmapped page at %#x", uint64(start)))
		}
		page := alloc.PageBytes(pte.PPN())
		pageEnd := (vpn + 1).Addr()
		chunkEnd := VirtAddr(util.Min(uint64(end), uint64(pageEnd)))
		out = append(out, page[start.PageOffset():start.PageOffset()+uint64(chunkEnd-start)])
		start = chunkEnd
	}
	return out
}

// TranslatedStr reads a NUL-terminated string starting at ptr in the space
// named by token.
func TranslatedStr(alloc *FrameAllocator, token uint64, ptr uint64) string {
	pt := FromToken(token, alloc)
	var out []byte
	va := VirtAddr(ptr)
	for {
		pa, ok := pt.TranslateVA(va)
		if !ok {
			panic(fmt.Sprintf("mm: user string runs off mapped memory at %#x", uint64(va)))
		}
		b := alloc.PageBytes(pa.Floor())[pa.PageOffset()]
		if b == 0 {
			return string(out)
		}
		out = append(out, b)
		va++
	}
}

// TranslatedBytes resolves one user object of size bytes at ptr into its
// backing frame. The object must not straddle a page boundary.
func TranslatedBytes(alloc *FrameAllocator, token uint64, ptr uint64, size uint64) []byte {
	va := VirtAddr(ptr)
	if va.PageOffset()+size > PageSize {
		panic(fmt.Sprintf("mm: user object at %#x straddles a page boundary", ptr))
	}
	pt := FromToken(token, alloc)
	pa, ok := pt.TranslateVA(va)
	if !ok {
		panic(fmt.Sprintf("mm: user object at %#x is unmapped", ptr))
	}
	page := alloc.PageBytes(pa.Floor())
	return page[pa.PageOffset() : pa.PageOffset()+size]
}

package mm

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvcore/util"
)

// FrameAllocator hands out physical page frames from [base, end) in stack
// order and owns the arena of bytes backing them. Freed frame numbers are
// recorded for double-free detection; the bump pointer never revisits them
// (see DESIGN.md).
type FrameAllocator struct {
	mu       sync.Mutex
	base     uint64
	current  uint64
	end      uint64
	recycled []uint64
	mem      []byte
}

func NewFrameAllocator(base PhysPageNum, end PhysPageNum) *FrameAllocator {
	if end < base {
		panic("mm: frame range is inverted")
	}
	n := uint64(end) - uint64(base)
	util.DPrintf(1, "mm: %d physical frames [%#x, %#x)\n", n, base, end)
	return &FrameAllocator{
		base:    uint64(base),
		current: uint64(base),
		end:     uint64(end),
		mem:     make([]byte, n*PageSize),
	}
}

// FrameTracker owns one allocated frame. The frame is zero-filled exactly
// once, when the tracker is constructed; Free returns it to the allocator.
type FrameTracker struct {
	PPN   PhysPageNum
	alloc *FrameAllocator
}

func (ft *FrameTracker) Bytes() []byte {
	return ft.alloc.PageBytes(ft.PPN)
}

func (ft *FrameTracker) Free() {
	ft.alloc.Dealloc(ft.PPN)
}

// Alloc returns a tracker for a fresh zeroed frame, or false when physical
// memory is exhausted.
func (a *FrameAllocator) Alloc() (*FrameTracker, bool) {
	a.mu.Lock()
	if a.current == a.end {
		a.mu.Unlock()
		util.DPrintf(1, "mm: frame allocator out of memory\n")
		return nil, false
	}
	ppn := PhysPageNum(a.current)
	a.current++
	a.mu.Unlock()
	ft := &FrameTracker{PPN: ppn, alloc: a}
	zero(ft.Bytes())
	return ft, true
}

// AllocContiguous returns n physically consecutive frames. Contiguous
// memory cannot be retried incrementally, so exhaustion is fatal.
func (a *FrameAllocator) AllocContiguous(n uint64) []*FrameTracker {
	a.mu.Lock()
	if a.end-a.current < n {
		panic("mm: out of contiguous physical memory")
	}
	start := a.current
	a.current += n
	a.mu.Unlock()
	frames := make([]*FrameTracker, 0, n)
	for i := uint64(0); i < n; i++ {
		ft := &FrameTracker{PPN: PhysPageNum(start + i), alloc: a}
		zero(ft.Bytes())
		frames = append(frames, ft)
	}
	return frames
}

// Dealloc returns ppn to the allocator. Freeing a frame twice, or one that
// was never handed out, is a programmer error and fatal.
func (a *FrameAllocator) Dealloc(ppn PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := uint64(ppn)
	if p < a.base || p >= a.current {
		panic(fmt.Sprintf("mm: frame %#x has not been allocated", p))
	}
	for _, r := range a.recycled {
		if r == p {
			panic(fmt.Sprintf("mm: double free of frame %#x", p))
		}
	}
	a.recycled = append(a.recycled, p)
}

// PageBytes is the arena view of one frame.
func (a *FrameAllocator) PageBytes(ppn PhysPageNum) []byte {
	p := uint64(ppn)
	if p < a.base || p >= a.end {
		panic(fmt.Sprintf("mm: frame %#x outside arena", p))
	}
	off := (p - a.base) * PageSize
	return a.mem[off : off+PageSize]
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

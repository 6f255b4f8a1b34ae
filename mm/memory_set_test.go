package mm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSet(t *testing.T) (*FrameAllocator, *MemorySet) {
	a := NewFrameAllocator(0x100, 0x400)
	return a, NewBare(a)
}

func writePage(a *FrameAllocator, ms *MemorySet, vpn VirtPageNum, b byte) {
	pte, ok := ms.Translate(vpn)
	if !ok || !pte.IsValid() {
		panic("page not mapped")
	}
	page := a.PageBytes(pte.PPN())
	for i := range page {
		page[i] = b
	}
}

func readPageByte(a *FrameAllocator, ms *MemorySet, vpn VirtPageNum) byte {
	pte, _ := ms.Translate(vpn)
	return a.PageBytes(pte.PPN())[0]
}

func TestInsertFramedArea(t *testing.T) {
	a, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x13000, PermR|PermW|PermU)

	for vpn := VirtPageNum(0x10); vpn < 0x13; vpn++ {
		pte, ok := ms.Translate(vpn)
		assert.True(t, ok)
		assert.True(t, pte.IsValid())
		assert.True(t, pte.Readable())
		assert.True(t, pte.Writable())
	}
	pte, ok := ms.Translate(VirtPageNum(0x13))
	assert.True(t, !ok || !pte.IsValid())

	writePage(a, ms, 0x10, 0x5a)
	assert.Equal(t, byte(0x5a), readPageByte(a, ms, 0x10))
}

func TestAreaConflict(t *testing.T) {
	_, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x13000, PermR|PermU)
	assert.True(t, ms.IsConflictWithVA(0x12000, 0x14000))
	assert.False(t, ms.IsConflictWithVA(0x13000, 0x14000))
}

func TestRemoveArea(t *testing.T) {
	_, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x12000, PermR|PermU)
	assert.True(t, ms.RemoveAreaWithVA(0x10000, 0x12000))
	pte, ok := ms.Translate(VirtPageNum(0x10))
	assert.True(t, !ok || !pte.IsValid())
	assert.False(t, ms.RemoveAreaWithVA(0x10000, 0x12000))
}

func TestShrinkAppend(t *testing.T) {
	_, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x14000, PermR|PermW|PermU)

	assert.True(t, ms.ShrinkTo(0x10000, 0x12000))
	pte, ok := ms.Translate(VirtPageNum(0x13))
	assert.True(t, !ok || !pte.IsValid())
	pte, ok = ms.Translate(VirtPageNum(0x11))
	assert.True(t, ok)
	assert.True(t, pte.IsValid())

	assert.True(t, ms.AppendTo(0x10000, 0x15000))
	pte, ok = ms.Translate(VirtPageNum(0x14))
	assert.True(t, ok)
	assert.True(t, pte.IsValid())

	assert.False(t, ms.ShrinkTo(0x90000, 0x91000))
}

func TestMapHeap(t *testing.T) {
	_, ms := testSet(t)
	ms.MapHeap(0x40000, 0x43000)
	for vpn := VirtPageNum(0x40); vpn < 0x43; vpn++ {
		pte, ok := ms.Translate(vpn)
		assert.True(t, ok)
		assert.True(t, pte.IsValid())
		assert.NotZero(t, pte.Flags()&PTEU)
		assert.True(t, pte.Writable())
	}
}

func TestForkIsolation(t *testing.T) {
	a, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x12000, PermR|PermW|PermU)
	ms.MapHeap(0x40000, 0x41000)
	writePage(a, ms, 0x10, 0x11)
	writePage(a, ms, 0x40, 0x22)

	child := FromExistedUser(ms)
	assert.NotEqual(t, ms.Token(), child.Token())
	assert.Equal(t, byte(0x11), readPageByte(a, child, 0x10))
	assert.Equal(t, byte(0x22), readPageByte(a, child, 0x40))

	// writes after the fork stay private
	writePage(a, child, 0x10, 0x33)
	assert.Equal(t, byte(0x11), readPageByte(a, ms, 0x10))
	assert.Equal(t, byte(0x33), readPageByte(a, child, 0x10))
}

func TestRelease(t *testing.T) {
	_, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x12000, PermR|PermU)
	ms.MapHeap(0x40000, 0x41000)
	ms.Release()
	assert.Equal(t, 0, len(ms.areas))
	assert.Equal(t, 0, len(ms.heapArea))
}

func TestNewKernelIdentical(t *testing.T) {
	a := NewFrameAllocator(0x100, 0x400)
	ks := NewKernel(a, KernelLayout{
		Text:           Range{0x1000, 0x3000},
		Rodata:         Range{0x3000, 0x4000},
		Data:           Range{0x4000, 0x5000},
		Bss:            Range{0x5000, 0x6000},
		PhysEnd:        0x8000,
		MMIO:           []Range{{0x10000000, 0x10001000}},
		TrampolinePhys: PhysPageNum(0x100),
	})

	pte, ok := ks.Translate(VirtPageNum(1))
	assert.True(t, ok)
	assert.Equal(t, PhysPageNum(1), pte.PPN())
	assert.True(t, pte.Executable())
	assert.False(t, pte.Writable())

	pte, ok = ks.Translate(VirtPageNum(4))
	assert.True(t, ok)
	assert.True(t, pte.Writable())
	assert.False(t, pte.Executable())

	pte, ok = ks.Translate(VirtPageNum(0x10000000 / PageSize))
	assert.True(t, ok)
	assert.Equal(t, PhysPageNum(0x10000000/PageSize), pte.PPN())

	pte, ok = ks.Translate(VirtAddr(TrampolineVA).Floor())
	assert.True(t, ok)
	assert.Equal(t, PhysPageNum(0x100), pte.PPN())
	assert.True(t, pte.Executable())
}

// buildELF hand-assembles a minimal 64-bit RISC-V executable with one
// R+X PT_LOAD segment carrying payload at vaddr.
func buildELF(vaddr uint64, entry uint64, payload []byte) []byte {
	const ehsize, phentsize = 64, 56
	img := make([]byte, ehsize+phentsize+len(payload))
	le := binary.LittleEndian

	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(img[16:], 2)   // ET_EXEC
	le.PutUint16(img[18:], 243) // EM_RISCV
	le.PutUint32(img[20:], 1)
	le.PutUint64(img[24:], entry)
	le.PutUint64(img[32:], ehsize) // phoff
	le.PutUint16(img[52:], ehsize)
	le.PutUint16(img[54:], phentsize)
	le.PutUint16(img[56:], 1) // phnum

	ph := img[ehsize:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], 0x1|0x4)
	le.PutUint64(ph[8:], ehsize+phentsize) // offset
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	le.PutUint64(ph[32:], uint64(len(payload)))
	le.PutUint64(ph[40:], uint64(len(payload)))
	le.PutUint64(ph[48:], PageSize)

	copy(img[ehsize+phentsize:], payload)
	return img
}

func TestFromELF(t *testing.T) {
	a := NewFrameAllocator(0x100, 0x400)
	payload := []byte("ecall and friends")
	img := buildELF(0x10000, 0x10004, payload)

	ms, heapBase, stackTop, entry, err := FromELF(a, img)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x10004), entry)

	// image ends inside page 0x10, guard page, then the stack
	stackBottom := uint64(0x11000) + PageSize
	assert.Equal(t, stackBottom+UserStackSize, stackTop)
	assert.Equal(t, stackTop+PageSize, heapBase)

	pte, ok := ms.Translate(VirtPageNum(0x10))
	assert.True(t, ok)
	assert.True(t, pte.IsValid())
	assert.NotZero(t, pte.Flags()&PTEU)
	got := a.PageBytes(pte.PPN())[:len(payload)]
	assert.Equal(t, payload, got)

	// guard page below the stack stays unmapped
	pte, ok = ms.Translate(VirtPageNum(0x11))
	assert.True(t, !ok || !pte.IsValid())
	pte, ok = ms.Translate(VirtAddr(stackBottom).Floor())
	assert.True(t, ok)
	assert.True(t, pte.Writable())
}

func TestFromELFRejectsGarbage(t *testing.T) {
	a := NewFrameAllocator(0x100, 0x200)
	_, _, _, _, err := FromELF(a, []byte("not an elf"))
	assert.NotNil(t, err)
}

func TestTranslatedByteBuffer(t *testing.T) {
	a, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x12000, PermR|PermW|PermU)

	// straddle the boundary between the two pages
	ptr := uint64(0x10000) + PageSize - 8
	chunks := TranslatedByteBuffer(a, ms.Token(), ptr, 16)
	assert.Equal(t, 2, len(chunks))
	assert.Equal(t, 8, len(chunks[0]))
	assert.Equal(t, 8, len(chunks[1]))

	for i := range chunks[0] {
		chunks[0][i] = 0xab
	}
	pte, _ := ms.Translate(VirtPageNum(0x10))
	page := a.PageBytes(pte.PPN())
	assert.Equal(t, byte(0xab), page[PageSize-1])
}

func TestTranslatedStr(t *testing.T) {
	a, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x11000, PermR|PermU)
	pte, _ := ms.Translate(VirtPageNum(0x10))
	copy(a.PageBytes(pte.PPN())[100:], "hello\x00junk")

	s := TranslatedStr(a, ms.Token(), 0x10000+100)
	assert.Equal(t, "hello", s)
}

func TestTranslatedBytes(t *testing.T) {
	a, ms := testSet(t)
	ms.InsertFramedArea(0x10000, 0x11000, PermR|PermW|PermU)

	b := TranslatedBytes(a, ms.Token(), 0x10000+16, 8)
	binary.LittleEndian.PutUint64(b, 0xdeadbeef)
	pte, _ := ms.Translate(VirtPageNum(0x10))
	assert.Equal(t, uint64(0xdeadbeef), binary.LittleEndian.Uint64(a.PageBytes(pte.PPN())[16:]))

	assert.Panics(t, func() {
		TranslatedBytes(a, ms.Token(), 0x10000+uint64(PageSize)-4, 8)
	})
}

package boot

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// tagChainBuilder lays out a Stivale-style tag chain in a plain Go byte
// slice: a leading pointer-to-first-tag cell, then each tag back to back
// with an 8-byte "next" pointer threading them together.
type tagChainBuilder struct {
	buf  []byte
	tags [][]byte
}

func (b *tagChainBuilder) addTag(identifier uint64, payload []byte) {
	tag := make([]byte, 16+len(payload))
	binary.LittleEndian.PutUint64(tag[0:], identifier)
	// next filled in once every tag's final address is known.
	copy(tag[16:], payload)
	b.tags = append(b.tags, tag)
}

func (b *tagChainBuilder) build() uintptr {
	// Concatenate tags back to back in one arena so addresses are stable,
	// then backpatch each tag's "next" field with the following tag's
	// address (0 for the last).
	total := 8
	for _, t := range b.tags {
		total += len(t)
	}
	arena := make([]byte, total)
	base := uintptr(unsafe.Pointer(&arena[0]))

	offsets := make([]int, len(b.tags))
	off := 8
	for i, t := range b.tags {
		offsets[i] = off
		copy(arena[off:], t)
		off += len(t)
	}
	for i := range b.tags {
		var next uint64
		if i+1 < len(b.tags) {
			next = uint64(base) + uint64(offsets[i+1])
		}
		binary.LittleEndian.PutUint64(arena[offsets[i]+8:], next)
	}
	firstTagAddr := uint64(0)
	if len(b.tags) > 0 {
		firstTagAddr = uint64(base) + uint64(offsets[0])
	}
	binary.LittleEndian.PutUint64(arena[0:], firstTagAddr)

	b.buf = arena
	return base
}

func TestParseMemoryMapTag(t *testing.T) {
	var b tagChainBuilder
	payload := make([]byte, 8+2*24)
	binary.LittleEndian.PutUint64(payload[0:], 2)
	binary.LittleEndian.PutUint64(payload[8:], 0x1000)
	binary.LittleEndian.PutUint64(payload[16:], 0x9000)
	binary.LittleEndian.PutUint32(payload[24:], uint32(MemUsable))
	binary.LittleEndian.PutUint64(payload[32:], 0xA0000)
	binary.LittleEndian.PutUint64(payload[40:], 0x10000)
	binary.LittleEndian.PutUint32(payload[48:], uint32(MemReserved))
	b.addTag(tagMemmap, payload)
	base := b.build()

	h := Parse(base)
	if len(h.MemoryMap) != 2 {
		t.Fatalf("len(MemoryMap) = %d, want 2", len(h.MemoryMap))
	}
	if h.MemoryMap[0].Base != 0x1000 || h.MemoryMap[0].Length != 0x9000 || h.MemoryMap[0].Type != MemUsable {
		t.Fatalf("entry 0 = %+v", h.MemoryMap[0])
	}
	if h.MemoryMap[1].Type != MemReserved {
		t.Fatalf("entry 1 type = %v, want Reserved", h.MemoryMap[1].Type)
	}
}

func TestParseCmdlineTag(t *testing.T) {
	var b tagChainBuilder
	payload := append([]byte("console=ttyS0"), 0)
	b.addTag(tagCmdline, payload)
	base := b.build()

	h := Parse(base)
	if h.Cmdline != "console=ttyS0" {
		t.Fatalf("Cmdline = %q", h.Cmdline)
	}
}

func TestParseRSDPTag(t *testing.T) {
	var b tagChainBuilder
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 0xDEAD0000)
	b.addTag(tagRSDP, payload)
	base := b.build()

	h := Parse(base)
	if h.RSDP != 0xDEAD0000 {
		t.Fatalf("RSDP = %#x", h.RSDP)
	}
}

func TestParseFramebufferTag(t *testing.T) {
	var b tagChainBuilder
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:], 0xB8000)
	binary.LittleEndian.PutUint16(payload[8:], 1024*4)
	binary.LittleEndian.PutUint16(payload[10:], 1024)
	binary.LittleEndian.PutUint16(payload[12:], 768)
	binary.LittleEndian.PutUint16(payload[14:], 32)
	b.addTag(tagFramebuffer, payload)
	base := b.build()

	h := Parse(base)
	if h.Framebuffer == nil {
		t.Fatalf("Framebuffer = nil")
	}
	if h.Framebuffer.Width != 1024 || h.Framebuffer.Height != 768 || h.Framebuffer.Bpp != 32 {
		t.Fatalf("Framebuffer = %+v", h.Framebuffer)
	}
}

func TestParseEmptyChain(t *testing.T) {
	var b tagChainBuilder
	base := b.build()
	h := Parse(base)
	if h.MemoryMap != nil || h.Cmdline != "" || h.RSDP != 0 || h.Framebuffer != nil {
		t.Fatalf("expected zero-value Handoff, got %+v", h)
	}
}

func TestEarlyAllocShrinksEntryInPlace(t *testing.T) {
	mm := []MemoryMapEntry{
		{Base: 0x100000, Length: 0x10000, Type: MemUsable},
	}
	pa, ok := EarlyAlloc(mm, 4) // 4 pages = 0x4000
	if !ok {
		t.Fatalf("EarlyAlloc failed")
	}
	if pa != 0x100000 {
		t.Fatalf("pa = %#x, want 0x100000", pa)
	}
	if mm[0].Base != 0x104000 || mm[0].Length != 0xC000 {
		t.Fatalf("entry not shrunk correctly: %+v", mm[0])
	}
}

func TestEarlyAllocSkipsNonUsableAndTooSmall(t *testing.T) {
	mm := []MemoryMapEntry{
		{Base: 0x1000, Length: 0x1000, Type: MemUsable},   // too small for 2 pages
		{Base: 0x2000, Length: 0x1000, Type: MemReserved}, // wrong type
		{Base: 0x100000, Length: 0x4000, Type: MemUsable}, // fits
	}
	pa, ok := EarlyAlloc(mm, 2)
	if !ok || pa != 0x100000 {
		t.Fatalf("pa = %#x ok=%v, want 0x100000/true", pa, ok)
	}
}

func TestEarlyAllocExhausted(t *testing.T) {
	mm := []MemoryMapEntry{{Base: 0x1000, Length: 0x1000, Type: MemUsable}}
	_, ok := EarlyAlloc(mm, 100)
	if ok {
		t.Fatalf("expected EarlyAlloc to fail when no entry is big enough")
	}
}

func TestEarlyPageAllocIsOnePage(t *testing.T) {
	mm := []MemoryMapEntry{{Base: 0x1000, Length: 0x2000, Type: MemUsable}}
	pa, ok := EarlyPageAlloc(mm)
	if !ok || pa != 0x1000 {
		t.Fatalf("pa = %#x ok=%v", pa, ok)
	}
	if mm[0].Length != 0x1000 {
		t.Fatalf("Length = %#x, want one page consumed", mm[0].Length)
	}
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2 kB"},
		{5 * 1024 * 1024, "5 MB"},
		{3 * 1024 * 1024 * 1024, "3 GB"},
	}
	for _, c := range cases {
		if got := HumanSize(c.n); got != c.want {
			t.Errorf("HumanSize(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestUsableBytesSumsOnlyUsableEntries(t *testing.T) {
	mm := []MemoryMapEntry{
		{Base: 0, Length: 0x1000, Type: MemUsable},
		{Base: 0x1000, Length: 0x2000, Type: MemReserved},
		{Base: 0x3000, Length: 0x3000, Type: MemUsable},
	}
	if got := UsableBytes(mm); got != 0x4000 {
		t.Fatalf("UsableBytes = %#x, want 0x4000", got)
	}
}

func TestMemoryMapEntryTypeString(t *testing.T) {
	if MemUsable.String() != "Usable RAM" {
		t.Fatalf("String() = %q", MemUsable.String())
	}
	if MemoryMapEntryType(99).String() != "unknown" {
		t.Fatalf("String() for unrecognized type = %q", MemoryMapEntryType(99).String())
	}
}

package plthook

import (
	"debug/elf"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// Layout of the images built by testImage.write. Offsets are relative to the
// start of the image, which is also the load bias.
const (
	imgDynamic = 0x100
	imgStrtab  = 0x200
	imgSymtab  = 0x400
	imgRela    = 0x600
	imgGOT     = 0x800
	imgSize    = 0x1000

	testBase = 0x7f0000000000

	// gotFill is written over the GOT area before the cells are set.
	gotFill = 0xa5
)

const jumpSlot = uint32(elf.R_X86_64_JMP_SLOT)

// testImage describes a module: its imported symbols, in relocation order,
// and its dynamic section.
type testImage struct {
	symbols []string
	// dynamic overrides the entries written to the dynamic section. The
	// terminating DT_NULL is always added.
	dynamic []elf.Dyn64
	// relative writes table addresses as offsets from the base, the way they
	// are on disk.
	relative bool
	elfType  elf.Type
}

// originalTarget is the value a fresh image holds in GOT cell i.
func originalTarget(i int) uint64 {
	return 0x5500000000 + uint64(i)*0x10
}

func gotCell(base uint64, i int) uint64 {
	return base + imgGOT + uint64(i)*wordSize
}

func (ti testImage) defaultDynamic(base uint64) []elf.Dyn64 {
	addr := func(off uint64) uint64 {
		if ti.relative {
			return off
		}
		return base + off
	}
	return []elf.Dyn64{
		{Tag: int64(elf.DT_NEEDED), Val: 1},
		{Tag: int64(elf.DT_STRTAB), Val: addr(imgStrtab)},
		{Tag: int64(elf.DT_SYMTAB), Val: addr(imgSymtab)},
		{Tag: int64(elf.DT_STRSZ), Val: ti.strtabSize()},
		{Tag: int64(elf.DT_SYMENT), Val: symSize},
		{Tag: int64(elf.DT_PLTGOT), Val: addr(imgGOT)},
		{Tag: int64(elf.DT_PLTRELSZ), Val: uint64(len(ti.symbols)) * relaSize},
		{Tag: int64(elf.DT_PLTREL), Val: uint64(elf.DT_RELA)},
		{Tag: int64(elf.DT_JMPREL), Val: addr(imgRela)},
	}
}

// withDynamic returns the default dynamic section with tag set to val.
func (ti testImage) withDynamic(base uint64, tag elf.DynTag, val uint64) testImage {
	entries := ti.defaultDynamic(base)
	for i := range entries {
		if elf.DynTag(entries[i].Tag) == tag {
			entries[i].Val = val
		}
	}
	ti.dynamic = entries
	return ti
}

func (ti testImage) strtabSize() uint64 {
	size := uint64(1)
	for _, name := range ti.symbols {
		size += uint64(len(name)) + 1
	}
	return size
}

// write lays the image out in data, which is mapped at base.
func (ti testImage) write(t testing.TB, data []byte, base uint64) {
	t.Helper()
	if len(data) < imgSize {
		t.Fatalf("image needs %d bytes, have %d", imgSize, len(data))
	}
	clear(data)

	typ := ti.elfType
	if typ == elf.ET_NONE {
		typ = elf.ET_DYN
	}

	// ELF header
	copy(data, elf.ELFMAG)
	data[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	data[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	data[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	byteOrder.PutUint16(data[16:], uint16(typ))
	byteOrder.PutUint16(data[18:], uint16(elf.EM_X86_64))
	byteOrder.PutUint32(data[20:], uint32(elf.EV_CURRENT))
	byteOrder.PutUint64(data[32:], elfHeaderSize)
	byteOrder.PutUint16(data[52:], elfHeaderSize)
	byteOrder.PutUint16(data[54:], progSize)
	byteOrder.PutUint16(data[56:], 2)

	loadVaddr := uint64(0)
	if typ == elf.ET_EXEC {
		loadVaddr = base
	}
	putProg(data[elfHeaderSize:], elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_W),
		Vaddr:  loadVaddr,
		Filesz: imgSize,
		Memsz:  imgSize,
		Align:  0x1000,
	})
	putProg(data[elfHeaderSize+progSize:], elf.Prog64{
		Type:   uint32(elf.PT_DYNAMIC),
		Flags:  uint32(elf.PF_R | elf.PF_W),
		Off:    imgDynamic,
		Vaddr:  loadVaddr + imgDynamic,
		Filesz: imgStrtab - imgDynamic,
		Memsz:  imgStrtab - imgDynamic,
	})

	dynamic := ti.dynamic
	if dynamic == nil {
		dynamic = ti.defaultDynamic(base)
	}
	if (len(dynamic)+1)*dynSize > imgStrtab-imgDynamic {
		t.Fatalf("too many dynamic entries: %d", len(dynamic))
	}
	for i, dyn := range append(dynamic, elf.Dyn64{Tag: int64(elf.DT_NULL)}) {
		off := imgDynamic + i*dynSize
		byteOrder.PutUint64(data[off:], uint64(dyn.Tag))
		byteOrder.PutUint64(data[off+8:], dyn.Val)
	}

	if ti.strtabSize() > imgSymtab-imgStrtab {
		t.Fatalf("string table too large")
	}
	if (len(ti.symbols)+1)*symSize > imgRela-imgSymtab {
		t.Fatalf("too many symbols: %d", len(ti.symbols))
	}

	for i := imgGOT; i < imgSize; i++ {
		data[i] = gotFill
	}

	nameOff := uint64(1)
	for i, name := range ti.symbols {
		copy(data[imgStrtab+nameOff:], name)

		// Symbol 0 is the null symbol.
		sym := imgSymtab + (i+1)*symSize
		byteOrder.PutUint32(data[sym:], uint32(nameOff))
		data[sym+4] = byte(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC))

		rela := imgRela + i*relaSize
		byteOrder.PutUint64(data[rela:], imgGOT+uint64(i)*wordSize)
		byteOrder.PutUint64(data[rela+8:], elf.R_INFO(uint32(i+1), jumpSlot))
		byteOrder.PutUint64(data[rela+16:], 0)

		byteOrder.PutUint64(data[imgGOT+i*wordSize:], originalTarget(i))

		nameOff += uint64(len(name)) + 1
	}
}

// region builds the image in a new Region at testBase.
func (ti testImage) region(t testing.TB) *Region {
	t.Helper()
	r := NewRegion(testBase, make([]byte, imgSize))
	ti.write(t, r.Data, r.Base)
	return r
}

// open builds the image and resolves it.
func (ti testImage) open(t testing.TB, opts ...Option) (*Region, *Info) {
	t.Helper()
	r := ti.region(t)
	info, err := Open(r, r.Base, r.Base+imgDynamic, append([]Option{WithLogger(nil)}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, info
}

func putProg(b []byte, p elf.Prog64) {
	byteOrder.PutUint32(b[0:], p.Type)
	byteOrder.PutUint32(b[4:], p.Flags)
	byteOrder.PutUint64(b[8:], p.Off)
	byteOrder.PutUint64(b[16:], p.Vaddr)
	byteOrder.PutUint64(b[24:], p.Paddr)
	byteOrder.PutUint64(b[32:], p.Filesz)
	byteOrder.PutUint64(b[40:], p.Memsz)
	byteOrder.PutUint64(b[48:], p.Align)
}

func fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func cellValue(r *Region, addr uint64) uint64 {
	off := addr - r.Base
	return byteOrder.Uint64(r.Data[off : off+wordSize])
}

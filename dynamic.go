package plthook

import (
	"debug/elf"
	"encoding/binary"
	"iter"

	"github.com/pkg/errors"
)

var byteOrder = binary.LittleEndian

const (
	dynSize  = 16 // sizeof(Elf64_Dyn)
	relaSize = 24 // sizeof(Elf64_Rela)
	symSize  = 24 // sizeof(Elf64_Sym)
)

// dynamicEntries walks the dynamic section at addr up to DT_NULL. The array
// is read lazily, one entry at a time, and is never copied. A failed read is
// yielded with the zero entry and ends the walk.
func dynamicEntries(mem Memory, addr uint64) iter.Seq2[elf.Dyn64, error] {
	return func(yield func(elf.Dyn64, error) bool) {
		var buf [dynSize]byte
		for cur := addr; ; cur += dynSize {
			if err := mem.ReadAt(buf[:], cur); err != nil {
				yield(elf.Dyn64{}, errors.Wrapf(err, "reading dynamic entry at %#x", cur))
				return
			}
			dyn := elf.Dyn64{
				Tag: int64(byteOrder.Uint64(buf[0:])),
				Val: byteOrder.Uint64(buf[8:]),
			}
			if elf.DynTag(dyn.Tag) == elf.DT_NULL {
				return
			}
			if !yield(dyn, nil) {
				return
			}
		}
	}
}

// tables holds the dynamic section values the hook needs, as found.
type tables struct {
	strtab   uint64 // DT_STRTAB
	strsz    uint64 // DT_STRSZ
	jmprel   uint64 // DT_JMPREL
	pltrelsz uint64 // DT_PLTRELSZ
	symtab   uint64 // DT_SYMTAB
}

func (t tables) relocationCount() uint64 {
	return t.pltrelsz / relaSize
}

// scanDynamic collects the string, symbol and PLT relocation tables from the
// dynamic section at addr. Tags may come in any order. When a tag repeats the
// last value is kept.
func scanDynamic(mem Memory, addr uint64) (tables, error) {
	var t tables
	for dyn, err := range dynamicEntries(mem, addr) {
		if err != nil {
			return tables{}, withStatus(IntrospectionError, err)
		}

		switch elf.DynTag(dyn.Tag) {
		case elf.DT_STRTAB:
			t.strtab = dyn.Val
		case elf.DT_STRSZ:
			t.strsz = dyn.Val
		case elf.DT_JMPREL:
			t.jmprel = dyn.Val
		case elf.DT_PLTRELSZ:
			t.pltrelsz = dyn.Val
		case elf.DT_SYMTAB:
			t.symtab = dyn.Val
		}
	}

	if t.jmprel == 0 || t.relocationCount() == 0 {
		return t, errors.Wrap(RelocationTableError, "no PLT relocations (DT_JMPREL/DT_PLTRELSZ)")
	}
	if t.strtab == 0 || t.strsz == 0 {
		return t, errors.Wrap(StringTableError, "no string table (DT_STRTAB/DT_STRSZ)")
	}
	if t.symtab == 0 {
		return t, errors.Wrap(SymbolTableError, "no symbol table (DT_SYMTAB)")
	}
	return t, nil
}

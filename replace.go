package plthook

import (
	"bytes"
	"debug/elf"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Slot is one PLT relocation: the GOT cell that calls to Symbol jump through.
type Slot struct {
	// Index is the relocation's position in the table.
	Index  int
	Symbol string
	// Type is the relocation type, e.g. R_X86_64_JMP_SLOT.
	Type uint32
	// Offset is r_offset, the cell's address relative to Info.Base.
	Offset uint64
	// Cell is the absolute address of the cell.
	Cell uint64
	// Target is the address the cell held when the slot was read.
	Target uint64
}

// Replace redirects the module's calls to symbol to addr by overwriting the
// GOT cell of the first PLT relocation that names symbol. Modules bind each
// imported name through a single slot, so later relocations are not checked.
//
// If no relocation names symbol, Replace returns NotFound and nothing is
// written. Replacing a symbol again with the same address leaves the cell as
// it was.
func (info *Info) Replace(symbol string, addr uintptr) error {
	if info == nil {
		return errors.Wrap(ArgumentError, "nil Info")
	}
	if symbol == "" {
		return errors.Wrap(ArgumentError, "empty symbol name")
	}
	if addr == 0 {
		return errors.Wrapf(ArgumentError, "nil replacement for %s", symbol)
	}
	mem, ok := info.mem.(WritableMemory)
	if !ok {
		return errors.Wrapf(ArgumentError, "memory of %s is read-only", info.Module)
	}

	rela, _, err := info.find(symbol)
	if err != nil {
		return err
	}

	p := patcher{mem: mem, base: info.Base, pageSize: info.pageSize}
	if err := p.patch(rela.Off, uint64(addr)); err != nil {
		level.Error(info.logger).Log("msg", "patching GOT cell failed", "symbol", symbol, "err", err)
		return err
	}
	level.Debug(info.logger).Log("msg", "replaced", "symbol", symbol, "cell", hexAddr(info.Base+rela.Off), "target", hexAddr(uint64(addr)))
	return nil
}

// Lookup returns the slot of the first PLT relocation that names symbol.
func (info *Info) Lookup(symbol string) (Slot, error) {
	if info == nil {
		return Slot{}, errors.Wrap(ArgumentError, "nil Info")
	}
	if symbol == "" {
		return Slot{}, errors.Wrap(ArgumentError, "empty symbol name")
	}

	rela, index, err := info.find(symbol)
	if err != nil {
		return Slot{}, err
	}
	return info.slot(index, rela, symbol)
}

// Slots returns every PLT relocation of the module in table order.
func (info *Info) Slots() ([]Slot, error) {
	if info == nil {
		return nil, errors.Wrap(ArgumentError, "nil Info")
	}

	// Count comes from the module and is not trusted for allocation.
	var slots []Slot
	for i := uint64(0); i < info.Relocations.Count; i++ {
		rela, err := info.relocation(i)
		if err != nil {
			return nil, err
		}
		nameOff, err := info.nameOffset(rela)
		if err != nil {
			return nil, err
		}
		name, err := info.name(nameOff)
		if err != nil {
			return nil, err
		}
		slot, err := info.slot(int(i), rela, name)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// find scans the relocations in order for the first one whose symbol is
// named symbol.
func (info *Info) find(symbol string) (elf.Rela64, int, error) {
	want := append([]byte(symbol), 0)
	buf := make([]byte, len(want))

	for i := uint64(0); i < info.Relocations.Count; i++ {
		rela, err := info.relocation(i)
		if err != nil {
			return elf.Rela64{}, 0, err
		}
		nameOff, err := info.nameOffset(rela)
		if err != nil {
			return elf.Rela64{}, 0, err
		}

		// Names never extend past the string table. A name that would is
		// shorter than what we're looking for, or isn't terminated.
		if nameOff >= info.StringTable.Size || uint64(len(want)) > info.StringTable.Size-nameOff {
			continue
		}
		if err := info.mem.ReadAt(buf, info.StringTable.Addr+nameOff); err != nil {
			return elf.Rela64{}, 0, errors.Wrapf(withStatus(StringTableError, err), "reading name of relocation %d", i)
		}
		if bytes.Equal(buf, want) {
			return rela, int(i), nil
		}
	}
	return elf.Rela64{}, 0, errors.Wrapf(NotFound, "no PLT relocation for %s in %s", symbol, info.Module)
}

func (info *Info) relocation(i uint64) (elf.Rela64, error) {
	var buf [relaSize]byte
	addr := info.Relocations.Addr + i*relaSize
	if err := info.mem.ReadAt(buf[:], addr); err != nil {
		return elf.Rela64{}, errors.Wrapf(withStatus(RelocationTableError, err), "reading relocation %d at %#x", i, addr)
	}
	return elf.Rela64{
		Off:    byteOrder.Uint64(buf[0:]),
		Info:   byteOrder.Uint64(buf[8:]),
		Addend: int64(byteOrder.Uint64(buf[16:])),
	}, nil
}

// nameOffset returns st_name of the relocation's symbol. The symbol index
// is not checked against the size of the symbol table, which the dynamic
// section doesn't record.
func (info *Info) nameOffset(rela elf.Rela64) (uint64, error) {
	var buf [4]byte
	sym := uint64(elf.R_SYM64(rela.Info))
	addr := info.SymbolTable + sym*symSize
	if err := info.mem.ReadAt(buf[:], addr); err != nil {
		return 0, errors.Wrapf(withStatus(SymbolTableError, err), "reading symbol %d at %#x", sym, addr)
	}
	return uint64(byteOrder.Uint32(buf[:])), nil
}

// name reads the NUL terminated string at off in the string table.
func (info *Info) name(off uint64) (string, error) {
	if off >= info.StringTable.Size {
		return "", errors.Wrapf(StringTableError, "name offset %d beyond string table of %d bytes", off, info.StringTable.Size)
	}

	const chunk = 64
	var sb bytes.Buffer
	var buf [chunk]byte
	for pos := off; pos < info.StringTable.Size; pos += chunk {
		n := min(uint64(chunk), info.StringTable.Size-pos)
		if err := info.mem.ReadAt(buf[:n], info.StringTable.Addr+pos); err != nil {
			return "", errors.Wrapf(withStatus(StringTableError, err), "reading name at %d", off)
		}
		if idx := bytes.IndexByte(buf[:n], 0); idx >= 0 {
			sb.Write(buf[:idx])
			return sb.String(), nil
		}
		sb.Write(buf[:n])
	}
	return "", errors.Wrapf(StringTableError, "name at %d is not terminated", off)
}

func (info *Info) slot(index int, rela elf.Rela64, symbol string) (Slot, error) {
	cell := info.Base + rela.Off
	target, err := readWord(info.mem, cell)
	if err != nil {
		return Slot{}, errors.Wrapf(withStatus(Unknown, err), "reading GOT cell of %s at %#x", symbol, cell)
	}
	return Slot{
		Index:  index,
		Symbol: symbol,
		Type:   elf.R_TYPE64(rela.Info),
		Offset: rela.Off,
		Cell:   cell,
		Target: target,
	}, nil
}

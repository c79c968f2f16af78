package plthook

import (
	"fmt"

	"github.com/pkg/errors"
)

// Memory is a read-only view of an address space.
type Memory interface {
	// ReadAt fills p with the bytes starting at addr. It fails without
	// reading anything if any part of the range is outside the view.
	ReadAt(p []byte, addr uint64) error
}

// WritableMemory is a Memory the patcher can modify. The memory is never
// owned by the caller: Protect asks for a protection change on pages that
// somebody else mapped, and WriteWord stores into one of them.
type WritableMemory interface {
	Memory
	Protect(addr, length uint64, prot int) error
	WriteWord(addr, value uint64) error
}

const wordSize = 8

// errOutOfBounds is returned by views when an access leaves their extent.
var errOutOfBounds = errors.New("address out of bounds")

func outOfBounds(addr, length uint64) error {
	return errors.Wrapf(errOutOfBounds, "%#x+%d", addr, length)
}

// extent is a half-open address range [start, end).
type extent struct {
	start, end uint64
}

func (e extent) contains(addr, length uint64) bool {
	if addr < e.start || addr >= e.end {
		return false
	}
	return length <= e.end-addr
}

// extents is a set of address ranges ordered by start address. Adjacent
// ranges are merged so that accesses spanning two mappings are allowed.
type extents []extent

func (es extents) contains(addr, length uint64) bool {
	for _, e := range es {
		if e.contains(addr, length) {
			return true
		}
	}
	return false
}

func (es extents) add(e extent) extents {
	if n := len(es); n > 0 && es[n-1].end == e.start {
		es[n-1].end = e.end
		return es
	}
	return append(es, e)
}

func (e extent) String() string {
	return fmt.Sprintf("%#x-%#x", e.start, e.end)
}

func readWord(mem Memory, addr uint64) (uint64, error) {
	var buf [wordSize]byte
	if err := mem.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

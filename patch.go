package plthook

import (
	"github.com/pkg/errors"
)

// patcher overwrites GOT cells of one module.
type patcher struct {
	mem      WritableMemory
	base     uint64
	pageSize uint64
}

// patch stores value in the cell at base+offset.
//
// The pages holding the cell are made RWX first and stay that way. The
// write is not read back.
func (p patcher) patch(offset, value uint64) error {
	cell := p.base + offset

	// Round the cell down to its page and cover whole pages up to its end.
	// An aligned cell never crosses a page, a misaligned one may.
	pageStart := alignDown(cell, p.pageSize)
	length := alignUp(cell+wordSize, p.pageSize) - pageStart

	if err := p.mem.Protect(pageStart, length, mprotectRWX); err != nil {
		return errors.Wrapf(withStatus(Unknown, err), "mprotect %#x+%d", pageStart, length)
	}
	if err := p.mem.WriteWord(cell, value); err != nil {
		return errors.Wrapf(withStatus(Unknown, err), "writing GOT cell at %#x", cell)
	}
	return nil
}

func alignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

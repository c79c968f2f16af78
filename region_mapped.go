//go:build linux

package plthook

import (
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MappedRegion is a Region over anonymous pages from its own mmap arena.
// Unlike a plain Region, protection requests really change the protection of
// the arena, so a write after Seal faults unless it was preceded by Protect.
type MappedRegion struct {
	*Region

	arena    *malloc.Arena
	block    []byte
	mprotect func(int) error
	mu       sync.Mutex
}

// NewMappedRegion maps at least size bytes of readable and writable memory.
// The region starts on a page boundary.
func NewMappedRegion(size int) (*MappedRegion, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ArgumentError, "invalid region size %d", size)
	}

	be := malloc.MmapBackend(malloc.MmapProt(mprotectRW))
	m := &MappedRegion{}
	if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
		m.mprotect = protBE.Protect
	} else {
		m.mprotect = func(int) error {
			return nil
		}
	}

	// Over-allocate by a page so the region can be aligned regardless of
	// where the arena places the block.
	ps := int(pageSize)
	m.arena = malloc.NewArena(uint64(size+ps), malloc.Backend(be))
	if m.arena == nil {
		return nil, errors.New("unable to initialize arena")
	}
	block, err := malloc.MallocSlice[byte](m.arena, size+ps)
	if err != nil {
		return nil, errors.Wrap(err, "allocating region")
	}
	m.block = block

	start := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(block))))
	skip := int(alignUp(start, pageSize) - start)
	data := block[skip : skip+size : skip+size]

	m.Region = NewRegion(start+uint64(skip), data)
	m.Region.protect = m.setProtection
	return m, nil
}

func (m *MappedRegion) setProtection(prot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mprotect(prot)
}

// Seal makes the whole region read-only.
func (m *MappedRegion) Seal() error {
	return m.setProtection(unix.PROT_READ)
}

// Free releases the region. It must not be used afterwards. If the pages
// can't be made writable again they are kept and the error is returned.
func (m *MappedRegion) Free() error {
	if m.block == nil {
		return nil
	}
	if err := m.setProtection(mprotectRW); err != nil {
		return errors.Wrap(err, "unsealing region")
	}

	malloc.FreeSlice(m.arena, m.block)
	m.block = nil
	m.Region.Data = nil
	return nil
}

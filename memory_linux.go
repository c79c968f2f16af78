package plthook

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// selfMemory is the address space of the current process. Accesses are
// checked against the mappings that existed when it was created.
type selfMemory struct {
	readable extents
	mapped   extents
}

func newSelfMemory(maps []*procfs.ProcMap) *selfMemory {
	return &selfMemory{
		readable: mapExtents(maps, true),
		mapped:   mapExtents(maps, false),
	}
}

func (m *selfMemory) ReadAt(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}
	if !m.readable.contains(addr, uint64(len(p))) {
		return outOfBounds(addr, uint64(len(p)))
	}
	copy(p, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(p)))
	return nil
}

func (m *selfMemory) Protect(addr, length uint64, prot int) error {
	if !m.mapped.contains(addr, 1) {
		return outOfBounds(addr, length)
	}
	return mprotect(addr, length, prot)
}

func (m *selfMemory) WriteWord(addr, value uint64) error {
	if !m.mapped.contains(addr, wordSize) {
		return outOfBounds(addr, wordSize)
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(uintptr(addr))), value)
	return nil
}

// processMemory reads the address space of another process with
// process_vm_readv. It can't be written.
type processMemory struct {
	pid      int
	readable extents
}

func newProcessMemory(pid int, maps []*procfs.ProcMap) *processMemory {
	return &processMemory{
		pid:      pid,
		readable: mapExtents(maps, true),
	}
}

func (m *processMemory) ReadAt(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}
	if !m.readable.contains(addr, uint64(len(p))) {
		return outOfBounds(addr, uint64(len(p)))
	}

	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}

	n, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		return errors.Wrapf(err, "reading %d bytes at %#x from pid %d", len(p), addr, m.pid)
	}
	if n != len(p) {
		return errors.Errorf("short read at %#x from pid %d: %d of %d bytes", addr, m.pid, n, len(p))
	}
	return nil
}

func mapExtents(maps []*procfs.ProcMap, readableOnly bool) extents {
	var es extents
	for _, m := range maps {
		if readableOnly && (m.Perms == nil || !m.Perms.Read) {
			continue
		}
		es = es.add(extent{start: uint64(m.StartAddr), end: uint64(m.EndAddr)})
	}
	return es
}

package plthook

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mprotectRW  = unix.PROT_READ | unix.PROT_WRITE
	mprotectRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// pageSize is read once at startup. Every Info copies it, so nothing reads
// the system page size while a hook is being applied.
var pageSize = uint64(unix.Getpagesize())

// mprotect changes the protection of the pages covering [addr, addr+length).
// addr must already be page aligned.
func mprotect(addr, length uint64, prot int) error {
	region := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(length))
	return unix.Mprotect(region, prot)
}

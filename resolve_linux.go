package plthook

import (
	"debug/elf"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

const (
	elfHeaderSize = 64 // sizeof(Elf64_Ehdr)
	progSize      = 56 // sizeof(Elf64_Phdr)
)

// Init resolves a module loaded in the current process. An empty name means
// the main executable. Otherwise name is matched against the full path of
// each mapped file and then against its base name, so both
// "/usr/lib/libc.so.6" and "libc.so.6" work.
//
// Init never loads anything. A module that isn't mapped yet is an OpenError.
func Init(name string, opts ...Option) (*Info, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, cfg.fail(err, name)
	}

	proc, err := procfs.Self()
	if err != nil {
		return nil, cfg.fail(errors.Wrap(withStatus(OpenError, err), "opening /proc/self"), name)
	}
	maps, path, err := findModule(proc, name)
	if err != nil {
		return nil, cfg.fail(err, name)
	}

	mem := newSelfMemory(maps)
	return resolve(cfg, mem, maps, path)
}

// Inspect resolves a module loaded in the process pid. The process is only
// read, never stopped. The returned Info can't be patched.
func Inspect(pid int, name string, opts ...Option) (*Info, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, cfg.fail(err, name)
	}
	if pid <= 0 {
		return nil, cfg.fail(errors.Wrapf(ArgumentError, "invalid pid %d", pid), name)
	}

	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, cfg.fail(errors.Wrapf(withStatus(OpenError, err), "opening pid %d", pid), name)
	}
	maps, path, err := findModule(proc, name)
	if err != nil {
		return nil, cfg.fail(err, name)
	}

	mem := newProcessMemory(pid, maps)
	return resolve(cfg, mem, maps, path)
}

func resolve(cfg config, mem Memory, maps []*procfs.ProcMap, path string) (*Info, error) {
	start, ok := moduleStart(maps, path)
	if !ok {
		return nil, cfg.fail(errors.Wrapf(IntrospectionError, "no mapping of %s at file offset 0", path), path)
	}
	bias, dynamic, err := introspect(mem, start, cfg.pageSize)
	if err != nil {
		return nil, cfg.fail(err, path)
	}
	return open(cfg, mem, path, bias, dynamic)
}

// findModule returns the process mappings and the path of the module called
// name.
func findModule(proc procfs.Proc, name string) ([]*procfs.ProcMap, string, error) {
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, "", errors.Wrapf(withStatus(OpenError, err), "reading mappings of pid %d", proc.PID)
	}

	if name == "" {
		exe, err := proc.Executable()
		if err != nil {
			return nil, "", errors.Wrapf(withStatus(OpenError, err), "finding executable of pid %d", proc.PID)
		}
		name = exe
	}

	path, ok := matchModule(maps, name)
	if !ok {
		return nil, "", errors.Wrapf(OpenError, "%s is not loaded", name)
	}
	return maps, path, nil
}

func matchModule(maps []*procfs.ProcMap, name string) (string, bool) {
	for _, m := range maps {
		if m.Pathname == name {
			return m.Pathname, true
		}
	}
	if filepath.Base(name) != name {
		return "", false
	}
	for _, m := range maps {
		if m.Pathname != "" && filepath.Base(m.Pathname) == name {
			return m.Pathname, true
		}
	}
	return "", false
}

// moduleStart returns the address of the lowest mapping of path that starts
// at file offset 0. That's where the ELF header is.
func moduleStart(maps []*procfs.ProcMap, path string) (uint64, bool) {
	for _, m := range maps {
		if m.Pathname == path && m.Offset == 0 {
			return uint64(m.StartAddr), true
		}
	}
	return 0, false
}

// introspect reads the ELF and program headers of a module mapped at start
// and returns its load bias and the address of its dynamic section.
func introspect(mem Memory, start, pageSize uint64) (bias, dynamic uint64, err error) {
	var ident [elfHeaderSize]byte
	if err := mem.ReadAt(ident[:], start); err != nil {
		return 0, 0, errors.Wrapf(withStatus(IntrospectionError, err), "reading ELF header at %#x", start)
	}
	if string(ident[:4]) != elf.ELFMAG {
		return 0, 0, errors.Wrapf(IntrospectionError, "no ELF header at %#x", start)
	}
	if elf.Class(ident[elf.EI_CLASS]) != elf.ELFCLASS64 || elf.Data(ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return 0, 0, errors.Wrapf(IntrospectionError, "module at %#x is not ELF64 little-endian", start)
	}

	typ := elf.Type(byteOrder.Uint16(ident[16:]))
	phoff := byteOrder.Uint64(ident[32:])
	phentsize := uint64(byteOrder.Uint16(ident[54:]))
	phnum := uint64(byteOrder.Uint16(ident[56:]))
	if phentsize < progSize {
		return 0, 0, errors.Wrapf(IntrospectionError, "program header size %d", phentsize)
	}

	var load, dyn *elf.Prog64
	buf := make([]byte, progSize)
	for i := uint64(0); i < phnum; i++ {
		addr := start + phoff + i*phentsize
		if err := mem.ReadAt(buf, addr); err != nil {
			return 0, 0, errors.Wrapf(withStatus(IntrospectionError, err), "reading program header %d", i)
		}
		prog := decodeProg(buf)
		switch elf.ProgType(prog.Type) {
		case elf.PT_LOAD:
			if load == nil {
				load = &prog
			}
		case elf.PT_DYNAMIC:
			dyn = &prog
		}
	}
	if load == nil {
		return 0, 0, errors.Wrapf(IntrospectionError, "no PT_LOAD segment at %#x", start)
	}
	if dyn == nil {
		return 0, 0, errors.Wrapf(IntrospectionError, "no PT_DYNAMIC segment at %#x (statically linked?)", start)
	}

	if typ != elf.ET_EXEC {
		bias = start - alignDown(load.Vaddr-load.Off, pageSize)
	}
	return bias, bias + dyn.Vaddr, nil
}

func decodeProg(buf []byte) elf.Prog64 {
	return elf.Prog64{
		Type:   byteOrder.Uint32(buf[0:]),
		Flags:  byteOrder.Uint32(buf[4:]),
		Off:    byteOrder.Uint64(buf[8:]),
		Vaddr:  byteOrder.Uint64(buf[16:]),
		Paddr:  byteOrder.Uint64(buf[24:]),
		Filesz: byteOrder.Uint64(buf[32:]),
		Memsz:  byteOrder.Uint64(buf[40:]),
		Align:  byteOrder.Uint64(buf[48:]),
	}
}

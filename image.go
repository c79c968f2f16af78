package plthook

import (
	"debug/elf"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// maxImageSpan limits how much memory LoadImage will allocate for one file.
const maxImageSpan = 1 << 30

// Image is a module file laid out in memory the way a loader would map it at
// bias 0, without running any relocations.
type Image struct {
	Path    string
	Type    elf.Type
	Machine elf.Machine
	Region  *Region
	// Dynamic is the address of the dynamic section within Region.
	Dynamic uint64
}

// LoadImage reads the PT_LOAD segments of the ELF file at path into a Region.
// Segments are placed at their virtual addresses. Bytes past a segment's
// file size are zero.
func LoadImage(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(withStatus(OpenError, err), "opening %s", path)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, errors.Wrapf(IntrospectionError, "%s is not ELF64 little-endian", path)
	}

	var lo, hi uint64
	var dynamic uint64
	var loads []*elf.Prog
	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			end := prog.Vaddr + prog.Memsz
			if end < prog.Vaddr || end > ^uint64(0)-pageSize {
				return nil, errors.Wrapf(IntrospectionError, "%s: segment at %#x of %d bytes wraps", path, prog.Vaddr, prog.Memsz)
			}
			if len(loads) == 0 || prog.Vaddr < lo {
				lo = prog.Vaddr
			}
			hi = max(hi, end)
			loads = append(loads, prog)
		case elf.PT_DYNAMIC:
			dynamic = prog.Vaddr
		}
	}
	if len(loads) == 0 {
		return nil, errors.Wrapf(IntrospectionError, "%s has no PT_LOAD segments", path)
	}
	if dynamic == 0 {
		return nil, errors.Wrapf(IntrospectionError, "%s has no PT_DYNAMIC segment", path)
	}

	lo = alignDown(lo, pageSize)
	span := alignUp(hi, pageSize) - lo
	if span > maxImageSpan {
		return nil, errors.Wrapf(IntrospectionError, "%s: segments span %s", path, humanize.IBytes(span))
	}
	region := NewRegion(lo, make([]byte, span))
	for _, prog := range loads {
		off := prog.Vaddr - lo
		seg := region.Data[off : off+min(prog.Filesz, prog.Memsz)]
		if _, err := prog.ReadAt(seg, 0); err != nil && err != io.EOF {
			return nil, errors.Wrapf(withStatus(IntrospectionError, err), "reading segment at %#x of %s", prog.Vaddr, path)
		}
	}

	return &Image{
		Path:    path,
		Type:    f.Type,
		Machine: f.Machine,
		Region:  region,
		Dynamic: dynamic,
	}, nil
}

// Open resolves the image's link tables as if it were loaded at bias 0.
func (img *Image) Open(opts ...Option) (*Info, error) {
	info, err := Open(img.Region, 0, img.Dynamic, opts...)
	if err != nil {
		return nil, err
	}
	info.Module = img.Path
	return info, nil
}

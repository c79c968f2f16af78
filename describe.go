package plthook

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// hexAddr formats addresses in log lines.
type hexAddr uint64

func (h hexAddr) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// String describes where the link tables are. It's meant for people, don't
// parse it.
func (info *Info) String() string {
	if info == nil {
		return "<nil>"
	}

	var sb strings.Builder
	if info.Module != "" {
		fmt.Fprintf(&sb, "module  %s\n", info.Module)
	}
	fmt.Fprintf(&sb, "base    %#x\n", info.Base)
	fmt.Fprintf(&sb, ".symtab %#x\n", info.SymbolTable)
	fmt.Fprintf(&sb, ".strtab %#x %d (%s)\n", info.StringTable.Addr, info.StringTable.Size, humanize.IBytes(info.StringTable.Size))
	fmt.Fprintf(&sb, ".rela   %#x %d\n", info.Relocations.Addr, info.Relocations.Count)
	return sb.String()
}

// DebugDump writes String to w.
func (info *Info) DebugDump(w io.Writer) error {
	_, err := io.WriteString(w, info.String())
	return err
}

// Memory returns the memory the module was resolved from.
func (info *Info) Memory() Memory {
	return info.mem
}

const maxInstructionLen = 16

// Disassemble decodes the instruction at addr, typically a slot's Target.
func Disassemble(mem Memory, addr uint64) (string, error) {
	if mem == nil {
		return "", errors.Wrap(ArgumentError, "nil memory")
	}

	// Targets close to the end of a mapping may not have room for the
	// longest instruction.
	var err error
	for n := maxInstructionLen; n >= 4; n /= 2 {
		code := make([]byte, n)
		if err = mem.ReadAt(code, addr); err == nil {
			return disassembleOne(code, addr)
		}
	}
	return "", errors.Wrapf(err, "reading instruction at %#x", addr)
}

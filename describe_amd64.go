package plthook

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

func disassembleOne(code []byte, pc uint64) (string, error) {
	instruction, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", fmt.Errorf("decode error at %#x: %w", pc, err)
	}
	return fmt.Sprintf("%-20s\t%s", hex.EncodeToString(code[:instruction.Len]), instruction.String()), nil
}

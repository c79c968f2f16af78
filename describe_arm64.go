package plthook

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

func disassembleOne(code []byte, pc uint64) (string, error) {
	instruction, err := arm64asm.Decode(code[:4])
	if err != nil {
		return "", fmt.Errorf("decode error at %#x: %w", pc, err)
	}
	return fmt.Sprintf("%-20s\t%s", hex.EncodeToString(code[:4]), instruction.String()), nil
}

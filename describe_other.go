//go:build !amd64 && !arm64

package plthook

import "encoding/hex"

// No decoder for this architecture. Show the raw bytes.
func disassembleOne(code []byte, pc uint64) (string, error) {
	return hex.EncodeToString(code), nil
}

//go:build cgo

// Package cgotest links C code that calls libc through the PLT of the binary
// it ends up in. Tests use it to hook a real PLT slot.
package cgotest

/*
#cgo CFLAGS: -O0 -fno-builtin-atoi

#include <stdlib.h>

static int call_atoi(const char *s) {
	return atoi(s);
}

static int mock_atoi(const char *s) {
	(void)s;
	return 114514;
}

static void *mock_atoi_addr(void) {
	return (void *)mock_atoi;
}
*/
import "C"

import "unsafe"

// MockAtoiResult is what the atoi replacement always returns.
const MockAtoiResult = 114514

// Atoi calls atoi from C.
func Atoi(s string) int {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return int(C.call_atoi(cs))
}

// MockAtoi returns the address of a C function with atoi's signature.
func MockAtoi() uintptr {
	return uintptr(C.mock_atoi_addr())
}

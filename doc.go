// Redirect calls to imported functions at runtime
//
// plthook rewrites the GOT cell behind a PLT relocation of a module that is
// already loaded into the process. Every call the module makes to that symbol
// through its PLT lands on the new address afterwards. This is enough to mock
// libc functions in tests or to interpose on a shared library without
// relinking it.
//
//	info, err := plthook.Init("")
//	if err != nil {
//		...
//	}
//	err = info.Replace("atoi", mockAtoi)
//
// Limitations:
//   - Only ELF64 little-endian modules on Linux
//   - Only calls routed through DT_JMPREL relocations can be redirected
//   - Hooks are permanent. There is no way to restore the original target
//   - Patching is not synchronized with other threads. Install hooks before
//     starting threads that might call the hooked function
//   - The page holding the GOT cell is left readable, writable and executable
package plthook

package plthook

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Info describes the link tables of one loaded module. It only holds
// addresses into memory mapped by somebody else and never needs to be closed.
//
// A non-nil Info returned by Init, Inspect or Open always has every table
// address set and non-zero sizes.
type Info struct {
	// Module is the path of the module's mapping, if known.
	Module string
	// Base is the load bias. Relocation offsets are relative to it.
	Base uint64

	StringTable Table
	// SymbolTable is the address of the dynamic symbol table. Its length is
	// not recorded in the dynamic section.
	SymbolTable uint64
	Relocations RelocationTable

	mem      Memory
	pageSize uint64
	logger   log.Logger
}

// Table is the location and size in bytes of a table.
type Table struct {
	Addr uint64
	Size uint64
}

// RelocationTable is the location of the PLT relocations and how many there
// are.
type RelocationTable struct {
	Addr  uint64
	Count uint64
}

// Option configures how a module is resolved.
type Option func(*config)

type config struct {
	logger   log.Logger
	pageSize uint64
}

// WithLogger sets the logger that receives diagnostics. The default logs
// warnings and errors to stderr. A nil logger discards everything.
func WithLogger(logger log.Logger) Option {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return func(c *config) {
		c.logger = logger
	}
}

// WithPageSize overrides the system page size used to align protection
// changes. It must be a power of two.
func WithPageSize(size uint64) Option {
	return func(c *config) {
		c.pageSize = size
	}
}

func defaultLogger() log.Logger {
	return level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), level.AllowWarn())
}

func newConfig(opts []Option) (config, error) {
	c := config{
		logger:   defaultLogger(),
		pageSize: pageSize,
	}
	for _, opt := range opts {
		if opt == nil {
			return c, errors.Wrap(ArgumentError, "nil option")
		}
		opt(&c)
	}
	if c.pageSize == 0 || c.pageSize&(c.pageSize-1) != 0 {
		return c, errors.Wrapf(ArgumentError, "page size %d is not a power of two", c.pageSize)
	}
	return c, nil
}

// fail logs err and returns it unchanged.
func (c config) fail(err error, module string) error {
	level.Error(c.logger).Log("msg", "cannot resolve module", "module", module, "status", StatusOf(err), "err", err)
	return err
}

// Open reads the link tables of a module whose dynamic section is at dynamic
// in mem. bias is the module's load bias. Table addresses in the dynamic
// section that are below bias are taken to be unrelocated and have bias added.
//
// Use Open for memory that isn't the current process, such as a Region. The
// resulting Info can only be patched if mem is a WritableMemory.
func Open(mem Memory, bias, dynamic uint64, opts ...Option) (*Info, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, cfg.fail(err, "")
	}
	if mem == nil {
		return nil, cfg.fail(errors.Wrap(ArgumentError, "nil memory"), "")
	}
	if dynamic == 0 {
		return nil, cfg.fail(errors.Wrap(ArgumentError, "nil dynamic section"), "")
	}
	return open(cfg, mem, "", bias, dynamic)
}

func open(cfg config, mem Memory, module string, bias, dynamic uint64) (*Info, error) {
	t, err := scanDynamic(mem, dynamic)
	if err != nil {
		return nil, cfg.fail(err, module)
	}

	info := &Info{
		Module: module,
		Base:   bias,
		StringTable: Table{
			Addr: relocate(bias, t.strtab),
			Size: t.strsz,
		},
		SymbolTable: relocate(bias, t.symtab),
		Relocations: RelocationTable{
			Addr:  relocate(bias, t.jmprel),
			Count: t.relocationCount(),
		},
		mem:      mem,
		pageSize: cfg.pageSize,
		logger:   cfg.logger,
	}
	level.Debug(cfg.logger).Log("msg", "resolved module", "module", module, "base", hexAddr(bias), "relocations", info.Relocations.Count)
	return info, nil
}

// relocate turns a dynamic section address into an absolute one. glibc
// rewrites the dynamic section of every module it loads, other loaders and
// files on disk don't.
func relocate(bias, addr uint64) uint64 {
	if addr < bias {
		return addr + bias
	}
	return addr
}

//go:build linux

package main

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mitchellh/go-ps"
	"github.com/olekukonko/tablewriter"
	"github.com/pboyd/plthook"
	"github.com/urfave/cli/v2"
)

var logger = log.NewNopLogger()

func main() {
	app := cli.NewApp()
	app.Name = "plthook"
	app.Usage = "inspect the PLT slots of ELF modules"
	app.Description = "plthook shows the PLT relocations and GOT cells of modules loaded in a running process, or of a module file on disk."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "warn",
			Usage:   "debug, info, warn or error",
			EnvVars: []string{"PLTHOOK_LOG_LEVEL"},
		},
	}
	app.Before = setupLogger

	pidFlag := &cli.IntFlag{
		Name:     "pid",
		Aliases:  []string{"p"},
		Usage:    "process to inspect",
		EnvVars:  []string{"PLTHOOK_PID"},
		Required: true,
	}
	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "show where a module's link tables are",
			ArgsUsage: "[module]",
			Action:    infoCmd,
			Flags: []cli.Flag{
				pidFlag,
				&cli.BoolFlag{Name: "raw", Usage: "dump the whole record"},
			},
		},
		{
			Name:      "slots",
			Usage:     "list a module's PLT slots",
			ArgsUsage: "[module]",
			Action:    slotsCmd,
			Flags: []cli.Flag{
				pidFlag,
				&cli.BoolFlag{Name: "disasm", Aliases: []string{"d"}, Usage: "decode the instruction each slot points at"},
			},
		},
		{
			Name:      "image",
			Usage:     "list the PLT slots of a module file without loading it",
			ArgsUsage: "FILE",
			Action:    imageCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(plthook.StatusOf(err)))
	}
}

func setupLogger(c *cli.Context) error {
	var opt level.Option
	switch lvl := c.String("log-level"); lvl {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return fmt.Errorf("unknown log level %q", lvl)
	}
	logger = level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), opt)
	return nil
}

// inspect resolves the module named by the first argument in the process
// given by --pid. An empty name is the process's executable.
func inspect(c *cli.Context) (*plthook.Info, error) {
	pid := c.Int("pid")
	proc, err := ps.FindProcess(pid)
	if err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, fmt.Errorf("no process with pid %d", pid)
	}
	fmt.Fprintf(c.App.Writer, "pid     %d (%s)\n", proc.Pid(), proc.Executable())

	return plthook.Inspect(pid, c.Args().First(), plthook.WithLogger(logger))
}

func infoCmd(c *cli.Context) error {
	info, err := inspect(c)
	if err != nil {
		return err
	}
	if c.Bool("raw") {
		cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, MaxDepth: 2}
		cfg.Fdump(c.App.Writer, info)
		return nil
	}
	return info.DebugDump(c.App.Writer)
}

func slotsCmd(c *cli.Context) error {
	info, err := inspect(c)
	if err != nil {
		return err
	}
	return printSlots(c.App.Writer, info, hostMachine(), c.Bool("disasm"))
}

func imageCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, "image")
	}
	img, err := plthook.LoadImage(c.Args().First())
	if err != nil {
		return err
	}
	info, err := img.Open(plthook.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := info.DebugDump(c.App.Writer); err != nil {
		return err
	}
	return printSlots(c.App.Writer, info, img.Machine, false)
}

func printSlots(w io.Writer, info *plthook.Info, machine elf.Machine, disasm bool) error {
	slots, err := info.Slots()
	if err != nil {
		return err
	}

	header := []string{"#", "Symbol", "Type", "Offset", "Cell", "Target"}
	if disasm {
		header = append(header, "Instruction")
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, slot := range slots {
		row := []string{
			strconv.Itoa(slot.Index),
			slot.Symbol,
			relocationType(machine, slot.Type),
			fmt.Sprintf("%#x", slot.Offset),
			fmt.Sprintf("%#x", slot.Cell),
			fmt.Sprintf("%#x", slot.Target),
		}
		if disasm {
			inst, err := plthook.Disassemble(info.Memory(), slot.Target)
			if err != nil {
				level.Debug(logger).Log("msg", "cannot decode slot target", "symbol", slot.Symbol, "err", err)
				inst = "?"
			}
			row = append(row, inst)
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func hostMachine() elf.Machine {
	switch runtime.GOARCH {
	case "amd64":
		return elf.EM_X86_64
	case "arm64":
		return elf.EM_AARCH64
	}
	return elf.EM_NONE
}

func relocationType(machine elf.Machine, typ uint32) string {
	switch machine {
	case elf.EM_X86_64:
		return elf.R_X86_64(typ).String()
	case elf.EM_AARCH64:
		return elf.R_AARCH64(typ).String()
	}
	return strconv.FormatUint(uint64(typ), 10)
}

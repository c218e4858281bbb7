package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
	"github.com/syfchao/mclinker/pkg/linker/arm"
	"github.com/syfchao/mclinker/pkg/linker/mips"
	"github.com/syfchao/mclinker/pkg/mem"
)

var version = "0.1.0"

type options struct {
	output      string
	entry       string
	soname      string
	emulation   string
	shared      bool
	relocatable bool
	libPaths    []string
	libs        []string
	asNeeded    bool
	addNeeded   bool
	verbose     bool
}

func main() {
	opts := &options{addNeeded: true}

	cmd := &cobra.Command{
		Use:     "mcld [flags] file...",
		Short:   "ELF static linker core for ARM and MIPS",
		Version: version,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), opts, args)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "a.out", "output path")
	flags.StringVarP(&opts.entry, "entry", "e", "_start", "entry symbol")
	flags.StringVar(&opts.soname, "soname", "", "DT_SONAME for a shared object")
	flags.StringVarP(&opts.emulation, "emulation", "m", "", "armelf or elf32ltsmip")
	flags.BoolVar(&opts.shared, "shared", false, "produce a shared object")
	flags.BoolVarP(&opts.relocatable, "relocatable", "r", false, "produce a relocatable object")
	flags.StringArrayVarP(&opts.libPaths, "library-path", "L", nil, "library search directory")
	flags.StringArrayVarP(&opts.libs, "library", "l", nil, "library to link against")
	flags.BoolVar(&opts.asNeeded, "as-needed", false, "only DT_NEEDED libraries that satisfy a reference")
	flags.BoolVar(&opts.addNeeded, "add-needed", true, "emit DT_NEEDED for shared inputs")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet, opts *options, args []string) error {
	logCfg := zap.NewProductionConfig()
	if opts.verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	log, err := logCfg.Build()
	if err != nil {
		return err
	}
	defer log.Sync()

	fs := afero.NewOsFs()
	d := diag.NewEngine(log)

	cfg := linker.NewConfig()
	cfg.OutputPath = opts.output
	cfg.Entry = opts.entry
	cfg.SOName = opts.soname
	cfg.SearchDirs = opts.libPaths
	switch {
	case opts.relocatable:
		cfg.OutputType = linker.OutputObject
	case opts.shared:
		cfg.OutputType = linker.OutputDynObj
	default:
		cfg.OutputType = linker.OutputExec
	}

	machine, err := resolveMachine(fs, opts, args)
	if err != nil {
		return err
	}
	cfg.Machine = machine

	var backend linker.Backend
	switch machine {
	case 40: // EM_ARM
		backend = arm.NewBackend(cfg, d)
	case 8: // EM_MIPS
		backend = mips.NewBackend(cfg, d)
	default:
		return fmt.Errorf("unsupported machine %d", machine)
	}

	name := filepath.Base(opts.output)
	if opts.soname != "" {
		name = opts.soname
	}
	m := linker.NewModule(name)

	if err := gatherInputs(fs, cfg, m, opts, args); err != nil {
		return err
	}

	driver := linker.NewDriver(cfg, m, backend, fs, d)
	if err := driver.Link(); err != nil {
		return err
	}
	if d.ErrorCount() > 0 {
		return fmt.Errorf("link finished with %d errors", d.ErrorCount())
	}
	return nil
}

// resolveMachine honors -m, falling back to the first recognizable
// input.
func resolveMachine(fs afero.Fs, opts *options, args []string) (uint16, error) {
	switch opts.emulation {
	case "armelf":
		return 40, nil
	case "elf32ltsmip":
		return 8, nil
	case "":
	default:
		return 0, fmt.Errorf("unknown -m argument: %s", opts.emulation)
	}
	for _, arg := range args {
		file := linker.NewFileNoFatal(fs, arg)
		if file == nil {
			continue
		}
		if machine := linker.GetMachineFromContent(file.Content); machine != 0 {
			return machine, nil
		}
	}
	return 0, fmt.Errorf("cannot deduce the target machine; pass -m")
}

// gatherInputs classifies positional arguments and -l libraries into
// objects, archives and shared objects.
func gatherInputs(fs afero.Fs, cfg *linker.Config, m *linker.Module,
	opts *options, args []string) error {
	attr := &linker.Attribute{AsNeeded: opts.asNeeded, AddNeeded: opts.addNeeded}

	paths := make([]string, 0, len(args)+len(opts.libs))
	paths = append(paths, args...)
	for _, lib := range opts.libs {
		path, err := findLibrary(fs, cfg.SearchDirs, lib)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}

	for _, path := range paths {
		file, err := linker.NewFile(fs, path)
		if err != nil {
			return err
		}
		switch linker.GetInputTypeFromContent(file.Content) {
		case linker.InputObject:
			area, err := mem.NewArea(fs, path, 0)
			if err != nil {
				return err
			}
			in := linker.NewInput(path, area, attr)
			in.Type = linker.InputObject
			m.Inputs = append(m.Inputs, in)
		case linker.InputDynObj:
			area, err := mem.NewArea(fs, path, 0)
			if err != nil {
				return err
			}
			in := linker.NewInput(path, area, attr)
			in.Type = linker.InputDynObj
			m.Libs = append(m.Libs, in)
		case linker.InputArchive:
			members, err := linker.ReadArchiveMembers(file)
			if err != nil {
				return err
			}
			for _, member := range members {
				if linker.GetInputTypeFromContent(member.Content) != linker.InputObject {
					continue
				}
				in := linker.NewInput(path+"("+member.Name+")",
					mem.NewAreaFromBytes(member.Content, member.Offset), attr)
				in.Type = linker.InputObject
				in.FileOffset = member.Offset
				m.Inputs = append(m.Inputs, in)
			}
		default:
			return fmt.Errorf("%s: unrecognized input", path)
		}
	}
	return nil
}

// findLibrary searches -L directories for libNAME.so then libNAME.a.
func findLibrary(fs afero.Fs, dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		for _, candidate := range []string{"lib" + name + ".so", "lib" + name + ".a"} {
			path := filepath.Join(dir, candidate)
			if ok, _ := afero.Exists(fs, path); ok {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("cannot find -l%s", name)
}
